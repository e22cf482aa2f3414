package core

// commit_limiter.go bounds how many commits write to the store at once.
//
// Commits are long sequences of single-row writes. The limiter is a
// semaphore: callers wait up to maxWait for a slot and then fail with
// ErrTooManyCommits. WaitForDrain lets shutdown wait for in-flight commits.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyCommits is returned when no commit slot frees up in time.
var ErrTooManyCommits = errors.New("too many concurrent commits, please try again later")

// DefaultMaxConcurrentCommits is used when the configured limit is not positive.
const DefaultMaxConcurrentCommits = 4

// DefaultCommitWait is used when the configured wait is not positive.
const DefaultCommitWait = 30 * time.Second

// CommitLimiter is a counting semaphore over commit slots.
type CommitLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu     sync.RWMutex
	active map[string]time.Time
}

// NewCommitLimiter allows maxConcurrent commits; others wait up to maxWait.
func NewCommitLimiter(maxConcurrent int, maxWait time.Duration) *CommitLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentCommits
	}
	if maxWait <= 0 {
		maxWait = DefaultCommitWait
	}
	return &CommitLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
		active:  make(map[string]time.Time),
	}
}

// Acquire takes a slot for batchID. The caller must Release it.
func (l *CommitLimiter) Acquire(ctx context.Context, batchID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.slots <- struct{}{}:
		l.mu.Lock()
		l.active[batchID] = time.Now()
		l.mu.Unlock()
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyCommits
	}
}

// Release returns batchID's slot.
func (l *CommitLimiter) Release(batchID string) {
	l.mu.Lock()
	delete(l.active, batchID)
	l.mu.Unlock()
	<-l.slots
}

// Active reports whether batchID currently holds a slot.
func (l *CommitLimiter) Active(batchID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.active[batchID]
	return ok
}

// WaitForDrain blocks until no commit holds a slot or ctx ends.
func (l *CommitLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.Status().Active == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// CommitLimiterStatus is a point-in-time view of the limiter.
type CommitLimiterStatus struct {
	Active        int      `json:"active"`
	Available     int      `json:"available"`
	MaxConcurrent int      `json:"maxConcurrent"`
	Batches       []string `json:"batches,omitempty"`
}

// Status snapshots the limiter.
func (l *CommitLimiter) Status() CommitLimiterStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	batches := make([]string, 0, len(l.active))
	for id := range l.active {
		batches = append(batches, id)
	}
	return CommitLimiterStatus{
		Active:        len(l.active),
		Available:     cap(l.slots) - len(l.slots),
		MaxConcurrent: cap(l.slots),
		Batches:       batches,
	}
}
