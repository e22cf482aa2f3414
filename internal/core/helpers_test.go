package core

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
	"github.com/JonMunkholm/ledgermigrate/internal/store/memory"
)

// recorder captures published events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) named(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// stepClock advances one second per call so timestamps are ordered.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type testEnv struct {
	svc    *Service
	store  *memory.Store
	events *recorder
	clock  *stepClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  memory.New(),
		events: &recorder{},
		clock:  &stepClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
	}
	env.svc = NewService(env.store, env.events, Options{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		CommitWait: 50 * time.Millisecond,
		Now:        env.clock.Now,
	})
	return env
}

// seed inserts records into a collection and returns their ids.
func (e *testEnv) seed(t *testing.T, collection string, recs ...record.Record) []string {
	t.Helper()
	c, err := e.store.Collection(context.Background(), collection)
	require.NoError(t, err)
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		stored, err := c.Insert(context.Background(), r)
		require.NoError(t, err)
		ids = append(ids, stored.ID())
	}
	return ids
}

func (e *testEnv) all(t *testing.T, collection string) []record.Record {
	t.Helper()
	c, err := e.store.Collection(context.Background(), collection)
	require.NoError(t, err)
	recs, err := c.All(context.Background())
	require.NoError(t, err)
	return recs
}

func (e *testEnv) find(t *testing.T, collection, field, value string) []record.Record {
	t.Helper()
	c, err := e.store.Collection(context.Background(), collection)
	require.NoError(t, err)
	recs, err := c.Find(context.Background(), record.Where(field, record.OpEq, value))
	require.NoError(t, err)
	return recs
}

// uploaded creates a csv batch on "invoices" and uploads content.
func (e *testEnv) uploaded(t *testing.T, strategy MergeStrategy, content string, keys ...string) *ImportBatch {
	t.Helper()
	ctx := context.Background()
	b, err := e.svc.CreateBatch(ctx, CreateBatchRequest{
		Name:             "test import",
		SourceFormat:     FormatCSV,
		TargetCollection: "invoices",
		MergeStrategy:    strategy,
		KeyFields:        keys,
	})
	require.NoError(t, err)
	b, err = e.svc.UploadContent(ctx, b.ID, []byte(content), "invoices.csv")
	require.NoError(t, err)
	return b
}

// previewed uploads content and validates it with no rules.
func (e *testEnv) previewed(t *testing.T, strategy MergeStrategy, content string, keys ...string) *ImportBatch {
	t.Helper()
	b := e.uploaded(t, strategy, content, keys...)
	res, err := e.svc.Validate(context.Background(), b.ID, nil)
	require.NoError(t, err)
	require.True(t, res.Valid)
	return b
}

// lockCount returns the number of batches with a lock entry.
func (s *Service) lockCount() int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.locks)
}
