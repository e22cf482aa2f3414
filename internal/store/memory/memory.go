// Package memory provides an in-process record.Store. It backs tests, CLI
// dry runs and STORE_BACKEND=memory deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

// Store holds every collection in memory. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*Collection
}

// New returns an empty store.
func New() *Store {
	return &Store{collections: make(map[string]*Collection)}
}

// Collection returns the named collection, creating it on first use.
func (s *Store) Collection(_ context.Context, name string) (record.Collection, error) {
	if !record.ValidName(name) {
		return nil, fmt.Errorf("invalid collection name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		c = &Collection{name: name, records: make(map[string]record.Record)}
		s.collections[name] = c
	}
	return c, nil
}

// Collections lists non-empty collections in name order.
func (s *Store) Collections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections))
	for name, c := range s.collections {
		if c.len() > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Collection is an in-memory record.Collection. Records are deep-copied on
// the way in and out so callers never share state with the store.
type Collection struct {
	name    string
	mu      sync.RWMutex
	records map[string]record.Record
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

func (c *Collection) Get(ctx context.Context, id string) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", c.name, id, record.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (c *Collection) Insert(ctx context.Context, rec record.Record) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stored := rec.Clone()
	if stored == nil {
		stored = record.Record{}
	}
	id := stored.ID()
	if id == "" {
		id = uuid.NewString()
	}
	stored[record.IDField] = id

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.records[id]; exists {
		return nil, fmt.Errorf("%s/%s: duplicate id", c.name, id)
	}
	c.records[id] = stored
	return stored.Clone(), nil
}

func (c *Collection) Update(ctx context.Context, id string, patch record.Record) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", c.name, id, record.ErrNotFound)
	}
	for k, v := range patch.Clone() {
		if k == record.IDField {
			continue
		}
		switch v {
		case nil:
			delete(rec, k)
		case record.Null:
			rec[k] = nil
		default:
			rec[k] = v
		}
	}
	return rec.Clone(), nil
}

func (c *Collection) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.records[id]; !ok {
		return fmt.Errorf("%s/%s: %w", c.name, id, record.ErrNotFound)
	}
	delete(c.records, id)
	return nil
}

func (c *Collection) Find(ctx context.Context, q record.Query) ([]record.Record, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]record.Record, 0)
	for _, rec := range all {
		if !q.Matches(rec) {
			continue
		}
		out = append(out, rec)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func (c *Collection) Count(ctx context.Context, q record.Query) (int, error) {
	q.Limit = 0
	recs, err := c.Find(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (c *Collection) All(ctx context.Context) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]record.Record, len(ids))
	for i, id := range ids {
		out[i] = c.records[id].Clone()
	}
	return out, nil
}
