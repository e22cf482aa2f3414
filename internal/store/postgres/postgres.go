// Package postgres implements record.Store on PostgreSQL. Every collection
// lives in one table keyed by (collection, id) with the document in a JSONB
// column, so new target collections need no migration.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/ledgermigrate/internal/record"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS records (
	collection TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	data       JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
)`

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// PoolConfig mirrors the pool settings exposed by the application config.
type PoolConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Connect opens a pool, verifies it and ensures the records table exists.
func Connect(ctx context.Context, cfg PoolConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := New(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Store is a record.Store over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. Call EnsureSchema before first use.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the records table if needed.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure records table: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Collection(_ context.Context, name string) (record.Collection, error) {
	if !record.ValidName(name) {
		return nil, fmt.Errorf("invalid collection name %q", name)
	}
	return &Collection{pool: s.pool, name: name}, nil
}

func (s *Store) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT collection FROM records ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return names, nil
}

// Collection is one logical collection inside the records table.
type Collection struct {
	pool *pgxpool.Pool
	name string
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Get(ctx context.Context, id string) (record.Record, error) {
	var data []byte
	err := c.pool.QueryRow(ctx,
		`SELECT data FROM records WHERE collection = $1 AND id = $2`,
		c.name, id,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", c.name, id, record.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", c.name, id, err)
	}
	return decode(data)
}

func (c *Collection) Insert(ctx context.Context, rec record.Record) (record.Record, error) {
	stored := rec.Clone()
	if stored == nil {
		stored = record.Record{}
	}
	id := stored.ID()
	if id == "" {
		id = uuid.NewString()
	}
	stored[record.IDField] = id

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode %s record: %w", c.name, err)
	}

	_, err = c.pool.Exec(ctx,
		`INSERT INTO records (collection, id, data) VALUES ($1, $2, $3)`,
		c.name, id, data,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%s/%s: duplicate id", c.name, id)
		}
		return nil, fmt.Errorf("insert %s/%s: %w", c.name, id, err)
	}
	return decode(data)
}

func (c *Collection) Update(ctx context.Context, id string, patch record.Record) (record.Record, error) {
	set := record.Record{}
	var removed []string
	for k, v := range patch {
		if k == record.IDField {
			continue
		}
		if v == nil {
			removed = append(removed, k)
			continue
		}
		set[k] = v
	}
	data, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("encode %s patch: %w", c.name, err)
	}
	if removed == nil {
		removed = []string{}
	}

	var out []byte
	err = c.pool.QueryRow(ctx,
		`UPDATE records
		    SET data = (data || $3::jsonb) - $4::text[], updated_at = now()
		  WHERE collection = $1 AND id = $2
		RETURNING data`,
		c.name, id, data, removed,
	).Scan(&out)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", c.name, id, record.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", c.name, id, err)
	}
	return decode(out)
}

func (c *Collection) Remove(ctx context.Context, id string) error {
	tag, err := c.pool.Exec(ctx,
		`DELETE FROM records WHERE collection = $1 AND id = $2`,
		c.name, id,
	)
	if err != nil {
		return fmt.Errorf("remove %s/%s: %w", c.name, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", c.name, id, record.ErrNotFound)
	}
	return nil
}

func (c *Collection) Find(ctx context.Context, q record.Query) ([]record.Record, error) {
	where, args := buildWhere(c.name, q)
	sql := "SELECT data FROM records WHERE " + where + " ORDER BY id"
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.name, err)
	}
	raw, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.name, err)
	}

	out := make([]record.Record, 0, len(raw))
	for _, data := range raw {
		rec, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *Collection) Count(ctx context.Context, q record.Query) (int, error) {
	where, args := buildWhere(c.name, q)
	var n int64
	if err := c.pool.QueryRow(ctx, "SELECT count(*) FROM records WHERE "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", c.name, err)
	}
	return int(n), nil
}

func (c *Collection) All(ctx context.Context) ([]record.Record, error) {
	return c.Find(ctx, record.Query{})
}

func decode(data []byte) (record.Record, error) {
	var rec record.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
