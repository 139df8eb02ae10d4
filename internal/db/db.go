// Package db provides PostgreSQL access for listening stats: the music catalog,
// play history, pre-aggregated stats and the bucket hierarchy.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// Option configures the pool before it is created.
type Option func(*pgxpool.Config)

// WithMaxConns caps the pool size. Zero keeps the pgx default.
func WithMaxConns(n int32) Option {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

// New creates a new database connection pool.
func New(ctx context.Context, databaseURL string, opts ...Option) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	for _, opt := range opts {
		opt(config)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Catalog returns a CatalogRepository.
func (db *DB) Catalog() *CatalogRepository {
	return &CatalogRepository{pool: db.pool}
}

// Plays returns a PlayRepository.
func (db *DB) Plays() *PlayRepository {
	return &PlayRepository{pool: db.pool}
}

// Stats returns a StatsRepository.
func (db *DB) Stats() *StatsRepository {
	return &StatsRepository{pool: db.pool}
}

// Buckets returns a BucketRepository.
func (db *DB) Buckets() *BucketRepository {
	return &BucketRepository{pool: db.pool}
}

// Canonical returns a CanonicalRepository.
func (db *DB) Canonical() *CanonicalRepository {
	return &CanonicalRepository{pool: db.pool}
}

// Locker returns an advisory-lock based job locker.
func (db *DB) Locker() *AdvisoryLocker {
	return &AdvisoryLocker{pool: db.pool}
}

// chunk splits items into consecutive slices of at most size elements.
func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		out = append(out, items[i:end])
	}
	return out
}
