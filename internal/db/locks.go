package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/go-listening-stats/internal/lock"
)

// AdvisoryLocker implements lock.Locker with session-level Postgres advisory
// locks, so a job runs at most once across every instance sharing the database.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
}

// TryAcquire takes the advisory lock for name on a dedicated connection. The
// connection is held until release is called.
func (l *AdvisoryLocker) TryAcquire(ctx context.Context, name string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("taking advisory lock %q: %w", name, err)
	}
	if !ok {
		conn.Release()
		return nil, fmt.Errorf("%w: %s", lock.ErrHeld, name)
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, name); err != nil {
			// Closing the session drops any advisory locks it still holds.
			conn.Conn().Close(ctx)
		}
		conn.Release()
	}
	return release, nil
}
