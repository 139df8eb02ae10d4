package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/go-listening-stats/internal/buckets"
)

// BucketRepository stores the year/month/week hierarchy.
type BucketRepository struct {
	pool *pgxpool.Pool
}

// Seed upserts every bucket in set in one transaction, parents first.
func (r *BucketRepository) Seed(ctx context.Context, set buckets.Set) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	steps := []struct {
		table  string
		parent string
		rows   []buckets.Bucket
	}{
		{"year_buckets", "", set.Years},
		{"month_buckets", "year_id", set.Months},
		{"week_buckets", "month_id", set.Weeks},
	}
	for _, step := range steps {
		for _, c := range chunk(step.rows, 500) {
			if err := upsertBuckets(ctx, tx, step.table, step.parent, c); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func upsertBuckets(ctx context.Context, tx pgx.Tx, table, parent string, rows []buckets.Bucket) error {
	ids := make([]int32, len(rows))
	parents := make([]int32, len(rows))
	starts := make([]time.Time, len(rows))
	ends := make([]time.Time, len(rows))
	for i, b := range rows {
		ids[i] = int32(b.ID)
		parents[i] = int32(b.ParentID)
		starts[i] = b.Start
		ends[i] = b.End
	}

	var (
		query string
		args  []any
	)
	if parent == "" {
		query = fmt.Sprintf(`
			INSERT INTO %s (id, range_start, range_end)
			SELECT * FROM unnest($1::int[], $2::date[], $3::date[])
			ON CONFLICT (id) DO UPDATE SET
				range_start = EXCLUDED.range_start,
				range_end = EXCLUDED.range_end
		`, table)
		args = []any{ids, starts, ends}
	} else {
		query = fmt.Sprintf(`
			INSERT INTO %[1]s (id, %[2]s, range_start, range_end)
			SELECT * FROM unnest($1::int[], $2::int[], $3::date[], $4::date[])
			ON CONFLICT (id) DO UPDATE SET
				%[2]s = EXCLUDED.%[2]s,
				range_start = EXCLUDED.range_start,
				range_end = EXCLUDED.range_end
		`, table, parent)
		args = []any{ids, parents, starts, ends}
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting %s: %w", table, err)
	}
	return nil
}

// YearRange returns the first and last seeded year. It returns ErrNotFound
// when no buckets are seeded.
func (r *BucketRepository) YearRange(ctx context.Context) (first, last int, err error) {
	var lo, hi *int32
	if err := r.pool.QueryRow(ctx, `SELECT MIN(id), MAX(id) FROM year_buckets`).Scan(&lo, &hi); err != nil {
		return 0, 0, fmt.Errorf("querying seeded years: %w", err)
	}
	if lo == nil || hi == nil {
		return 0, 0, ErrNotFound
	}
	return int(*lo), int(*hi), nil
}

func bucketsIntersecting(ctx context.Context, q querier, start, end time.Time) (buckets.Set, error) {
	var (
		set buckets.Set
		err error
	)
	start, end = buckets.Day(start), buckets.Day(end)

	set.Years, err = queryBuckets(ctx, q, buckets.ScopeYear,
		`SELECT id, 0, range_start, range_end FROM year_buckets
		 WHERE range_start <= $2 AND range_end >= $1 ORDER BY range_start`, start, end)
	if err != nil {
		return set, err
	}
	set.Months, err = queryBuckets(ctx, q, buckets.ScopeMonth,
		`SELECT id, year_id, range_start, range_end FROM month_buckets
		 WHERE range_start <= $2 AND range_end >= $1 ORDER BY range_start`, start, end)
	if err != nil {
		return set, err
	}
	set.Weeks, err = queryBuckets(ctx, q, buckets.ScopeWeek,
		`SELECT id, month_id, range_start, range_end FROM week_buckets
		 WHERE range_start <= $2 AND range_end >= $1 ORDER BY range_start`, start, end)
	return set, err
}

func queryBuckets(ctx context.Context, q querier, scope buckets.Scope, query string, start, end time.Time) ([]buckets.Bucket, error) {
	rows, err := q.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying %s buckets: %w", scope, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (buckets.Bucket, error) {
		var (
			b            buckets.Bucket
			id, parentID int32
		)
		err := row.Scan(&id, &parentID, &b.Start, &b.End)
		b.ID, b.ParentID, b.Scope = int(id), int(parentID), scope
		b.Start, b.End = buckets.Day(b.Start), buckets.Day(b.End)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s buckets: %w", scope, err)
	}
	return out, nil
}
