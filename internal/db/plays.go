package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PlayRepository reads play history.
type PlayRepository struct {
	pool *pgxpool.Pool
}

// LatestPlayedAt returns the newest stored play time, or the Unix epoch when no
// plays exist.
func (r *PlayRepository) LatestPlayedAt(ctx context.Context) (time.Time, error) {
	var latest time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(played_at), 'epoch'::timestamptz) FROM plays`,
	).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("querying latest play: %w", err)
	}
	return latest.UTC(), nil
}

// Count returns the number of stored plays.
func (r *PlayRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM plays`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting plays: %w", err)
	}
	return n, nil
}

const dayPlaysQuery = `
	SELECT p.track_id, p.played_at,
		COALESCE(array_agg(ta.artist_id ORDER BY ta.position) FILTER (WHERE ta.artist_id IS NOT NULL), '{}')
	FROM plays p
	LEFT JOIN track_artists ta ON ta.track_id = p.track_id
	WHERE p.played_at >= $1 AND p.played_at < $2
	GROUP BY p.track_id, p.played_at
	ORDER BY p.played_at
`

func queryDayPlays(ctx context.Context, q querier, from, to time.Time) ([]DayPlay, error) {
	rows, err := q.Query(ctx, dayPlaysQuery, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying plays: %w", err)
	}
	plays, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (DayPlay, error) {
		var p DayPlay
		err := row.Scan(&p.TrackID, &p.PlayedAt, &p.ArtistIDs)
		p.PlayedAt = p.PlayedAt.UTC()
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning plays: %w", err)
	}
	return plays, nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
