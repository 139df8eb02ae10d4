package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CanonicalRepository reads recording variants and stamps canonical albums.
type CanonicalRepository struct {
	pool *pgxpool.Pool
}

// RecordingVariants returns, for every recording code, each album it appears on
// with the number of plays of that recording on that album.
func (r *CanonicalRepository) RecordingVariants(ctx context.Context) ([]RecordingVariant, error) {
	query := `
		SELECT t.isrc, t.album_id, a.name, COUNT(p.played_at)
		FROM tracks t
		JOIN albums a ON a.id = t.album_id
		LEFT JOIN plays p ON p.track_id = t.id
		WHERE t.isrc IS NOT NULL AND t.isrc <> ''
		GROUP BY t.isrc, t.album_id, a.name
		ORDER BY t.isrc, t.album_id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying recording variants: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RecordingVariant, error) {
		var v RecordingVariant
		err := row.Scan(&v.ISRC, &v.AlbumID, &v.AlbumName, &v.Plays)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning recording variants: %w", err)
	}
	return out, nil
}

// AssignCanonical applies every assignment in one transaction.
func (r *CanonicalRepository) AssignCanonical(ctx context.Context, assignments []CanonicalAssignment) error {
	if len(assignments) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, a := range assignments {
		batch.Queue(`UPDATE tracks SET canonical_album_id = $1 WHERE isrc = $2`, a.AlbumID, a.ISRC)
	}
	if _, err := sendBatch(ctx, tx, batch); err != nil {
		return fmt.Errorf("stamping canonical albums: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
