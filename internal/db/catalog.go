package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultBatchSize is the number of rows per upsert statement.
const DefaultBatchSize = 50

// CatalogRepository writes albums, artists, tracks, their links and plays.
type CatalogRepository struct {
	pool      *pgxpool.Pool
	batchSize int
}

// WithBatchSize returns a copy of the repository that upserts size rows per statement.
func (r *CatalogRepository) WithBatchSize(size int) *CatalogRepository {
	return &CatalogRepository{pool: r.pool, batchSize: size}
}

const (
	upsertAlbumsQuery = `
		INSERT INTO albums (id, name, image_url, release_date, url)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[])
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			image_url = COALESCE(EXCLUDED.image_url, albums.image_url),
			release_date = COALESCE(EXCLUDED.release_date, albums.release_date),
			url = EXCLUDED.url
	`

	// image_url belongs to enrichment and is never overwritten here.
	upsertArtistsQuery = `
		INSERT INTO artists (id, name, url)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[])
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			url = EXCLUDED.url
	`

	// canonical_album_id belongs to the canonical resolver and is never overwritten here.
	upsertTracksQuery = `
		INSERT INTO tracks (id, name, isrc, duration_ms, explicit, url, release_date, album_id)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::int[], $5::bool[], $6::text[], $7::text[], $8::text[])
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			isrc = EXCLUDED.isrc,
			duration_ms = EXCLUDED.duration_ms,
			explicit = EXCLUDED.explicit,
			url = EXCLUDED.url,
			release_date = EXCLUDED.release_date,
			album_id = EXCLUDED.album_id
	`

	linkAlbumArtistsQuery = `
		INSERT INTO album_artists (album_id, artist_id)
		SELECT * FROM unnest($1::text[], $2::text[])
		ON CONFLICT DO NOTHING
	`

	linkTrackArtistsQuery = `
		INSERT INTO track_artists (track_id, artist_id, position)
		SELECT * FROM unnest($1::text[], $2::text[], $3::int[])
		ON CONFLICT (track_id, artist_id) DO UPDATE SET position = EXCLUDED.position
	`

	insertPlaysQuery = `
		INSERT INTO plays (track_id, played_at)
		SELECT * FROM unnest($1::text[], $2::timestamptz[])
		ON CONFLICT (track_id, played_at) DO NOTHING
	`
)

// SaveBatch writes b in a single transaction. Entity types are written in
// dependency order (albums, artists, tracks, album links, track links, plays);
// within a type, rows are split into statements of batchSize rows that are
// pipelined in one round trip.
func (r *CatalogRepository) SaveBatch(ctx context.Context, b IngestBatch) (*SaveResult, error) {
	size := r.batchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	steps := []struct {
		name  string
		batch *pgx.Batch
	}{
		{"albums", albumsBatch(b.Albums, size)},
		{"artists", artistsBatch(b.Artists, size)},
		{"tracks", tracksBatch(b.Tracks, size)},
		{"album artists", albumArtistsBatch(b.AlbumArtists, size)},
		{"track artists", trackArtistsBatch(b.TrackArtists, size)},
	}
	for _, step := range steps {
		if _, err := sendBatch(ctx, tx, step.batch); err != nil {
			return nil, fmt.Errorf("upserting %s: %w", step.name, err)
		}
	}

	newPlays, err := sendBatch(ctx, tx, playsBatch(b.Plays, size))
	if err != nil {
		return nil, fmt.Errorf("inserting plays: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return &SaveResult{NewPlays: int(newPlays)}, nil
}

// sendBatch executes every queued statement and returns the total rows affected.
func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) (int64, error) {
	if batch.Len() == 0 {
		return 0, nil
	}
	br := tx.SendBatch(ctx, batch)
	var affected int64
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return affected, err
		}
		affected += tag.RowsAffected()
	}
	return affected, br.Close()
}

func albumsBatch(albums []Album, size int) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, c := range chunk(albums, size) {
		ids := make([]string, len(c))
		names := make([]string, len(c))
		images := make([]*string, len(c))
		releases := make([]*string, len(c))
		urls := make([]string, len(c))
		for i, a := range c {
			ids[i] = a.ID
			names[i] = a.Name
			images[i] = a.ImageURL
			releases[i] = a.ReleaseDate
			urls[i] = a.URL
		}
		batch.Queue(upsertAlbumsQuery, ids, names, images, releases, urls)
	}
	return batch
}

func artistsBatch(artists []Artist, size int) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, c := range chunk(artists, size) {
		ids := make([]string, len(c))
		names := make([]string, len(c))
		urls := make([]string, len(c))
		for i, a := range c {
			ids[i] = a.ID
			names[i] = a.Name
			urls[i] = a.URL
		}
		batch.Queue(upsertArtistsQuery, ids, names, urls)
	}
	return batch
}

func tracksBatch(tracks []Track, size int) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, c := range chunk(tracks, size) {
		ids := make([]string, len(c))
		names := make([]string, len(c))
		isrcs := make([]*string, len(c))
		durations := make([]int32, len(c))
		explicit := make([]bool, len(c))
		urls := make([]string, len(c))
		releases := make([]*string, len(c))
		albumIDs := make([]string, len(c))
		for i, t := range c {
			ids[i] = t.ID
			names[i] = t.Name
			isrcs[i] = t.ISRC
			durations[i] = int32(t.DurationMs)
			explicit[i] = t.Explicit
			urls[i] = t.URL
			releases[i] = t.ReleaseDate
			albumIDs[i] = t.AlbumID
		}
		batch.Queue(upsertTracksQuery, ids, names, isrcs, durations, explicit, urls, releases, albumIDs)
	}
	return batch
}

func albumArtistsBatch(links []AlbumArtist, size int) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, c := range chunk(links, size) {
		albumIDs := make([]string, len(c))
		artistIDs := make([]string, len(c))
		for i, l := range c {
			albumIDs[i] = l.AlbumID
			artistIDs[i] = l.ArtistID
		}
		batch.Queue(linkAlbumArtistsQuery, albumIDs, artistIDs)
	}
	return batch
}

func trackArtistsBatch(links []TrackArtist, size int) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, c := range chunk(links, size) {
		trackIDs := make([]string, len(c))
		artistIDs := make([]string, len(c))
		positions := make([]int32, len(c))
		for i, l := range c {
			trackIDs[i] = l.TrackID
			artistIDs[i] = l.ArtistID
			positions[i] = int32(l.Position)
		}
		batch.Queue(linkTrackArtistsQuery, trackIDs, artistIDs, positions)
	}
	return batch
}

func playsBatch(plays []Play, size int) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, c := range chunk(plays, size) {
		trackIDs := make([]string, len(c))
		playedAts := make([]time.Time, len(c))
		for i, p := range c {
			trackIDs[i] = p.TrackID
			playedAts[i] = p.PlayedAt
		}
		batch.Queue(insertPlaysQuery, trackIDs, playedAts)
	}
	return batch
}

// ArtistsMissingImages returns the ids of artists with no stored image.
func (r *CatalogRepository) ArtistsMissingImages(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM artists WHERE image_url IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying artists without images: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning artist ids: %w", err)
	}
	return ids, nil
}

// SetArtistImages stores image URLs by artist id. A nil URL stores NULL.
func (r *CatalogRepository) SetArtistImages(ctx context.Context, images map[string]*string) error {
	if len(images) == 0 {
		return nil
	}

	query := `
		UPDATE artists a
		SET image_url = v.image_url
		FROM unnest($1::text[], $2::text[]) AS v(id, image_url)
		WHERE a.id = v.id
	`

	ids := make([]string, 0, len(images))
	urls := make([]*string, 0, len(images))
	for id, url := range images {
		ids = append(ids, id)
		urls = append(urls, url)
	}

	if _, err := r.pool.Exec(ctx, query, ids, urls); err != nil {
		return fmt.Errorf("updating artist images: %w", err)
	}
	return nil
}
