package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/justestif/go-listening-stats/internal/buckets"
)

// StatsRepository reads and writes daily and bucketed stats.
type StatsRepository struct {
	pool *pgxpool.Pool
}

// StatsWriter is the set of operations available inside a stats transaction.
type StatsWriter interface {
	DayPlays(ctx context.Context, date time.Time) ([]DayPlay, error)
	ReplaceDay(ctx context.Context, day DailyStat, tracks, artists []EntityStat) error
	DayRows(ctx context.Context, start, end time.Time) (tracks, artists []EntityStat, err error)
	ReplaceBucket(ctx context.Context, ref buckets.Ref, tracks, artists []EntityStat) error
	BucketsContaining(ctx context.Context, date time.Time) (year, month, week buckets.Bucket, err error)
	BucketsIntersecting(ctx context.Context, start, end time.Time) (buckets.Set, error)
}

// InTx runs fn in a single transaction, committing only if fn returns nil.
func (r *StatsRepository) InTx(ctx context.Context, fn func(StatsWriter) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&statsTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type statsTx struct {
	tx pgx.Tx
}

var entityColumns = []string{
	"bucket_scope", "stat_date", "week_bucket_id", "month_bucket_id", "year_bucket_id", "count", "hours",
}

func (s *statsTx) DayPlays(ctx context.Context, date time.Time) ([]DayPlay, error) {
	day := buckets.Day(date)
	return queryDayPlays(ctx, s.tx, day, day.AddDate(0, 0, 1))
}

func (s *statsTx) ReplaceDay(ctx context.Context, day DailyStat, tracks, artists []EntityStat) error {
	date := buckets.Day(day.Date)

	for _, q := range []string{
		`DELETE FROM daily_stats WHERE date = $1`,
		`DELETE FROM track_stats WHERE bucket_scope = 'day' AND stat_date = $1`,
		`DELETE FROM artist_stats WHERE bucket_scope = 'day' AND stat_date = $1`,
	} {
		if _, err := s.tx.Exec(ctx, q, date); err != nil {
			return fmt.Errorf("clearing day %s: %w", date.Format(buckets.DateLayout), err)
		}
	}

	if _, err := s.tx.Exec(ctx,
		`INSERT INTO daily_stats (date, weekday, hours) VALUES ($1, $2, $3)`,
		date, day.Weekday, toInt32s(day.Hours),
	); err != nil {
		return fmt.Errorf("inserting daily stat: %w", err)
	}

	return s.copyEntities(ctx, tracks, artists)
}

func (s *statsTx) DayRows(ctx context.Context, start, end time.Time) ([]EntityStat, []EntityStat, error) {
	tracks, err := s.dayRows(ctx, "track_stats", "track_id", start, end)
	if err != nil {
		return nil, nil, err
	}
	artists, err := s.dayRows(ctx, "artist_stats", "artist_id", start, end)
	if err != nil {
		return nil, nil, err
	}
	return tracks, artists, nil
}

func (s *statsTx) dayRows(ctx context.Context, table, subject string, start, end time.Time) ([]EntityStat, error) {
	query := fmt.Sprintf(`
		SELECT %s, stat_date, count, hours
		FROM %s
		WHERE bucket_scope = 'day' AND stat_date BETWEEN $1 AND $2
	`, subject, table)

	rows, err := s.tx.Query(ctx, query, buckets.Day(start), buckets.Day(end))
	if err != nil {
		return nil, fmt.Errorf("querying %s day rows: %w", table, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (EntityStat, error) {
		var (
			e     EntityStat
			date  time.Time
			hours []int32
		)
		if err := row.Scan(&e.SubjectID, &date, &e.Count, &hours); err != nil {
			return e, err
		}
		e.Ref = buckets.DayRef{Date: buckets.Day(date)}
		h, err := toHours(hours)
		e.Hours = h
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s day rows: %w", table, err)
	}
	return out, nil
}

func (s *statsTx) ReplaceBucket(ctx context.Context, ref buckets.Ref, tracks, artists []EntityStat) error {
	col, id, err := bucketColumn(ref)
	if err != nil {
		return err
	}
	for _, table := range []string{"track_stats", "artist_stats"} {
		q := fmt.Sprintf(`DELETE FROM %s WHERE bucket_scope = $1 AND %s = $2`, table, col)
		if _, err := s.tx.Exec(ctx, q, string(ref.Scope()), id); err != nil {
			return fmt.Errorf("clearing %s for %v: %w", table, ref, err)
		}
	}
	return s.copyEntities(ctx, tracks, artists)
}

func (s *statsTx) copyEntities(ctx context.Context, tracks, artists []EntityStat) error {
	for _, t := range []struct {
		table   string
		subject string
		rows    []EntityStat
	}{
		{"track_stats", "track_id", tracks},
		{"artist_stats", "artist_id", artists},
	} {
		if len(t.rows) == 0 {
			continue
		}
		src := make([][]any, len(t.rows))
		for i, e := range t.rows {
			row, err := entityRow(e)
			if err != nil {
				return err
			}
			src[i] = row
		}
		cols := append([]string{t.subject}, entityColumns...)
		if _, err := s.tx.CopyFrom(ctx, pgx.Identifier{t.table}, cols, pgx.CopyFromRows(src)); err != nil {
			return fmt.Errorf("copying %s: %w", t.table, err)
		}
	}
	return nil
}

func (s *statsTx) BucketsContaining(ctx context.Context, date time.Time) (buckets.Bucket, buckets.Bucket, buckets.Bucket, error) {
	set, err := bucketsIntersecting(ctx, s.tx, date, date)
	if err != nil {
		return buckets.Bucket{}, buckets.Bucket{}, buckets.Bucket{}, err
	}
	return buckets.Containing(set, date)
}

func (s *statsTx) BucketsIntersecting(ctx context.Context, start, end time.Time) (buckets.Set, error) {
	return bucketsIntersecting(ctx, s.tx, start, end)
}

// DailySpan returns the first and last dates with a daily row. It returns
// ErrNotFound when nothing has been aggregated yet.
func (r *StatsRepository) DailySpan(ctx context.Context) (first, last time.Time, err error) {
	var lo, hi *time.Time
	if err := r.pool.QueryRow(ctx, `SELECT MIN(date), MAX(date) FROM daily_stats`).Scan(&lo, &hi); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("querying daily span: %w", err)
	}
	if lo == nil || hi == nil {
		return time.Time{}, time.Time{}, ErrNotFound
	}
	return buckets.Day(*lo), buckets.Day(*hi), nil
}

// DailyStats returns the daily rows in [start, end] ordered by date.
func (r *StatsRepository) DailyStats(ctx context.Context, start, end time.Time) ([]DailyStat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT date, weekday, hours
		FROM daily_stats
		WHERE date BETWEEN $1 AND $2
		ORDER BY date
	`, buckets.Day(start), buckets.Day(end))
	if err != nil {
		return nil, fmt.Errorf("querying daily stats: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (DailyStat, error) {
		var (
			d     DailyStat
			hours []int32
		)
		if err := row.Scan(&d.Date, &d.Weekday, &hours); err != nil {
			return d, err
		}
		d.Date = buckets.Day(d.Date)
		h, err := toHours(hours)
		d.Hours = h
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning daily stats: %w", err)
	}
	return out, nil
}

// BucketsIntersecting returns every bucket overlapping [start, end].
func (r *StatsRepository) BucketsIntersecting(ctx context.Context, start, end time.Time) (buckets.Set, error) {
	return bucketsIntersecting(ctx, r.pool, start, end)
}

const trackStatsQuery = `
	SELECT s.track_id, s.bucket_scope, s.stat_date, s.week_bucket_id, s.month_bucket_id, s.year_bucket_id,
		s.count, s.hours,
		t.name, t.explicit, t.url, t.album_id,
		a.name, a.image_url, a.url,
		ca.id, ca.name, ca.image_url, ca.url,
		COALESCE((
			SELECT array_agg(ar.name ORDER BY ta.position, ar.name)
			FROM track_artists ta
			JOIN artists ar ON ar.id = ta.artist_id
			WHERE ta.track_id = s.track_id
		), '{}')
	FROM track_stats s
	JOIN tracks t ON t.id = s.track_id
	JOIN albums a ON a.id = t.album_id
	LEFT JOIN albums ca ON ca.id = t.canonical_album_id
	WHERE (s.bucket_scope = 'year' AND s.year_bucket_id = ANY($1::int[]))
	   OR (s.bucket_scope = 'month' AND s.month_bucket_id = ANY($2::int[]))
	   OR (s.bucket_scope = 'week' AND s.week_bucket_id = ANY($3::int[]))
	   OR (s.bucket_scope = 'day' AND s.stat_date = ANY($4::date[]))
`

// TrackStats returns every track stats row referenced by cover with its display data.
func (r *StatsRepository) TrackStats(ctx context.Context, cover buckets.Cover) ([]TrackStatRow, error) {
	if cover.Len() == 0 {
		return nil, nil
	}
	years, months, weeks, days := coverArgs(cover)
	rows, err := r.pool.Query(ctx, trackStatsQuery, years, months, weeks, days)
	if err != nil {
		return nil, fmt.Errorf("querying track stats: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TrackStatRow, error) {
		var (
			s     TrackStatRow
			cols  refColumns
			hours []int32
			caID  *string
			caNm  *string
			caImg *string
			caURL *string
		)
		if err := row.Scan(
			&s.SubjectID, &cols.scope, &cols.date, &cols.week, &cols.month, &cols.year,
			&s.Count, &hours,
			&s.Track.Name, &s.Track.Explicit, &s.Track.URL, &s.Track.AlbumID,
			&s.Album.Name, &s.Album.ImageURL, &s.Album.URL,
			&caID, &caNm, &caImg, &caURL,
			&s.ArtistNames,
		); err != nil {
			return s, err
		}
		s.Track.ID = s.SubjectID
		s.Album.ID = s.Track.AlbumID
		if caID != nil {
			s.CanonicalAlbum = &Album{ID: *caID, ImageURL: caImg}
			if caNm != nil {
				s.CanonicalAlbum.Name = *caNm
			}
			if caURL != nil {
				s.CanonicalAlbum.URL = *caURL
			}
			s.Track.CanonicalAlbumID = caID
		}
		ref, err := cols.ref()
		if err != nil {
			return s, err
		}
		s.Ref = ref
		s.Hours, err = toHours(hours)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning track stats: %w", err)
	}
	return out, nil
}

const artistStatsQuery = `
	SELECT s.artist_id, s.bucket_scope, s.stat_date, s.week_bucket_id, s.month_bucket_id, s.year_bucket_id,
		s.count, s.hours,
		ar.name, ar.url, ar.image_url
	FROM artist_stats s
	JOIN artists ar ON ar.id = s.artist_id
	WHERE (s.bucket_scope = 'year' AND s.year_bucket_id = ANY($1::int[]))
	   OR (s.bucket_scope = 'month' AND s.month_bucket_id = ANY($2::int[]))
	   OR (s.bucket_scope = 'week' AND s.week_bucket_id = ANY($3::int[]))
	   OR (s.bucket_scope = 'day' AND s.stat_date = ANY($4::date[]))
`

// ArtistStats returns every artist stats row referenced by cover with its artist.
func (r *StatsRepository) ArtistStats(ctx context.Context, cover buckets.Cover) ([]ArtistStatRow, error) {
	if cover.Len() == 0 {
		return nil, nil
	}
	years, months, weeks, days := coverArgs(cover)
	rows, err := r.pool.Query(ctx, artistStatsQuery, years, months, weeks, days)
	if err != nil {
		return nil, fmt.Errorf("querying artist stats: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ArtistStatRow, error) {
		var (
			s     ArtistStatRow
			cols  refColumns
			hours []int32
		)
		if err := row.Scan(
			&s.SubjectID, &cols.scope, &cols.date, &cols.week, &cols.month, &cols.year,
			&s.Count, &hours,
			&s.Artist.Name, &s.Artist.URL, &s.Artist.ImageURL,
		); err != nil {
			return s, err
		}
		s.Artist.ID = s.SubjectID
		ref, err := cols.ref()
		if err != nil {
			return s, err
		}
		s.Ref = ref
		s.Hours, err = toHours(hours)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning artist stats: %w", err)
	}
	return out, nil
}

func coverArgs(c buckets.Cover) (years, months, weeks []int32, days []time.Time) {
	years = toInt32Slice(c.Years)
	months = toInt32Slice(c.Months)
	weeks = toInt32Slice(c.Weeks)
	days = append([]time.Time{}, c.Days...)
	return years, months, weeks, days
}

func toInt32Slice(ids []int) []int32 {
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out
}
