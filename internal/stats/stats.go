// Package stats answers date-range listening queries from the pre-aggregated
// daily and bucket rows.
package stats

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/justestif/go-listening-stats/internal/buckets"
	"github.com/justestif/go-listening-stats/internal/db"
	"github.com/justestif/go-listening-stats/internal/logging"
	"github.com/justestif/go-listening-stats/internal/metrics"
)

// Defaults.
const (
	DefaultTopN         = 10
	DefaultMaxRangeDays = 3660
	DefaultTimeout      = 30 * time.Second
)

// Parts of a response that can fail independently.
const (
	PartDays    = "days"
	PartBuckets = "buckets"
	PartTracks  = "tracks"
	PartArtists = "artists"
)

// ErrRangeTooLarge is returned when the range spans more than the allowed days.
var ErrRangeTooLarge = errors.New("date range too large")

// Store reads the stats tables.
type Store interface {
	DailyStats(ctx context.Context, start, end time.Time) ([]db.DailyStat, error)
	BucketsIntersecting(ctx context.Context, start, end time.Time) (buckets.Set, error)
	TrackStats(ctx context.Context, cover buckets.Cover) ([]db.TrackStatRow, error)
	ArtistStats(ctx context.Context, cover buckets.Cover) ([]db.ArtistStatRow, error)
}

// Service answers range queries. It never writes.
type Service struct {
	store        Store
	topN         int
	maxRangeDays int
	defaultImage string
	timeout      time.Duration

	group singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithTopN sets how many top tracks and artists are returned.
func WithTopN(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.topN = n
		}
	}
}

// WithMaxRangeDays caps the queried span.
func WithMaxRangeDays(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRangeDays = n
		}
	}
}

// WithDefaultImage sets the image used when nothing better is stored.
func WithDefaultImage(url string) Option {
	return func(s *Service) {
		s.defaultImage = url
	}
}

// WithTimeout bounds one query.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:        store,
		topN:         DefaultTopN,
		maxRangeDays: DefaultMaxRangeDays,
		timeout:      DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query returns the stats for the inclusive UTC date range [start, end].
// A failed sub-fetch empties its part of the response and names it in
// Meta.Partial; the query itself still succeeds. Identical concurrent queries
// share one execution.
func (s *Service) Query(ctx context.Context, start, end time.Time) (*Response, error) {
	start, end = buckets.Day(start), buckets.Day(end)
	if end.Before(start) {
		return nil, buckets.ErrInvalidRange
	}
	if days := len(buckets.Days(start, end)); days > s.maxRangeDays {
		return nil, fmt.Errorf("%w: %d days, at most %d", ErrRangeTooLarge, days, s.maxRangeDays)
	}

	key := start.Format(buckets.DateLayout) + "/" + end.Format(buckets.DateLayout)
	v, err, _ := s.group.Do(key, func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.query(qctx, start, end), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}

// partials collects the names of failed parts.
type partials struct {
	mu    sync.Mutex
	parts []string
}

func (p *partials) fail(ctx context.Context, part string, err error) {
	metrics.QueryPartial.WithLabelValues(part).Inc()
	logging.Ctx(ctx).Warn().Err(err).Str("part", part).Msg("stats query part failed")
	p.mu.Lock()
	p.parts = append(p.parts, part)
	p.mu.Unlock()
}

func (s *Service) query(ctx context.Context, start, end time.Time) *Response {
	began := time.Now()
	defer func() {
		metrics.QueryDuration.Observe(time.Since(began).Seconds())
	}()

	var (
		failed partials
		daily  []db.DailyStat
		set    buckets.Set
		setOK  bool
	)

	var g errgroup.Group
	g.Go(func() error {
		d, err := s.store.DailyStats(ctx, start, end)
		if err != nil {
			failed.fail(ctx, PartDays, err)
			return nil
		}
		daily = d
		return nil
	})
	g.Go(func() error {
		bs, err := s.store.BucketsIntersecting(ctx, start, end)
		if err != nil {
			failed.fail(ctx, PartBuckets, err)
			return nil
		}
		set, setOK = bs, true
		return nil
	})
	_ = g.Wait()

	cover := buckets.DayCover(start, end)
	if setOK {
		c, err := buckets.Select(start, end, set)
		if err != nil {
			failed.fail(ctx, PartBuckets, err)
			set = buckets.Set{}
		} else {
			cover = c
		}
	}

	var (
		trackRows  []db.TrackStatRow
		artistRows []db.ArtistStatRow
		fetch      errgroup.Group
	)
	fetch.Go(func() error {
		rows, err := s.store.TrackStats(ctx, cover)
		if err != nil {
			failed.fail(ctx, PartTracks, err)
			return nil
		}
		trackRows = rows
		return nil
	})
	fetch.Go(func() error {
		rows, err := s.store.ArtistStats(ctx, cover)
		if err != nil {
			failed.fail(ctx, PartArtists, err)
			return nil
		}
		artistRows = rows
		return nil
	})
	_ = fetch.Wait()
	slices.Sort(failed.parts)

	idx := buckets.NewIndex(set)
	tracks := sumTracks(idx, trackRows, start, end)
	artists := sumArtists(idx, artistRows, start, end)

	resp := &Response{
		TopArtists:    []TopArtist{},
		TopTracks:     []TopTrack{},
		TrackHeatmap:  []SubjectHours{},
		ArtistHeatmap: []SubjectHours{},
		Meta: Meta{
			Start:           start.Format(buckets.DateLayout),
			End:             end.Format(buckets.DateLayout),
			DistinctTracks:  len(tracks),
			DistinctArtists: len(artists),
			PercentExplicit: percentExplicit(tracks),
			CoverSize:       cover.Len(),
			Partial:         failed.parts,
		},
	}
	fillCalendar(resp, daily)

	for _, t := range tracks[:min(s.topN, len(tracks))] {
		resp.TopTracks = append(resp.TopTracks, s.topTrack(t))
		resp.TrackHeatmap = append(resp.TrackHeatmap, SubjectHours{ID: t.row.SubjectID, Name: t.row.Track.Name, Hours: t.hours})
	}
	for _, a := range artists[:min(s.topN, len(artists))] {
		resp.TopArtists = append(resp.TopArtists, s.topArtist(a))
		resp.ArtistHeatmap = append(resp.ArtistHeatmap, SubjectHours{ID: a.row.SubjectID, Name: a.row.Artist.Name, Hours: a.hours})
	}

	logging.Ctx(ctx).Debug().
		Str("start", resp.Meta.Start).
		Str("end", resp.Meta.End).
		Int("cover", resp.Meta.CoverSize).
		Strs("partial", resp.Meta.Partial).
		Dur("elapsed", time.Since(began)).
		Msg("stats query")
	return resp
}
