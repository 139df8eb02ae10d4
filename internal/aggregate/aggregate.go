// Package aggregate rebuilds the per-day stats rows from raw plays and rolls
// them up into the enclosing week, month and year buckets.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justestif/go-listening-stats/internal/buckets"
	"github.com/justestif/go-listening-stats/internal/db"
	"github.com/justestif/go-listening-stats/internal/lock"
	"github.com/justestif/go-listening-stats/internal/logging"
	"github.com/justestif/go-listening-stats/internal/metrics"
)

// LockName is the job lock held while aggregating.
const LockName = "daily"

// DefaultDays is how many days AggregateRecent rebuilds, today included.
const DefaultDays = 3

// Store runs a function inside one stats transaction and reports which days
// have been aggregated.
type Store interface {
	InTx(ctx context.Context, fn func(db.StatsWriter) error) error
	DailySpan(ctx context.Context) (first, last time.Time, err error)
}

// Service aggregates plays into stats rows.
type Service struct {
	store  Store
	locker lock.Locker
	days   int
}

// Option configures a Service.
type Option func(*Service)

// WithLocker replaces the default process-local lock.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

// WithDays sets how many days AggregateRecent rebuilds.
func WithDays(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.days = n
		}
	}
}

// New creates a Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		locker: lock.NewLocal(),
		days:   DefaultDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DayResult summarizes the rebuild of one day.
type DayResult struct {
	Date    string   `json:"date"`
	Plays   int      `json:"plays"`
	Tracks  int      `json:"tracks"`
	Artists int      `json:"artists"`
	Buckets []string `json:"buckets,omitempty"`
}

// Result summarizes a multi-day run.
type Result struct {
	Days    []DayResult   `json:"days"`
	Elapsed time.Duration `json:"elapsed"`
}

// AggregateDay rebuilds one day and re-rolls its week, month and year buckets
// in a single transaction. Running it twice for the same date leaves the same
// rows behind. Days outside the seeded bucket range get day rows only.
func (s *Service) AggregateDay(ctx context.Context, date time.Time) (*DayResult, error) {
	day := buckets.Day(date)
	var res *DayResult

	err := s.store.InTx(ctx, func(w db.StatsWriter) error {
		plays, err := w.DayPlays(ctx, day)
		if err != nil {
			return fmt.Errorf("loading plays: %w", err)
		}

		r := BuildDay(day, plays)
		if err := w.ReplaceDay(ctx, r.Daily, r.Tracks, r.Artists); err != nil {
			return fmt.Errorf("replacing day rows: %w", err)
		}
		res = &DayResult{
			Date:    day.Format(buckets.DateLayout),
			Plays:   r.Plays(),
			Tracks:  len(r.Tracks),
			Artists: len(r.Artists),
		}

		year, month, week, err := w.BucketsContaining(ctx, day)
		if errors.Is(err, buckets.ErrUnknownBucket) {
			logging.Ctx(ctx).Warn().Str("date", res.Date).Msg("no buckets seeded for date, skipping rollups")
			return nil
		}
		if err != nil {
			return fmt.Errorf("finding buckets: %w", err)
		}

		for _, b := range []buckets.Bucket{week, month, year} {
			if err := rollUp(ctx, w, b); err != nil {
				return err
			}
			res.Buckets = append(res.Buckets, fmt.Sprint(b.Ref()))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("aggregating %s: %w", day.Format(buckets.DateLayout), err)
	}

	metrics.DaysAggregated.Inc()
	return res, nil
}

// rollUp replaces the rows of bucket b with the sums of the day rows inside it.
func rollUp(ctx context.Context, w db.StatsWriter, b buckets.Bucket) error {
	tracks, artists, err := w.DayRows(ctx, b.Start, b.End)
	if err != nil {
		return fmt.Errorf("loading day rows for %v: %w", b.Ref(), err)
	}
	ref := b.Ref()
	if err := w.ReplaceBucket(ctx, ref, SumRows(ref, tracks), SumRows(ref, artists)); err != nil {
		return fmt.Errorf("replacing %v: %w", ref, err)
	}
	return nil
}

// AggregateRecent rebuilds the configured number of days ending on now's day.
// It returns lock.ErrHeld if another aggregation is running.
func (s *Service) AggregateRecent(ctx context.Context, now time.Time) (*Result, error) {
	end := buckets.Day(now)
	return s.AggregateRange(ctx, end.AddDate(0, 0, -(s.days-1)), end)
}

// AggregateRange rebuilds every day from start to end inclusive, oldest first.
// It stops at the first failing day; days already rebuilt stay committed.
func (s *Service) AggregateRange(ctx context.Context, start, end time.Time) (*Result, error) {
	days := buckets.Days(start, end)
	if len(days) == 0 {
		return nil, buckets.ErrInvalidRange
	}

	release, err := s.locker.TryAcquire(ctx, LockName)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			metrics.JobRuns.WithLabelValues(LockName, "skipped").Inc()
		}
		return nil, err
	}
	defer release()

	began := time.Now()
	res := &Result{Days: make([]DayResult, 0, len(days))}
	for _, d := range days {
		dr, err := s.AggregateDay(ctx, d)
		if err != nil {
			metrics.JobRuns.WithLabelValues(LockName, "error").Inc()
			metrics.JobDuration.WithLabelValues(LockName).Observe(time.Since(began).Seconds())
			return nil, err
		}
		res.Days = append(res.Days, *dr)
	}
	res.Elapsed = time.Since(began)

	metrics.JobRuns.WithLabelValues(LockName, "ok").Inc()
	metrics.JobDuration.WithLabelValues(LockName).Observe(res.Elapsed.Seconds())
	logging.Ctx(ctx).Info().
		Str("start", days[0].Format(buckets.DateLayout)).
		Str("end", days[len(days)-1].Format(buckets.DateLayout)).
		Int("days", len(days)).
		Dur("elapsed", res.Elapsed).
		Msg("aggregation finished")
	return res, nil
}

// RollUpResult summarizes a rollup pass.
type RollUpResult struct {
	Start   string        `json:"start,omitempty"`
	End     string        `json:"end,omitempty"`
	Buckets []string      `json:"buckets"`
	Elapsed time.Duration `json:"elapsed"`
}

// RollUpStored re-rolls every seeded bucket that overlaps the aggregated days.
// Days aggregated before their buckets were seeded only have day rows; this
// fills in their weeks, months and years.
func (s *Service) RollUpStored(ctx context.Context) (*RollUpResult, error) {
	first, last, err := s.store.DailySpan(ctx)
	if errors.Is(err, db.ErrNotFound) {
		return &RollUpResult{Buckets: []string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding aggregated days: %w", err)
	}
	return s.RollUpRange(ctx, first, last)
}

// RollUpRange replaces the rows of every bucket overlapping [start, end] with
// the sums of the day rows inside it, one transaction per bucket. Day rows are
// left as they are.
func (s *Service) RollUpRange(ctx context.Context, start, end time.Time) (*RollUpResult, error) {
	start, end = buckets.Day(start), buckets.Day(end)
	if end.Before(start) {
		return nil, buckets.ErrInvalidRange
	}

	release, err := s.locker.TryAcquire(ctx, LockName)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			metrics.JobRuns.WithLabelValues(LockName, "skipped").Inc()
		}
		return nil, err
	}
	defer release()

	began := time.Now()
	fail := func(err error) (*RollUpResult, error) {
		metrics.JobRuns.WithLabelValues(LockName, "error").Inc()
		metrics.JobDuration.WithLabelValues(LockName).Observe(time.Since(began).Seconds())
		return nil, err
	}

	var set buckets.Set
	err = s.store.InTx(ctx, func(w db.StatsWriter) error {
		var err error
		set, err = w.BucketsIntersecting(ctx, start, end)
		return err
	})
	if err != nil {
		return fail(fmt.Errorf("loading buckets: %w", err))
	}

	res := &RollUpResult{
		Start:   start.Format(buckets.DateLayout),
		End:     end.Format(buckets.DateLayout),
		Buckets: []string{},
	}
	for _, group := range [][]buckets.Bucket{set.Weeks, set.Months, set.Years} {
		for _, b := range group {
			if err := s.store.InTx(ctx, func(w db.StatsWriter) error {
				return rollUp(ctx, w, b)
			}); err != nil {
				return fail(err)
			}
			res.Buckets = append(res.Buckets, fmt.Sprint(b.Ref()))
		}
	}
	res.Elapsed = time.Since(began)

	metrics.JobRuns.WithLabelValues(LockName, "ok").Inc()
	metrics.JobDuration.WithLabelValues(LockName).Observe(res.Elapsed.Seconds())
	logging.Ctx(ctx).Info().
		Str("start", res.Start).
		Str("end", res.End).
		Int("buckets", len(res.Buckets)).
		Dur("elapsed", res.Elapsed).
		Msg("rollup finished")
	return res, nil
}
