// Package ingest runs the play-history ingestion pipeline: read the watermark,
// fetch newer plays, normalize them, persist them in one transaction, then
// enrich the catalog in the background.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/justestif/go-listening-stats/internal/canonical"
	"github.com/justestif/go-listening-stats/internal/db"
	"github.com/justestif/go-listening-stats/internal/lock"
	"github.com/justestif/go-listening-stats/internal/logging"
	"github.com/justestif/go-listening-stats/internal/metrics"
	"github.com/justestif/go-listening-stats/internal/normalize"
)

// LockName is the job lock held for the duration of a run.
const LockName = "plays"

// Default timeouts.
const (
	DefaultFetchTimeout  = 10 * time.Second
	DefaultEnrichTimeout = 2 * time.Minute
)

// Stage names a step of the pipeline.
type Stage string

// Pipeline stages, in order.
const (
	StageWatermark Stage = "watermark"
	StageFetch     Stage = "fetch"
	StageNormalize Stage = "normalize"
	StagePersist   Stage = "persist"
	StageEnrich    Stage = "enrich"
)

// StageError is returned when a stage fails.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// PlaySource fetches plays newer than a watermark.
type PlaySource interface {
	RecentlyPlayed(ctx context.Context, after time.Time) ([]normalize.RawPlay, error)
}

// PlayStore reports the newest stored play.
type PlayStore interface {
	LatestPlayedAt(ctx context.Context) (time.Time, error)
}

// CatalogStore persists a normalized batch atomically.
type CatalogStore interface {
	SaveBatch(ctx context.Context, b db.IngestBatch) (*db.SaveResult, error)
}

// CanonicalResolver re-stamps canonical albums after new tracks arrive.
type CanonicalResolver interface {
	Resolve(ctx context.Context) (*canonical.Result, error)
}

// Service runs ingestion.
type Service struct {
	source    PlaySource
	plays     PlayStore
	catalog   CatalogStore
	locker    lock.Locker
	images    *ImageEnricher
	canonical CanonicalResolver

	fetchTimeout  time.Duration
	enrichTimeout time.Duration

	wg sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithLocker replaces the default process-local lock.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

// WithImageEnricher enables artist image enrichment after each run.
func WithImageEnricher(e *ImageEnricher) Option {
	return func(s *Service) {
		s.images = e
	}
}

// WithCanonicalResolver enables canonical album stamping after each run.
func WithCanonicalResolver(r CanonicalResolver) Option {
	return func(s *Service) {
		s.canonical = r
	}
}

// WithFetchTimeout bounds the fetch stage.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithEnrichTimeout bounds background enrichment.
func WithEnrichTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.enrichTimeout = d
		}
	}
}

// New creates an ingestion Service.
func New(source PlaySource, plays PlayStore, catalog CatalogStore, opts ...Option) *Service {
	s := &Service{
		source:        source,
		plays:         plays,
		catalog:       catalog,
		locker:        lock.NewLocal(),
		fetchTimeout:  DefaultFetchTimeout,
		enrichTimeout: DefaultEnrichTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result summarizes one run.
type Result struct {
	Watermark time.Time     `json:"watermark"`
	Fetched   int           `json:"fetched"`
	Rejected  int           `json:"rejected"`
	Albums    int           `json:"albums"`
	Artists   int           `json:"artists"`
	Tracks    int           `json:"tracks"`
	Plays     int           `json:"plays"`
	NewPlays  int           `json:"new_plays"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Run executes one ingestion. It returns lock.ErrHeld if another run is in
// progress and a *StageError if a stage fails. Nothing is written unless the
// fetch succeeds. Enrichment continues after Run returns; see Wait.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	release, err := s.locker.TryAcquire(ctx, LockName)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			metrics.JobRuns.WithLabelValues(LockName, "skipped").Inc()
		}
		return nil, err
	}
	defer release()

	start := time.Now()
	res, err := s.run(ctx)
	metrics.JobDuration.WithLabelValues(LockName).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.JobRuns.WithLabelValues(LockName, "error").Inc()
		return nil, err
	}
	res.Elapsed = time.Since(start)
	metrics.JobRuns.WithLabelValues(LockName, "ok").Inc()

	logging.Ctx(ctx).Info().
		Time("watermark", res.Watermark).
		Int("fetched", res.Fetched).
		Int("rejected", res.Rejected).
		Int("new_plays", res.NewPlays).
		Dur("elapsed", res.Elapsed).
		Msg("ingestion finished")
	return res, nil
}

func (s *Service) run(ctx context.Context) (*Result, error) {
	watermark, err := s.plays.LatestPlayedAt(ctx)
	if err != nil {
		return nil, &StageError{Stage: StageWatermark, Err: err}
	}

	raw, err := s.fetch(ctx, watermark)
	if err != nil {
		return nil, &StageError{Stage: StageFetch, Err: err}
	}

	norm := normalize.Normalize(raw)
	for _, r := range norm.Rejected {
		logging.Ctx(ctx).Warn().Int("index", r.Index).Str("reason", r.Reason).Msg("rejected play record")
	}
	metrics.RecordsRejected.Add(float64(len(norm.Rejected)))

	res := &Result{
		Watermark: watermark,
		Fetched:   len(raw),
		Rejected:  len(norm.Rejected),
		Albums:    len(norm.Batch.Albums),
		Artists:   len(norm.Batch.Artists),
		Tracks:    len(norm.Batch.Tracks),
		Plays:     len(norm.Batch.Plays),
	}
	if norm.Batch.Empty() {
		return res, nil
	}

	saved, err := s.catalog.SaveBatch(ctx, norm.Batch)
	if err != nil {
		return nil, &StageError{Stage: StagePersist, Err: err}
	}
	res.NewPlays = saved.NewPlays
	metrics.PlaysIngested.Add(float64(saved.NewPlays))

	s.enrichAsync(ctx)
	return res, nil
}

func (s *Service) fetch(ctx context.Context, after time.Time) ([]normalize.RawPlay, error) {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	return s.source.RecentlyPlayed(ctx, after)
}

// enrichAsync starts enrichment detached from the caller's cancellation.
func (s *Service) enrichAsync(ctx context.Context) {
	if s.images == nil && s.canonical == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.enrichTimeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := s.Enrich(ctx); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("enrichment incomplete")
		}
	}()
}

// Enrich runs artist image enrichment and canonical album stamping. Both steps
// run even if the first fails.
func (s *Service) Enrich(ctx context.Context) error {
	var errs []error

	if s.images != nil {
		res, err := s.images.Enrich(ctx)
		if err != nil {
			metrics.EnrichmentFailures.WithLabelValues("artist_images").Inc()
			errs = append(errs, &StageError{Stage: StageEnrich, Err: err})
		}
		if res != nil {
			logging.Ctx(ctx).Debug().
				Int("artists", res.Artists).
				Int("found", res.Found).
				Int("failed_chunks", res.Failed).
				Msg("artist images enriched")
		}
	}

	if s.canonical != nil {
		if _, err := s.canonical.Resolve(ctx); err != nil {
			metrics.EnrichmentFailures.WithLabelValues("canonical").Inc()
			errs = append(errs, &StageError{Stage: StageEnrich, Err: err})
		}
	}

	return errors.Join(errs...)
}

// Wait blocks until background enrichment started by Run has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
