package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/justestif/go-listening-stats/internal/logging"
	"github.com/justestif/go-listening-stats/internal/metrics"
)

// Default settings for artist image enrichment.
const (
	DefaultEnrichConcurrency = 3
	DefaultChunkSize         = 50
)

// ArtistLookup resolves artist ids to image URLs. ids never exceeds the chunk size.
type ArtistLookup interface {
	ArtistImages(ctx context.Context, ids []string) (map[string]*string, error)
}

// ImageStore lists artists without images and stores found images.
type ImageStore interface {
	ArtistsMissingImages(ctx context.Context) ([]string, error)
	SetArtistImages(ctx context.Context, images map[string]*string) error
}

// ImageEnricher fills in missing artist images.
type ImageEnricher struct {
	lookup      ArtistLookup
	store       ImageStore
	concurrency int
	chunkSize   int
}

// EnrichOption configures an ImageEnricher.
type EnrichOption func(*ImageEnricher)

// WithEnrichConcurrency sets how many lookups run at once.
func WithEnrichConcurrency(n int) EnrichOption {
	return func(e *ImageEnricher) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithChunkSize sets how many artist ids go into one lookup.
func WithChunkSize(n int) EnrichOption {
	return func(e *ImageEnricher) {
		if n > 0 && n <= DefaultChunkSize {
			e.chunkSize = n
		}
	}
}

// NewImageEnricher creates an ImageEnricher.
func NewImageEnricher(lookup ArtistLookup, store ImageStore, opts ...EnrichOption) *ImageEnricher {
	e := &ImageEnricher{
		lookup:      lookup,
		store:       store,
		concurrency: DefaultEnrichConcurrency,
		chunkSize:   DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnrichResult summarizes one enrichment pass.
type EnrichResult struct {
	Artists int
	Chunks  int
	Failed  int
	Found   int
}

// chunkResult holds the outcome of one lookup. Err is set if the lookup failed.
type chunkResult struct {
	ids    []string
	images map[string]*string
	err    error
}

// Enrich looks up every artist without an image. Chunks fail independently:
// a failed chunk is logged and counted, and the others are still stored.
func (e *ImageEnricher) Enrich(ctx context.Context) (*EnrichResult, error) {
	ids, err := e.store.ArtistsMissingImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing artists without images: %w", err)
	}
	res := &EnrichResult{Artists: len(ids)}
	if len(ids) == 0 {
		return res, nil
	}

	chunks := splitIDs(ids, e.chunkSize)
	res.Chunks = len(chunks)
	results := e.lookupAll(ctx, chunks)

	images := make(map[string]*string, len(ids))
	for _, r := range results {
		if r.err != nil {
			res.Failed++
			metrics.EnrichmentFailures.WithLabelValues("artist_images").Inc()
			logging.Ctx(ctx).Warn().Err(r.err).Int("artists", len(r.ids)).Msg("artist image lookup failed")
			continue
		}
		for id, url := range r.images {
			images[id] = url
			if url != nil {
				res.Found++
			}
		}
	}

	if err := e.store.SetArtistImages(ctx, images); err != nil {
		return res, fmt.Errorf("storing artist images: %w", err)
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, nil
}

// lookupAll runs the lookups on a bounded worker pool. Results keep chunk order.
func (e *ImageEnricher) lookupAll(ctx context.Context, chunks [][]string) []chunkResult {
	results := make([]chunkResult, len(chunks))

	type workItem struct {
		index int
		ids   []string
	}
	workCh := make(chan workItem, len(chunks))
	for i, c := range chunks {
		workCh <- workItem{index: i, ids: c}
	}
	close(workCh)

	var wg sync.WaitGroup
	for i := 0; i < min(e.concurrency, len(chunks)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for work := range workCh {
				select {
				case <-ctx.Done():
					results[work.index] = chunkResult{ids: work.ids, err: ctx.Err()}
					continue
				default:
				}

				images, err := e.lookup.ArtistImages(ctx, work.ids)
				results[work.index] = chunkResult{ids: work.ids, images: images, err: err}
			}
		}()
	}
	wg.Wait()

	return results
}

func splitIDs(ids []string, size int) [][]string {
	var out [][]string
	for size < len(ids) {
		ids, out = ids[size:], append(out, ids[:size:size])
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
