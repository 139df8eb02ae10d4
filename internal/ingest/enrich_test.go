package ingest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeLookup returns a 160px image for every id except those in fail.
type fakeLookup struct {
	fail  map[string]bool
	delay time.Duration

	calls     atomic.Int32
	inFlight  atomic.Int32
	maxFlight atomic.Int32
	maxChunk  atomic.Int32
}

func (f *fakeLookup) ArtistImages(ctx context.Context, ids []string) (map[string]*string, error) {
	f.calls.Add(1)
	storeMax(&f.maxFlight, f.inFlight.Add(1))
	defer f.inFlight.Add(-1)
	storeMax(&f.maxChunk, int32(len(ids)))

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := make(map[string]*string, len(ids))
	for _, id := range ids {
		if f.fail[id] {
			return nil, fmt.Errorf("lookup %s: %w", id, errors.New("upstream 500"))
		}
		if id == "no-image" {
			out[id] = nil
			continue
		}
		url := "https://img/" + id + "-160"
		out[id] = &url
	}
	return out, nil
}

func storeMax(v *atomic.Int32, n int32) {
	for {
		m := v.Load()
		if n <= m || v.CompareAndSwap(m, n) {
			return
		}
	}
}

type fakeImageStore struct {
	missing  []string
	listErr  error
	storeErr error

	mu    sync.Mutex
	saved map[string]*string
}

func (f *fakeImageStore) ArtistsMissingImages(ctx context.Context) ([]string, error) {
	return f.missing, f.listErr
}

func (f *fakeImageStore) SetArtistImages(ctx context.Context, images map[string]*string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string]*string)
	}
	maps.Copy(f.saved, images)
	return f.storeErr
}

func (f *fakeImageStore) stored() map[string]*string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.saved)
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("artist-%03d", i)
	}
	return out
}

func TestEnrich_ChunksAndConcurrency(t *testing.T) {
	lookup := &fakeLookup{delay: 10 * time.Millisecond}
	store := &fakeImageStore{missing: ids(120)}
	e := NewImageEnricher(lookup, store, WithEnrichConcurrency(2))

	res, err := e.Enrich(context.Background())
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if res.Artists != 120 || res.Chunks != 3 || res.Failed != 0 || res.Found != 120 {
		t.Errorf("Enrich() = %+v, want 120 artists, 3 chunks, 0 failed, 120 found", res)
	}
	if got := lookup.calls.Load(); got != 3 {
		t.Errorf("lookup calls = %d, want 3", got)
	}
	if got := lookup.maxChunk.Load(); got != 50 {
		t.Errorf("largest chunk = %d, want 50", got)
	}
	if got := lookup.maxFlight.Load(); got > 2 {
		t.Errorf("max concurrent lookups = %d, want <= 2", got)
	}
	if got := len(store.stored()); got != 120 {
		t.Errorf("stored = %d, want 120", got)
	}
}

func TestEnrich_ChunkFailureIsIsolated(t *testing.T) {
	all := ids(100)
	lookup := &fakeLookup{fail: map[string]bool{all[10]: true}}
	store := &fakeImageStore{missing: all}

	res, err := NewImageEnricher(lookup, store).Enrich(context.Background())
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("Failed = %d, want 1", res.Failed)
	}
	saved := store.stored()
	if len(saved) != 50 {
		t.Errorf("stored = %d, want 50 from the healthy chunk", len(saved))
	}
	if _, ok := saved[all[10]]; ok {
		t.Errorf("artist from failed chunk was stored")
	}
	if _, ok := saved[all[60]]; !ok {
		t.Errorf("artist from healthy chunk was not stored")
	}
}

func TestEnrich_NoMatchingImageStoresNil(t *testing.T) {
	store := &fakeImageStore{missing: []string{"no-image", "has-image"}}
	res, err := NewImageEnricher(&fakeLookup{}, store).Enrich(context.Background())
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if res.Found != 1 {
		t.Errorf("Found = %d, want 1", res.Found)
	}
	saved := store.stored()
	if v, ok := saved["no-image"]; !ok || v != nil {
		t.Errorf("no-image = %v (present %v), want stored nil", v, ok)
	}
}

func TestEnrich_NothingMissing(t *testing.T) {
	lookup := &fakeLookup{}
	res, err := NewImageEnricher(lookup, &fakeImageStore{}).Enrich(context.Background())
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if res.Artists != 0 || lookup.calls.Load() != 0 {
		t.Errorf("Enrich() = %+v with %d calls, want no work", res, lookup.calls.Load())
	}
}

func TestEnrich_StoreErrors(t *testing.T) {
	boom := errors.New("db down")

	if _, err := NewImageEnricher(&fakeLookup{}, &fakeImageStore{listErr: boom}).Enrich(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Enrich() list error = %v, want %v", err, boom)
	}
	store := &fakeImageStore{missing: []string{"a"}, storeErr: boom}
	if _, err := NewImageEnricher(&fakeLookup{}, store).Enrich(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Enrich() store error = %v, want %v", err, boom)
	}
}

func TestEnrich_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lookup := &fakeLookup{}
	res, err := NewImageEnricher(lookup, &fakeImageStore{missing: ids(3)}).Enrich(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Enrich() error = %v, want context.Canceled", err)
	}
	if res == nil || res.Failed != 1 {
		t.Errorf("Enrich() = %+v, want 1 failed chunk", res)
	}
	if got := lookup.calls.Load(); got != 0 {
		t.Errorf("lookup calls = %d, want 0", got)
	}
}

func TestSplitIDs(t *testing.T) {
	tests := []struct {
		n, size int
		want    []int
	}{
		{0, 50, nil},
		{1, 50, []int{1}},
		{50, 50, []int{50}},
		{51, 50, []int{50, 1}},
		{120, 50, []int{50, 50, 20}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.n, tt.size), func(t *testing.T) {
			got := splitIDs(ids(tt.n), tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("len(splitIDs()) = %d, want %d", len(got), len(tt.want))
			}
			for i, c := range got {
				if len(c) != tt.want[i] {
					t.Errorf("chunk %d len = %d, want %d", i, len(c), tt.want[i])
				}
			}
		})
	}
}
