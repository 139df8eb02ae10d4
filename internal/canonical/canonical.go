// Package canonical picks one canonical album per recording code so that the
// same recording released on several albums is displayed consistently.
package canonical

import (
	"cmp"
	"context"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/justestif/go-listening-stats/internal/db"
	"github.com/justestif/go-listening-stats/internal/logging"
)

// Variant is one album a recording code appears on.
type Variant struct {
	ISRC      string
	AlbumID   string
	AlbumName string
	Plays     int
}

// Assignment stamps AlbumID as canonical for every track with ISRC.
type Assignment struct {
	ISRC    string
	AlbumID string
}

var singleWord = regexp.MustCompile(`(?i)\bsingle\b`)

// IsSingle reports whether an album name contains the word "single". The plural
// "Singles" names a compilation and does not count.
func IsSingle(name string) bool {
	return singleWord.MatchString(name)
}

// better reports whether a should be preferred over b.
func better(a, b Variant) bool {
	if sa, sb := IsSingle(a.AlbumName), IsSingle(b.AlbumName); sa != sb {
		return sa
	}
	if a.Plays != b.Plays {
		return a.Plays > b.Plays
	}
	return a.AlbumID < b.AlbumID
}

// Choose returns the album id of the preferred variant: a single beats a
// non-single, then more plays wins, then the smaller album id. It returns ""
// for an empty slice.
func Choose(variants []Variant) string {
	if len(variants) == 0 {
		return ""
	}
	best := variants[0]
	for _, v := range variants[1:] {
		if better(v, best) {
			best = v
		}
	}
	return best.AlbumID
}

// Plan groups variants by recording code and returns one assignment per code
// that appears on at least two distinct albums. Output is sorted by code.
func Plan(variants []Variant) []Assignment {
	groups := make(map[string][]Variant)
	for _, v := range variants {
		if v.ISRC == "" {
			continue
		}
		groups[v.ISRC] = mergeAlbum(groups[v.ISRC], v)
	}

	out := make([]Assignment, 0, len(groups))
	for isrc, vs := range groups {
		if len(vs) < 2 {
			continue
		}
		out = append(out, Assignment{ISRC: isrc, AlbumID: Choose(vs)})
	}
	slices.SortFunc(out, func(a, b Assignment) int {
		return cmp.Compare(a.ISRC, b.ISRC)
	})
	return out
}

// mergeAlbum adds v to vs, summing plays when the album is already present.
func mergeAlbum(vs []Variant, v Variant) []Variant {
	for i := range vs {
		if vs[i].AlbumID == v.AlbumID {
			vs[i].Plays += v.Plays
			return vs
		}
	}
	return append(vs, v)
}

// Store reads variants and writes assignments.
type Store interface {
	RecordingVariants(ctx context.Context) ([]db.RecordingVariant, error)
	AssignCanonical(ctx context.Context, assignments []db.CanonicalAssignment) error
}

// Resolver stamps canonical albums across the catalog.
type Resolver struct {
	store Store
}

// NewResolver creates a Resolver.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Result summarizes a Resolve call.
type Result struct {
	Recordings int
	Assigned   int
	Elapsed    time.Duration
}

// Resolve loads every recording variant, plans the canonical albums and
// applies them in one transaction.
func (r *Resolver) Resolve(ctx context.Context) (*Result, error) {
	start := time.Now()

	rows, err := r.store.RecordingVariants(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading recording variants: %w", err)
	}

	variants := make([]Variant, len(rows))
	codes := make(map[string]struct{})
	for i, row := range rows {
		variants[i] = Variant(row)
		codes[row.ISRC] = struct{}{}
	}

	plan := Plan(variants)
	assignments := make([]db.CanonicalAssignment, len(plan))
	for i, a := range plan {
		assignments[i] = db.CanonicalAssignment(a)
	}
	if err := r.store.AssignCanonical(ctx, assignments); err != nil {
		return nil, fmt.Errorf("assigning canonical albums: %w", err)
	}

	res := &Result{
		Recordings: len(codes),
		Assigned:   len(assignments),
		Elapsed:    time.Since(start),
	}
	logging.Ctx(ctx).Debug().
		Int("recordings", res.Recordings).
		Int("assigned", res.Assigned).
		Dur("elapsed", res.Elapsed).
		Msg("canonical albums resolved")
	return res, nil
}
