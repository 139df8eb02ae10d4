// Package normalize turns raw play-history records into deduplicated catalog
// rows ready for a single transactional write.
package normalize

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/justestif/go-listening-stats/internal/db"
)

// RawPlay is one play-history record as received from the source.
type RawPlay struct {
	PlayedAt time.Time `validate:"required"`
	Track    RawTrack  `validate:"required"`
}

// RawTrack is the track payload of a play.
type RawTrack struct {
	ID         string      `validate:"required"`
	Name       string      `validate:"required"`
	ISRC       string      `validate:"omitempty,max=32"`
	DurationMs int         `validate:"gte=0"`
	URL        string      `validate:"omitempty,url"`
	Album      RawAlbum    `validate:"required"`
	Artists    []RawArtist `validate:"min=1,dive"`

	Explicit    bool
	ReleaseDate string
}

// RawAlbum is the album payload of a track.
type RawAlbum struct {
	ID       string      `validate:"required"`
	Name     string      `validate:"required"`
	ImageURL string      `validate:"omitempty,url"`
	URL      string      `validate:"omitempty,url"`
	Artists  []RawArtist `validate:"dive"`

	ReleaseDate string
}

// RawArtist is an artist credit.
type RawArtist struct {
	ID   string `validate:"required"`
	Name string `validate:"required"`
	URL  string `validate:"omitempty,url"`
}

// Rejection records a raw play that failed validation.
type Rejection struct {
	Index  int
	Reason string
}

// Result is the outcome of Normalize.
type Result struct {
	Batch    db.IngestBatch
	Rejected []Rejection
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks a single raw play.
func Validate(p RawPlay) error {
	return validatorInstance().Struct(p)
}

// Normalize validates plays and flattens them into deduplicated rows. Output
// slices keep first-seen order.
//
// Albums, artists and link rows keep the FIRST occurrence of each key. Tracks
// keep the LAST occurrence, matching row-by-row upsert semantics where the final
// write wins. Plays are unique per (track, played_at).
func Normalize(plays []RawPlay) Result {
	var (
		res          Result
		albums       []db.Album
		artists      []db.Artist
		tracks       []db.Track
		albumArtists []db.AlbumArtist
		trackArtists []db.TrackArtist
		playRows     []db.Play
	)

	for i, p := range plays {
		if err := Validate(p); err != nil {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Reason: reason(err)})
			continue
		}

		t := p.Track
		albums = append(albums, db.Album{
			ID:          t.Album.ID,
			Name:        t.Album.Name,
			ImageURL:    optional(t.Album.ImageURL),
			ReleaseDate: optional(t.Album.ReleaseDate),
			URL:         t.Album.URL,
		})

		albumCredits := t.Album.Artists
		if len(albumCredits) == 0 {
			albumCredits = t.Artists
		}
		for _, a := range albumCredits {
			artists = append(artists, artistRow(a))
			albumArtists = append(albumArtists, db.AlbumArtist{AlbumID: t.Album.ID, ArtistID: a.ID})
		}

		for pos, a := range t.Artists {
			artists = append(artists, artistRow(a))
			trackArtists = append(trackArtists, db.TrackArtist{TrackID: t.ID, ArtistID: a.ID, Position: pos})
		}

		release := t.ReleaseDate
		if release == "" {
			release = t.Album.ReleaseDate
		}
		tracks = append(tracks, db.Track{
			ID:          t.ID,
			Name:        t.Name,
			ISRC:        optional(strings.ToUpper(strings.TrimSpace(t.ISRC))),
			DurationMs:  t.DurationMs,
			Explicit:    t.Explicit,
			URL:         t.URL,
			ReleaseDate: optional(release),
			AlbumID:     t.Album.ID,
		})

		playRows = append(playRows, db.Play{TrackID: t.ID, PlayedAt: p.PlayedAt.UTC()})
	}

	res.Batch = db.IngestBatch{
		Albums:       DedupFirst(albums, func(a db.Album) string { return a.ID }),
		Artists:      DedupFirst(artists, func(a db.Artist) string { return a.ID }),
		Tracks:       DedupLast(tracks, func(t db.Track) string { return t.ID }),
		AlbumArtists: DedupFirst(albumArtists, func(l db.AlbumArtist) db.AlbumArtist { return l }),
		TrackArtists: DedupFirst(trackArtists, func(l db.TrackArtist) [2]string { return [2]string{l.TrackID, l.ArtistID} }),
		Plays:        DedupFirst(playRows, func(p db.Play) playKey { return playKey{p.TrackID, p.PlayedAt.UnixNano()} }),
	}
	return res
}

type playKey struct {
	trackID string
	at      int64
}

func artistRow(a RawArtist) db.Artist {
	return db.Artist{ID: a.ID, Name: a.Name, URL: a.URL}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func reason(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, fmt.Sprintf("%s:%s", fe.Namespace(), fe.Tag()))
		}
		return strings.Join(parts, ", ")
	}
	return err.Error()
}
