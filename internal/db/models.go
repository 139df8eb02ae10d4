package db

import (
	"time"

	"github.com/justestif/go-listening-stats/internal/buckets"
)

// Album represents a release.
type Album struct {
	ID          string
	Name        string
	ImageURL    *string
	ReleaseDate *string
	URL         string
}

// Artist represents a performer.
type Artist struct {
	ID       string
	Name     string
	URL      string
	ImageURL *string
}

// Track represents a recording on a specific album. CanonicalAlbumID is set by
// the canonical album resolver and never by ingestion.
type Track struct {
	ID               string
	Name             string
	ISRC             *string
	DurationMs       int
	Explicit         bool
	URL              string
	ReleaseDate      *string
	AlbumID          string
	CanonicalAlbumID *string
}

// AlbumArtist links an album to one of its artists.
type AlbumArtist struct {
	AlbumID  string
	ArtistID string
}

// TrackArtist links a track to one of its artists. Position preserves credit order.
type TrackArtist struct {
	TrackID  string
	ArtistID string
	Position int
}

// Play is one listen of a track at an instant. (TrackID, PlayedAt) is unique.
type Play struct {
	TrackID  string
	PlayedAt time.Time
}

// IngestBatch is everything one ingestion run writes, already deduplicated.
type IngestBatch struct {
	Albums       []Album
	Artists      []Artist
	Tracks       []Track
	AlbumArtists []AlbumArtist
	TrackArtists []TrackArtist
	Plays        []Play
}

// Empty reports whether the batch has nothing to write.
func (b IngestBatch) Empty() bool {
	return len(b.Albums) == 0 && len(b.Artists) == 0 && len(b.Tracks) == 0 &&
		len(b.AlbumArtists) == 0 && len(b.TrackArtists) == 0 && len(b.Plays) == 0
}

// SaveResult reports what a SaveBatch call changed.
type SaveResult struct {
	NewPlays int
}

// DailyStat is the per-day play histogram. Hours are UTC.
type DailyStat struct {
	Date    time.Time
	Weekday string
	Hours   [24]int
}

// Total returns the number of plays in the day.
func (d DailyStat) Total() int {
	n := 0
	for _, h := range d.Hours {
		n += h
	}
	return n
}

// EntityStat is a track or artist stats row for one bucket.
type EntityStat struct {
	SubjectID string
	Ref       buckets.Ref
	Count     int
	Hours     [24]int
}

// DayPlay is a play joined with the credited artists of its track.
type DayPlay struct {
	TrackID   string
	PlayedAt  time.Time
	ArtistIDs []string
}

// TrackStatRow is a track stats row with the display data of its track.
type TrackStatRow struct {
	EntityStat
	Track          Track
	Album          Album
	CanonicalAlbum *Album
	ArtistNames    []string
}

// ArtistStatRow is an artist stats row with its artist.
type ArtistStatRow struct {
	EntityStat
	Artist Artist
}

// RecordingVariant is one album a recording code appears on, with the plays of
// that recording on that album.
type RecordingVariant struct {
	ISRC      string
	AlbumID   string
	AlbumName string
	Plays     int
}

// CanonicalAssignment stamps AlbumID as canonical for every track with ISRC.
type CanonicalAssignment struct {
	ISRC    string
	AlbumID string
}
