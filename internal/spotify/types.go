package spotify

import (
	"time"

	"github.com/justestif/go-listening-stats/internal/normalize"
)

// recentlyPlayedPage is one page of GET /me/player/recently-played.
type recentlyPlayedPage struct {
	Items   []playHistoryItem `json:"items"`
	Next    string            `json:"next"`
	Cursors *struct {
		After  string `json:"after"`
		Before string `json:"before"`
	} `json:"cursors"`
}

type playHistoryItem struct {
	PlayedAt time.Time    `json:"played_at"`
	Track    trackPayload `json:"track"`
}

type trackPayload struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	DurationMs  int               `json:"duration_ms"`
	Explicit    bool              `json:"explicit"`
	ExternalIDs map[string]string `json:"external_ids"`
	URLs        externalURLs      `json:"external_urls"`
	Album       albumPayload      `json:"album"`
	Artists     []artistPayload   `json:"artists"`
}

type albumPayload struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	ReleaseDate string          `json:"release_date"`
	Images      []imagePayload  `json:"images"`
	URLs        externalURLs    `json:"external_urls"`
	Artists     []artistPayload `json:"artists"`
}

type artistPayload struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	URLs externalURLs `json:"external_urls"`
}

type imagePayload struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type externalURLs struct {
	Spotify string `json:"spotify"`
}

func (it playHistoryItem) raw() normalize.RawPlay {
	t := it.Track
	var image string
	if len(t.Album.Images) > 0 {
		image = t.Album.Images[0].URL
	}
	return normalize.RawPlay{
		PlayedAt: it.PlayedAt,
		Track: normalize.RawTrack{
			ID:         t.ID,
			Name:       t.Name,
			ISRC:       t.ExternalIDs["isrc"],
			DurationMs: t.DurationMs,
			URL:        t.URLs.Spotify,
			Album: normalize.RawAlbum{
				ID:          t.Album.ID,
				Name:        t.Album.Name,
				ImageURL:    image,
				URL:         t.Album.URLs.Spotify,
				Artists:     rawArtists(t.Album.Artists),
				ReleaseDate: t.Album.ReleaseDate,
			},
			Artists:     rawArtists(t.Artists),
			Explicit:    t.Explicit,
			ReleaseDate: t.Album.ReleaseDate,
		},
	}
}

func rawArtists(in []artistPayload) []normalize.RawArtist {
	out := make([]normalize.RawArtist, 0, len(in))
	for _, a := range in {
		out = append(out, normalize.RawArtist{ID: a.ID, Name: a.Name, URL: a.URLs.Spotify})
	}
	return out
}
