package stats

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/justestif/go-listening-stats/internal/buckets"
	"github.com/justestif/go-listening-stats/internal/db"
)

// Response is the answer to a range query.
type Response struct {
	TopArtists    []TopArtist    `json:"top_artists"`
	TopTracks     []TopTrack     `json:"top_tracks"`
	Days          []DayHours     `json:"days"`
	Hourly        [24]int        `json:"hourly"`
	Weekdays      [7][24]int     `json:"weekdays"`
	Months        []MonthHours   `json:"months"`
	TrackHeatmap  []SubjectHours `json:"track_heatmap"`
	ArtistHeatmap []SubjectHours `json:"artist_heatmap"`
	Meta          Meta           `json:"meta"`
}

// TopArtist is one entry of the top artists list.
type TopArtist struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
	URL   string `json:"url"`
	Plays int    `json:"plays"`
}

// TopTrack is one entry of the top tracks list. Album is the canonical album
// when one is set, otherwise the track's own album.
type TopTrack struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Image    string    `json:"image"`
	URL      string    `json:"url"`
	Album    AlbumInfo `json:"album"`
	Artists  string    `json:"artists"`
	Explicit bool      `json:"explicit"`
	Plays    int       `json:"plays"`
}

// AlbumInfo is the album shown next to a track.
type AlbumInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// DayHours is the histogram of one day.
type DayHours struct {
	Date    string  `json:"date"`
	Weekday string  `json:"weekday"`
	Hours   [24]int `json:"hours"`
	Total   int     `json:"total"`
}

// MonthHours is the histogram of one calendar month, from daily rows.
type MonthHours struct {
	Month string  `json:"month"`
	Hours [24]int `json:"hours"`
	Total int     `json:"total"`
}

// SubjectHours is the hourly histogram of one top track or artist.
type SubjectHours struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Hours [24]int `json:"hours"`
}

// Meta summarizes the query.
type Meta struct {
	Start           string   `json:"start"`
	End             string   `json:"end"`
	TotalPlays      int      `json:"total_plays"`
	DistinctTracks  int      `json:"distinct_tracks"`
	DistinctArtists int      `json:"distinct_artists"`
	PercentExplicit float64  `json:"percent_explicit"`
	CoverSize       int      `json:"cover_size"`
	Partial         []string `json:"partial,omitempty"`
}

// trackTotal is the sum of every filtered row of one track.
type trackTotal struct {
	row   db.TrackStatRow
	count int
	hours [24]int
}

// artistTotal is the sum of every filtered row of one artist.
type artistTotal struct {
	row   db.ArtistStatRow
	count int
	hours [24]int
}

// inRange reports whether the row's effective date lies in [start, end].
func inRange(idx *buckets.Index, ref buckets.Ref, start, end time.Time) bool {
	d, ok := idx.EffectiveDate(ref)
	if !ok {
		return false
	}
	return !d.Before(start) && !d.After(end)
}

// sumTracks filters rows to those whose effective date is in [start, end] and
// sums them per track.
func sumTracks(idx *buckets.Index, rows []db.TrackStatRow, start, end time.Time) []trackTotal {
	byID := make(map[string]*trackTotal)
	var order []string
	for _, r := range rows {
		if !inRange(idx, r.Ref, start, end) {
			continue
		}
		t, ok := byID[r.SubjectID]
		if !ok {
			t = &trackTotal{row: r}
			byID[r.SubjectID] = t
			order = append(order, r.SubjectID)
		}
		t.count += r.Count
		for h, n := range r.Hours {
			t.hours[h] += n
		}
	}

	out := make([]trackTotal, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	slices.SortFunc(out, func(a, b trackTotal) int {
		return cmp.Or(
			cmp.Compare(b.count, a.count),
			cmp.Compare(a.row.Track.Name, b.row.Track.Name),
			cmp.Compare(a.row.SubjectID, b.row.SubjectID),
		)
	})
	return out
}

// sumArtists filters rows to those whose effective date is in [start, end] and
// sums them per artist.
func sumArtists(idx *buckets.Index, rows []db.ArtistStatRow, start, end time.Time) []artistTotal {
	byID := make(map[string]*artistTotal)
	var order []string
	for _, r := range rows {
		if !inRange(idx, r.Ref, start, end) {
			continue
		}
		a, ok := byID[r.SubjectID]
		if !ok {
			a = &artistTotal{row: r}
			byID[r.SubjectID] = a
			order = append(order, r.SubjectID)
		}
		a.count += r.Count
		for h, n := range r.Hours {
			a.hours[h] += n
		}
	}

	out := make([]artistTotal, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	slices.SortFunc(out, func(a, b artistTotal) int {
		return cmp.Or(
			cmp.Compare(b.count, a.count),
			cmp.Compare(a.row.Artist.Name, b.row.Artist.Name),
			cmp.Compare(a.row.SubjectID, b.row.SubjectID),
		)
	})
	return out
}

// percentExplicit returns the share of explicit plays among all track plays,
// as a percentage rounded to one decimal. It is 0 when there are no plays.
func percentExplicit(totals []trackTotal) float64 {
	var explicit, all int
	for _, t := range totals {
		all += t.count
		if t.row.Track.Explicit {
			explicit += t.count
		}
	}
	if all == 0 {
		return 0
	}
	return math.Round(float64(explicit)/float64(all)*1000) / 10
}

func (s *Service) topTrack(t trackTotal) TopTrack {
	album := t.row.Album
	if t.row.CanonicalAlbum != nil {
		album = *t.row.CanonicalAlbum
	}
	return TopTrack{
		ID:       t.row.SubjectID,
		Name:     t.row.Track.Name,
		Image:    s.trackImage(t.row),
		URL:      t.row.Track.URL,
		Album:    AlbumInfo{ID: album.ID, Name: album.Name, URL: album.URL},
		Artists:  strings.Join(t.row.ArtistNames, ", "),
		Explicit: t.row.Track.Explicit,
		Plays:    t.count,
	}
}

// trackImage prefers the canonical album image, then the track's own album
// image, then the default image.
func (s *Service) trackImage(r db.TrackStatRow) string {
	if r.CanonicalAlbum != nil && r.CanonicalAlbum.ImageURL != nil && *r.CanonicalAlbum.ImageURL != "" {
		return *r.CanonicalAlbum.ImageURL
	}
	if r.Album.ImageURL != nil && *r.Album.ImageURL != "" {
		return *r.Album.ImageURL
	}
	return s.defaultImage
}

func (s *Service) topArtist(a artistTotal) TopArtist {
	image := s.defaultImage
	if a.row.Artist.ImageURL != nil && *a.row.Artist.ImageURL != "" {
		image = *a.row.Artist.ImageURL
	}
	return TopArtist{
		ID:    a.row.SubjectID,
		Name:  a.row.Artist.Name,
		Image: image,
		URL:   a.row.Artist.URL,
		Plays: a.count,
	}
}

// weekdayIndex maps a weekday to a Monday-first index.
func weekdayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// fillCalendar builds the day, hour, weekday and month views from daily rows.
func fillCalendar(resp *Response, daily []db.DailyStat) {
	resp.Days = make([]DayHours, 0, len(daily))
	resp.Months = []MonthHours{}
	for _, d := range daily {
		total := d.Total()
		resp.Days = append(resp.Days, DayHours{
			Date:    d.Date.Format(buckets.DateLayout),
			Weekday: d.Weekday,
			Hours:   d.Hours,
			Total:   total,
		})
		resp.Meta.TotalPlays += total

		wd := weekdayIndex(d.Date.Weekday())
		month := d.Date.Format("2006-01")
		if n := len(resp.Months); n == 0 || resp.Months[n-1].Month != month {
			resp.Months = append(resp.Months, MonthHours{Month: month})
		}
		m := &resp.Months[len(resp.Months)-1]
		for h, n := range d.Hours {
			resp.Hourly[h] += n
			resp.Weekdays[wd][h] += n
			m.Hours[h] += n
		}
		m.Total += total
	}
}
