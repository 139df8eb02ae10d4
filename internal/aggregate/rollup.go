package aggregate

import (
	"cmp"
	"slices"
	"time"

	"github.com/justestif/go-listening-stats/internal/buckets"
	"github.com/justestif/go-listening-stats/internal/db"
)

// DayRollup is everything written for one calendar day.
type DayRollup struct {
	Daily   db.DailyStat
	Tracks  []db.EntityStat
	Artists []db.EntityStat
}

// Plays returns the number of plays in the day.
func (r DayRollup) Plays() int {
	return r.Daily.Total()
}

// BuildDay turns a day's plays into its daily histogram and per-track and
// per-artist rows. A play credited to several artists counts once for each.
// Plays outside date are ignored. Hours are UTC. Rows are sorted by subject id.
func BuildDay(date time.Time, plays []db.DayPlay) DayRollup {
	day := buckets.Day(date)
	ref := buckets.DayRef{Date: day}

	r := DayRollup{
		Daily: db.DailyStat{Date: day, Weekday: day.Weekday().String()},
	}
	tracks := make(map[string]*db.EntityStat)
	artists := make(map[string]*db.EntityStat)

	for _, p := range plays {
		at := p.PlayedAt.UTC()
		if !buckets.Day(at).Equal(day) {
			continue
		}
		h := at.Hour()
		r.Daily.Hours[h]++
		add(tracks, ref, p.TrackID, h)

		credited := make(map[string]bool, len(p.ArtistIDs))
		for _, a := range p.ArtistIDs {
			if credited[a] {
				continue
			}
			credited[a] = true
			add(artists, ref, a, h)
		}
	}

	r.Tracks = sorted(tracks)
	r.Artists = sorted(artists)
	return r
}

func add(m map[string]*db.EntityStat, ref buckets.Ref, id string, hour int) {
	e, ok := m[id]
	if !ok {
		e = &db.EntityStat{SubjectID: id, Ref: ref}
		m[id] = e
	}
	e.Count++
	e.Hours[hour]++
}

// SumRows adds up rows per subject and stamps the sums with ref. Rows are
// sorted by subject id.
func SumRows(ref buckets.Ref, rows []db.EntityStat) []db.EntityStat {
	m := make(map[string]*db.EntityStat)
	for _, row := range rows {
		e, ok := m[row.SubjectID]
		if !ok {
			e = &db.EntityStat{SubjectID: row.SubjectID, Ref: ref}
			m[row.SubjectID] = e
		}
		e.Count += row.Count
		for h, n := range row.Hours {
			e.Hours[h] += n
		}
	}
	return sorted(m)
}

func sorted(m map[string]*db.EntityStat) []db.EntityStat {
	out := make([]db.EntityStat, 0, len(m))
	for _, e := range m {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b db.EntityStat) int {
		return cmp.Compare(a.SubjectID, b.SubjectID)
	})
	return out
}
