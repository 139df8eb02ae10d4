package buckets

import (
	"fmt"
	"time"
)

// YearID, MonthID and WeekID derive the deterministic bucket ids used by Generate.
func YearID(d time.Time) int { return d.Year() }

func MonthID(d time.Time) int { return d.Year()*100 + int(d.Month()) }

func WeekID(start time.Time) int {
	return start.Year()*10000 + int(start.Month())*100 + start.Day()
}

// Generate builds the hierarchy for fromYear..toYear inclusive. Weeks start on
// Monday and are clipped at month boundaries so each week has a single parent month.
func Generate(fromYear, toYear int) Set {
	var s Set
	for y := fromYear; y <= toYear; y++ {
		yStart := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
		s.Years = append(s.Years, Bucket{
			ID:    y,
			Scope: ScopeYear,
			Start: yStart,
			End:   yStart.AddDate(1, 0, -1),
		})

		for m := time.January; m <= time.December; m++ {
			mStart := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
			mEnd := mStart.AddDate(0, 1, -1)
			mID := MonthID(mStart)
			s.Months = append(s.Months, Bucket{
				ID:       mID,
				Scope:    ScopeMonth,
				ParentID: y,
				Start:    mStart,
				End:      mEnd,
			})

			for ws := mStart; !ws.After(mEnd); {
				we := ws.AddDate(0, 0, daysUntilSunday(ws))
				if we.After(mEnd) {
					we = mEnd
				}
				s.Weeks = append(s.Weeks, Bucket{
					ID:       WeekID(ws),
					Scope:    ScopeWeek,
					ParentID: mID,
					Start:    ws,
					End:      we,
				})
				ws = we.AddDate(0, 0, 1)
			}
		}
	}
	return s
}

func daysUntilSunday(d time.Time) int {
	return (7 - int(d.Weekday())) % 7
}

// Containing returns the year, month and week buckets that include day d.
func Containing(s Set, d time.Time) (year, month, week Bucket, err error) {
	d = Day(d)
	var found [3]bool
	for _, b := range s.Years {
		if b.Contains(d) {
			year, found[0] = b, true
			break
		}
	}
	for _, b := range s.Months {
		if b.Contains(d) {
			month, found[1] = b, true
			break
		}
	}
	for _, b := range s.Weeks {
		if b.Contains(d) {
			week, found[2] = b, true
			break
		}
	}
	if !found[0] || !found[1] || !found[2] {
		return year, month, week, fmt.Errorf("%w: no complete hierarchy for %s", ErrUnknownBucket, d.Format(DateLayout))
	}
	return year, month, week, nil
}

// Validate checks ranges are well formed, tile each scope without overlaps or
// gaps, and nest inside their parents.
func Validate(s Set) error {
	idx := NewIndex(s)
	for _, group := range [][]Bucket{s.Years, s.Months, s.Weeks} {
		var prev *Bucket
		for _, b := range sortedByStart(group) {
			if b.End.Before(b.Start) {
				return fmt.Errorf("bucket %s:%d ends before it starts", b.Scope, b.ID)
			}
			if prev != nil && !b.Start.After(prev.End) {
				return fmt.Errorf("bucket %s:%d overlaps %s:%d", b.Scope, b.ID, prev.Scope, prev.ID)
			}
			if prev != nil && !b.Start.Equal(prev.End.AddDate(0, 0, 1)) {
				return fmt.Errorf("gap between bucket %s:%d and %s:%d", prev.Scope, prev.ID, b.Scope, b.ID)
			}
			var parent Ref
			switch b.Scope {
			case ScopeMonth:
				parent = YearRef{ID: b.ParentID}
			case ScopeWeek:
				parent = MonthRef{ID: b.ParentID}
			}
			if parent != nil {
				p, ok := idx.Lookup(parent)
				if !ok {
					return fmt.Errorf("bucket %s:%d: %w: parent %v", b.Scope, b.ID, ErrUnknownBucket, parent)
				}
				if b.Start.Before(p.Start) || b.End.After(p.End) {
					return fmt.Errorf("bucket %s:%d escapes parent %v", b.Scope, b.ID, parent)
				}
			}
			prev = &b
		}
	}
	return nil
}
