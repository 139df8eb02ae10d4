// Package buckets models the calendar bucket hierarchy (year > month > week > day)
// used to store pre-aggregated listening stats, and selects the smallest set of
// buckets that exactly covers a date range.
package buckets

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Scope is the granularity of a stats row.
type Scope string

const (
	ScopeDay   Scope = "day"
	ScopeWeek  Scope = "week"
	ScopeMonth Scope = "month"
	ScopeYear  Scope = "year"
)

// Common errors.
var (
	ErrInvalidRange  = errors.New("end date before start date")
	ErrUnknownBucket = errors.New("unknown bucket")
)

// Bucket is a contiguous, inclusive range of calendar days. ParentID is zero for years.
type Bucket struct {
	ID       int
	Scope    Scope
	ParentID int
	Start    time.Time
	End      time.Time
}

// Contains reports whether day d falls inside the bucket.
func (b Bucket) Contains(d time.Time) bool {
	d = Day(d)
	return !d.Before(b.Start) && !d.After(b.End)
}

// Days returns the number of days in the bucket.
func (b Bucket) Days() int {
	return int(dayNum(b.End)-dayNum(b.Start)) + 1
}

// Ref returns the ref that points at b.
func (b Bucket) Ref() Ref {
	switch b.Scope {
	case ScopeYear:
		return YearRef{ID: b.ID}
	case ScopeMonth:
		return MonthRef{ID: b.ID}
	case ScopeWeek:
		return WeekRef{ID: b.ID}
	default:
		return DayRef{Date: b.Start}
	}
}

// Set holds the bucket definitions of every non-day scope.
type Set struct {
	Years  []Bucket
	Months []Bucket
	Weeks  []Bucket
}

// Len returns the total number of buckets.
func (s Set) Len() int {
	return len(s.Years) + len(s.Months) + len(s.Weeks)
}

// Ref identifies the bucket a stats row belongs to. It is one of DayRef, WeekRef,
// MonthRef or YearRef.
type Ref interface {
	Scope() Scope
	isRef()
}

// DayRef is a single calendar day.
type DayRef struct{ Date time.Time }

// WeekRef points at a week bucket.
type WeekRef struct{ ID int }

// MonthRef points at a month bucket.
type MonthRef struct{ ID int }

// YearRef points at a year bucket.
type YearRef struct{ ID int }

func (DayRef) Scope() Scope   { return ScopeDay }
func (WeekRef) Scope() Scope  { return ScopeWeek }
func (MonthRef) Scope() Scope { return ScopeMonth }
func (YearRef) Scope() Scope  { return ScopeYear }

func (DayRef) isRef()   {}
func (WeekRef) isRef()  {}
func (MonthRef) isRef() {}
func (YearRef) isRef()  {}

func (r DayRef) String() string   { return "day:" + r.Date.Format(DateLayout) }
func (r WeekRef) String() string  { return fmt.Sprintf("week:%d", r.ID) }
func (r MonthRef) String() string { return fmt.Sprintf("month:%d", r.ID) }
func (r YearRef) String() string  { return fmt.Sprintf("year:%d", r.ID) }

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date as a UTC day.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// Days enumerates every day from start to end inclusive.
func Days(start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return nil
	}
	out := make([]time.Time, 0, dayNum(end)-dayNum(start)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

func dayNum(t time.Time) int64 {
	return Day(t).Unix() / 86400
}

// Index resolves refs to their bucket definitions.
type Index struct {
	years  map[int]Bucket
	months map[int]Bucket
	weeks  map[int]Bucket
}

// NewIndex builds an Index over s.
func NewIndex(s Set) *Index {
	idx := &Index{
		years:  make(map[int]Bucket, len(s.Years)),
		months: make(map[int]Bucket, len(s.Months)),
		weeks:  make(map[int]Bucket, len(s.Weeks)),
	}
	for _, b := range s.Years {
		idx.years[b.ID] = b
	}
	for _, b := range s.Months {
		idx.months[b.ID] = b
	}
	for _, b := range s.Weeks {
		idx.weeks[b.ID] = b
	}
	return idx
}

// Lookup returns the bucket for a non-day ref.
func (idx *Index) Lookup(ref Ref) (Bucket, bool) {
	var (
		b  Bucket
		ok bool
	)
	switch r := ref.(type) {
	case YearRef:
		b, ok = idx.years[r.ID]
	case MonthRef:
		b, ok = idx.months[r.ID]
	case WeekRef:
		b, ok = idx.weeks[r.ID]
	}
	return b, ok
}

// EffectiveDate returns the date a stats row is attributed to: the day itself for
// DayRef, otherwise the bucket's start date.
func (idx *Index) EffectiveDate(ref Ref) (time.Time, bool) {
	if d, ok := ref.(DayRef); ok {
		return Day(d.Date), true
	}
	b, ok := idx.Lookup(ref)
	if !ok {
		return time.Time{}, false
	}
	return b.Start, true
}

func sortedByStart(bs []Bucket) []Bucket {
	out := make([]Bucket, len(bs))
	copy(out, bs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}
