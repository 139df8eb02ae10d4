package buckets

import (
	"fmt"
	"sort"
	"time"
)

// Cover is a set of bucket references whose day spans are pairwise disjoint and
// whose union is exactly the requested range.
type Cover struct {
	Years  []int
	Months []int
	Weeks  []int
	Days   []time.Time
}

// Len returns the number of references in the cover.
func (c Cover) Len() int {
	return len(c.Years) + len(c.Months) + len(c.Weeks) + len(c.Days)
}

// Refs returns the cover as refs, coarsest scope first.
func (c Cover) Refs() []Ref {
	refs := make([]Ref, 0, c.Len())
	for _, id := range c.Years {
		refs = append(refs, YearRef{ID: id})
	}
	for _, id := range c.Months {
		refs = append(refs, MonthRef{ID: id})
	}
	for _, id := range c.Weeks {
		refs = append(refs, WeekRef{ID: id})
	}
	for _, d := range c.Days {
		refs = append(refs, DayRef{Date: d})
	}
	return refs
}

// DayCover covers [start, end] with day refs only.
func DayCover(start, end time.Time) Cover {
	return Cover{Days: Days(start, end)}
}

// Select greedily covers [start, end] with the coarsest buckets available:
// years, then months, then weeks, then single days for whatever is left. A bucket
// is taken only when every one of its days is still uncovered, so the result never
// double-counts a day and never reaches outside the range.
func Select(start, end time.Time, set Set) (Cover, error) {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return Cover{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange, start.Format(DateLayout), end.Format(DateLayout))
	}

	remaining := make(map[int64]struct{}, dayNum(end)-dayNum(start)+1)
	for _, d := range Days(start, end) {
		remaining[dayNum(d)] = struct{}{}
	}

	take := func(candidates []Bucket) []int {
		var ids []int
		for _, b := range sortedByStart(candidates) {
			if b.Start.Before(start) || b.End.After(end) {
				continue
			}
			if !allRemaining(remaining, b) {
				continue
			}
			for n := dayNum(b.Start); n <= dayNum(b.End); n++ {
				delete(remaining, n)
			}
			ids = append(ids, b.ID)
		}
		return ids
	}

	c := Cover{
		Years:  take(set.Years),
		Months: take(set.Months),
		Weeks:  take(set.Weeks),
	}

	for n := range remaining {
		c.Days = append(c.Days, time.Unix(n*86400, 0).UTC())
	}
	sort.Slice(c.Days, func(i, j int) bool { return c.Days[i].Before(c.Days[j]) })

	return c, nil
}

func allRemaining(remaining map[int64]struct{}, b Bucket) bool {
	if b.End.Before(b.Start) {
		return false
	}
	for n := dayNum(b.Start); n <= dayNum(b.End); n++ {
		if _, ok := remaining[n]; !ok {
			return false
		}
	}
	return true
}

// Expand lists every day covered by c in ascending order. A day covered twice
// appears twice.
func Expand(c Cover, set Set) ([]time.Time, error) {
	idx := NewIndex(set)
	var days []time.Time
	for _, ref := range c.Refs() {
		if d, ok := ref.(DayRef); ok {
			days = append(days, Day(d.Date))
			continue
		}
		b, ok := idx.Lookup(ref)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnknownBucket, ref)
		}
		days = append(days, Days(b.Start, b.End)...)
	}
	sort.SliceStable(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}
