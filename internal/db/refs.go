package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/justestif/go-listening-stats/internal/buckets"
)

// ErrInvalidRow is returned when a stats row violates the scope/column rules.
var ErrInvalidRow = errors.New("invalid stats row")

// refColumns mirrors the nullable bucket reference columns of a stats table.
type refColumns struct {
	scope string
	date  *time.Time
	week  *int32
	month *int32
	year  *int32
}

// ref collapses the columns into a buckets.Ref. Exactly the column matching the
// scope must be set.
func (c refColumns) ref() (buckets.Ref, error) {
	set := 0
	for _, ok := range []bool{c.date != nil, c.week != nil, c.month != nil, c.year != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: scope %q has %d bucket columns set", ErrInvalidRow, c.scope, set)
	}

	switch buckets.Scope(c.scope) {
	case buckets.ScopeDay:
		if c.date != nil {
			return buckets.DayRef{Date: buckets.Day(*c.date)}, nil
		}
	case buckets.ScopeWeek:
		if c.week != nil {
			return buckets.WeekRef{ID: int(*c.week)}, nil
		}
	case buckets.ScopeMonth:
		if c.month != nil {
			return buckets.MonthRef{ID: int(*c.month)}, nil
		}
	case buckets.ScopeYear:
		if c.year != nil {
			return buckets.YearRef{ID: int(*c.year)}, nil
		}
	}
	return nil, fmt.Errorf("%w: scope %q does not match its bucket column", ErrInvalidRow, c.scope)
}

// columnsFor expands a ref into (scope, stat_date, week, month, year) values.
func columnsFor(ref buckets.Ref) ([]any, error) {
	switch r := ref.(type) {
	case buckets.DayRef:
		return []any{string(buckets.ScopeDay), buckets.Day(r.Date), nil, nil, nil}, nil
	case buckets.WeekRef:
		return []any{string(buckets.ScopeWeek), nil, int32(r.ID), nil, nil}, nil
	case buckets.MonthRef:
		return []any{string(buckets.ScopeMonth), nil, nil, int32(r.ID), nil}, nil
	case buckets.YearRef:
		return []any{string(buckets.ScopeYear), nil, nil, nil, int32(r.ID)}, nil
	}
	return nil, fmt.Errorf("%w: unsupported ref %T", ErrInvalidRow, ref)
}

func bucketColumn(ref buckets.Ref) (string, int32, error) {
	switch r := ref.(type) {
	case buckets.WeekRef:
		return "week_bucket_id", int32(r.ID), nil
	case buckets.MonthRef:
		return "month_bucket_id", int32(r.ID), nil
	case buckets.YearRef:
		return "year_bucket_id", int32(r.ID), nil
	}
	return "", 0, fmt.Errorf("%w: %T is not a bucket ref", ErrInvalidRow, ref)
}

// entityRow is the CopyFrom row for e: subject id followed by entityColumns.
func entityRow(e EntityStat) ([]any, error) {
	cols, err := columnsFor(e.Ref)
	if err != nil {
		return nil, err
	}
	row := make([]any, 0, 1+len(entityColumns))
	row = append(row, e.SubjectID)
	row = append(row, cols...)
	row = append(row, int32(e.Count), toInt32s(e.Hours))
	return row, nil
}

func toHours(in []int32) ([24]int, error) {
	var out [24]int
	if len(in) != 24 {
		return out, fmt.Errorf("%w: hours has %d slots", ErrInvalidRow, len(in))
	}
	for i, v := range in {
		out[i] = int(v)
	}
	return out, nil
}

func toInt32s(h [24]int) []int32 {
	out := make([]int32, 24)
	for i, v := range h {
		out[i] = int32(v)
	}
	return out
}
