package db

import (
	"errors"
	"testing"
	"time"

	"github.com/justestif/go-listening-stats/internal/buckets"
)

func ptr[T any](v T) *T { return &v }

func TestRefColumns_Ref(t *testing.T) {
	day := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		cols    refColumns
		want    buckets.Ref
		wantErr bool
	}{
		{name: "day", cols: refColumns{scope: "day", date: &day}, want: buckets.DayRef{Date: day}},
		{name: "week", cols: refColumns{scope: "week", week: ptr(int32(20240304))}, want: buckets.WeekRef{ID: 20240304}},
		{name: "month", cols: refColumns{scope: "month", month: ptr(int32(202403))}, want: buckets.MonthRef{ID: 202403}},
		{name: "year", cols: refColumns{scope: "year", year: ptr(int32(2024))}, want: buckets.YearRef{ID: 2024}},
		{name: "no column", cols: refColumns{scope: "day"}, wantErr: true},
		{name: "two columns", cols: refColumns{scope: "week", week: ptr(int32(1)), month: ptr(int32(2))}, wantErr: true},
		{name: "scope mismatch", cols: refColumns{scope: "year", month: ptr(int32(202403))}, wantErr: true},
		{name: "unknown scope", cols: refColumns{scope: "decade", year: ptr(int32(2020))}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cols.ref()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRow) {
					t.Errorf("ref() error = %v, want ErrInvalidRow", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ref() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ref() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntityRow(t *testing.T) {
	var hours [24]int
	hours[7] = 3

	row, err := entityRow(EntityStat{SubjectID: "t1", Ref: buckets.MonthRef{ID: 202401}, Count: 3, Hours: hours})
	if err != nil {
		t.Fatalf("entityRow() error = %v", err)
	}
	if len(row) != 1+len(entityColumns) {
		t.Fatalf("len(row) = %d, want %d", len(row), 1+len(entityColumns))
	}
	if row[0] != "t1" || row[1] != "month" {
		t.Errorf("row[0:2] = %v, want [t1 month]", row[:2])
	}
	if row[2] != nil || row[3] != nil || row[5] != nil {
		t.Errorf("non-month reference columns set: %v", row)
	}
	if row[4] != int32(202401) {
		t.Errorf("month column = %v, want 202401", row[4])
	}
	if h := row[7].([]int32); h[7] != 3 {
		t.Errorf("hours[7] = %d, want 3", h[7])
	}
}

func TestBucketColumn_RejectsDay(t *testing.T) {
	if _, _, err := bucketColumn(buckets.DayRef{}); !errors.Is(err, ErrInvalidRow) {
		t.Errorf("bucketColumn(DayRef) error = %v, want ErrInvalidRow", err)
	}
}

func TestToHours(t *testing.T) {
	if _, err := toHours(make([]int32, 23)); err == nil {
		t.Error("toHours(23 slots) error = nil, want error")
	}
	in := make([]int32, 24)
	in[23] = 9
	got, err := toHours(in)
	if err != nil {
		t.Fatalf("toHours() error = %v", err)
	}
	if got[23] != 9 {
		t.Errorf("toHours()[23] = %d, want 9", got[23])
	}
}

func TestChunk(t *testing.T) {
	tests := []struct {
		n, size   int
		wantSizes []int
	}{
		{n: 0, size: 50, wantSizes: nil},
		{n: 50, size: 50, wantSizes: []int{50}},
		{n: 120, size: 50, wantSizes: []int{50, 50, 20}},
		{n: 3, size: 0, wantSizes: []int{3}},
	}
	for _, tt := range tests {
		items := make([]int, tt.n)
		got := chunk(items, tt.size)
		if len(got) != len(tt.wantSizes) {
			t.Errorf("chunk(%d, %d) = %d chunks, want %d", tt.n, tt.size, len(got), len(tt.wantSizes))
			continue
		}
		for i, c := range got {
			if len(c) != tt.wantSizes[i] {
				t.Errorf("chunk(%d, %d)[%d] len = %d, want %d", tt.n, tt.size, i, len(c), tt.wantSizes[i])
			}
		}
	}
}

func TestBatchBuilders_Chunking(t *testing.T) {
	plays := make([]Play, 101)
	for i := range plays {
		plays[i] = Play{TrackID: "t", PlayedAt: time.Unix(int64(i), 0)}
	}
	if got := playsBatch(plays, 50).Len(); got != 3 {
		t.Errorf("playsBatch(101, 50).Len() = %d, want 3", got)
	}
	if got := albumsBatch(nil, 50).Len(); got != 0 {
		t.Errorf("albumsBatch(nil).Len() = %d, want 0", got)
	}
}
