package buckets

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"
)

func date(s string) time.Time {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestGenerate(t *testing.T) {
	set := Generate(2024, 2024)

	if len(set.Years) != 1 {
		t.Fatalf("len(Years) = %d, want 1", len(set.Years))
	}
	if len(set.Months) != 12 {
		t.Fatalf("len(Months) = %d, want 12", len(set.Months))
	}
	if err := Validate(set); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	// February 2024 starts on a Thursday and is a leap month.
	var feb []Bucket
	for _, w := range set.Weeks {
		if w.ParentID == 202402 {
			feb = append(feb, w)
		}
	}
	wantStarts := []string{"2024-02-01", "2024-02-05", "2024-02-12", "2024-02-19", "2024-02-26"}
	wantEnds := []string{"2024-02-04", "2024-02-11", "2024-02-18", "2024-02-25", "2024-02-29"}
	if len(feb) != len(wantStarts) {
		t.Fatalf("February weeks = %d, want %d", len(feb), len(wantStarts))
	}
	for i, w := range feb {
		if got := w.Start.Format(DateLayout); got != wantStarts[i] {
			t.Errorf("week %d start = %s, want %s", i, got, wantStarts[i])
		}
		if got := w.End.Format(DateLayout); got != wantEnds[i] {
			t.Errorf("week %d end = %s, want %s", i, got, wantEnds[i])
		}
	}
	if feb[1].ID != 20240205 {
		t.Errorf("week ID = %d, want 20240205", feb[1].ID)
	}
}

func TestContaining(t *testing.T) {
	set := Generate(2024, 2024)
	y, m, w, err := Containing(set, date("2024-02-14"))
	if err != nil {
		t.Fatalf("Containing() error = %v", err)
	}
	if y.ID != 2024 || m.ID != 202402 || w.ID != 20240212 {
		t.Errorf("Containing() = %d/%d/%d, want 2024/202402/20240212", y.ID, m.ID, w.ID)
	}

	if _, _, _, err := Containing(set, date("2030-01-01")); !errors.Is(err, ErrUnknownBucket) {
		t.Errorf("Containing(out of range) error = %v, want ErrUnknownBucket", err)
	}
}

func TestSelect(t *testing.T) {
	set := Generate(2023, 2025)

	tests := []struct {
		name       string
		start, end string
		wantYears  []int
		wantMonths []int
		wantWeeks  []int
		wantDays   int
	}{
		{name: "full year", start: "2024-01-01", end: "2024-12-31", wantYears: []int{2024}},
		{name: "full month", start: "2024-01-01", end: "2024-01-31", wantMonths: []int{202401}},
		{name: "single week", start: "2024-01-01", end: "2024-01-07", wantWeeks: []int{20240101}},
		{name: "partial week", start: "2024-01-03", end: "2024-01-05", wantDays: 3},
		{name: "single day", start: "2024-06-15", end: "2024-06-15", wantDays: 1},
		{name: "two weeks", start: "2024-02-05", end: "2024-02-18", wantWeeks: []int{20240205, 20240212}},
		{
			name:      "year with ragged edges",
			start:     "2023-12-30",
			end:       "2025-01-02",
			wantYears: []int{2024},
			wantDays:  4,
		},
		{
			name:       "months and weeks",
			start:      "2024-01-29",
			end:        "2024-03-10",
			wantMonths: []int{202402},
			wantWeeks:  []int{20240129, 20240301, 20240304},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Select(date(tt.start), date(tt.end), set)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if !equalInts(c.Years, tt.wantYears) {
				t.Errorf("Years = %v, want %v", c.Years, tt.wantYears)
			}
			if !equalInts(c.Months, tt.wantMonths) {
				t.Errorf("Months = %v, want %v", c.Months, tt.wantMonths)
			}
			if !equalInts(c.Weeks, tt.wantWeeks) {
				t.Errorf("Weeks = %v, want %v", c.Weeks, tt.wantWeeks)
			}
			if len(c.Days) != tt.wantDays {
				t.Errorf("len(Days) = %d, want %d", len(c.Days), tt.wantDays)
			}
		})
	}
}

func TestSelect_InvalidRange(t *testing.T) {
	_, err := Select(date("2024-02-02"), date("2024-02-01"), Generate(2024, 2024))
	if !errors.Is(err, ErrInvalidRange) {
		t.Errorf("Select() error = %v, want ErrInvalidRange", err)
	}
}

func TestSelect_NoBuckets(t *testing.T) {
	c, err := Select(date("2024-01-01"), date("2024-01-31"), Set{})
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if len(c.Days) != 31 || c.Len() != 31 {
		t.Errorf("cover = %d days (len %d), want 31", len(c.Days), c.Len())
	}
}

// Every day in range is covered exactly once, and nothing outside it.
func TestSelect_ExactCover(t *testing.T) {
	set := Generate(2022, 2026)
	rng := rand.New(rand.NewPCG(42, 0))
	base := date("2022-01-01")

	for i := 0; i < 500; i++ {
		start := base.AddDate(0, 0, rng.IntN(365*5))
		end := start.AddDate(0, 0, rng.IntN(800))
		if end.After(date("2026-12-31")) {
			end = date("2026-12-31")
		}

		c, err := Select(start, end, set)
		if err != nil {
			t.Fatalf("Select(%s, %s) error = %v", start.Format(DateLayout), end.Format(DateLayout), err)
		}
		got, err := Expand(c, set)
		if err != nil {
			t.Fatalf("Expand() error = %v", err)
		}
		want := Days(start, end)
		if len(got) != len(want) {
			t.Fatalf("%s..%s: expanded %d days, want %d", start.Format(DateLayout), end.Format(DateLayout), len(got), len(want))
		}
		for j := range want {
			if !got[j].Equal(want[j]) {
				t.Fatalf("%s..%s: day %d = %s, want %s", start.Format(DateLayout), end.Format(DateLayout),
					j, got[j].Format(DateLayout), want[j].Format(DateLayout))
			}
		}
	}
}

func TestIndex_EffectiveDate(t *testing.T) {
	idx := NewIndex(Generate(2024, 2024))

	tests := []struct {
		ref  Ref
		want string
		ok   bool
	}{
		{ref: DayRef{Date: date("2024-05-05").Add(13 * time.Hour)}, want: "2024-05-05", ok: true},
		{ref: WeekRef{ID: 20240212}, want: "2024-02-12", ok: true},
		{ref: MonthRef{ID: 202407}, want: "2024-07-01", ok: true},
		{ref: YearRef{ID: 2024}, want: "2024-01-01", ok: true},
		{ref: YearRef{ID: 1999}, ok: false},
	}
	for _, tt := range tests {
		got, ok := idx.EffectiveDate(tt.ref)
		if ok != tt.ok {
			t.Errorf("EffectiveDate(%v) ok = %v, want %v", tt.ref, ok, tt.ok)
			continue
		}
		if ok && got.Format(DateLayout) != tt.want {
			t.Errorf("EffectiveDate(%v) = %s, want %s", tt.ref, got.Format(DateLayout), tt.want)
		}
	}
}

func TestValidate_Overlap(t *testing.T) {
	set := Generate(2024, 2024)
	set.Weeks = append(set.Weeks, Bucket{
		ID: 99, Scope: ScopeWeek, ParentID: 202401,
		Start: date("2024-01-03"), End: date("2024-01-04"),
	})
	if err := Validate(set); err == nil {
		t.Error("Validate() error = nil, want overlap error")
	}
}

func TestValidate_Gap(t *testing.T) {
	tests := []struct {
		name  string
		scope Scope
		id    int
	}{
		{"missing week", ScopeWeek, 20240108},
		{"missing month", ScopeMonth, 202406},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := Generate(2024, 2024)
			drop := func(bs []Bucket) []Bucket {
				var out []Bucket
				for _, b := range bs {
					if b.Scope == tt.scope && b.ID == tt.id {
						continue
					}
					out = append(out, b)
				}
				return out
			}
			set.Months = drop(set.Months)
			set.Weeks = drop(set.Weeks)
			if tt.scope == ScopeMonth {
				// Keep the weeks of the dropped month out so only the gap is wrong.
				var weeks []Bucket
				for _, w := range set.Weeks {
					if w.ParentID != tt.id {
						weeks = append(weeks, w)
					}
				}
				set.Weeks = weeks
			}

			if err := Validate(set); err == nil {
				t.Errorf("Validate() error = nil, want gap error")
			}
		})
	}
}

func TestValidate_MultiYear(t *testing.T) {
	if err := Validate(Generate(2015, 2035)); err != nil {
		t.Errorf("Validate(Generate(2015, 2035)) error = %v", err)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
