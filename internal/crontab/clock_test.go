package crontab

import (
	"errors"
	"math"
	"testing"
	"time"
)

func unix(y int, m time.Month, d, hh, mm int) int64 {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC).Unix()
}

func fmtUnix(t int64) string { return time.Unix(t, 0).UTC().Format(time.RFC3339) }

func TestLiteralScenario(t *testing.T) {
	t.Parallel()
	const from = int64(32503680000) // 3000-01-01T00:00:00Z
	s := MustCompile("10 2,4,6 * * *")

	next, err := s.Next(from)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if want := from + 2*3600 + 10*60; next != want {
		t.Fatalf("Next = %s, want %s", fmtUnix(next), fmtUnix(want))
	}

	last, err := s.Prev(from)
	if err != nil {
		t.Fatalf("Prev error: %v", err)
	}
	if want := from - 17*3600 - 50*60; last != want {
		t.Fatalf("Prev = %s, want %s", fmtUnix(last), fmtUnix(want))
	}
}

func TestLeapDay(t *testing.T) {
	t.Parallel()
	s := MustCompile("0 0 29 2 *")
	tests := []struct {
		name     string
		from     int64
		wantNext int64
		wantPrev int64
	}{
		{
			name:     "2023",
			from:     unix(2023, time.June, 1, 12, 0),
			wantNext: unix(2024, time.February, 29, 0, 0),
			wantPrev: unix(2020, time.February, 29, 0, 0),
		},
		{
			name:     "across 2100",
			from:     unix(2097, time.January, 1, 0, 0),
			wantNext: unix(2104, time.February, 29, 0, 0),
			wantPrev: unix(2096, time.February, 29, 0, 0),
		},
		{
			name:     "2000 is leap",
			from:     unix(1999, time.March, 1, 0, 0),
			wantNext: unix(2000, time.February, 29, 0, 0),
			wantPrev: unix(1996, time.February, 29, 0, 0),
		},
	}
	for _, tt := range tests {
		next, err := s.Next(tt.from)
		if err != nil || next != tt.wantNext {
			t.Fatalf("%s: Next = %s, %v; want %s", tt.name, fmtUnix(next), err, fmtUnix(tt.wantNext))
		}
		prev, err := s.Prev(tt.from)
		if err != nil || prev != tt.wantPrev {
			t.Fatalf("%s: Prev = %s, %v; want %s", tt.name, fmtUnix(prev), err, fmtUnix(tt.wantPrev))
		}
	}
}

func TestDayOfMonthOnly(t *testing.T) {
	t.Parallel()
	s := MustCompile("0 0 31 * *")
	from := unix(2024, time.January, 1, 0, 0)
	want := []int64{
		unix(2024, time.January, 31, 0, 0),
		unix(2024, time.March, 31, 0, 0),
		unix(2024, time.May, 31, 0, 0),
		unix(2024, time.July, 31, 0, 0),
		unix(2024, time.August, 31, 0, 0),
	}
	for i, w := range want {
		next, err := s.Next(from)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if next != w {
			t.Fatalf("step %d: Next = %s, want %s", i, fmtUnix(next), fmtUnix(w))
		}
		from = next
	}
}

func TestDayOfWeekOnly(t *testing.T) {
	t.Parallel()
	s := MustCompile("0 0 * * 1")
	from := unix(2024, time.January, 1, 0, 0) // a Monday, excluded
	for i := 0; i < 60; i++ {
		next, err := s.Next(from)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		tm := time.Unix(next, 0).UTC()
		if tm.Weekday() != time.Monday || tm.Hour() != 0 || tm.Minute() != 0 {
			t.Fatalf("step %d: Next = %s is not Monday midnight", i, fmtUnix(next))
		}
		if next-from != 7*86400 {
			t.Fatalf("step %d: gap %ds, want one week", i, next-from)
		}
		from = next
	}
}

func TestDayFieldsAreOred(t *testing.T) {
	t.Parallel()
	s := MustCompile("0 0 13 * 5") // the 13th or any Friday
	from := unix(2024, time.January, 1, 0, 0)
	want := []int64{
		unix(2024, time.January, 5, 0, 0),
		unix(2024, time.January, 12, 0, 0),
		unix(2024, time.January, 13, 0, 0),
		unix(2024, time.January, 19, 0, 0),
	}
	for i, w := range want {
		next, err := s.Next(from)
		if err != nil || next != w {
			t.Fatalf("step %d: Next = %s, %v; want %s", i, fmtUnix(next), err, fmtUnix(w))
		}
		from = next
	}
	if !s.Matches(unix(2024, time.September, 13, 0, 0)) {
		t.Fatal("Friday the 13th should match")
	}
	if !s.Matches(unix(2024, time.February, 13, 0, 0)) {
		t.Fatal("Tuesday the 13th should match")
	}
	if s.Matches(unix(2024, time.February, 14, 0, 0)) {
		t.Fatal("Wednesday the 14th should not match")
	}
}

func TestIntervalMinutesMatch(t *testing.T) {
	t.Parallel()
	s := MustCompile("*/2 * * * *")
	base := unix(2024, time.March, 10, 7, 0)
	for m := int64(0); m < 60; m++ {
		got := s.Matches(base + m*60)
		if got != (m%2 == 0) {
			t.Fatalf("minute %d Matches = %v", m, got)
		}
	}
	next, err := s.Next(base + 61)
	if err != nil || next != base+120 {
		t.Fatalf("Next = %s, %v", fmtUnix(next), err)
	}
}

func TestNextPrevAreExclusive(t *testing.T) {
	t.Parallel()
	s := MustCompile("30 16 * * *")
	tick := unix(2024, time.May, 1, 16, 30)

	next, err := s.Next(tick)
	if err != nil || next != tick+86400 {
		t.Fatalf("Next(tick) = %s, %v", fmtUnix(next), err)
	}
	prev, err := s.Prev(tick)
	if err != nil || prev != tick-86400 {
		t.Fatalf("Prev(tick) = %s, %v", fmtUnix(prev), err)
	}
	// Inside the matching minute the tick itself is already in the past.
	next, err = s.Next(tick + 30)
	if err != nil || next != tick+86400 {
		t.Fatalf("Next(tick+30s) = %s, %v", fmtUnix(next), err)
	}
	prev, err = s.Prev(tick + 30)
	if err != nil || prev != tick {
		t.Fatalf("Prev(tick+30s) = %s, %v", fmtUnix(prev), err)
	}
}

func TestYearCarry(t *testing.T) {
	t.Parallel()
	s := MustCompile("0 0 1 1 *")
	next, err := s.Next(unix(2024, time.December, 31, 23, 59))
	if err != nil || next != unix(2025, time.January, 1, 0, 0) {
		t.Fatalf("Next = %s, %v", fmtUnix(next), err)
	}
	prev, err := s.Prev(unix(2025, time.January, 1, 0, 0))
	if err != nil || prev != unix(2024, time.January, 1, 0, 0) {
		t.Fatalf("Prev = %s, %v", fmtUnix(prev), err)
	}
}

func TestImpossibleDateHasNoMatch(t *testing.T) {
	t.Parallel()
	for _, expr := range []string{"0 0 30 2 *", "0 0 31 4,6,9,11 *"} {
		s := MustCompile(expr)
		if _, err := s.Next(unix(2024, time.January, 1, 0, 0)); !errors.Is(err, ErrNoMatch) {
			t.Fatalf("%q Next error = %v, want ErrNoMatch", expr, err)
		}
		if _, err := s.Prev(unix(2024, time.January, 1, 0, 0)); !errors.Is(err, ErrNoMatch) {
			t.Fatalf("%q Prev error = %v, want ErrNoMatch", expr, err)
		}
	}
}

func TestBeforeEpoch(t *testing.T) {
	t.Parallel()
	s := MustCompile("0 12 * * *")
	from := unix(1969, time.December, 31, 13, 0)
	next, err := s.Next(from)
	if err != nil || next != unix(1970, time.January, 1, 12, 0) {
		t.Fatalf("Next = %s, %v", fmtUnix(next), err)
	}
	prev, err := s.Prev(from)
	if err != nil || prev != unix(1969, time.December, 31, 12, 0) {
		t.Fatalf("Prev = %s, %v", fmtUnix(prev), err)
	}
}

func TestScheduleAdapter(t *testing.T) {
	t.Parallel()
	sc := MustCompile("10 2,4,6 * * *").Schedule()
	loc := time.FixedZone("UTC+7", 7*3600)
	from := time.Date(3000, time.January, 1, 7, 0, 0, 0, loc) // 00:00 UTC

	next := sc.Next(from)
	if want := time.Date(3000, time.January, 1, 2, 10, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("Next = %s, want %s", next, want)
	}
	if next.Location() != loc {
		t.Fatalf("Next location = %s, want %s", next.Location(), loc)
	}
	prev := sc.Prev(from)
	if want := time.Date(2999, time.December, 31, 6, 10, 0, 0, time.UTC); !prev.Equal(want) {
		t.Fatalf("Prev = %s, want %s", prev, want)
	}

	never := MustCompile("0 0 30 2 *").Schedule()
	if !never.Next(from).IsZero() {
		t.Fatal("impossible schedule should return zero time")
	}
}

func TestInt64Extremes(t *testing.T) {
	t.Parallel()
	every := MustCompile("* * * * *")
	yearly := MustCompile("0 0 1 1 *")

	noMatch := []struct {
		name string
		fn   func() (int64, error)
	}{
		{"next within a minute of Never", func() (int64, error) { return every.Next(Never - 2) }},
		{"next from Never", func() (int64, error) { return every.Next(Never) }},
		{"next new year past the last day", func() (int64, error) { return yearly.Next(Never - 30*secondsPerDay) }},
		{"prev from MinInt64", func() (int64, error) { return every.Prev(math.MinInt64) }},
		{"prev within a minute of MinInt64", func() (int64, error) { return every.Prev(math.MinInt64 + 59) }},
		{"prev new year before the first day", func() (int64, error) { return yearly.Prev(math.MinInt64 + 30*secondsPerDay) }},
	}
	for _, tt := range noMatch {
		if got, err := tt.fn(); !errors.Is(err, ErrNoMatch) {
			t.Fatalf("%s = %d, %v; want ErrNoMatch", tt.name, got, err)
		}
	}

	// The last whole minute an int64 can hold.
	if got, err := every.Next(Never - 61); err != nil || got != Never-7 {
		t.Fatalf("Next(Never-61) = %d, %v; want %d", got, err, Never-7)
	}

	for _, s := range []Spec{every, yearly, MustCompile("0 0 29 2 *")} {
		for _, from := range []int64{Never, Never - 1, Never - 60, Never - 61, Never - 400*secondsPerDay, math.MinInt64, math.MinInt64 + 60, math.MinInt64 + 2*secondsPerDay} {
			if n, err := s.Next(from); err == nil && n <= from {
				t.Fatalf("%s Next(%d) = %d, not after from", s, from, n)
			}
			if p, err := s.Prev(from); err == nil && p >= from {
				t.Fatalf("%s Prev(%d) = %d, not before from", s, from, p)
			}
		}
	}
}
