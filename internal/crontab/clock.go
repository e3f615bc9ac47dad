package crontab

import (
	"math"
	"math/bits"
	"time"
)

// MaxSearchYears bounds how many calendar years Next and Prev walk before
// giving up with ErrNoMatch. Feb 29 can be eight years apart (2096 to 2104);
// a spec that needs more than this never fires.
const MaxSearchYears = 28

// Never is the tick stored for jobs whose spec has no further occurrence.
// It is not minute aligned, so no real tick equals it.
const Never int64 = math.MaxInt64

// Day numbers whose midnight fits in an int64.
const (
	maxDay = math.MaxInt64 / secondsPerDay
	minDay = math.MinInt64 / secondsPerDay
)

// Next returns the first tick strictly after from. There is no minute after
// the last one an int64 can hold, so from within a minute of Never has no
// next tick.
func (s Spec) Next(from int64) (int64, error) {
	if from > Never-secondsPerMinute {
		return 0, ErrNoMatch
	}
	r := from % secondsPerMinute
	if r < 0 {
		r += secondsPerMinute
	}
	t := from + secondsPerMinute - r
	days, sod := splitDay(t)
	hour, minute := int(sod/secondsPerHour), int(sod%secondsPerHour/secondsPerMinute)

	y, m, d := civilFromDays(days)
	limit := y + MaxSearchYears
	for y <= limit {
		if !s.monthMatches(m) {
			y, m = nextMonth(y, m)
			d = 1
			days = daysFromCivil(y, m, d)
			hour, minute = 0, 0
			continue
		}
		if s.dayMatches(d, weekdayOf(days)) {
			if h, mi, ok := s.firstTimeFrom(hour, minute); ok {
				if tick, ok := instant(days, h, mi); ok {
					return tick, nil
				}
				return 0, ErrNoMatch
			}
		}
		days++
		d++
		if d > DaysInMonth(y, m) {
			y, m = nextMonth(y, m)
			d = 1
		}
		hour, minute = 0, 0
	}
	return 0, ErrNoMatch
}

// Prev returns the last tick strictly before from.
func (s Spec) Prev(from int64) (int64, error) {
	if from < math.MinInt64+secondsPerMinute {
		return 0, ErrNoMatch
	}
	t := floorDiv(from-1, secondsPerMinute) * secondsPerMinute
	days, sod := splitDay(t)
	hour, minute := int(sod/secondsPerHour), int(sod%secondsPerHour/secondsPerMinute)

	y, m, d := civilFromDays(days)
	limit := y - MaxSearchYears
	for y >= limit {
		if !s.monthMatches(m) {
			y, m = prevMonth(y, m)
			d = DaysInMonth(y, m)
			days = daysFromCivil(y, m, d)
			hour, minute = 23, 59
			continue
		}
		if s.dayMatches(d, weekdayOf(days)) {
			if h, mi, ok := s.lastTimeUpTo(hour, minute); ok {
				if tick, ok := instant(days, h, mi); ok {
					return tick, nil
				}
				return 0, ErrNoMatch
			}
		}
		days--
		d--
		if d < 1 {
			y, m = prevMonth(y, m)
			d = DaysInMonth(y, m)
		}
		hour, minute = 23, 59
	}
	return 0, ErrNoMatch
}

// splitDay splits t into a day number and the second within that day.
func splitDay(t int64) (days, sod int64) {
	sod = t % secondsPerDay
	if sod < 0 {
		sod += secondsPerDay
	}
	return floorDiv(t, secondsPerDay), sod
}

// instant joins a day number and a time of day. It reports false when the
// result does not fit in an int64.
func instant(days int64, h, mi int) (int64, bool) {
	if days > maxDay || days < minDay {
		return 0, false
	}
	base := days * secondsPerDay
	sod := int64(h)*secondsPerHour + int64(mi)*secondsPerMinute
	if base > Never-sod {
		return 0, false
	}
	return base + sod, true
}

// NextTick is the function form of Spec.Next.
func NextTick(s Spec, from int64) (int64, error) { return s.Next(from) }

// LastTick is the function form of Spec.Prev.
func LastTick(s Spec, from int64) (int64, error) { return s.Prev(from) }

// firstTimeFrom finds the earliest (hour, minute) at or after the given
// time of day.
func (s Spec) firstTimeFrom(hour, minute int) (int, int, bool) {
	for h := hour; h < 24; h++ {
		if s.Hour&(1<<uint(h)) == 0 {
			continue
		}
		start := 0
		if h == hour {
			start = minute
		}
		if mi := lowestBitFrom(s.Minute, start); mi >= 0 {
			return h, mi, true
		}
	}
	return 0, 0, false
}

// lastTimeUpTo finds the latest (hour, minute) at or before the given time
// of day.
func (s Spec) lastTimeUpTo(hour, minute int) (int, int, bool) {
	for h := hour; h >= 0; h-- {
		if s.Hour&(1<<uint(h)) == 0 {
			continue
		}
		end := 59
		if h == hour {
			end = minute
		}
		if mi := highestBitUpTo(s.Minute, end); mi >= 0 {
			return h, mi, true
		}
	}
	return 0, 0, false
}

func lowestBitFrom(b uint64, from int) int {
	b &^= uint64(1)<<uint(from) - 1
	if b == 0 {
		return -1
	}
	return bits.TrailingZeros64(b)
}

func highestBitUpTo(b uint64, upto int) int {
	b &= uint64(1)<<uint(upto+1) - 1
	if b == 0 {
		return -1
	}
	return bits.Len64(b) - 1
}

// Schedule adapts a Spec to time.Time based schedulers. Its Next method
// satisfies robfig/cron's Schedule interface. Evaluation is always UTC; the
// result is converted back to the location of the argument.
type Schedule struct {
	Spec Spec
}

// Schedule returns s as a time.Time based schedule.
func (s Spec) Schedule() Schedule { return Schedule{Spec: s} }

// Next returns the next tick after t, or the zero time if there is none.
func (sc Schedule) Next(t time.Time) time.Time {
	n, err := sc.Spec.Next(t.Unix())
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0).In(t.Location())
}

// Prev returns the last tick before t, or the zero time if there is none.
func (sc Schedule) Prev(t time.Time) time.Time {
	n, err := sc.Spec.Prev(t.Unix())
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0).In(t.Location())
}
