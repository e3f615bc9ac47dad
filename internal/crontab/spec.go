package crontab

import "fmt"

// Spec is a compiled cron expression: one bitmap per field, bit i set when
// value i is permitted. The zero Spec is invalid; obtain one from Compile.
//
// Spec is a small comparable value; two specs are equal iff all bitmaps are.
type Spec struct {
	Minute     uint64
	Hour       uint32
	DayOfMonth uint32
	Month      uint16
	DayOfWeek  uint8
}

// Bits returns the bitmap of field f widened to 64 bits.
func (s Spec) Bits(f Field) uint64 {
	switch f {
	case Minute:
		return s.Minute
	case Hour:
		return uint64(s.Hour)
	case DayOfMonth:
		return uint64(s.DayOfMonth)
	case Month:
		return uint64(s.Month)
	case DayOfWeek:
		return uint64(s.DayOfWeek)
	default:
		return 0
	}
}

func (s *Spec) setBits(f Field, b uint64) {
	switch f {
	case Minute:
		s.Minute = b
	case Hour:
		s.Hour = uint32(b)
	case DayOfMonth:
		s.DayOfMonth = uint32(b)
	case Month:
		s.Month = uint16(b)
	case DayOfWeek:
		s.DayOfWeek = uint8(b)
	}
}

// IsZero reports whether s is the zero value.
func (s Spec) IsZero() bool { return s == Spec{} }

// Validate checks that every bitmap is non-empty and stays inside its field
// range. Compile never produces an invalid spec; Validate exists for specs
// built elsewhere (for example decoded from storage).
func (s Spec) Validate() error {
	for f := Minute; f <= DayOfWeek; f++ {
		b := s.Bits(f)
		if b == 0 {
			return fieldErr(f, "", "matches nothing")
		}
		if b&^f.mask() != 0 {
			return fieldErr(f, fmt.Sprintf("%#x", b), "bits outside field range")
		}
	}
	return nil
}

// Full reports whether field f is unrestricted.
func (s Spec) Full(f Field) bool { return f.full(s.Bits(f)) }

// String renders the canonical expression.
func (s Spec) String() string { return Decompile(s) }

// Matches reports whether the minute containing instant t is a tick.
func (s Spec) Matches(t int64) bool {
	days := floorDiv(t, secondsPerDay)
	sod := t - days*secondsPerDay
	_, m, d := civilFromDays(days)
	hour := int(sod / secondsPerHour)
	minute := int(sod % secondsPerHour / secondsPerMinute)
	return s.monthMatches(m) &&
		s.dayMatches(d, weekdayOf(days)) &&
		s.Hour&(1<<uint(hour)) != 0 &&
		s.Minute&(1<<uint(minute)) != 0
}

func (s Spec) monthMatches(m int) bool { return s.Month&(1<<uint(m)) != 0 }

// dayMatches applies classic cron day semantics: if either day field is
// unrestricted both must match, otherwise either one is enough.
func (s Spec) dayMatches(dom, dow int) bool {
	domOK := s.DayOfMonth&(1<<uint(dom)) != 0
	dowOK := s.DayOfWeek&(1<<uint(dow)) != 0
	if s.Full(DayOfMonth) || s.Full(DayOfWeek) {
		return domOK && dowOK
	}
	return domOK || dowOK
}
