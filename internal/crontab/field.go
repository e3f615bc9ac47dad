package crontab

import (
	"math/bits"
	"strconv"
	"strings"
)

// Field identifies one position of a cron expression. The value doubles as
// the field index in the expression.
type Field int

const (
	Minute Field = iota
	Hour
	DayOfMonth
	Month
	DayOfWeek
)

// MaxListItems bounds the comma-separated items accepted per field.
const MaxListItems = 26

const fieldCount = 5

type fieldRange struct {
	name     string
	min, max int
}

var fieldRanges = [fieldCount]fieldRange{
	Minute:     {name: "minute", min: 0, max: 59},
	Hour:       {name: "hour", min: 0, max: 23},
	DayOfMonth: {name: "day-of-month", min: 1, max: 31},
	Month:      {name: "month", min: 1, max: 12},
	DayOfWeek:  {name: "day-of-week", min: 0, max: 6},
}

func (f Field) valid() bool { return f >= Minute && f <= DayOfWeek }

func (f Field) String() string {
	if !f.valid() {
		return "field(" + strconv.Itoa(int(f)) + ")"
	}
	return fieldRanges[f].name
}

// Min returns the smallest legal value of the field.
func (f Field) Min() int { return fieldRanges[f].min }

// Max returns the largest legal value of the field.
func (f Field) Max() int { return fieldRanges[f].max }

// Size is the number of legal values.
func (f Field) Size() int { return f.Max() - f.Min() + 1 }

// mask has exactly the legal bits of the field set.
func (f Field) mask() uint64 {
	hi := uint64(1)<<uint(f.Max()+1) - 1
	lo := uint64(1)<<uint(f.Min()) - 1
	return hi &^ lo
}

// full reports whether b permits every value of the field.
func (f Field) full(b uint64) bool {
	return bits.OnesCount64(b&f.mask()) == f.Size()
}

func (f Field) stepMask(n int) uint64 {
	var b uint64
	for v := f.Min(); v <= f.Max(); v += n {
		b |= 1 << uint(v)
	}
	return b
}

// parseField compiles one comma-separated field expression into a bitmap.
func parseField(f Field, expr string) (uint64, error) {
	if expr == "" {
		return 0, fieldErr(f, expr, "empty expression")
	}
	items := strings.Split(expr, ",")
	if len(items) > MaxListItems {
		return 0, fieldErr(f, expr, "more than "+strconv.Itoa(MaxListItems)+" list items")
	}
	var out uint64
	for _, item := range items {
		b, err := parseTerm(f, item)
		if err != nil {
			return 0, err
		}
		out |= b
	}
	return out, nil
}

func parseTerm(f Field, item string) (uint64, error) {
	switch {
	case item == "":
		return 0, fieldErr(f, item, "empty list item")
	case item == "*":
		return f.mask(), nil
	case strings.HasPrefix(item, "*/"):
		n, ok := parseNumber(item[2:])
		if !ok {
			return 0, fieldErr(f, item, "invalid step")
		}
		// A step that yields a single occurrence is just a value in disguise.
		if n <= 0 || n > f.Size()-1 {
			return 0, fieldErr(f, item, "step must be between 1 and "+strconv.Itoa(f.Size()-1))
		}
		return f.stepMask(n), nil
	}

	if lo, hi, isRange := strings.Cut(item, "-"); isRange {
		a, ok := parseNumber(lo)
		if !ok {
			return 0, fieldErr(f, item, "invalid range start")
		}
		b, ok := parseNumber(hi)
		if !ok {
			return 0, fieldErr(f, item, "invalid range end")
		}
		if a < f.Min() || b > f.Max() {
			return 0, fieldErr(f, item, "range out of bounds")
		}
		if a >= b {
			return 0, fieldErr(f, item, "range must be ascending")
		}
		var out uint64
		for v := a; v <= b; v++ {
			out |= 1 << uint(v)
		}
		return out, nil
	}

	v, ok := parseNumber(item)
	if !ok {
		return 0, fieldErr(f, item, "not a number")
	}
	if v < f.Min() || v > f.Max() {
		return 0, fieldErr(f, item, "value out of bounds")
	}
	return 1 << uint(v), nil
}

// parseNumber accepts plain ASCII decimals only (no sign, no spaces).
func parseNumber(s string) (int, bool) {
	if s == "" || len(s) > 4 {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// renderField is the canonical inverse of parseField.
//
// Order of preference: "*", then "*/n", then an ascending list where runs of
// three or more consecutive values collapse into "a-b".
func renderField(f Field, b uint64) string {
	b &= f.mask()
	if f.full(b) {
		return "*"
	}
	for n := 2; n <= f.Size()-1; n++ {
		if b == f.stepMask(n) {
			return "*/" + strconv.Itoa(n)
		}
	}

	var sb strings.Builder
	item := func(s string) {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(s)
	}
	for v := f.Min(); v <= f.Max(); {
		if b&(1<<uint(v)) == 0 {
			v++
			continue
		}
		end := v
		for end+1 <= f.Max() && b&(1<<uint(end+1)) != 0 {
			end++
		}
		switch {
		case end-v >= 2:
			item(strconv.Itoa(v) + "-" + strconv.Itoa(end))
		case end == v+1:
			item(strconv.Itoa(v))
			item(strconv.Itoa(end))
		default:
			item(strconv.Itoa(v))
		}
		v = end + 1
	}
	return sb.String()
}
