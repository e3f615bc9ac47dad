package crontab

import (
	"fmt"
	"strings"
)

// Compile parses a 5-field cron expression (minute hour day-of-month month
// day-of-week). Fields must be separated by exactly one space and the text
// must not carry leading or trailing whitespace.
//
// Shape problems return ErrMalformedExpression; a bad field returns a
// *FieldError that unwraps to ErrInvalidField.
func Compile(text string) (Spec, error) {
	if text == "" {
		return Spec{}, fmt.Errorf("%w: empty expression", ErrMalformedExpression)
	}
	if text[0] == ' ' || text[len(text)-1] == ' ' {
		return Spec{}, fmt.Errorf("%w: leading or trailing whitespace", ErrMalformedExpression)
	}
	if strings.ContainsAny(text, "\t\n\r\v\f") {
		return Spec{}, fmt.Errorf("%w: fields must be separated by single spaces", ErrMalformedExpression)
	}

	fields := strings.Split(text, " ")
	for _, f := range fields {
		if f == "" {
			return Spec{}, fmt.Errorf("%w: fields must be separated by exactly one space", ErrMalformedExpression)
		}
	}
	if len(fields) != fieldCount {
		return Spec{}, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedExpression, fieldCount, len(fields))
	}

	var s Spec
	for i, raw := range fields {
		f := Field(i)
		b, err := parseField(f, raw)
		if err != nil {
			return Spec{}, err
		}
		s.setBits(f, b)
	}
	return s, nil
}

// MustCompile is Compile for expressions known to be valid; it panics otherwise.
func MustCompile(text string) Spec {
	s, err := Compile(text)
	if err != nil {
		panic("crontab: MustCompile(" + text + "): " + err.Error())
	}
	return s
}

// Decompile renders s in canonical form. For canonically written input,
// Decompile(Compile(s)) == s.
func Decompile(s Spec) string {
	parts := make([]string, fieldCount)
	for f := Minute; f <= DayOfWeek; f++ {
		parts[f] = renderField(f, s.Bits(f))
	}
	return strings.Join(parts, " ")
}

// Normalize compiles text and returns its canonical rendering.
func Normalize(text string) (string, error) {
	s, err := Compile(text)
	if err != nil {
		return "", err
	}
	return Decompile(s), nil
}
