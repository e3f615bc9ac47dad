package crontab

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedExpression = errors.New("malformed cron expression")
	ErrInvalidField        = errors.New("invalid cron field")
	ErrNoMatch             = errors.New("cron: no matching tick within search horizon")
)

// FieldError reports which field of an expression failed to compile.
// It unwraps to ErrInvalidField.
type FieldError struct {
	Field  Field
	Token  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s field (index %d) %q: %s", e.Field, int(e.Field), e.Token, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidField }

func fieldErr(f Field, token, reason string) error {
	return &FieldError{Field: f, Token: token, Reason: reason}
}
