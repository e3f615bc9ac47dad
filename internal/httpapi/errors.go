package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"cronkeeper/internal/crontab"
	"cronkeeper/internal/invoke"
	"cronkeeper/internal/registry"
)

// toHTTPError maps domain errors to status codes.
func toHTTPError(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrJobNotFound):
		code = http.StatusNotFound
	case errors.Is(err, registry.ErrStaleTick), errors.Is(err, registry.ErrExceedsMaxJobs):
		code = http.StatusConflict
	case errors.Is(err, crontab.ErrMalformedExpression),
		errors.Is(err, crontab.ErrInvalidField),
		errors.Is(err, crontab.ErrNoMatch):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, registry.ErrEmptyTarget),
		errors.Is(err, invoke.ErrInvalidTarget),
		errors.Is(err, invoke.ErrUnknownTarget),
		errors.Is(err, invoke.ErrInvalidHandler):
		code = http.StatusBadRequest
	}
	return echo.NewHTTPError(code, err.Error()).SetInternal(err)
}
