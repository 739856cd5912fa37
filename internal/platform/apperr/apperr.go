// Package apperr holds the error sentinels shared by the domain services and
// maps them onto HTTP responses.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/formulary/formulary/internal/platform/db"
)

var (
	// ErrInvalid marks caller input that failed validation.
	ErrInvalid = errors.New("invalid request")

	// ErrNotFound marks an empty result that callers treat as "not found".
	ErrNotFound = errors.New("not found")

	// ErrUpstream marks a failure of an external collaborator such as RxNav.
	ErrUpstream = errors.New("upstream service failed")
)

// Invalidf returns an ErrInvalid carrying a caller-facing message.
func Invalidf(format string, args ...any) error {
	return &messageError{kind: ErrInvalid, msg: fmt.Sprintf(format, args...)}
}

// NotFoundf returns an ErrNotFound carrying a caller-facing message.
func NotFoundf(format string, args ...any) error {
	return &messageError{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

type messageError struct {
	kind error
	msg  string
}

func (e *messageError) Error() string { return e.msg }
func (e *messageError) Unwrap() error { return e.kind }

// HTTP converts an error from a service call into an *echo.HTTPError.
// Messages of invalid and not-found errors are shown to the caller; store
// and internal failures are reported generically.
func HTTP(err error) error {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	switch {
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, userMessage(err))
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, userMessage(err))
	case errors.Is(err, ErrUpstream):
		return echo.NewHTTPError(http.StatusBadGateway, "upstream service failed").SetInternal(err)
	case errors.Is(err, db.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service unavailable").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}

// userMessage returns the innermost message attached by Invalidf/NotFoundf,
// falling back to the full error text.
func userMessage(err error) string {
	var me *messageError
	if errors.As(err, &me) {
		return me.msg
	}
	return err.Error()
}
