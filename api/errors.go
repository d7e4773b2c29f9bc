package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"taskboard/domain"
)

var (
	errInvalidBody     = errors.New("invalid body")
	errDuplicateKey    = errors.New("duplicate idempotency key")
	errUnauthenticated = errors.New("unauthenticated")
)

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, errInvalidBody):
		return http.StatusBadRequest, "InvalidRequest"
	case errors.Is(err, errDuplicateKey):
		return http.StatusConflict, "DuplicateRequest"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "Unavailable"
	}
	kind := domain.ErrorKind(err)
	switch kind {
	case "InvalidColumn", "InvalidTask":
		return http.StatusBadRequest, kind
	case "TaskNotFound", "ProjectNotFound":
		return http.StatusNotFound, kind
	case "ColumnMismatch", "Conflict":
		return http.StatusConflict, kind
	case "Forbidden":
		return http.StatusForbidden, kind
	case "PersistenceFailure":
		return http.StatusInternalServerError, kind
	default:
		return http.StatusInternalServerError, "Internal"
	}
}

// writeError renders an errorResponse. Server-side failures keep their
// detail out of the response body.
func writeError(c echo.Context, status int, kind string, err error) error {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	return c.JSON(status, errorResponse{Error: kind, Message: msg})
}
