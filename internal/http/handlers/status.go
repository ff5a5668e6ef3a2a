package handlers

import (
	"errors"
	"net/http"

	apperr "github.com/veldt/crystal-backend/internal/pkg/errors"
)

// statusFor maps service sentinels to HTTP status codes. Anything
// unrecognized is a 400: the read path never errors, so surviving
// errors are caller mistakes far more often than server faults.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrImmutableSession), errors.Is(err, apperr.ErrConcurrentCommit):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}
