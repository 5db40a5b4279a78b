package httputil

import (
	"context"
	"errors"
	"net/http"

	apperrors "github.com/jwalitptl/queue-api/pkg/errors"
)

// StatusFor maps an error to the HTTP status returned to clients.
func StatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}

	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) {
		return coded.StatusCode()
	}
	return http.StatusInternalServerError
}

// MessageFor returns the client-facing message for err. Causes wrapped
// inside an AppError, and anything that is not one, stay in the logs.
func MessageFor(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timeout"
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}
