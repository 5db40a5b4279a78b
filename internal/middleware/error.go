package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/queue-api/pkg/httputil"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	TraceID string            `json:"trace_id,omitempty"`
	Details []ValidationError `json:"details,omitempty"`
}

func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only handle errors if they exist
		if len(c.Errors) == 0 {
			return
		}

		traceID := c.GetString(ContextRequestID)

		for _, e := range c.Errors {
			event := log.Warn()
			if httputil.StatusFor(e.Err) >= http.StatusInternalServerError {
				event = log.Error()
			}
			event.
				Err(e.Err).
				Str("trace_id", traceID).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Str("client_ip", c.ClientIP()).
				Msg("Request error")
		}

		// A handler that already wrote a body owns the response.
		if c.Writer.Written() {
			return
		}

		// Return last error to client
		lastErr := c.Errors.Last()
		resp := ErrorResponse{TraceID: traceID}

		var verrs validator.ValidationErrors
		switch {
		case errors.As(lastErr.Err, &verrs):
			resp.Code = http.StatusBadRequest
			resp.Message = "validation failed"
			resp.Details = describeValidation(verrs)
		case lastErr.IsType(gin.ErrorTypeBind):
			resp.Code = http.StatusBadRequest
			resp.Message = "malformed request body"
		default:
			resp.Code = httputil.StatusFor(lastErr.Err)
			resp.Message = httputil.MessageFor(lastErr.Err)
		}

		c.JSON(resp.Code, resp)
	}
}
