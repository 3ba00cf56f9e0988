package web

// errors.go turns handler errors into responses. The technical error is
// logged with the request id; the client gets the mapped user message.

import (
	"errors"
	"net/http"

	"github.com/JonMunkholm/stockroom/internal/core"
	"github.com/JonMunkholm/stockroom/internal/logging"
	"github.com/JonMunkholm/stockroom/internal/tracking"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes the mapped user message. A zero status
// is derived from the error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	msg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	writeJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// statusFor picks the HTTP status for a service error.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrUnknownEntity),
		errors.Is(err, core.ErrJobNotFound),
		errors.Is(err, tracking.ErrShipmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrJobStarted):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrTooManyItems):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrEmptyImport),
		errors.Is(err, core.ErrNoRecords),
		errors.Is(err, core.ErrUnsupportedFormat),
		errors.Is(err, tracking.ErrNoTrackingNumbers),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrCircuitOpen),
		errors.Is(err, tracking.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, tracking.ErrNoTrackingInfo):
		return http.StatusBadGateway
	}

	var fatal *core.FatalError
	if errors.As(err, &fatal) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
