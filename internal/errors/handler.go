package errors

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/zsiec/moqplay/internal/logger"
)

// ErrorResponse represents the error response structure.
type ErrorResponse struct {
	Error   ErrorDetails `json:"error"`
	TraceID string       `json:"trace_id,omitempty"`
}

// ErrorDetails contains the error details.
type ErrorDetails struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorHandler handles error responses.
type ErrorHandler struct {
	logger *logrus.Logger
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger,
	}
}

// HandleError handles an error and writes the appropriate response.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	traceID := r.Header.Get("X-Request-ID")

	pbErr, ok := GetPlaybackError(err)
	if !ok {
		pbErr = WrapInternalError(err, "An unexpected error occurred")
	}
	status := pbErr.HTTPStatus()

	logEntry := logger.FromContext(r.Context(), h.logger).WithFields(logrus.Fields{
		"error_type": pbErr.Type,
		"request_id": traceID,
		"status":     status,
		"method":     r.Method,
		"path":       r.URL.Path,
	})

	if status >= http.StatusInternalServerError {
		logEntry.Error(pbErr.Error())
	} else {
		logEntry.Warn(pbErr.Error())
	}

	response := ErrorResponse{
		Error: ErrorDetails{
			Type:    pbErr.Type,
			Message: pbErr.Message,
			Details: pbErr.Details,
		},
		TraceID: traceID,
	}

	h.writeJSON(w, r, status, response)
}

// HandleNotFound handles 404 errors.
func (h *ErrorHandler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.HandleError(w, r, NewNotFoundError("endpoint"))
}

// HandlePanic handles panics in HTTP handlers.
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	logger.FromContext(r.Context(), h.logger).WithFields(logrus.Fields{
		"panic":  recovered,
		"method": r.Method,
		"path":   r.URL.Path,
	}).Error("Panic recovered in HTTP handler")

	h.HandleError(w, r, New(ErrorTypeInternal, "An unexpected error occurred"))
}

// writeJSON writes a JSON response.
func (h *ErrorHandler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.FromContext(r.Context(), h.logger).WithError(err).Error("Failed to encode error response")
	}
}

// Middleware returns an error handling middleware.
func (h *ErrorHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				h.HandlePanic(w, r, recovered)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
