package errors

import (
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/ory/herodot"
)

// HandlerConfig selects how much detail reaches API clients.
type HandlerConfig struct {
	// ErrorMode is "detailed" or "secure".
	ErrorMode  string
	Production bool
}

// ErrorHandler provides secure error handling based on configuration
type ErrorHandler struct {
	config HandlerConfig
	writer *herodot.JSONWriter
	logger *slog.Logger
}

// NewErrorHandler creates a new error handler with the given configuration
func NewErrorHandler(cfg HandlerConfig, writer *herodot.JSONWriter, logger *slog.Logger) *ErrorHandler {
	if writer == nil {
		writer = herodot.NewJSONWriter(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorHandler{
		config: cfg,
		writer: writer,
		logger: logger,
	}
}

func (h *ErrorHandler) secure() bool {
	return h.config.ErrorMode == "secure" || h.config.Production
}

// Handle picks a response for err based on its taxonomy type.
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case stderrors.Is(err, ErrEmptyQuestion),
		stderrors.Is(err, ErrInvalidPromptType),
		stderrors.Is(err, ErrInvalidConfiguration):
		h.HandleValidationError(w, r, err)
	case stderrors.Is(err, ErrUnauthorized):
		h.HandleAuthError(w, r, err)
	case stderrors.Is(err, ErrIndexUnavailable):
		h.HandleIndexError(w, r, err)
	case stderrors.Is(err, ErrTransportFailure), stderrors.Is(err, ErrMissingCredential):
		h.HandleServiceError(w, r, "llm", err)
	default:
		h.HandleInternalError(w, r, err)
	}
}

// HandleAuthError handles authentication-related errors with consistent responses
func (h *ErrorHandler) HandleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	h.logError("AUTH_ERROR", err, r)
	h.writer.WriteError(w, r, herodot.ErrUnauthorized.WithReason("Authentication required"))
}

// HandleValidationError handles input validation errors
func (h *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, err error) {
	h.logError("VALIDATION_ERROR", err, r)
	reason := "Invalid request"
	if !h.secure() {
		reason = err.Error()
	}
	h.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason(reason))
}

// HandleIndexError handles a vector index without a queryable collection
func (h *ErrorHandler) HandleIndexError(w http.ResponseWriter, r *http.Request, err error) {
	h.logError("INDEX_ERROR", err, r)
	reason := "Vector index unavailable"
	if !h.secure() {
		reason = err.Error()
	}
	h.writer.WriteError(w, r, statusError(http.StatusServiceUnavailable, reason))
}

// HandleServiceError handles external service errors
func (h *ErrorHandler) HandleServiceError(w http.ResponseWriter, r *http.Request, service string, err error) {
	h.logError("SERVICE_ERROR", err, r)
	reason := "External service unavailable"
	if !h.secure() {
		reason = "Service unavailable: " + service + ": " + err.Error()
	}
	h.writer.WriteError(w, r, statusError(http.StatusBadGateway, reason))
}

// HandleInternalError handles internal server errors
func (h *ErrorHandler) HandleInternalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logError("INTERNAL_ERROR", err, r)
	reason := "An internal error occurred"
	if !h.secure() {
		reason = err.Error()
	}
	h.writer.WriteError(w, r, herodot.ErrInternalServerError.WithReason(reason))
}

func statusError(code int, reason string) *herodot.DefaultError {
	return &herodot.DefaultError{
		CodeField:   code,
		StatusField: http.StatusText(code),
		ErrorField:  http.StatusText(code),
		ReasonField: reason,
	}
}

// logError logs errors with context
func (h *ErrorHandler) logError(errorType string, err error, r *http.Request) {
	attrs := []any{
		"type", errorType,
		"method", r.Method,
		"path", r.URL.Path,
		"remote_ip", getClientIP(r),
	}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
	}
	h.logger.Error("request failed", attrs...)
}

// getClientIP extracts the real client IP from request headers
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
