package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStandardErrorIs(t *testing.T) {
	wrapped := fmt.Errorf("query: %w", ErrIndexUnavailable.WithCause(fmt.Errorf("no such table")))

	if !stderrors.Is(wrapped, ErrIndexUnavailable) {
		t.Error("Expected wrapped error to match ErrIndexUnavailable")
	}
	if stderrors.Is(wrapped, ErrTransportFailure) {
		t.Error("Expected different types not to match")
	}
	if !strings.Contains(wrapped.Error(), "no such table") {
		t.Errorf("cause missing from message: %s", wrapped)
	}

	custom := ErrEmptyQuestion.WithMessage("question is blank")
	if custom.Error() != "question is blank" || !stderrors.Is(custom, ErrEmptyQuestion) {
		t.Errorf("unexpected custom error %v", custom)
	}
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"empty question", ErrEmptyQuestion, http.StatusBadRequest},
		{"invalid prompt type", ErrInvalidPromptType.WithCause(fmt.Errorf("x")), http.StatusBadRequest},
		{"invalid configuration", ErrInvalidConfiguration, http.StatusBadRequest},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized},
		{"index unavailable", fmt.Errorf("retrieval failed: %w", ErrIndexUnavailable), http.StatusServiceUnavailable},
		{"transport failure", ErrTransportFailure, http.StatusBadGateway},
		{"missing credential", ErrMissingCredential, http.StatusBadGateway},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	h := NewErrorHandler(HandlerConfig{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/query", nil)
			w := httptest.NewRecorder()
			h.Handle(w, req, tt.err)
			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestHandleSecureMode(t *testing.T) {
	for _, cfg := range []HandlerConfig{{ErrorMode: "secure"}, {ErrorMode: "detailed", Production: true}} {
		h := NewErrorHandler(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

		req := httptest.NewRequest(http.MethodPost, "/query", nil)
		w := httptest.NewRecorder()
		h.Handle(w, req, fmt.Errorf("open /srv/private/db: %w", fmt.Errorf("permission denied")))

		if w.Code != http.StatusInternalServerError {
			t.Errorf("Expected status 500, got %d", w.Code)
		}
		if strings.Contains(w.Body.String(), "/srv/private") {
			t.Errorf("secure mode leaked details: %s", w.Body.String())
		}
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if got := getClientIP(req); got != "10.0.0.1:1234" {
		t.Errorf("Expected remote addr, got %s", got)
	}
	req.Header.Set("X-Real-IP", "10.0.0.2")
	if got := getClientIP(req); got != "10.0.0.2" {
		t.Errorf("Expected X-Real-IP, got %s", got)
	}
	req.Header.Set("X-Forwarded-For", "10.0.0.3")
	if got := getClientIP(req); got != "10.0.0.3" {
		t.Errorf("Expected X-Forwarded-For, got %s", got)
	}
}
