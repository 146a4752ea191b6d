package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"budgetflow/internal/amqp"
	"budgetflow/internal/core"
	"budgetflow/internal/services"
)

func TestJSONResponseBuilder(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/banking/connections/1").
		Data(map[string]int{"added": 2}).
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Header().Get("Location") == "" {
		t.Error("custom header not set")
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"added":2}` {
		t.Errorf("Body = %q", got)
	}
}

func TestJSONResponseBuilder_NoContent(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Status(http.StatusNoContent).Data("ignored").Write(w)

	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Errorf("got %d with body %q", w.Code, w.Body.String())
	}
}

func TestJSONResponseBuilder_EncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Data(make(chan int)).Write(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status code = %d, want 500", w.Code)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unauthenticated", core.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
		{"not found", fmt.Errorf("load connection: %w", core.ErrNotFound), http.StatusNotFound, "not_found"},
		{"validation", fmt.Errorf("%w: bad month", core.ErrValidation), http.StatusBadRequest, "validation"},
		{"connection limit", core.ErrConnectionLimit, http.StatusConflict, "connection_limit"},
		{"upstream", fmt.Errorf("fetch: %w", core.ErrUpstreamFeed), http.StatusBadGateway, "upstream"},
		{"reauth wins over upstream", fmt.Errorf("%w: %w", core.ErrReauthRequired, core.ErrUpstreamFeed), http.StatusForbidden, "reauth_required"},
		{"queue missing", services.ErrQueueUnavailable, http.StatusServiceUnavailable, "queue_unavailable"},
		{"circuit open", fmt.Errorf("publish sync request: %w", amqp.ErrCircuitOpen), http.StatusServiceUnavailable, "queue_unavailable"},
		{"unknown", errors.New("disk full"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := errorStatus(tt.err)
			if status != tt.status || code != tt.code {
				t.Errorf("errorStatus() = %d %q, want %d %q", status, code, tt.status, tt.code)
			}
		})
	}
}

func TestWriteError_HidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)

	writeError(w, r, errors.New("sqlite: database disk image is malformed"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Status code = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "sqlite") {
		t.Errorf("internal error leaked: %s", w.Body.String())
	}
}
