package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"budgetflow/internal/amqp"
	"budgetflow/internal/core"
	"budgetflow/internal/log"
	"budgetflow/internal/services"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	data       any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Data sets the value encoded as the response body.
func (b *JSONResponseBuilder) Data(v any) *JSONResponseBuilder {
	b.data = v
	return b
}

// Write sends the built response. A 204 response has no body.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.statusCode == http.StatusNoContent {
		w.WriteHeader(b.statusCode)
		return
	}

	body, err := json.Marshal(b.data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error","code":"internal"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(body)
	_, _ = w.Write([]byte("\n"))
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errInternal = errors.New("internal server error")

// errorStatus maps a service error to its HTTP status and a stable code.
// Re-authentication is checked first: a parked connection is the caller's
// problem to fix, not a feed outage.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrReauthRequired):
		return http.StatusForbidden, "reauth_required"
	case errors.Is(err, core.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, core.ErrConnectionLimit):
		return http.StatusConflict, "connection_limit"
	case errors.Is(err, core.ErrUpstreamFeed):
		return http.StatusBadGateway, "upstream"
	case errors.Is(err, services.ErrQueueUnavailable), errors.Is(err, amqp.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "queue_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError logs err and writes the mapped status. Internal errors are
// not echoed to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	msg := err.Error()

	logger := log.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", log.FieldError, err, log.FieldPath, r.URL.Path)
		if status == http.StatusInternalServerError {
			msg = errInternal.Error()
		}
	} else {
		logger.DebugContext(r.Context(), "Request rejected", log.FieldError, err, log.FieldPath, r.URL.Path)
	}

	resp := NewJSONResponse().Status(status).Data(errorBody{Error: msg, Code: code})
	if status == http.StatusUnauthorized {
		resp.Header("WWW-Authenticate", `Bearer realm="budgetflow"`)
	}
	resp.Write(w)
}
