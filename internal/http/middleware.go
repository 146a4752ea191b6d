package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"budgetflow/internal/core"
	"budgetflow/internal/log"
)

// requestInfo is shared by every layer of one request. The auth layer fills
// in userID so the access log can report it.
type requestInfo struct {
	requestID string
	clientIP  string
	userID    string
}

type requestInfoKey struct{}

func infoFrom(ctx context.Context) *requestInfo {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		return info
	}
	return &requestInfo{}
}

// userFrom returns the authenticated caller, or "" outside authed routes.
func userFrom(ctx context.Context) string {
	return infoFrom(ctx).userID
}

// observe adds security headers, a request-scoped logger, panic recovery
// and the access log line.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{
			requestID: generateRequestID(),
			clientIP:  extractClientIP(r),
		}

		logger := s.logger.With(log.FieldRequestID, info.requestID)
		ctx := context.WithValue(r.Context(), requestInfoKey{}, info)
		ctx = log.IntoContext(ctx, logger)
		r = r.WithContext(ctx)

		if rule := detectSuspiciousRequest(r, s.metrics); rule != "" {
			logger.WarnContext(ctx, "Suspicious request",
				"rule", rule,
				log.FieldClientIP, info.clientIP,
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
		}

		applySecurityHeaders(w.Header())
		w.Header().Set("X-Request-ID", info.requestID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		defer func() {
			if p := recover(); p != nil {
				logger.ErrorContext(ctx, "Handler panicked", "panic", p, log.FieldPath, r.URL.Path)
				if !rw.wroteHeader {
					writeError(rw, r, errInternal)
				}
			}
			s.access.LogHTTPEnd(ctx, r, rw.statusCode, time.Since(start).Milliseconds(), info.clientIP, info.userID)
		}()

		s.access.LogHTTPStart(ctx, r, info.clientIP)
		next.ServeHTTP(rw, r)
	})
}

// authed rejects requests without a valid bearer token and records the
// caller on the request.
func (s *Server) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.auth.verify(r.Header.Get("Authorization"))
		if err != nil {
			log.FromContext(r.Context()).WithComponent(log.ComponentAuth).
				DebugContext(r.Context(), "Rejected bearer token", log.FieldError, err)
			writeError(w, r, err)
			return
		}
		info := infoFrom(r.Context())
		info.userID = userID

		ctx := log.IntoContext(r.Context(), log.FromContext(r.Context()).WithUser(userID))
		next(w, r.WithContext(ctx))
	})
}

// rateLimited must run inside authed; limits are per user.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userFrom(r.Context())
		if userID == "" {
			writeError(w, r, core.ErrUnauthenticated)
			return
		}
		if !s.syncLimiter.allow(userID, s.metrics) {
			log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).
				WarnContext(r.Context(), "Sync rate limit exceeded", log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(s.syncLimiter.retryAfterSeconds()))
			NewJSONResponse().
				Status(http.StatusTooManyRequests).
				Data(errorBody{Error: "too many sync requests, try again later", Code: "rate_limited"}).
				Write(w)
			return
		}
		next(w, r)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
