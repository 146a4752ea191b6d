// Package http exposes the budgeting and bank sync services as a JSON API.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"budgetflow/internal/log"
	"budgetflow/internal/services"
)

// Services are the application services the API fronts.
type Services struct {
	Budget       *services.BudgetService
	Banking      *services.BankingService
	Transactions *services.TransactionService
}

type Options struct {
	// JWTSecret verifies HS256 bearer tokens. Required.
	JWTSecret string
	// SyncRatePerMinute caps sync requests per user (default: 6)
	SyncRatePerMinute int
	Logger            *log.Logger
}

// Server wraps http.Server with the API routes and their background helpers.
type Server struct {
	http.Server

	budget       *services.BudgetService
	banking      *services.BankingService
	transactions *services.TransactionService

	auth         *authenticator
	syncLimiter  *userRateLimiter
	logger       *log.Logger
	access       *log.StructuredLogger
	metrics      *securityMetrics
	shutdownOnce sync.Once
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(addr string, svc Services, opts Options) (*Server, error) {
	if len(opts.JWTSecret) == 0 {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if opts.SyncRatePerMinute <= 0 {
		opts.SyncRatePerMinute = 6
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.FromContext(context.Background()).WithComponent(log.ComponentHTTP)
	}

	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			// inline syncs page through the whole feed
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  120 * time.Second,
		},
		budget:       svc.Budget,
		banking:      svc.Banking,
		transactions: svc.Transactions,
		auth:         newAuthenticator(opts.JWTSecret),
		syncLimiter:  newUserRateLimiter(opts.SyncRatePerMinute),
		logger:       logger,
		access:       log.NewStructuredLogger(logger),
		metrics:      &securityMetrics{},
	}

	mux.HandleFunc("GET /health", handleHealth)

	mux.Handle("GET /api/budget/breakdown", s.authed(s.handleBreakdown))
	mux.Handle("GET /api/budget/allocation", s.authed(s.handleGetAllocation))
	mux.Handle("PUT /api/budget/allocation", s.authed(s.handlePutAllocation))
	mux.Handle("POST /api/budget/progress", s.authed(s.handleProgress))

	mux.Handle("GET /api/analytics/trends", s.authed(s.handleTrends))
	mux.Handle("GET /api/analytics/categories", s.authed(s.handleCategories))
	mux.Handle("GET /api/analytics/monthly", s.authed(s.handleMonthly))

	mux.Handle("POST /api/banking/link-token", s.authed(s.handleLinkToken))
	mux.Handle("POST /api/banking/exchange", s.authed(s.handleExchange))
	mux.Handle("GET /api/banking/connections", s.authed(s.handleListConnections))
	mux.Handle("GET /api/banking/connections/{id}", s.authed(s.handleConnectionStatus))
	mux.Handle("DELETE /api/banking/connections/{id}", s.authed(s.handleRemoveConnection))
	mux.Handle("POST /api/banking/connections/{id}/sync", s.authed(s.rateLimited(s.handleSyncConnection)))
	mux.Handle("POST /api/banking/connections/{id}/reauth", s.authed(s.handleReauth))
	mux.Handle("POST /api/banking/connections/{id}/reauth/complete", s.authed(s.handleReauthComplete))
	mux.Handle("POST /api/banking/sync", s.authed(s.rateLimited(s.handleSyncAll)))

	mux.Handle("GET /api/transactions", s.authed(s.handleListTransactions))
	mux.Handle("POST /api/transactions/import", s.authed(s.handleImport))
	mux.Handle("POST /api/transactions/classify", s.authed(s.handleClassify))
	mux.Handle("GET /api/transactions/{id}", s.authed(s.handleGetTransaction))
	mux.Handle("PATCH /api/transactions/{id}", s.authed(s.handleUpdateTransaction))
	mux.Handle("DELETE /api/transactions/{id}", s.authed(s.handleDeleteTransaction))

	s.Handler = s.observe(mux)
	return s, nil
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.syncLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	NewJSONResponse().Data(map[string]string{"status": "ok"}).Write(w)
}

// generateRequestID creates a unique request ID for tracing
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}
