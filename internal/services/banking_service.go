package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"budgetflow/internal/core"
	"budgetflow/internal/feed"
	"budgetflow/internal/ports"
)

// ErrQueueUnavailable is returned when an asynchronous sync is requested
// but no message broker is configured.
var ErrQueueUnavailable = errors.New("sync queue not configured")

// SyncRequester enqueues a sync for background processing.
type SyncRequester interface {
	PublishSyncRequest(ctx context.Context, userID, connectionID string) error
}

type BankingConfig struct {
	// MaxConnections caps bank connections per user; 0 means unlimited.
	MaxConnections int

	// ConsentDays is how long a new connection's consent lasts (default: 90)
	ConsentDays int

	// ConsentWarning flags connections whose consent ends within this window (default: 7 days)
	ConsentWarning time.Duration
}

func DefaultBankingConfig() BankingConfig {
	return BankingConfig{
		MaxConnections: 0,
		ConsentDays:    90,
		ConsentWarning: 7 * 24 * time.Hour,
	}
}

// ExchangeRequest is the result of a completed link flow.
type ExchangeRequest struct {
	PublicToken     string
	InstitutionID   string
	InstitutionName string
}

// ConnectionView is a bank connection without its access token.
type ConnectionView struct {
	ID                  string                `json:"id"`
	InstitutionID       string                `json:"institutionId"`
	InstitutionName     string                `json:"institutionName"`
	AccountIDs          []string              `json:"accountIds"`
	Status              core.ConnectionStatus `json:"status"`
	LastSyncedAt        *time.Time            `json:"lastSyncedAt"`
	ConsentExpiresAt    time.Time             `json:"consentExpiresAt"`
	ConsentExpiringSoon bool                  `json:"consentExpiringSoon"`
	CreatedAt           time.Time             `json:"createdAt"`
}

// BankingService manages the lifecycle of bank connections.
type BankingService struct {
	store      ports.Store
	feed       feed.Feed
	reconciler *Reconciler
	requester  SyncRequester
	config     BankingConfig
	now        func() time.Time
}

// NewBankingService wires the service. requester may be nil, which
// disables RequestSync.
func NewBankingService(store ports.Store, f feed.Feed, reconciler *Reconciler, requester SyncRequester, config BankingConfig) *BankingService {
	if config.ConsentDays <= 0 {
		config.ConsentDays = DefaultBankingConfig().ConsentDays
	}
	if config.ConsentWarning <= 0 {
		config.ConsentWarning = DefaultBankingConfig().ConsentWarning
	}
	return &BankingService{
		store:      store,
		feed:       f,
		reconciler: reconciler,
		requester:  requester,
		config:     config,
		now:        time.Now,
	}
}

func (s *BankingService) CreateLinkToken(ctx context.Context, userID, redirectURI string) (string, error) {
	if userID == "" {
		return "", core.ErrUnauthenticated
	}
	token, err := s.feed.CreateLinkSession(ctx, userID, feed.LinkOptions{RedirectURI: redirectURI})
	if err != nil {
		return "", upstreamError("create link session", err)
	}
	return token, nil
}

// ExchangeToken finishes the link flow and stores the new connection.
func (s *BankingService) ExchangeToken(ctx context.Context, userID string, req ExchangeRequest) (ConnectionView, error) {
	if userID == "" {
		return ConnectionView{}, core.ErrUnauthenticated
	}
	if strings.TrimSpace(req.PublicToken) == "" {
		return ConnectionView{}, fmt.Errorf("%w: public token is required", core.ErrValidation)
	}

	if s.config.MaxConnections > 0 {
		n, err := s.store.CountConnections(ctx, userID)
		if err != nil {
			return ConnectionView{}, fmt.Errorf("count connections: %w", err)
		}
		if n >= s.config.MaxConnections {
			return ConnectionView{}, fmt.Errorf("%w: at most %d bank connections", core.ErrConnectionLimit, s.config.MaxConnections)
		}
	}

	ex, err := s.feed.ExchangeToken(ctx, req.PublicToken)
	if err != nil {
		return ConnectionView{}, upstreamError("exchange public token", err)
	}

	now := s.now()
	conn, err := s.store.CreateConnection(ctx, core.BankConnection{
		ID:               newID(),
		UserID:           userID,
		ExternalItemID:   ex.ItemID,
		AccessToken:      ex.AccessToken,
		InstitutionID:    req.InstitutionID,
		InstitutionName:  req.InstitutionName,
		AccountIDs:       ex.AccountIDs,
		Status:           core.ConnectionActive,
		ConsentExpiresAt: now.AddDate(0, 0, s.config.ConsentDays).UTC(),
	})
	if err != nil {
		return ConnectionView{}, fmt.Errorf("save connection: %w", err)
	}
	return s.view(conn), nil
}

func (s *BankingService) ListConnections(ctx context.Context, userID string) ([]ConnectionView, error) {
	if userID == "" {
		return nil, core.ErrUnauthenticated
	}
	conns, err := s.store.ListConnections(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	views := make([]ConnectionView, 0, len(conns))
	for _, c := range conns {
		views = append(views, s.view(c))
	}
	return views, nil
}

func (s *BankingService) ConnectionStatus(ctx context.Context, userID, connectionID string) (ConnectionView, error) {
	conn, err := s.connection(ctx, userID, connectionID)
	if err != nil {
		return ConnectionView{}, err
	}
	return s.view(conn), nil
}

// RemoveConnection revokes the item upstream on a best-effort basis and
// deletes it locally. Synced transactions are kept.
func (s *BankingService) RemoveConnection(ctx context.Context, userID, connectionID string) error {
	conn, err := s.connection(ctx, userID, connectionID)
	if err != nil {
		return err
	}
	if err := s.feed.Revoke(ctx, conn.AccessToken); err != nil {
		slog.WarnContext(ctx, "Failed to revoke bank item, deleting locally anyway",
			"connection_id", conn.ID,
			"error", err)
	}
	if err := s.store.DeleteConnection(ctx, userID, conn.ID); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

// CreateUpdateLinkToken starts a re-authentication link flow for an
// existing connection.
func (s *BankingService) CreateUpdateLinkToken(ctx context.Context, userID, connectionID, redirectURI string) (string, error) {
	conn, err := s.connection(ctx, userID, connectionID)
	if err != nil {
		return "", err
	}
	token, err := s.feed.CreateLinkSession(ctx, userID, feed.LinkOptions{
		RedirectURI: redirectURI,
		AccessToken: conn.AccessToken,
	})
	if err != nil {
		return "", upstreamError("create update link session", err)
	}
	return token, nil
}

// MarkReauthenticated reactivates a connection after the update link flow.
func (s *BankingService) MarkReauthenticated(ctx context.Context, userID, connectionID string) (ConnectionView, error) {
	conn, err := s.connection(ctx, userID, connectionID)
	if err != nil {
		return ConnectionView{}, err
	}
	if err := s.store.SetConnectionStatus(ctx, conn.ID, core.ConnectionActive); err != nil {
		return ConnectionView{}, fmt.Errorf("reactivate connection: %w", err)
	}
	conn.Status = core.ConnectionActive
	slog.InfoContext(ctx, "Bank connection re-authenticated", "connection_id", conn.ID)
	return s.view(conn), nil
}

func (s *BankingService) SyncConnection(ctx context.Context, userID, connectionID string) (SyncResult, error) {
	return s.reconciler.Sync(ctx, userID, connectionID)
}

func (s *BankingService) SyncAll(ctx context.Context, userID string) ([]SyncOutcome, error) {
	return s.reconciler.SyncAll(ctx, userID)
}

// RequestSync queues a sync instead of running it inline. An empty
// connectionID asks for every connection of the user.
func (s *BankingService) RequestSync(ctx context.Context, userID, connectionID string) error {
	if userID == "" {
		return core.ErrUnauthenticated
	}
	if s.requester == nil {
		return ErrQueueUnavailable
	}
	if connectionID != "" {
		if _, err := s.connection(ctx, userID, connectionID); err != nil {
			return err
		}
	}
	if err := s.requester.PublishSyncRequest(ctx, userID, connectionID); err != nil {
		return fmt.Errorf("publish sync request: %w", err)
	}
	return nil
}

func (s *BankingService) connection(ctx context.Context, userID, connectionID string) (core.BankConnection, error) {
	if userID == "" {
		return core.BankConnection{}, core.ErrUnauthenticated
	}
	conn, err := s.store.GetConnection(ctx, userID, connectionID)
	if err != nil {
		return core.BankConnection{}, fmt.Errorf("load connection: %w", err)
	}
	return conn, nil
}

func (s *BankingService) view(c core.BankConnection) ConnectionView {
	return ConnectionView{
		ID:                  c.ID,
		InstitutionID:       c.InstitutionID,
		InstitutionName:     c.InstitutionName,
		AccountIDs:          c.AccountIDs,
		Status:              c.Status,
		LastSyncedAt:        c.LastSyncedAt,
		ConsentExpiresAt:    c.ConsentExpiresAt,
		ConsentExpiringSoon: c.ConsentExpiringSoon(s.now(), s.config.ConsentWarning),
		CreatedAt:           c.CreatedAt,
	}
}

func newID() string {
	return uuid.NewString()
}
