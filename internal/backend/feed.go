package backend

import (
	"errors"
	"fmt"
	"log/slog"

	"budgetflow/internal/config"
	"budgetflow/internal/feed"
	feedmemory "budgetflow/internal/feed/memory"
	"budgetflow/internal/feed/plaid"
)

const (
	PlaidFeed  = "plaid"
	MemoryFeed = "memory"
)

// OpenFeed builds the bank feed named by FEED_PROVIDER. The API server and
// the sync worker both go through it so they always talk to the same
// provider.
func OpenFeed(appConfig *config.Config, logger *slog.Logger) (feed.Feed, error) {
	if appConfig == nil {
		return nil, errors.New("app config is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	switch appConfig.FeedProvider {
	case PlaidFeed:
		client, err := plaid.New(plaid.Config{
			ClientID:     appConfig.PlaidClientID,
			Secret:       appConfig.PlaidSecret,
			Environment:  appConfig.PlaidEnv,
			CountryCodes: appConfig.PlaidCountryCodes,
			WebhookURL:   appConfig.PlaidWebhookURL,
		})
		if err != nil {
			return nil, fmt.Errorf("create plaid feed: %w", err)
		}
		logger.Info("Using Plaid feed", "environment", appConfig.PlaidEnv)
		return client, nil
	case MemoryFeed, "":
		// Only knows items seeded through its API; suits demos and local runs.
		logger.Info("Using in-memory feed")
		return feedmemory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported feed provider: %s", appConfig.FeedProvider)
	}
}
