// Package backend picks the Store implementation named by DATA_BACKEND and
// the bank feed named by FEED_PROVIDER.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"budgetflow/internal/config"
	"budgetflow/internal/ports"
	"budgetflow/internal/storage"
	"budgetflow/internal/storage/memory"
)

// BackendType names a storage implementation.
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) IsValid() bool {
	return bt == SQLiteBackend || bt == MemoryBackend
}

type Config struct {
	Type         BackendType
	SQLiteDBPath string
}

// FromAppConfig extracts the storage settings from the application config.
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, errors.New("app config is nil")
	}
	c := Config{Type: BackendType(appConfig.DataBackend), SQLiteDBPath: appConfig.SQLiteDBPath}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type %q: must be sqlite or memory", c.Type)
	}
	if c.Type == SQLiteBackend && c.SQLiteDBPath == "" {
		return errors.New("SQLite database path is required for sqlite backend")
	}
	return nil
}

// BackendResult is an opened Store. Cleanup is nil when there is nothing to release.
type BackendResult struct {
	Store   ports.Store
	Cleanup func() error
}

// Close runs Cleanup when one is set.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Type == MemoryBackend {
		f.logger.WarnContext(ctx, "Using memory store, data is lost on restart")
		return &BackendResult{Store: memory.New()}, nil
	}

	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	f.logger.InfoContext(ctx, "Using SQLite store", "db_path", config.SQLiteDBPath)
	return &BackendResult{Store: repo, Cleanup: repo.Close}, nil
}

// Open is FromAppConfig followed by CreateBackend on the default factory.
func Open(ctx context.Context, appConfig *config.Config, logger *slog.Logger) (*BackendResult, error) {
	c, err := FromAppConfig(appConfig)
	if err != nil {
		return nil, err
	}
	return NewFactory(logger).CreateBackend(ctx, c)
}
