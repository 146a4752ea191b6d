package backend

import (
	"testing"

	"budgetflow/internal/config"
	feedmemory "budgetflow/internal/feed/memory"
	"budgetflow/internal/feed/plaid"
)

func TestOpenFeed(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *config.Config
		wantPlaid bool
		wantErr   bool
	}{
		{name: "nil config", cfg: nil, wantErr: true},
		{name: "memory", cfg: &config.Config{FeedProvider: "memory"}},
		{name: "plaid", cfg: &config.Config{FeedProvider: "plaid", PlaidClientID: "id", PlaidSecret: "s", PlaidEnv: "sandbox"}, wantPlaid: true},
		{name: "plaid without credentials", cfg: &config.Config{FeedProvider: "plaid", PlaidEnv: "sandbox"}, wantErr: true},
		{name: "unknown provider", cfg: &config.Config{FeedProvider: "teller"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := OpenFeed(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("OpenFeed() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if f != nil {
					t.Errorf("OpenFeed() = %T, want nil on error", f)
				}
				return
			}
			switch f.(type) {
			case *plaid.Client:
				if !tt.wantPlaid {
					t.Errorf("OpenFeed() = %T, want memory feed", f)
				}
			case *feedmemory.Feed:
				if tt.wantPlaid {
					t.Errorf("OpenFeed() = %T, want plaid client", f)
				}
			default:
				t.Errorf("OpenFeed() = %T", f)
			}
		})
	}
}
