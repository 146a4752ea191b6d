// Package classify assigns a category and necessity tier to transactions.
//
// Two strategies implement Classifier: Rules, a deterministic keyword table,
// and Gemini, a prompted LLM call. The strategy is chosen once at
// construction time by New.
package classify

import (
	"context"
	"fmt"
	"log/slog"

	"budgetflow/internal/core"
)

// Classifier labels transactions. ClassifyBatch returns one result per
// input, in input order.
type Classifier interface {
	Classify(ctx context.Context, in Input) (Result, error)
	ClassifyBatch(ctx context.Context, ins []Input) ([]Result, error)
}

type Input struct {
	Description string
	Amount      float64
	Merchant    string
}

type Result struct {
	Category      string    `json:"category"`
	NecessityType core.Tier `json:"necessityType"`
	Confidence    float64   `json:"confidence"`
}

// Score is the necessity score persisted for the result's tier.
func (r Result) Score() float64 {
	return r.NecessityType.Score()
}

// Fallback is used whenever a classification cannot be parsed.
func Fallback() Result {
	return Result{Category: core.CategoryOther, NecessityType: core.TierWant, Confidence: 0.5}
}

// InputFor builds a classifier input from a transaction.
func InputFor(tx core.Transaction) Input {
	return Input{Description: tx.Description, Amount: tx.Amount, Merchant: tx.Merchant}
}

type Mode string

const (
	ModeRules Mode = "rules"
	ModeLLM   Mode = "llm"
)

func (m Mode) IsValid() bool {
	return m == ModeRules || m == ModeLLM
}

type Config struct {
	Mode   Mode
	APIKey string
	Model  string
}

// New returns the classifier selected by cfg.Mode.
func New(ctx context.Context, cfg Config) (Classifier, error) {
	switch cfg.Mode {
	case ModeRules, "":
		slog.InfoContext(ctx, "Using keyword rule classifier")
		return NewRules(), nil
	case ModeLLM:
		g, err := NewGemini(ctx, GeminiConfig{APIKey: cfg.APIKey, Model: cfg.Model})
		if err != nil {
			return nil, fmt.Errorf("create gemini classifier: %w", err)
		}
		slog.InfoContext(ctx, "Using Gemini classifier", "model", g.model)
		return g, nil
	default:
		return nil, fmt.Errorf("unknown classifier mode %q", cfg.Mode)
	}
}
