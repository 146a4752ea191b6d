package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"google.golang.org/genai"

	"budgetflow/internal/core"
)

const DefaultGeminiModel = "gemini-2.5-flash"

const singlePrompt = `You are a financial transaction classifier. Analyze the transaction and classify it.

Categories available:
- Housing (rent, mortgage, utilities, home repairs)
- Transportation (gas, car payment, public transit, rideshare, parking)
- Food & Groceries (supermarket, grocery stores)
- Dining & Restaurants (restaurants, fast food, coffee shops, bars)
- Healthcare (medical, dental, pharmacy, health insurance)
- Entertainment (streaming, movies, games, concerts, sports)
- Shopping (clothing, electronics, general retail, Amazon)
- Personal Care (gym, salon, spa, wellness)
- Education (tuition, books, courses, training)
- Bills & Subscriptions (phone, internet, subscriptions)
- Income (salary, freelance, dividends, refunds)
- Savings & Investments (transfers to savings, investments, retirement)
- Fees & Interest (bank fees, interest charges, ATM fees)
- Travel (flights, hotels, vacation expenses)
- Gifts & Donations (charitable giving, gifts)
- Other

Necessity types:
- need: essential spending or required obligations
- want: discretionary spending
- savings: money being set aside

Return ONLY a raw JSON object: {"category": string, "necessityType": "need"|"want"|"savings", "confidence": number between 0 and 1}`

const batchPrompt = `You are a financial transaction classifier. Classify ALL transactions below.

Categories: %s

Necessity types: need, want, savings

Return ONLY a raw JSON object: {"results": [{"index": number, "category": string, "necessityType": "need"|"want"|"savings", "confidence": number}]}`

type GeminiConfig struct {
	APIKey string
	Model  string
}

// generateFunc sends a prompt and returns the raw model text.
type generateFunc func(ctx context.Context, prompt string) (string, error)

// Gemini classifies through the Google Gemini API. A batch is a single
// upstream request.
type Gemini struct {
	model    string
	generate generateFunc
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.2),
		ResponseMIMEType: "application/json",
	}
	return newGemini(model, func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), genCfg)
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	}), nil
}

func newGemini(model string, generate generateFunc) *Gemini {
	return &Gemini{model: model, generate: generate}
}

func (g *Gemini) Classify(ctx context.Context, in Input) (Result, error) {
	raw, err := g.generate(ctx, singlePrompt+"\n\nTransaction:\n"+describe(in))
	if err != nil {
		return Result{}, fmt.Errorf("%w: gemini classify: %w", core.ErrUpstreamFeed, err)
	}
	res, err := parseSingle(raw)
	if err != nil {
		slog.WarnContext(ctx, "Unparseable classification, using fallback", "error", err)
		return Fallback(), nil
	}
	return res, nil
}

func (g *Gemini) ClassifyBatch(ctx context.Context, ins []Input) ([]Result, error) {
	if len(ins) == 0 {
		return []Result{}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, batchPrompt, strings.Join(core.Categories, ", "))
	b.WriteString("\n\nClassify all these transactions:\n")
	for i, in := range ins {
		fmt.Fprintf(&b, "%d. %s\n", i, strings.ReplaceAll(describe(in), "\n", ", "))
	}
	b.WriteString("\nReturn results for each transaction by index.")

	raw, err := g.generate(ctx, b.String())
	if err != nil {
		return nil, fmt.Errorf("%w: gemini classify batch: %w", core.ErrUpstreamFeed, err)
	}

	results, failed := parseBatch(raw, len(ins))
	if failed > 0 {
		slog.WarnContext(ctx, "Some batch classifications fell back",
			"total", len(ins),
			"fallbacks", failed)
	}
	return results, nil
}

func describe(in Input) string {
	kind := "(expense)"
	if in.Amount >= 0 {
		kind = "(income/credit)"
	}
	s := fmt.Sprintf("Description: %q\nAmount: £%.2f %s", in.Description, math.Abs(in.Amount), kind)
	if in.Merchant != "" {
		s += fmt.Sprintf("\nMerchant: %s", in.Merchant)
	}
	return s
}
