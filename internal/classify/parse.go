package classify

import (
	"encoding/json"
	"fmt"
	"strings"

	"budgetflow/internal/core"
)

type entry struct {
	Index         *int     `json:"index"`
	Category      string   `json:"category"`
	NecessityType string   `json:"necessityType"`
	Confidence    *float64 `json:"confidence"`
}

func (e entry) result() (Result, error) {
	category, ok := canonicalCategory(e.Category)
	if !ok {
		return Result{}, fmt.Errorf("%w: unknown category %q", core.ErrClassificationParse, e.Category)
	}
	tier, err := core.ParseTier(e.NecessityType)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", core.ErrClassificationParse, err)
	}
	confidence := 0.5
	if e.Confidence != nil {
		confidence = min(max(*e.Confidence, 0), 1)
	}
	return Result{Category: category, NecessityType: tier, Confidence: confidence}, nil
}

func canonicalCategory(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, c := range core.Categories {
		if strings.EqualFold(c, s) {
			return c, true
		}
	}
	return "", false
}

func parseSingle(raw string) (Result, error) {
	var e entry
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &e); err != nil {
		return Result{}, fmt.Errorf("%w: %v", core.ErrClassificationParse, err)
	}
	return e.result()
}

// parseBatch aligns a batch response with its n inputs. Entries that are
// missing or malformed get the fallback; failed counts them.
func parseBatch(raw string, n int) (results []Result, failed int) {
	results = make([]Result, n)
	filled := make([]bool, n)
	for i := range results {
		results[i] = Fallback()
	}

	clean := cleanModelJSON(raw)
	var envelope struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal([]byte(clean), &envelope); err != nil {
		// some models answer with a bare array
		if err := json.Unmarshal([]byte(clean), &envelope.Results); err != nil {
			return results, n
		}
	}

	for pos, msg := range envelope.Results {
		var e entry
		if err := json.Unmarshal(msg, &e); err != nil {
			continue
		}
		idx := pos
		if e.Index != nil {
			idx = *e.Index
		}
		if idx < 0 || idx >= n || filled[idx] {
			continue
		}
		res, err := e.result()
		if err != nil {
			continue
		}
		results[idx] = res
		filled[idx] = true
	}

	for _, ok := range filled {
		if !ok {
			failed++
		}
	}
	return results, failed
}

// cleanModelJSON strips Markdown fences and any prose around the JSON value.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}
