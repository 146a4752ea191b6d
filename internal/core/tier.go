package core

import (
	"fmt"
	"strings"
)

// Tier is the necessity axis of the 50/30/20 model.
type Tier string

const (
	TierNeed    Tier = "need"
	TierWant    Tier = "want"
	TierSavings Tier = "savings"
)

// Score thresholds. The middle band maps to savings, not want.
const (
	NeedThreshold    = 0.7
	SavingsThreshold = 0.3
)

// Categories known to the classifier and the feed category map.
const (
	CategoryHousing       = "Housing"
	CategoryTransport     = "Transportation"
	CategoryFood          = "Food & Groceries"
	CategoryDining        = "Dining & Restaurants"
	CategoryHealthcare    = "Healthcare"
	CategoryEntertainment = "Entertainment"
	CategoryShopping      = "Shopping"
	CategoryPersonalCare  = "Personal Care"
	CategoryEducation     = "Education"
	CategoryBills         = "Bills & Subscriptions"
	CategoryIncome        = "Income"
	CategorySavings       = "Savings & Investments"
	CategoryFees          = "Fees & Interest"
	CategoryTravel        = "Travel"
	CategoryGifts         = "Gifts & Donations"
	CategoryOther         = "Other"
	CategoryUncategorized = "Uncategorized"
)

// Categories lists every label the classifier may return.
var Categories = []string{
	CategoryHousing,
	CategoryTransport,
	CategoryFood,
	CategoryDining,
	CategoryHealthcare,
	CategoryEntertainment,
	CategoryShopping,
	CategoryPersonalCare,
	CategoryEducation,
	CategoryBills,
	CategoryIncome,
	CategorySavings,
	CategoryFees,
	CategoryTravel,
	CategoryGifts,
	CategoryOther,
}

// categoryTiers is the fallback table used when a transaction has a
// category but no necessity score. Anything not listed is a want.
var categoryTiers = map[string]Tier{
	CategoryHousing:    TierNeed,
	CategoryHealthcare: TierNeed,
	CategoryFood:       TierNeed,
	CategoryTransport:  TierNeed,
	CategoryBills:      TierNeed,
	CategorySavings:    TierSavings,
}

func (t Tier) IsValid() bool {
	switch t {
	case TierNeed, TierWant, TierSavings:
		return true
	default:
		return false
	}
}

// Score returns the numeric necessity score stored for the tier.
func (t Tier) Score() float64 {
	switch t {
	case TierNeed:
		return 1.0
	case TierSavings:
		return 0.5
	default:
		return 0.0
	}
}

// ParseTier reads a tier label, ignoring case and surrounding space.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w %q", ErrInvalidTier, s)
	}
	return t, nil
}

// TierFromScore buckets a necessity score.
func TierFromScore(score float64) Tier {
	switch {
	case score >= NeedThreshold:
		return TierNeed
	case score < SavingsThreshold:
		return TierWant
	default:
		return TierSavings
	}
}

// TierForCategory looks a category up in the fallback table.
func TierForCategory(category string) Tier {
	if t, ok := categoryTiers[category]; ok {
		return t
	}
	return TierWant
}

// ResolveTier picks a tier in priority order: score, then category, then want.
func ResolveTier(score *float64, category string) Tier {
	if score != nil {
		return TierFromScore(*score)
	}
	if category != "" {
		return TierForCategory(category)
	}
	return TierWant
}

// Tier resolves the transaction's necessity tier.
func (t Transaction) Tier() Tier {
	return ResolveTier(t.NecessityScore, t.Category)
}

// ScorePtr is a helper for optional scores.
func ScorePtr(v float64) *float64 {
	return &v
}
