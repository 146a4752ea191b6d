package classify

import (
	"context"
	"strings"
	"unicode"

	"budgetflow/internal/core"
)

type rule struct {
	keywords   []string
	category   string
	tier       core.Tier
	confidence float64
}

// Keywords match whole words of the lower-cased description and may span
// several words. A leading or trailing '*' lets the word continue on that
// side, so "*gym" matches "puregym" and "book*" matches "books".
//
// Order matters: the first rule with a matching keyword wins.
var defaultRules = []rule{
	{[]string{"rent", "mortgage", "landlord"}, core.CategoryHousing, core.TierNeed, 0.95},
	{[]string{"electric*", "gas bill", "british gas", "water bill", "council tax", "utility", "utilities"}, core.CategoryHousing, core.TierNeed, 0.9},
	{[]string{"petrol", "fuel", "shell", "bp", "esso"}, core.CategoryTransport, core.TierNeed, 0.9},
	{[]string{"uber eats", "deliveroo", "just eat"}, core.CategoryDining, core.TierWant, 0.85},
	{[]string{"uber", "lyft", "taxi", "cab"}, core.CategoryTransport, core.TierWant, 0.85},
	{[]string{"train*", "bus", "tfl", "metro", "parking"}, core.CategoryTransport, core.TierNeed, 0.85},
	{[]string{"tesco", "sainsbury*", "asda", "morrisons", "lidl", "aldi", "waitrose", "grocer*", "supermarket"}, core.CategoryFood, core.TierNeed, 0.9},
	{[]string{"restaurant", "cafe", "coffee", "starbucks", "costa", "pret", "mcdonald*", "kfc", "nando*", "pizza"}, core.CategoryDining, core.TierWant, 0.85},
	{[]string{"pharmacy", "chemist", "boots", "doctor", "hospital", "dental", "dentist", "medical", "nhs"}, core.CategoryHealthcare, core.TierNeed, 0.9},
	{[]string{"netflix", "spotify", "disney*", "amazon prime", "cinema", "theatre", "concert", "game*", "playstation", "xbox", "steam"}, core.CategoryEntertainment, core.TierWant, 0.9},
	{[]string{"amazon", "ebay", "john lewis", "marks spencer", "primark", "zara", "asos", "clothing", "shoes"}, core.CategoryShopping, core.TierWant, 0.8},
	{[]string{"*gym", "fitness", "salon", "haircut", "barber*", "spa", "beauty"}, core.CategoryPersonalCare, core.TierWant, 0.85},
	{[]string{"phone", "mobile", "vodafone", "ee", "o2", "three", "broadband", "internet", "bt", "sky", "virgin media", "subscription"}, core.CategoryBills, core.TierNeed, 0.85},
	{[]string{"savings", "investment*", "isa", "pension", "vanguard", "trading 212"}, core.CategorySavings, core.TierSavings, 0.9},
	{[]string{"fee", "fees", "charge*", "interest", "overdraft", "atm"}, core.CategoryFees, core.TierNeed, 0.8},
	{[]string{"flight*", "airline*", "hotel*", "airbnb", "booking com", "expedia", "holiday"}, core.CategoryTravel, core.TierWant, 0.85},
	{[]string{"gift*", "donation", "charity", "present"}, core.CategoryGifts, core.TierWant, 0.8},
	{[]string{"university", "college", "course", "tuition", "udemy", "coursera", "book*"}, core.CategoryEducation, core.TierWant, 0.8},
}

const incomeConfidence = 0.9

// Rules classifies by case-insensitive keyword match on the description.
// Positive amounts are always income.
type Rules struct {
	rules []rule
}

func NewRules() *Rules {
	return &Rules{rules: defaultRules}
}

func (r *Rules) Classify(_ context.Context, in Input) (Result, error) {
	return r.match(in), nil
}

func (r *Rules) ClassifyBatch(_ context.Context, ins []Input) ([]Result, error) {
	out := make([]Result, len(ins))
	for i, in := range ins {
		out[i] = r.match(in)
	}
	return out, nil
}

func (r *Rules) match(in Input) Result {
	if in.Amount > 0 {
		return Result{Category: core.CategoryIncome, NecessityType: core.TierSavings, Confidence: incomeConfidence}
	}
	words := normalize(in.Description)
	for _, rl := range r.rules {
		for _, kw := range rl.keywords {
			if matchKeyword(words, kw) {
				return Result{Category: rl.category, NecessityType: rl.tier, Confidence: rl.confidence}
			}
		}
	}
	return Fallback()
}

// normalize lower-cases s and turns every run of non-alphanumerics into a
// single space, padded on both ends: "NETFLIX.COM" becomes " netflix com ".
func normalize(s string) string {
	var b strings.Builder
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

func matchKeyword(words, kw string) bool {
	loosePrefix := strings.HasPrefix(kw, "*")
	looseSuffix := strings.HasSuffix(kw, "*")
	kw = strings.Trim(kw, "*")
	if !loosePrefix {
		kw = " " + kw
	}
	if !looseSuffix {
		kw += " "
	}
	return strings.Contains(words, kw)
}
