package feed

import (
	"strings"

	"budgetflow/internal/core"
)

const unknownDescription = "Unknown transaction"

type categoryMapping struct {
	category string
	tier     core.Tier
}

// primaryCategories maps the feed's primary category onto ours so that
// most synced records never reach the classifier.
var primaryCategories = map[string]categoryMapping{
	"INCOME":                    {core.CategoryIncome, core.TierSavings},
	"TRANSFER_IN":               {core.CategoryIncome, core.TierSavings},
	"TRANSFER_OUT":              {core.CategorySavings, core.TierSavings},
	"LOAN_PAYMENTS":             {core.CategoryBills, core.TierNeed},
	"RENT_AND_UTILITIES":        {core.CategoryHousing, core.TierNeed},
	"TRANSPORTATION":            {core.CategoryTransport, core.TierNeed},
	"FOOD_AND_DRINK":            {core.CategoryFood, core.TierNeed},
	"MEDICAL":                   {core.CategoryHealthcare, core.TierNeed},
	"GENERAL_MERCHANDISE":       {core.CategoryShopping, core.TierWant},
	"ENTERTAINMENT":             {core.CategoryEntertainment, core.TierWant},
	"PERSONAL_CARE":             {core.CategoryPersonalCare, core.TierWant},
	"GENERAL_SERVICES":          {core.CategoryBills, core.TierNeed},
	"TRAVEL":                    {core.CategoryTravel, core.TierWant},
	"HOME_IMPROVEMENT":          {core.CategoryHousing, core.TierNeed},
	"GOVERNMENT_AND_NON_PROFIT": {core.CategoryGifts, core.TierWant},
	"BANK_FEES":                 {core.CategoryFees, core.TierNeed},
}

// MapCategory translates a feed primary category. ok is false for
// categories the table does not know.
func MapCategory(primary string) (category string, tier core.Tier, ok bool) {
	m, ok := primaryCategories[strings.ToUpper(strings.TrimSpace(primary))]
	if !ok {
		return "", "", false
	}
	return m.category, m.tier, true
}

// MapRecord converts a feed record into a transaction owned by userID.
// The amount sign is inverted and the feed category, when known, is
// applied as the classification.
func MapRecord(r Record, userID, connectionID string) core.Transaction {
	tx := core.Transaction{
		UserID:           userID,
		Amount:           -r.Amount,
		Date:             r.Date,
		Description:      Description(r),
		Merchant:         Merchant(r),
		ExternalID:       r.TransactionID,
		BankConnectionID: connectionID,
		Source:           core.SourceOpenBanking,
	}
	if category, tier, ok := MapCategory(r.CategoryPrimary); ok {
		tx.Category = category
		tx.NecessityScore = core.ScorePtr(tier.Score())
	}
	return tx
}

// Patch extracts the fields a "modified" event may change.
func Patch(r Record) core.TransactionPatch {
	return core.TransactionPatch{
		Amount:      -r.Amount,
		Description: Description(r),
		Merchant:    Merchant(r),
		Date:        r.Date,
	}
}

func Description(r Record) string {
	if s := strings.TrimSpace(r.Name); s != "" {
		return s
	}
	if s := strings.TrimSpace(r.OriginalDescription); s != "" {
		return s
	}
	return unknownDescription
}

func Merchant(r Record) string {
	if s := strings.TrimSpace(r.MerchantName); s != "" {
		return s
	}
	return strings.TrimSpace(r.Counterparty)
}
