package core

import (
	"errors"
	"math"
	"strings"
	"time"
)

const (
	SourceCSV         Source = "csv"
	SourceOpenBanking Source = "open_banking"
	SourceManual      Source = "manual"
)

const (
	ConnectionActive         ConnectionStatus = "active"
	ConnectionError          ConnectionStatus = "error"
	ConnectionRequiresReauth ConnectionStatus = "requires_reauth"
)

type (
	Source           string
	ConnectionStatus string

	// Transaction is a single financial event. Positive amounts are income,
	// negative amounts are expenses.
	Transaction struct {
		ID               string
		UserID           string
		Amount           float64
		Date             time.Time
		Description      string
		Merchant         string
		Category         string   // label assigned by the classifier or an import mapping
		NecessityScore   *float64 // nil when unclassified
		ExternalID       string   // bank feed identifier, empty for manual and CSV entries
		BankConnectionID string
		Source           Source
		Notes            string
		CreatedAt        time.Time
		UpdatedAt        time.Time
	}

	// TransactionPatch carries the fields a feed "modified" event may change.
	// Classification fields are not part of it.
	TransactionPatch struct {
		Amount      float64
		Description string
		Merchant    string
		Date        time.Time
	}

	// TransactionEdit is a user's change to a stored transaction. Nil fields
	// are left as they are.
	TransactionEdit struct {
		Amount         *float64
		Date           *time.Time
		Description    *string
		Merchant       *string
		Category       *string
		NecessityScore *float64
		Notes          *string
	}

	BudgetAllocation struct {
		UserID         string
		Month          int // 1-12
		Year           int
		NeedsPercent   float64
		WantsPercent   float64
		SavingsPercent float64
		TotalIncome    float64
		UpdatedAt      time.Time
	}

	BankConnection struct {
		ID               string
		UserID           string
		ExternalItemID   string
		AccessToken      string
		InstitutionID    string
		InstitutionName  string
		AccountIDs       []string
		Status           ConnectionStatus
		Cursor           string // empty means full resync
		ConsentExpiresAt time.Time
		LastSyncedAt     *time.Time
		CreatedAt        time.Time
		UpdatedAt        time.Time
	}
)

// Allocation percentages must sum to 100 within this tolerance.
const AllocationTolerance = 0.01

var (
	ErrEmptyDescription = errors.New("empty description")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidSource    = errors.New("invalid source")
	ErrInvalidScore     = errors.New("necessity score out of range")
	ErrInvalidTier      = errors.New("unknown necessity type")
	ErrInvalidMonth     = errors.New("invalid month")
)

// DefaultAllocation returns the 50/30/20 split for a user and month.
func DefaultAllocation(userID string, month, year int) BudgetAllocation {
	return BudgetAllocation{
		UserID:         userID,
		Month:          month,
		Year:           year,
		NeedsPercent:   50,
		WantsPercent:   30,
		SavingsPercent: 20,
	}
}

func (s Source) IsValid() bool {
	switch s {
	case SourceCSV, SourceOpenBanking, SourceManual:
		return true
	default:
		return false
	}
}

func (s ConnectionStatus) IsValid() bool {
	switch s {
	case ConnectionActive, ConnectionError, ConnectionRequiresReauth:
		return true
	default:
		return false
	}
}

func (e TransactionEdit) IsEmpty() bool {
	return e.Amount == nil && e.Date == nil && e.Description == nil && e.Merchant == nil &&
		e.Category == nil && e.NecessityScore == nil && e.Notes == nil
}

// Apply returns t with the edit applied. A new category without a score
// drops the old score so the tier follows the category.
func (e TransactionEdit) Apply(t Transaction) Transaction {
	if e.Amount != nil {
		t.Amount = *e.Amount
	}
	if e.Date != nil {
		t.Date = *e.Date
	}
	if e.Description != nil {
		t.Description = *e.Description
	}
	if e.Merchant != nil {
		t.Merchant = *e.Merchant
	}
	if e.Notes != nil {
		t.Notes = *e.Notes
	}
	if e.Category != nil && *e.Category != t.Category {
		t.Category = *e.Category
		t.NecessityScore = nil
	}
	if e.NecessityScore != nil {
		t.NecessityScore = ScorePtr(*e.NecessityScore)
	}
	return t
}

// IsExpense reports whether the transaction is money leaving the account.
func (t Transaction) IsExpense() bool {
	return t.Amount < 0
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.Description) == "" {
		return ErrEmptyDescription
	}
	if len(t.Description) > 500 {
		return errors.New("description too long (max 500 characters)")
	}
	if math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) {
		return ErrInvalidAmount
	}
	if t.Date.IsZero() {
		return ErrInvalidDate
	}
	if t.Source != "" && !t.Source.IsValid() {
		return ErrInvalidSource
	}
	if t.NecessityScore != nil {
		if s := *t.NecessityScore; s < 0 || s > 1 || math.IsNaN(s) {
			return ErrInvalidScore
		}
	}
	return nil
}

func (a BudgetAllocation) Validate() error {
	if a.Month < 1 || a.Month > 12 {
		return ErrInvalidMonth
	}
	if a.Year < 1970 || a.Year > 9999 {
		return errors.New("invalid year")
	}
	for _, p := range []float64{a.NeedsPercent, a.WantsPercent, a.SavingsPercent} {
		if p < 0 || p > 100 {
			return errors.New("percentages must be between 0 and 100")
		}
	}
	sum := a.NeedsPercent + a.WantsPercent + a.SavingsPercent
	if math.Abs(sum-100) > AllocationTolerance {
		return errors.New("percentages must sum to 100")
	}
	if a.TotalIncome < 0 {
		return errors.New("total income cannot be negative")
	}
	return nil
}

// ConsentExpiringSoon reports whether consent lapses within the window.
func (c BankConnection) ConsentExpiringSoon(now time.Time, window time.Duration) bool {
	if c.ConsentExpiresAt.IsZero() {
		return false
	}
	return c.ConsentExpiresAt.Sub(now) <= window
}

// MonthBounds returns the first and last instant of a calendar month in UTC.
func MonthBounds(year, month int) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return start, end
}
