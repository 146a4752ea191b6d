package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"budgetflow/internal/classify"
	"budgetflow/internal/core"
	"budgetflow/internal/ports"
)

// ImportResult reports what happened to an imported batch.
type ImportResult struct {
	Imported   int `json:"imported"`
	Skipped    int `json:"skipped"`
	Classified int `json:"classified"`
}

// TransactionService handles manual and CSV imports and on-demand
// classification.
type TransactionService struct {
	store      ports.Store
	classifier classify.Classifier
}

func NewTransactionService(store ports.Store, classifier classify.Classifier) *TransactionService {
	return &TransactionService{store: store, classifier: classifier}
}

// Import validates and stores txs for the user. Unclassified expenses are
// classified in one batch; if the classifier fails they get the fallback
// label instead of blocking the import. Rows whose external id is already
// stored are skipped.
func (s *TransactionService) Import(ctx context.Context, userID string, txs []core.Transaction) (ImportResult, error) {
	if userID == "" {
		return ImportResult{}, core.ErrUnauthenticated
	}
	if len(txs) == 0 {
		return ImportResult{}, nil
	}

	prepared := make([]core.Transaction, 0, len(txs))
	for i, tx := range txs {
		tx.ID = newID()
		tx.UserID = userID
		tx.BankConnectionID = ""
		if tx.Source == "" {
			tx.Source = core.SourceCSV
		}
		if err := tx.Validate(); err != nil {
			return ImportResult{}, fmt.Errorf("%w: transaction %d: %w", core.ErrValidation, i, err)
		}
		prepared = append(prepared, tx)
	}

	classified := s.classifyImported(ctx, prepared)

	inserted, err := s.store.InsertMany(ctx, prepared)
	if err != nil {
		return ImportResult{}, fmt.Errorf("insert transactions: %w", err)
	}

	result := ImportResult{
		Imported:   inserted,
		Skipped:    len(prepared) - inserted,
		Classified: classified,
	}
	slog.InfoContext(ctx, "Transactions imported",
		"user_id", userID,
		"imported", result.Imported,
		"skipped", result.Skipped,
		"classified", result.Classified)
	return result, nil
}

func (s *TransactionService) classifyImported(ctx context.Context, txs []core.Transaction) int {
	if s.classifier == nil {
		return 0
	}
	var (
		idx    []int
		inputs []classify.Input
	)
	for i, tx := range txs {
		if tx.IsExpense() && tx.Category == "" && tx.NecessityScore == nil {
			idx = append(idx, i)
			inputs = append(inputs, classify.InputFor(tx))
		}
	}
	if len(inputs) == 0 {
		return 0
	}

	results, err := s.classifier.ClassifyBatch(ctx, inputs)
	if err != nil {
		slog.WarnContext(ctx, "Classification failed during import, using fallback",
			"count", len(inputs),
			"error", err)
		results = make([]classify.Result, len(inputs))
		for i := range results {
			results[i] = classify.Fallback()
		}
	}
	for j, i := range idx {
		if j >= len(results) {
			break
		}
		txs[i].Category = results[j].Category
		txs[i].NecessityScore = core.ScorePtr(results[j].Score())
	}
	return len(idx)
}

// Classify runs the classifier over stored transactions and saves the
// resulting category and necessity score.
func (s *TransactionService) Classify(ctx context.Context, userID string, ids []string) ([]core.Transaction, error) {
	if userID == "" {
		return nil, core.ErrUnauthenticated
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no transaction ids given", core.ErrValidation)
	}
	if s.classifier == nil {
		return nil, fmt.Errorf("%w: classifier not configured", core.ErrUpstreamFeed)
	}

	txs, err := s.store.GetByIDs(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("transactions: %w", core.ErrNotFound)
	}

	inputs := make([]classify.Input, len(txs))
	for i, tx := range txs {
		inputs[i] = classify.InputFor(tx)
	}
	results, err := s.classifier.ClassifyBatch(ctx, inputs)
	if err != nil {
		return nil, upstreamError("classify transactions", err)
	}

	err = s.store.InTx(ctx, func(tx ports.Store) error {
		for i := range txs {
			if i >= len(results) {
				break
			}
			score := results[i].Score()
			if err := tx.SetClassification(ctx, userID, txs[i].ID, results[i].Category, score); err != nil {
				return err
			}
			txs[i].Category = results[i].Category
			txs[i].NecessityScore = core.ScorePtr(score)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save classification: %w", err)
	}
	return txs, nil
}

// Get returns one of the user's transactions.
func (s *TransactionService) Get(ctx context.Context, userID, id string) (core.Transaction, error) {
	if userID == "" {
		return core.Transaction{}, core.ErrUnauthenticated
	}
	txs, err := s.store.GetByIDs(ctx, userID, []string{id})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("load transaction: %w", err)
	}
	if len(txs) == 0 {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return txs[0], nil
}

// Update applies a user's edit to a stored transaction and returns the
// result. Feed-owned identity (external id, connection, source) never
// changes; a later "modified" event from the feed may overwrite the
// amount, date, description and merchant again.
func (s *TransactionService) Update(ctx context.Context, userID, id string, edit core.TransactionEdit) (core.Transaction, error) {
	if userID == "" {
		return core.Transaction{}, core.ErrUnauthenticated
	}
	if edit.IsEmpty() {
		return core.Transaction{}, fmt.Errorf("%w: no fields to update", core.ErrValidation)
	}

	var updated core.Transaction
	err := s.store.InTx(ctx, func(tx ports.Store) error {
		txs, err := tx.GetByIDs(ctx, userID, []string{id})
		if err != nil {
			return fmt.Errorf("load transaction: %w", err)
		}
		if len(txs) == 0 {
			return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
		}
		updated = edit.Apply(txs[0])
		if err := updated.Validate(); err != nil {
			return fmt.Errorf("%w: %w", core.ErrValidation, err)
		}
		return tx.UpdateTransaction(ctx, updated)
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction updated",
		"user_id", userID,
		"transaction_id", id,
		"tier", updated.Tier())
	return updated, nil
}

func (s *TransactionService) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return core.ErrUnauthenticated
	}
	if err := s.store.DeleteByID(ctx, userID, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return nil
}

func (s *TransactionService) List(ctx context.Context, userID string, start, end time.Time) ([]core.Transaction, error) {
	if userID == "" {
		return nil, core.ErrUnauthenticated
	}
	if start.After(end) {
		return nil, fmt.Errorf("%w: start date is after end date", core.ErrValidation)
	}
	txs, err := s.store.FindByDateRange(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}
