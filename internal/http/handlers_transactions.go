package http

import (
	"fmt"
	"net/http"
	"time"

	"budgetflow/internal/core"
)

type transactionView struct {
	ID               string      `json:"id"`
	Amount           float64     `json:"amount"`
	Date             string      `json:"date"`
	Description      string      `json:"description"`
	Merchant         string      `json:"merchant,omitempty"`
	Category         string      `json:"category,omitempty"`
	NecessityScore   *float64    `json:"necessityScore"`
	Tier             core.Tier   `json:"tier,omitempty"`
	ExternalID       string      `json:"externalId,omitempty"`
	BankConnectionID string      `json:"bankConnectionId,omitempty"`
	Source           core.Source `json:"source"`
	Notes            string      `json:"notes,omitempty"`
}

func newTransactionView(tx core.Transaction) transactionView {
	v := transactionView{
		ID:               tx.ID,
		Amount:           tx.Amount,
		Date:             tx.Date.UTC().Format(dateLayout),
		Description:      tx.Description,
		Merchant:         tx.Merchant,
		Category:         tx.Category,
		NecessityScore:   tx.NecessityScore,
		ExternalID:       tx.ExternalID,
		BankConnectionID: tx.BankConnectionID,
		Source:           tx.Source,
		Notes:            tx.Notes,
	}
	if tx.IsExpense() {
		v.Tier = tx.Tier()
	}
	return v
}

func newTransactionViews(txs []core.Transaction) []transactionView {
	out := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		out = append(out, newTransactionView(tx))
	}
	return out
}

type importTransaction struct {
	Amount         Amount   `json:"amount"`
	Date           string   `json:"date"`
	Description    string   `json:"description"`
	Merchant       string   `json:"merchant"`
	Category       string   `json:"category"`
	NecessityScore *float64 `json:"necessityScore"`
	NecessityType  string   `json:"necessityType"`
	ExternalID     string   `json:"externalId"`
	Source         string   `json:"source"`
	Notes          string   `json:"notes"`
}

type updateTransactionRequest struct {
	Amount         *Amount  `json:"amount"`
	Date           *string  `json:"date"`
	Description    *string  `json:"description"`
	Merchant       *string  `json:"merchant"`
	Category       *string  `json:"category"`
	NecessityScore *float64 `json:"necessityScore"`
	NecessityType  string   `json:"necessityType"`
	Notes          *string  `json:"notes"`
}

func (req updateTransactionRequest) edit() (core.TransactionEdit, error) {
	score, err := necessityScore(req.NecessityScore, req.NecessityType)
	if err != nil {
		return core.TransactionEdit{}, err
	}
	e := core.TransactionEdit{
		Description:    sanitizePtr(req.Description),
		Merchant:       sanitizePtr(req.Merchant),
		Category:       sanitizePtr(req.Category),
		NecessityScore: score,
		Notes:          sanitizePtr(req.Notes),
	}
	if req.Amount != nil {
		v := float64(*req.Amount)
		e.Amount = &v
	}
	if req.Date != nil {
		d, err := parseDate(*req.Date)
		if err != nil {
			return core.TransactionEdit{}, err
		}
		e.Date = &d
	}
	return e, nil
}

type importRequest struct {
	Transactions []importTransaction `json:"transactions"`
}

type classifyRequest struct {
	IDs []string `json:"ids"`
}

// handleListTransactions defaults to the current month when no range is given.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var start, end time.Time
	if query.Get("start") == "" && query.Get("end") == "" {
		now := time.Now().UTC()
		start, end = core.MonthBounds(now.Year(), int(now.Month()))
	} else {
		var err error
		if start, end, err = ParseDateRange(query); err != nil {
			writeError(w, r, err)
			return
		}
	}

	txs, err := s.transactions.List(r.Context(), userFrom(r.Context()), start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(newTransactionViews(txs)).Write(w)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	txs := make([]core.Transaction, 0, len(req.Transactions))
	for i, in := range req.Transactions {
		date, err := parseDate(in.Date)
		if err != nil {
			writeError(w, r, fmt.Errorf("transaction %d: %w", i, err))
			return
		}
		score, err := necessityScore(in.NecessityScore, in.NecessityType)
		if err != nil {
			writeError(w, r, fmt.Errorf("transaction %d: %w", i, err))
			return
		}
		txs = append(txs, core.Transaction{
			Amount:         float64(in.Amount),
			Date:           date,
			Description:    sanitizeInput(in.Description),
			Merchant:       sanitizeInput(in.Merchant),
			Category:       sanitizeInput(in.Category),
			NecessityScore: score,
			ExternalID:     sanitizeInput(in.ExternalID),
			Source:         core.Source(sanitizeInput(in.Source)),
			Notes:          sanitizeInput(in.Notes),
		})
	}

	res, err := s.transactions.Import(r.Context(), userFrom(r.Context()), txs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(res).Write(w)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	txs, err := s.transactions.Classify(r.Context(), userFrom(r.Context()), req.IDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(newTransactionViews(txs)).Write(w)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.transactions.Get(r.Context(), userFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(newTransactionView(tx)).Write(w)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req updateTransactionRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	edit, err := req.edit()
	if err != nil {
		writeError(w, r, err)
		return
	}
	tx, err := s.transactions.Update(r.Context(), userFrom(r.Context()), r.PathValue("id"), edit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(newTransactionView(tx)).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.transactions.Delete(r.Context(), userFrom(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
