package http

import (
	"net/http"
	"strconv"

	"budgetflow/internal/services"
)

type linkTokenRequest struct {
	RedirectURI string `json:"redirectUri"`
}

type linkTokenResponse struct {
	LinkToken string `json:"linkToken"`
}

type exchangeRequest struct {
	PublicToken     string `json:"publicToken"`
	InstitutionID   string `json:"institutionId"`
	InstitutionName string `json:"institutionName"`
}

type syncOutcomeView struct {
	ConnectionID string               `json:"connectionId"`
	Result       *services.SyncResult `json:"result,omitempty"`
	Error        string               `json:"error,omitempty"`
	Code         string               `json:"code,omitempty"`
}

type syncAllResponse struct {
	Results   []syncOutcomeView `json:"results"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

type queuedResponse struct {
	Queued       bool   `json:"queued"`
	ConnectionID string `json:"connectionId,omitempty"`
}

// decodeOptional decodes a JSON body when one was sent.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return DecodeJSON(w, r, v)
}

func (s *Server) handleLinkToken(w http.ResponseWriter, r *http.Request) {
	var req linkTokenRequest
	if err := decodeOptional(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	token, err := s.banking.CreateLinkToken(r.Context(), userFrom(r.Context()), sanitizeInput(req.RedirectURI))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(linkTokenResponse{LinkToken: token}).Write(w)
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.banking.ExchangeToken(r.Context(), userFrom(r.Context()), services.ExchangeRequest{
		PublicToken:     sanitizeInput(req.PublicToken),
		InstitutionID:   sanitizeInput(req.InstitutionID),
		InstitutionName: sanitizeInput(req.InstitutionName),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Data(view).Write(w)
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	views, err := s.banking.ListConnections(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(views).Write(w)
}

func (s *Server) handleConnectionStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.banking.ConnectionStatus(r.Context(), userFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(view).Write(w)
}

func (s *Server) handleRemoveConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.banking.RemoveConnection(r.Context(), userFrom(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleReauth(w http.ResponseWriter, r *http.Request) {
	var req linkTokenRequest
	if err := decodeOptional(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	token, err := s.banking.CreateUpdateLinkToken(r.Context(), userFrom(r.Context()), r.PathValue("id"), sanitizeInput(req.RedirectURI))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(linkTokenResponse{LinkToken: token}).Write(w)
}

func (s *Server) handleReauthComplete(w http.ResponseWriter, r *http.Request) {
	view, err := s.banking.MarkReauthenticated(r.Context(), userFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(view).Write(w)
}

func (s *Server) handleSyncConnection(w http.ResponseWriter, r *http.Request) {
	userID, connID := userFrom(r.Context()), r.PathValue("id")
	if wantsAsync(r) {
		s.enqueueSync(w, r, userID, connID)
		return
	}
	res, err := s.banking.SyncConnection(r.Context(), userID, connID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(res).Write(w)
}

// handleSyncAll reports 200 even when some connections failed; each
// failure is in its own result entry.
func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r.Context())
	if wantsAsync(r) {
		s.enqueueSync(w, r, userID, "")
		return
	}
	outcomes, err := s.banking.SyncAll(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := syncAllResponse{Results: make([]syncOutcomeView, 0, len(outcomes))}
	for _, o := range outcomes {
		v := syncOutcomeView{ConnectionID: o.ConnectionID, Result: o.Result}
		if o.Err != nil {
			_, v.Code = errorStatus(o.Err)
			v.Error = o.Err.Error()
			resp.Failed++
		} else {
			resp.Succeeded++
		}
		resp.Results = append(resp.Results, v)
	}
	NewJSONResponse().Data(resp).Write(w)
}

func (s *Server) enqueueSync(w http.ResponseWriter, r *http.Request, userID, connID string) {
	if err := s.banking.RequestSync(r.Context(), userID, connID); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusAccepted).
		Data(queuedResponse{Queued: true, ConnectionID: connID}).
		Write(w)
}

func wantsAsync(r *http.Request) bool {
	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	return async
}
