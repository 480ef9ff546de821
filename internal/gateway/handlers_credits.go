package gateway

import (
	"net/http"
	"time"

	"github.com/fleetworks/fleetd/internal/store"
)

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	swarmID, err := checkUUID("swarmId", r.PathValue("swarmId"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	handle := r.PathValue("handle")
	if err := checkHandle("handle", handle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	acct, err := s.ledger.Account(r.Context(), swarmID, handle)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, acct)
}

func (s *Server) handleRecordTx(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SwarmID       string  `json:"swarmId"`
		AgentHandle   string  `json:"agentHandle"`
		Type          string  `json:"type"`
		Amount        float64 `json:"amount"`
		ReferenceType string  `json:"referenceType,omitempty"`
		ReferenceID   string  `json:"referenceId,omitempty"`
		Reason        string  `json:"reason,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	swarmID, err := checkUUID("swarmId", req.SwarmID)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkHandle("agentHandle", req.AgentHandle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if !store.ValidTxType(req.Type) {
		s.respondError(w, http.StatusBadRequest, "unknown transaction type "+req.Type, "")
		return
	}
	acct, err := s.ledger.Record(r.Context(), &store.CreditTx{
		SwarmID:       swarmID,
		AgentHandle:   req.AgentHandle,
		Type:          req.Type,
		Amount:        req.Amount,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		Reason:        req.Reason,
	})
	if err != nil {
		if store.IsNotFound(err) || store.IsConflict(err) || store.IsBusy(err) {
			s.respondStoreError(w, err)
			return
		}
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	s.respondJSON(w, http.StatusOK, acct)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SwarmID string  `json:"swarmId"`
		From    string  `json:"from"`
		To      string  `json:"to"`
		Amount  float64 `json:"amount"`
		Reason  string  `json:"reason,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	swarmID, err := checkUUID("swarmId", req.SwarmID)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkHandle("from", req.From); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkHandle("to", req.To); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if req.Amount <= 0 {
		s.respondError(w, http.StatusBadRequest, "amount must be positive", "")
		return
	}
	if err := s.ledger.Transfer(r.Context(), swarmID, req.From, req.To, req.Amount, req.Reason); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondOK(w)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	swarmID, err := checkUUID("swarmId", r.PathValue("swarmId"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	orderBy := r.URL.Query().Get("orderBy")
	if orderBy == "" {
		orderBy = store.LeaderboardByReputation
	}
	limit := queryInt(r, "limit", 20)
	board, err := s.ledger.Leaderboard(r.Context(), swarmID, orderBy, limit)
	if err != nil {
		if store.IsNotFound(err) || store.IsBusy(err) {
			s.respondStoreError(w, err)
			return
		}
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	s.respondJSON(w, http.StatusOK, board)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	swarmID, err := checkUUID("swarmId", r.PathValue("swarmId"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	handle := r.PathValue("handle")
	if err := checkHandle("handle", handle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	limit := queryInt(r, "limit", 50)
	txs, err := s.ledger.Transactions(r.Context(), swarmID, handle, limit)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, txs)
}

func (s *Server) handleDecay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate         float64 `json:"rate"`
		InactivityMs int64   `json:"inactivityMs"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	n, err := s.ledger.Decay(r.Context(), req.Rate, time.Duration(req.InactivityMs)*time.Millisecond)
	if err != nil {
		if store.IsBusy(err) {
			s.respondStoreError(w, err)
			return
		}
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"updated": n})
}
