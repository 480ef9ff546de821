package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/blackboard"
	"github.com/fleetworks/fleetd/internal/store"
)

func (s *Server) handleBlackboardPost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SwarmID      string          `json:"swarmId"`
		MessageType  string          `json:"messageType"`
		Priority     string          `json:"priority,omitempty"`
		Payload      json.RawMessage `json:"payload"`
		TargetHandle string          `json:"targetHandle,omitempty"`
		ExpiresAt    int64           `json:"expiresAt,omitempty"`
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
	if req.TargetHandle != "" {
		if err := checkHandle("targetHandle", req.TargetHandle); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
	}
	if req.Priority == "" {
		req.Priority = store.PriorityNormal
	}

	ac, _ := authFrom(r.Context())
	m := &store.BlackboardMessage{
		SwarmID:      swarmID,
		SenderHandle: ac.Handle,
		MessageType:  req.MessageType,
		Priority:     req.Priority,
		Payload:      req.Payload,
		TargetHandle: req.TargetHandle,
		ExpiresAt:    req.ExpiresAt,
	}
	if err := s.board.Post(r.Context(), m); err != nil {
		if store.IsNotFound(err) || store.IsConflict(err) || store.IsBusy(err) {
			s.respondStoreError(w, err)
			return
		}
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	s.respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleBlackboardRead(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	swarmID, err := checkUUID("swarmId", q.Get("swarmId"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	f := store.BlackboardFilter{
		SwarmID:      swarmID,
		MessageType:  q.Get("messageType"),
		MinPriority:  q.Get("priority"),
		UnreadOnly:   q.Get("unreadOnly") == "true",
		ReaderHandle: q.Get("readerHandle"),
		Limit:        queryInt(r, "limit", 100),
	}
	msgs, err := s.board.Read(r.Context(), f)
	if err != nil {
		if store.IsNotFound(err) || store.IsBusy(err) {
			s.respondStoreError(w, err)
			return
		}
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	s.respondJSON(w, http.StatusOK, msgs)
}

func parseUUIDList(field string, raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, v := range raw {
		id, err := checkUUID(field, v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Server) handleBlackboardMarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageIDs   []string `json:"messageIds"`
		ReaderHandle string   `json:"readerHandle"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkHandle("readerHandle", req.ReaderHandle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	ids, err := parseUUIDList("messageIds", req.MessageIDs)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	n, err := s.board.MarkRead(r.Context(), ids, req.ReaderHandle)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"marked": n})
}

func (s *Server) handleBlackboardArchive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageIDs []string `json:"messageIds"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	ids, err := parseUUIDList("messageIds", req.MessageIDs)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	n, err := s.board.Archive(r.Context(), ids)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"archived": n})
}

func (s *Server) handleBlackboardArchiveOld(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgeMs int64 `json:"ageMs"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if req.AgeMs <= 0 {
		s.respondError(w, http.StatusBadRequest, "ageMs must be positive", "")
		return
	}
	n, err := s.board.ArchiveOlderThan(r.Context(), req.AgeMs)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"archived": n})
}

// handleBlackboardTally tallies votes collected off the blackboard and
// returns the consensus outcome. Pure computation; nothing persists.
func (s *Server) handleBlackboardTally(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Votes   []blackboard.Vote `json:"votes"`
		Options []string          `json:"options"`
		Method  string            `json:"method,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if len(req.Options) == 0 {
		s.respondError(w, http.StatusBadRequest, "options must not be empty", "")
		return
	}
	if req.Method == "" {
		req.Method = blackboard.MethodMajority
	}
	switch req.Method {
	case blackboard.MethodMajority, blackboard.MethodSupermajority,
		blackboard.MethodUnanimous, blackboard.MethodRanked:
	default:
		s.respondError(w, http.StatusBadRequest, "unknown method "+req.Method, "")
		return
	}
	s.respondJSON(w, http.StatusOK, blackboard.TallyVotes(req.Votes, req.Options, req.Method))
}

// handleBlackboardPayoff scores candidate strategies against a payoff
// matrix and names the dominant one. Pure computation; nothing persists.
func (s *Server) handleBlackboardPayoff(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Strategies []string                `json:"strategies"`
		Matrix     blackboard.PayoffMatrix `json:"matrix"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if len(req.Strategies) == 0 {
		s.respondError(w, http.StatusBadRequest, "strategies must not be empty", "")
		return
	}
	s.respondJSON(w, http.StatusOK, blackboard.ComputePayoffs(req.Strategies, req.Matrix))
}

// Beliefs.

func (s *Server) handleUpsertBelief(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SwarmID    string          `json:"swarmId"`
		Subject    string          `json:"subject"`
		Belief     json.RawMessage `json:"belief"`
		Confidence float64         `json:"confidence"`
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
	if err := checkLen("subject", req.Subject, 1, maxSubjectLen); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		s.respondError(w, http.StatusBadRequest, "confidence must be in [0,1]", "")
		return
	}
	ac, _ := authFrom(r.Context())
	b := &store.Belief{
		SwarmID:     swarmID,
		AgentHandle: ac.Handle,
		Subject:     req.Subject,
		Belief:      req.Belief,
		Confidence:  req.Confidence,
	}
	if err := s.stores.Beliefs.UpsertBelief(r.Context(), b); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, b)
}

func (s *Server) handleGetBeliefs(w http.ResponseWriter, r *http.Request) {
	swarmID, err := checkUUID("swarmId", r.URL.Query().Get("swarmId"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	handle := r.URL.Query().Get("handle")
	if err := checkHandle("handle", handle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	beliefs, err := s.stores.Beliefs.GetBeliefs(r.Context(), swarmID, handle)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, beliefs)
}

func (s *Server) handleUpsertMetaBelief(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SwarmID     string          `json:"swarmId"`
		AboutHandle string          `json:"aboutHandle"`
		Subject     string          `json:"subject"`
		Belief      json.RawMessage `json:"belief"`
		Confidence  float64         `json:"confidence"`
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
	if err := checkHandle("aboutHandle", req.AboutHandle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkLen("subject", req.Subject, 1, maxSubjectLen); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		s.respondError(w, http.StatusBadRequest, "confidence must be in [0,1]", "")
		return
	}
	ac, _ := authFrom(r.Context())
	b := &store.MetaBelief{
		SwarmID:     swarmID,
		AgentHandle: ac.Handle,
		AboutHandle: req.AboutHandle,
		Subject:     req.Subject,
		Belief:      req.Belief,
		Confidence:  req.Confidence,
	}
	if err := s.stores.Beliefs.UpsertMetaBelief(r.Context(), b); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, b)
}

func (s *Server) handleGetMetaBeliefs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	swarmID, err := checkUUID("swarmId", q.Get("swarmId"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	handle := q.Get("handle")
	if err := checkHandle("handle", handle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	beliefs, err := s.stores.Beliefs.GetMetaBeliefs(r.Context(), swarmID, handle, q.Get("aboutHandle"))
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, beliefs)
}
