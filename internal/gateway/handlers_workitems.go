package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/credits"
	"github.com/fleetworks/fleetd/internal/dag"
	"github.com/fleetworks/fleetd/internal/store"
)

func (s *Server) handleCreateWorkItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string          `json:"title"`
		Description string          `json:"description,omitempty"`
		Priority    int             `json:"priority,omitempty"`
		BlockedBy   []string        `json:"blockedBy,omitempty"`
		BatchID     string          `json:"batchId,omitempty"`
		Metadata    json.RawMessage `json:"metadata,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkLen("title", req.Title, minSubjectLen, maxSubjectLen); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if len(req.Description) > maxDescriptionLen {
		s.respondError(w, http.StatusBadRequest, "description too long", "")
		return
	}
	if req.Priority == 0 {
		req.Priority = 3
	}
	if err := checkRange("priority", req.Priority, 1, 5); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	blockedBy, err := parseUUIDList("blockedBy", req.BlockedBy)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	var batchID *uuid.UUID
	if req.BatchID != "" {
		id, err := checkUUID("batchId", req.BatchID)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		batchID = &id
	}

	itemID := store.NewID()
	if len(blockedBy) > 0 {
		if err := s.rejectBlockedByCycle(r, itemID, blockedBy); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
	}

	ac, _ := authFrom(r.Context())
	item := &store.WorkItem{
		ID:              itemID,
		Title:           req.Title,
		Description:     req.Description,
		Status:          store.WorkItemStatusPending,
		CreatedByHandle: ac.Handle,
		Priority:        req.Priority,
		BlockedBy:       blockedBy,
		BatchID:         batchID,
		Metadata:        req.Metadata,
	}
	if err := s.stores.WorkItems.CreateWorkItem(r.Context(), item); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

// rejectBlockedByCycle checks the new item's blockedBy edges against the
// existing open graph.
func (s *Server) rejectBlockedByCycle(r *http.Request, id uuid.UUID, blockedBy []uuid.UUID) error {
	existing, err := s.stores.WorkItems.ListWorkItems(r.Context(), "", 1000)
	if err != nil {
		return err
	}
	nodes := make([]dag.Node, 0, len(existing))
	for i := range existing {
		it := &existing[i]
		deps := make([]string, 0, len(it.BlockedBy))
		for _, d := range it.BlockedBy {
			deps = append(deps, d.String())
		}
		nodes = append(nodes, dag.Node{ID: it.ID.String(), Priority: it.Priority, DependsOn: deps})
	}
	deps := make([]string, 0, len(blockedBy))
	for _, d := range blockedBy {
		deps = append(deps, d.String())
	}
	if dag.WouldCycle(nodes, dag.Node{ID: id.String(), DependsOn: deps}) {
		return errBlockedByCycle
	}
	return nil
}

var errBlockedByCycle = &validationError{"blockedBy would create a cycle"}

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func (s *Server) handleListWorkItems(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := queryInt(r, "limit", 100)
	items, err := s.stores.WorkItems.ListWorkItems(r.Context(), status, limit)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetWorkItem(w http.ResponseWriter, r *http.Request) {
	id, err := checkUUID("id", r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	item, err := s.stores.WorkItems.GetWorkItem(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

func (s *Server) handlePatchWorkItem(w http.ResponseWriter, r *http.Request) {
	id, err := checkUUID("id", r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if !store.ValidWorkItemStatus(req.Status) {
		s.respondError(w, http.StatusBadRequest, "unknown work item status "+req.Status, "")
		return
	}
	if err := s.stores.WorkItems.UpdateWorkItemStatus(r.Context(), id, req.Status); err != nil {
		s.respondStoreError(w, err)
		return
	}
	item, err := s.stores.WorkItems.GetWorkItem(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

// handleAssignWorkItem is the compare-and-swap assignment: exactly one
// caller wins; the rest see 409.
func (s *Server) handleAssignWorkItem(w http.ResponseWriter, r *http.Request) {
	id, err := checkUUID("id", r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	var req struct {
		Handle string `json:"handle"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkHandle("handle", req.Handle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	won, err := s.stores.WorkItems.AssignWorkItem(r.Context(), id, req.Handle)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if !won {
		s.respondError(w, http.StatusConflict, "work item already assigned", "conflict")
		return
	}
	item, err := s.stores.WorkItems.GetWorkItem(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	id, err := checkUUID("id", r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	var req struct {
		Amount           float64 `json:"amount"`
		Confidence       float64 `json:"confidence"`
		EstimatedMinutes float64 `json:"estimatedMinutes,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if req.Amount < 0 {
		s.respondError(w, http.StatusBadRequest, "amount must be non-negative", "")
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		s.respondError(w, http.StatusBadRequest, "confidence must be in [0,1]", "")
		return
	}
	ac, _ := authFrom(r.Context())
	b := &store.Bid{
		ID:               store.NewID(),
		WorkItemID:       id,
		BidderHandle:     ac.Handle,
		Amount:           req.Amount,
		Confidence:       req.Confidence,
		EstimatedMinutes: req.EstimatedMinutes,
	}
	if err := s.stores.WorkItems.PlaceBid(r.Context(), b); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, b)
}

func (s *Server) handleListBids(w http.ResponseWriter, r *http.Request) {
	id, err := checkUUID("id", r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	bids, err := s.stores.WorkItems.ListBids(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, bids)
}

// handleAwardWorkItem scores the item's bids by reputation, confidence,
// and amount, then assigns the winner through the CAS path.
func (s *Server) handleAwardWorkItem(w http.ResponseWriter, r *http.Request) {
	id, err := checkUUID("id", r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	var req struct {
		SwarmID string               `json:"swarmId"`
		Weights *credits.BidWeights  `json:"weights,omitempty"`
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
	weights := credits.DefaultBidWeights
	if req.Weights != nil {
		weights = *req.Weights
	}
	winner, err := s.ledger.AwardWorkItem(r.Context(), swarmID, id, weights)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if winner == nil {
		s.respondError(w, http.StatusConflict, "no bid could be awarded", "conflict")
		return
	}
	s.respondJSON(w, http.StatusOK, winner)
}

// handleRouteTasks previews pheromone-trail task routing over a set of
// workers without assigning anything.
func (s *Server) handleRouteTasks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tasks   []string               `json:"tasks"`
		Workers []string               `json:"workers"`
		Trails  credits.TrailStrengths `json:"trails,omitempty"`
		Alpha   float64                `json:"alpha,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if len(req.Tasks) == 0 {
		s.respondError(w, http.StatusBadRequest, "tasks must not be empty", "")
		return
	}
	s.respondJSON(w, http.StatusOK, credits.RouteTasks(req.Tasks, req.Workers, req.Trails, req.Alpha))
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkLen("name", req.Name, 1, maxSubjectLen); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	b := &store.Batch{ID: store.NewID(), Name: req.Name}
	if err := s.stores.WorkItems.CreateBatch(r.Context(), b); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, b)
}

func (s *Server) handleListBatchItems(w http.ResponseWriter, r *http.Request) {
	id, err := checkUUID("id", r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	items, err := s.stores.WorkItems.ListBatchItems(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, items)
}

// handleBatchLevels previews the batch's parallelizable execution levels
// from its blockedBy graph.
func (s *Server) handleBatchLevels(w http.ResponseWriter, r *http.Request) {
	id, err := checkUUID("id", r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	items, err := s.stores.WorkItems.ListBatchItems(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	nodes := make([]dag.Node, 0, len(items))
	for i := range items {
		it := &items[i]
		deps := make([]string, 0, len(it.BlockedBy))
		for _, d := range it.BlockedBy {
			deps = append(deps, d.String())
		}
		nodes = append(nodes, dag.Node{ID: it.ID.String(), Priority: it.Priority, DependsOn: deps})
	}
	s.respondJSON(w, http.StatusOK, dag.Sort(nodes))
}

func (s *Server) handleDispatchBatch(w http.ResponseWriter, r *http.Request) {
	id, err := checkUUID("id", r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	var req struct {
		Handle string `json:"handle"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkHandle("handle", req.Handle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	n, err := s.stores.WorkItems.DispatchBatch(r.Context(), id, req.Handle)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"assigned": n})
}
