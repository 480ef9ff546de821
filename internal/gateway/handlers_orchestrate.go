package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/fleetworks/fleetd/internal/planner"
	"github.com/fleetworks/fleetd/internal/store"
	"github.com/fleetworks/fleetd/internal/supervisor"
)

func (s *Server) handleSpawnWorker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Handle     string `json:"handle"`
		Role       string `json:"role"`
		WorkingDir string `json:"workingDir,omitempty"`
		Prompt     string `json:"prompt,omitempty"`
		Model      string `json:"model,omitempty"`
		SwarmID    string `json:"swarmId,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkHandle("handle", req.Handle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if _, ok := planner.Roles[req.Role]; !ok {
		s.respondError(w, http.StatusBadRequest, "unknown role "+req.Role, "")
		return
	}
	var swarmID *uuid.UUID
	if req.SwarmID != "" {
		id, err := checkUUID("swarmId", req.SwarmID)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		swarmID = &id
	}

	ac, _ := authFrom(r.Context())
	worker, err := s.super.Spawn(r.Context(), supervisor.SpawnRequest{
		Handle:        req.Handle,
		TeamName:      ac.TeamName,
		Role:          req.Role,
		WorkingDir:    req.WorkingDir,
		InitialPrompt: req.Prompt,
		Model:         req.Model,
		SwarmID:       swarmID,
		DepthLevel:    1,
	})
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, worker)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	ac, _ := authFrom(r.Context())
	team := r.URL.Query().Get("teamName")
	if team == "" {
		team = ac.TeamName
	}
	workers, err := s.stores.Workers.ListWorkers(r.Context(), team)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, workers)
}

func (s *Server) handleDismissWorker(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	if err := checkHandle("handle", handle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	ac, _ := authFrom(r.Context())
	if err := s.super.DismissWorker(ac.TeamName, handle); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondOK(w)
}

func (s *Server) handleMessageWorker(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	if err := checkHandle("handle", handle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkLen("message", req.Message, 1, maxBodyLen); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	ac, _ := authFrom(r.Context())
	if err := s.super.SendToWorker(ac.TeamName, handle, req.Message); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondOK(w)
}

func (s *Server) handleWorkerOutput(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	if err := checkHandle("handle", handle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	n := queryInt(r, "lines", 100)
	ac, _ := authFrom(r.Context())
	lines, err := s.super.CaptureOutput(ac.TeamName, handle, n)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"handle": handle, "lines": lines})
}

// handleEnqueueSpawn admits through the planner rather than spawning
// directly; the queue applies ordering, dependency, and capacity rules.
func (s *Server) handleEnqueueSpawn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetAgentType string   `json:"targetAgentType"`
		Priority        string   `json:"priority,omitempty"`
		DependsOn       []string `json:"dependsOn,omitempty"`
		SwarmID         string   `json:"swarmId,omitempty"`
		DepthLevel      int      `json:"depthLevel,omitempty"`
		Payload         json.RawMessage `json:"payload,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if req.Priority == "" {
		req.Priority = store.PriorityNormal
	}
	if !store.ValidPriority(req.Priority) {
		s.respondError(w, http.StatusBadRequest, "unknown priority "+req.Priority, "")
		return
	}
	deps := make([]uuid.UUID, 0, len(req.DependsOn))
	for _, d := range req.DependsOn {
		id, err := checkUUID("dependsOn", d)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		deps = append(deps, id)
	}
	var swarmID *uuid.UUID
	if req.SwarmID != "" {
		id, err := checkUUID("swarmId", req.SwarmID)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		swarmID = &id
	}

	ac, _ := authFrom(r.Context())
	it := &store.SpawnItem{
		ID:              store.NewID(),
		RequesterHandle: ac.Handle,
		TargetAgentType: req.TargetAgentType,
		DepthLevel:      req.DepthLevel,
		SwarmID:         swarmID,
		Priority:        req.Priority,
		DependsOn:       deps,
		Payload:         req.Payload,
		Status:          store.SpawnStatusPending,
		Source:          store.SpawnSourceAPI,
	}
	if err := s.planner.Enqueue(r.Context(), it); err != nil {
		if store.IsConflict(err) || store.IsNotFound(err) || store.IsBusy(err) {
			s.respondStoreError(w, err)
			return
		}
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	s.respondJSON(w, http.StatusOK, it)
}

func (s *Server) handleListSpawnQueue(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := queryInt(r, "limit", 100)
	items, err := s.stores.SpawnQueue.ListSpawnItems(r.Context(), status, limit)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetSpawnItem(w http.ResponseWriter, r *http.Request) {
	id, err := checkUUID("id", r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	it, err := s.stores.SpawnQueue.GetSpawnItem(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, it)
}

func (s *Server) handleCancelSpawnItem(w http.ResponseWriter, r *http.Request) {
	id, err := checkUUID("id", r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := s.planner.Cancel(r.Context(), id); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondOK(w)
}
