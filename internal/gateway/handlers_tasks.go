package gateway

import (
	"net/http"

	"github.com/fleetworks/fleetd/internal/store"
	"github.com/fleetworks/fleetd/pkg/protocol"
)

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromUID     string `json:"fromUid"`
		ToHandle    string `json:"toHandle,omitempty"`
		TeamName    string `json:"teamName"`
		Subject     string `json:"subject"`
		Description string `json:"description,omitempty"`
		Priority    int    `json:"priority,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkUID("fromUid", req.FromUID); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkHandle("teamName", req.TeamName); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkLen("subject", req.Subject, minSubjectLen, maxSubjectLen); err != nil {
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
	if req.ToHandle != "" {
		if err := checkHandle("toHandle", req.ToHandle); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
	}

	ac, _ := authFrom(r.Context())
	if ac.TeamName != req.TeamName {
		s.respondError(w, http.StatusForbidden, "team mismatch", "")
		return
	}
	creator, err := s.stores.Users.GetUser(r.Context(), req.FromUID)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}

	t := &store.Task{
		ID:              store.NewShortID("task"),
		TeamName:        req.TeamName,
		Subject:         req.Subject,
		Description:     req.Description,
		Status:          store.TaskStatusOpen,
		OwnerHandle:     req.ToHandle,
		CreatedByHandle: creator.Handle,
		Priority:        req.Priority,
	}
	if err := s.stores.Tasks.InsertTask(r.Context(), t); err != nil {
		s.respondStoreError(w, err)
		return
	}

	// Delivery to a live worker is best-effort; the task row is the
	// source of truth either way.
	if req.ToHandle != "" {
		if err := s.super.DeliverTask(req.TeamName, req.ToHandle, t); err != nil {
			s.log.Info("task.delivery_deferred", "task", t.ID, "to", req.ToHandle, "reason", err)
		}
	}
	s.respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleTeamTasks(w http.ResponseWriter, r *http.Request) {
	team := r.PathValue("team")
	tasks, err := s.stores.Tasks.ListTasksByTeam(r.Context(), team)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, tasks)
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := checkShortID("taskId", id); err != nil {
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
	if !store.ValidTaskStatus(req.Status) {
		s.respondError(w, http.StatusBadRequest, "unknown task status "+req.Status, "")
		return
	}
	t, err := s.stores.Tasks.UpdateTaskStatus(r.Context(), id, req.Status)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.bus.PublishJSON(protocol.TopicTeamPrefix+t.TeamName, protocol.EventTaskUpdated, t)
	s.respondJSON(w, http.StatusOK, t)
}
