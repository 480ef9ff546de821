package gateway

import (
	"net/http"

	"github.com/fleetworks/fleetd/internal/store"
)

func (s *Server) handleCreateCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkerHandle    string                 `json:"workerHandle"`
		ToHandle        string                 `json:"toHandle,omitempty"`
		Goal            string                 `json:"goal"`
		Now             string                 `json:"now"`
		Test            string                 `json:"test,omitempty"`
		DoneThisSession []store.CheckpointTask `json:"doneThisSession,omitempty"`
		Blockers        []string               `json:"blockers,omitempty"`
		Questions       []string               `json:"questions,omitempty"`
		Next            []string               `json:"next,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkHandle("workerHandle", req.WorkerHandle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkLen("goal", req.Goal, 1, maxDescriptionLen); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkLen("now", req.Now, 1, maxDescriptionLen); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	ac, _ := authFrom(r.Context())
	c := &store.Checkpoint{
		ID:              store.NewID(),
		WorkerHandle:    req.WorkerHandle,
		FromHandle:      ac.Handle,
		ToHandle:        req.ToHandle,
		Goal:            req.Goal,
		Now:             req.Now,
		Test:            req.Test,
		DoneThisSession: req.DoneThisSession,
		Blockers:        req.Blockers,
		Questions:       req.Questions,
		Next:            req.Next,
		Status:          store.CheckpointStatusPending,
	}
	if err := s.stores.Checkpoints.CreateCheckpoint(r.Context(), c); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := queryInt(r, "limit", 50)
	list, err := s.stores.Checkpoints.ListCheckpoints(r.Context(), status, limit)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleLatestCheckpoint(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	if err := checkHandle("handle", handle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	c, err := s.stores.Checkpoints.LatestCheckpoint(r.Context(), handle)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleResolveCheckpoint(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := checkUUID("id", r.PathValue("id"))
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		if err := s.stores.Checkpoints.ResolveCheckpoint(r.Context(), id, status); err != nil {
			s.respondStoreError(w, err)
			return
		}
		s.respondOK(w)
	}
}
