package gateway

import (
	"net/http"

	"github.com/fleetworks/fleetd/internal/store"
)

func (s *Server) handleCreateSwarm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"name"`
		MaxAgents int    `json:"maxAgents,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkHandle("name", req.Name); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if req.MaxAgents == 0 {
		req.MaxAgents = store.DefaultSwarmMaxAgents
	}
	if err := checkRange("maxAgents", req.MaxAgents, 1, 100); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	sw := &store.Swarm{ID: store.NewID(), Name: req.Name, MaxAgents: req.MaxAgents}
	if err := s.stores.Swarms.CreateSwarm(r.Context(), sw); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sw)
}

func (s *Server) handleListSwarms(w http.ResponseWriter, r *http.Request) {
	swarms, err := s.stores.Swarms.ListSwarms(r.Context())
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, swarms)
}

func (s *Server) handleDeleteSwarm(w http.ResponseWriter, r *http.Request) {
	id, err := checkUUID("id", r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := s.stores.Swarms.DeleteSwarm(r.Context(), id); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondOK(w)
}
