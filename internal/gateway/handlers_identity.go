package gateway

import (
	"net/http"

	"github.com/fleetworks/fleetd/internal/store"
)

// handleAuth registers (or refreshes) an agent identity and issues a
// bearer token. Registration is idempotent: the uid is a deterministic
// digest of team and handle.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Handle    string `json:"handle"`
		TeamName  string `json:"teamName"`
		AgentType string `json:"agentType"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkHandle("handle", req.Handle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkHandle("teamName", req.TeamName); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkAgentType(req.AgentType); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	u := &store.User{
		UID:       store.UserUID(req.TeamName, req.Handle),
		Handle:    req.Handle,
		TeamName:  req.TeamName,
		AgentType: req.AgentType,
	}
	if err := s.stores.Users.UpsertUser(r.Context(), u); err != nil {
		s.respondStoreError(w, err)
		return
	}

	ac := &AuthContext{UID: u.UID, Handle: u.Handle, TeamName: u.TeamName, AgentType: u.AgentType}
	token, err := s.issueToken(ac)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.log.Info("auth.registered", "uid", u.UID, "handle", u.Handle, "team", u.TeamName)
	s.respondJSON(w, http.StatusOK, map[string]any{
		"uid":       u.UID,
		"handle":    u.Handle,
		"teamName":  u.TeamName,
		"agentType": u.AgentType,
		"token":     token,
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	if err := checkUID("uid", uid); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	u, err := s.stores.Users.GetUser(r.Context(), uid)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, u)
}

func (s *Server) handleTeamAgents(w http.ResponseWriter, r *http.Request) {
	team := r.PathValue("team")
	if err := checkHandle("teamName", team); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	users, err := s.stores.Users.GetUsersByTeam(r.Context(), team)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, users)
}

func (s *Server) handlePutSummary(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	if err := checkHandle("handle", handle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkLen("text", req.Text, 1, maxBodyLen); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	sum := &store.Summary{Handle: handle, Text: req.Text}
	if err := s.stores.Summaries.UpsertSummary(r.Context(), sum); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sum)
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	if err := checkHandle("handle", handle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	sum, err := s.stores.Summaries.GetSummary(r.Context(), handle)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sum)
}
