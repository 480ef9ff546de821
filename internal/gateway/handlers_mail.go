package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fleetworks/fleetd/internal/store"
)

func (s *Server) handleSendMail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToHandle string `json:"toHandle"`
		Subject  string `json:"subject,omitempty"`
		Body     string `json:"body"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkHandle("toHandle", req.ToHandle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if req.Subject != "" {
		if err := checkLen("subject", req.Subject, minSubjectLen, maxSubjectLen); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
	}
	if err := checkLen("body", req.Body, 1, maxBodyLen); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	ac, _ := authFrom(r.Context())
	m, err := s.stores.Mail.SendMail(r.Context(), &store.Mail{
		FromHandle: ac.Handle,
		ToHandle:   req.ToHandle,
		Subject:    req.Subject,
		Body:       req.Body,
	})
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleUnreadMail(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	if err := checkHandle("handle", handle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	mail, err := s.stores.Mail.GetUnreadMail(r.Context(), handle)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	count, err := s.stores.Mail.UnreadMailCount(r.Context(), handle)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"mail": mail, "count": count})
}

func pathInt64(r *http.Request, key string) (int64, bool) {
	n, err := strconv.ParseInt(r.PathValue(key), 10, 64)
	return n, err == nil && n > 0
}

func (s *Server) handleMarkMailRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		s.respondError(w, http.StatusBadRequest, "id must be a positive integer", "")
		return
	}
	ac, _ := authFrom(r.Context())
	if err := s.stores.Mail.MarkMailRead(r.Context(), id, ac.Handle); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondOK(w)
}

func (s *Server) handleMarkAllMailRead(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	if err := checkHandle("handle", handle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	n, err := s.stores.Mail.MarkAllMailRead(r.Context(), handle)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"marked": n})
}

func (s *Server) handleCreateHandoff(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToHandle string          `json:"toHandle"`
		Context  json.RawMessage `json:"context"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkHandle("toHandle", req.ToHandle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if len(req.Context) == 0 {
		s.respondError(w, http.StatusBadRequest, "context must not be empty", "")
		return
	}
	ac, _ := authFrom(r.Context())
	h, err := s.stores.Mail.CreateHandoff(r.Context(), &store.Handoff{
		FromHandle: ac.Handle,
		ToHandle:   req.ToHandle,
		Context:    req.Context,
	})
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, h)
}

func (s *Server) handleListHandoffs(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	if err := checkHandle("handle", handle); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	pendingOnly := r.URL.Query().Get("pendingOnly") == "true"
	list, err := s.stores.Mail.GetHandoffs(r.Context(), handle, pendingOnly)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleAcceptHandoff(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		s.respondError(w, http.StatusBadRequest, "id must be a positive integer", "")
		return
	}
	ac, _ := authFrom(r.Context())
	if err := s.stores.Mail.AcceptHandoff(r.Context(), id, ac.Handle); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondOK(w)
}
