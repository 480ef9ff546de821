package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fleetworks/fleetd/internal/store"
)

// errorEnvelope is the uniform failure body: {error, code?, details?}.
type errorEnvelope struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			s.log.Error("gateway: encode response", "error", err)
		}
	}
}

func (s *Server) respondOK(w http.ResponseWriter) {
	s.respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg, code string) {
	s.respondJSON(w, status, errorEnvelope{Error: msg, Code: code})
}

// respondStoreError maps store error kinds onto HTTP statuses. Busy
// surfaces as 503 only after the store's internal retries gave up.
func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case store.IsNotFound(err):
		s.respondError(w, http.StatusNotFound, "not found", "not_found")
	case store.IsConflict(err):
		s.respondError(w, http.StatusConflict, err.Error(), "conflict")
	case store.IsIntegrity(err):
		s.respondError(w, http.StatusBadRequest, err.Error(), "integrity")
	case store.IsBusy(err):
		s.respondError(w, http.StatusServiceUnavailable, "store busy", "busy")
	default:
		s.log.Error("gateway: internal error", "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal error", "")
	}
}

// decodeBody strictly decodes the JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("malformed JSON body")
	}
	return nil
}
