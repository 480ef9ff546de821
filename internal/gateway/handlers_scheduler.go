package gateway

import (
	"context"
	"net/http"

	"github.com/fleetworks/fleetd/internal/planner"
	"github.com/fleetworks/fleetd/internal/store"
)

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	// The loop must outlive this request.
	s.scheduler.Start(context.Background())
	s.respondOK(w)
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Stop()
	s.respondOK(w)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string   `json:"name"`
		CronExpr   string   `json:"cronExpr"`
		Tasks      []string `json:"tasks"`
		Repository string   `json:"repository,omitempty"`
		Enabled    *bool    `json:"enabled,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkLen("name", req.Name, 1, maxSubjectLen); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := s.scheduler.ValidateCron(req.CronExpr); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	tasks, err := parseUUIDList("tasks", req.Tasks)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	for _, id := range tasks {
		if _, err := s.stores.Schedules.GetTemplate(r.Context(), id); err != nil {
			s.respondStoreError(w, err)
			return
		}
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	nextRun, err := s.scheduler.NextRun(req.CronExpr)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	sc := &store.Schedule{
		ID:         store.NewID(),
		Name:       req.Name,
		CronExpr:   req.CronExpr,
		Tasks:      tasks,
		Repository: req.Repository,
		Enabled:    enabled,
		NextRun:    nextRun,
	}
	if err := s.stores.Schedules.CreateSchedule(r.Context(), sc); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sc)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := s.stores.Schedules.ListSchedules(r.Context())
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := checkUUID("id", r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	sc, err := s.stores.Schedules.GetSchedule(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sc)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := checkUUID("id", r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	sc, err := s.stores.Schedules.GetSchedule(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	var req struct {
		Name       *string  `json:"name,omitempty"`
		CronExpr   *string  `json:"cronExpr,omitempty"`
		Tasks      []string `json:"tasks,omitempty"`
		Repository *string  `json:"repository,omitempty"`
		Enabled    *bool    `json:"enabled,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if req.Name != nil {
		if err := checkLen("name", *req.Name, 1, maxSubjectLen); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		sc.Name = *req.Name
	}
	if req.CronExpr != nil {
		if err := s.scheduler.ValidateCron(*req.CronExpr); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		sc.CronExpr = *req.CronExpr
		if sc.NextRun, err = s.scheduler.NextRun(sc.CronExpr); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
	}
	if req.Tasks != nil {
		tasks, err := parseUUIDList("tasks", req.Tasks)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		sc.Tasks = tasks
	}
	if req.Repository != nil {
		sc.Repository = *req.Repository
	}
	if req.Enabled != nil {
		sc.Enabled = *req.Enabled
	}
	if err := s.stores.Schedules.UpdateSchedule(r.Context(), sc); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sc)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := checkUUID("id", r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := s.stores.Schedules.DeleteSchedule(r.Context(), id); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondOK(w)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name             string   `json:"name"`
		Description      string   `json:"description,omitempty"`
		Category         string   `json:"category,omitempty"`
		Role             string   `json:"role"`
		PromptTemplate   string   `json:"promptTemplate"`
		EstimatedMinutes int      `json:"estimatedMinutes,omitempty"`
		RequiredContext  []string `json:"requiredContext,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := checkLen("name", req.Name, 1, maxSubjectLen); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if _, ok := planner.Roles[req.Role]; !ok {
		s.respondError(w, http.StatusBadRequest, "unknown role "+req.Role, "")
		return
	}
	if err := checkLen("promptTemplate", req.PromptTemplate, 1, maxBodyLen); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	t := &store.Template{
		ID:               store.NewID(),
		Name:             req.Name,
		Description:      req.Description,
		Category:         req.Category,
		Role:             req.Role,
		PromptTemplate:   req.PromptTemplate,
		EstimatedMinutes: req.EstimatedMinutes,
		RequiredContext:  req.RequiredContext,
	}
	if err := s.stores.Schedules.CreateTemplate(r.Context(), t); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := s.stores.Schedules.ListTemplates(r.Context())
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := checkUUID("id", r.PathValue("id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if err := s.stores.Schedules.DeleteTemplate(r.Context(), id); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondOK(w)
}
