package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"manageros/internal/store"
	"manageros/internal/tenant"
)

// scope binds the request to the caller's organization or writes the error.
func (s *Server) scope(w http.ResponseWriter, r *http.Request) (store.TenantData, *tenant.Principal, bool) {
	data, err := tenant.Scope(r.Context(), s.opener)
	switch {
	case errors.Is(err, tenant.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, nil, false
	case errors.Is(err, tenant.ErrNoOrganization):
		writeError(w, http.StatusForbidden, "No organization")
		return nil, nil, false
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, nil, false
	}
	return data, tenant.PrincipalFromContext(r.Context()), true
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	data, p, ok := s.scope(w, r)
	if !ok {
		return
	}
	if p.PersonID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})
		return
	}
	items, err := data.ListNotifications(r.Context(), p.PersonID, queryLimit(r, 50, 200))
	if err != nil {
		s.internalError(w, "list notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	data, p, ok := s.scope(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	err := data.MarkNotificationRead(r.Context(), p.PersonID, id, time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		s.internalError(w, "mark notification read", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	data, _, ok := s.scope(w, r)
	if !ok {
		return
	}
	items, err := data.ListExecutions(r.Context(), queryLimit(r, 50, 500))
	if err != nil {
		s.internalError(w, "list executions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
