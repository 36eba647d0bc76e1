package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cognition-sh/cognition/internal/cogerror"
	"github.com/cognition-sh/cognition/pkg/types"
)

// createSessionRequest is the body of POST /sessions.
type createSessionRequest struct {
	Title  string               `json:"title"`
	Config *types.SessionConfig `json:"config"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	callerScope, err := s.scopeH.ExtractAndEnforce(r.Header)
	if err != nil {
		writeCogError(w, err)
		return
	}

	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeCogError(w, cogerror.New(cogerror.KindInternal, "invalid request body"))
			return
		}
	}

	var cfg types.SessionConfig
	if req.Config != nil {
		cfg = *req.Config
	}

	sess, err := s.sessions.Create(r.Context(), cfg, req.Title, callerScope)
	if err != nil {
		writeCogError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	callerScope, err := s.scopeH.ExtractAndEnforce(r.Header)
	if err != nil {
		writeCogError(w, err)
		return
	}

	sessions, err := s.sessions.List(r.Context(), callerScope)
	if err != nil {
		writeCogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	callerScope, err := s.scopeH.ExtractAndEnforce(r.Header)
	if err != nil {
		writeCogError(w, err)
		return
	}

	id := chi.URLParam(r, "sessionID")
	sess, err := s.sessions.Get(r.Context(), id, callerScope)
	if err != nil {
		writeCogError(w, err)
		return
	}
	if sess == nil {
		writeCogError(w, cogerror.NotFound("session %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// updateSessionRequest is the body of PATCH /sessions/{id}.
type updateSessionRequest struct {
	Title  *string              `json:"title"`
	Config *types.SessionConfig `json:"config"`
}

func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	callerScope, err := s.scopeH.ExtractAndEnforce(r.Header)
	if err != nil {
		writeCogError(w, err)
		return
	}

	id := chi.URLParam(r, "sessionID")
	existing, err := s.sessions.Get(r.Context(), id, callerScope)
	if err != nil {
		writeCogError(w, err)
		return
	}
	if existing == nil {
		writeCogError(w, cogerror.NotFound("session %s not found", id))
		return
	}

	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCogError(w, cogerror.New(cogerror.KindInternal, "invalid request body"))
		return
	}

	sess, err := s.sessions.Update(r.Context(), id, req.Title, nil, req.Config)
	if err != nil {
		writeCogError(w, err)
		return
	}
	if sess == nil {
		writeCogError(w, cogerror.NotFound("session %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	callerScope, err := s.scopeH.ExtractAndEnforce(r.Header)
	if err != nil {
		writeCogError(w, err)
		return
	}

	id := chi.URLParam(r, "sessionID")
	existing, err := s.sessions.Get(r.Context(), id, callerScope)
	if err != nil {
		writeCogError(w, err)
		return
	}
	if existing == nil {
		writeCogError(w, cogerror.NotFound("session %s not found", id))
		return
	}

	deleted, err := s.sessions.Delete(r.Context(), id)
	if err != nil {
		writeCogError(w, err)
		return
	}
	if !deleted {
		writeCogError(w, cogerror.NotFound("session %s not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	callerScope, err := s.scopeH.ExtractAndEnforce(r.Header)
	if err != nil {
		writeCogError(w, err)
		return
	}

	id := chi.URLParam(r, "sessionID")
	existing, err := s.sessions.Get(r.Context(), id, callerScope)
	if err != nil {
		writeCogError(w, err)
		return
	}
	if existing == nil {
		writeCogError(w, cogerror.NotFound("session %s not found", id))
		return
	}

	s.messages.Abort(id)
	writeSuccess(w)
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	callerScope, err := s.scopeH.ExtractAndEnforce(r.Header)
	if err != nil {
		writeCogError(w, err)
		return
	}

	id := chi.URLParam(r, "sessionID")
	existing, err := s.sessions.Get(r.Context(), id, callerScope)
	if err != nil {
		writeCogError(w, err)
		return
	}
	if existing == nil {
		writeCogError(w, cogerror.NotFound("session %s not found", id))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 50
	}

	msgs, total, err := s.backend.GetMessagesBySession(r.Context(), id, limit, offset)
	if err != nil {
		writeCogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"total":    total,
	})
}
