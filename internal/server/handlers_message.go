package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cognition-sh/cognition/internal/cogerror"
	"github.com/cognition-sh/cognition/internal/message"
)

// sendMessageRequest is the body of POST /sessions/{id}/messages.
type sendMessageRequest struct {
	Content  string `json:"content"`
	ParentID string `json:"parentID"`
}

// sendMessage opens the SSE response for one turn, or resumes an existing
// one when the client sends Last-Event-ID. A returned error means the SSE
// response was never opened, so it is still safe to render as JSON.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	var req sendMessageRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeCogError(w, cogerror.New(cogerror.KindInternal, "invalid request body"))
			return
		}
	}

	err := s.messages.SendMessage(r.Context(), w, message.SendMessageRequest{
		Header:      r.Header,
		SessionID:   id,
		Content:     req.Content,
		ParentID:    req.ParentID,
		LastEventID: r.Header.Get("Last-Event-ID"),
	})
	if err != nil {
		writeCogError(w, err)
	}
}
