package server

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status         string    `json:"status"`
	Version        string    `json:"version"`
	ActiveSessions int       `json:"activeSessions"`
	Timestamp      time.Time `json:"timestamp"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "healthy",
		Version:        s.version,
		ActiveSessions: s.messages.ActiveSessionCount(),
		Timestamp:      time.Now().UTC(),
	})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ready := s.backend.HealthCheck(r.Context()) == nil
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"ready": ready})
}
