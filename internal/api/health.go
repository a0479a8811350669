package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

type healthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Services      map[string]string `json:"services"`
	Scheduler     string            `json:"scheduler,omitempty"`
	EmergencyStop bool              `json:"emergencyStop"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	services := make(map[string]string, len(s.checks))
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		services[name] = "connected"
		if err := s.checks[name](ctx); err != nil {
			services[name] = "disconnected"
			status = "degraded"
		}
	}

	resp := healthResponse{
		Status:        status,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Services:      services,
		EmergencyStop: s.svc.EmergencyStatus().EmergencyStop,
	}
	if s.schedOK != nil {
		resp.Scheduler = "stopped"
		if s.schedOK() {
			resp.Scheduler = "running"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
