package api

import (
	"net/http"

	"github.com/kjannette/trahn-botengine/internal/risk"
)

type emergencyResponse struct {
	risk.Controls
	Changed bool `json:"changed"`
}

type emergencyRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleEmergencyStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, emergencyResponse{Controls: s.svc.EmergencyStatus()})
}

func (s *Server) handleEmergencyActivate(w http.ResponseWriter, r *http.Request) {
	var req emergencyRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctl, changed := s.svc.ActivateEmergencyStop(r.Context(), req.Reason)
	writeJSON(w, http.StatusOK, emergencyResponse{Controls: ctl, Changed: changed})
}

func (s *Server) handleEmergencyClear(w http.ResponseWriter, r *http.Request) {
	ctl, changed := s.svc.ClearEmergencyStop(r.Context())
	writeJSON(w, http.StatusOK, emergencyResponse{Controls: ctl, Changed: changed})
}
