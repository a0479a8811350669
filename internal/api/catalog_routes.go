package api

import (
	"encoding/json"
	"net/http"

	"github.com/kjannette/trahn-botengine/internal/models"
)

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.IndicatorsCatalog())
}

type presetsResponse struct {
	Presets    []models.Preset `json:"presets"`
	Categories []string        `json:"categories"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, presetsResponse{
		Presets:    s.svc.ListPresets(r.URL.Query().Get("category")),
		Categories: s.svc.PresetCategories(),
	})
}

func (s *Server) handleInstantiate(w http.ResponseWriter, r *http.Request) {
	var overrides json.RawMessage
	if err := decodeBody(r, &overrides, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	draft, err := s.svc.Instantiate(r.PathValue("id"), overrides)
	if err != nil {
		s.writeServiceError(w, err, "instantiate preset")
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var draft models.DraftBot
	if err := decodeBody(r, &draft, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	est, err := s.svc.Preview(draft)
	if err != nil {
		s.writeServiceError(w, err, "preview bot")
		return
	}
	writeJSON(w, http.StatusOK, est)
}

