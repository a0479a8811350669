package api

import (
	"net/http"
	"strconv"

	"github.com/kjannette/trahn-botengine/internal/bot"
	"github.com/kjannette/trahn-botengine/internal/models"
)

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request, owner string) {
	var draft models.DraftBot
	if err := decodeBody(r, &draft, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.svc.Create(r.Context(), owner, draft)
	if err != nil {
		s.writeServiceError(w, err, "create bot")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request, owner string) {
	bots, err := s.svc.List(r.Context(), owner)
	if err != nil {
		s.writeServiceError(w, err, "list bots")
		return
	}
	if bots == nil {
		bots = []models.Bot{}
	}
	writeJSON(w, http.StatusOK, bots)
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request, owner string) {
	b, err := s.svc.Get(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err, "fetch bot")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleUpdateBot(w http.ResponseWriter, r *http.Request, owner string) {
	var in bot.UpdateInput
	if err := decodeBody(r, &in, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.svc.Update(r.Context(), owner, r.PathValue("id"), in)
	if err != nil {
		s.writeServiceError(w, err, "update bot")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBot(w http.ResponseWriter, r *http.Request, owner string) {
	if err := s.svc.Delete(r.Context(), owner, r.PathValue("id")); err != nil {
		s.writeServiceError(w, err, "delete bot")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartBot(w http.ResponseWriter, r *http.Request, owner string) {
	b, err := s.svc.Start(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err, "start bot")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handlePauseBot(w http.ResponseWriter, r *http.Request, owner string) {
	b, err := s.svc.Pause(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err, "pause bot")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type stopRequest struct {
	CancelOrders bool `json:"cancelOrders"`
}

// handleStopBot takes cancelOrders from the body or ?cancel_orders=.
func (s *Server) handleStopBot(w http.ResponseWriter, r *http.Request, owner string) {
	var req stopRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if v := r.URL.Query().Get("cancel_orders"); v != "" {
		cancel, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "cancel_orders must be true or false")
			return
		}
		req.CancelOrders = cancel
	}
	b, err := s.svc.Stop(r.Context(), owner, r.PathValue("id"), req.CancelOrders)
	if err != nil {
		s.writeServiceError(w, err, "stop bot")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request, owner string) {
	var in bot.Settings
	if err := decodeBody(r, &in, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.svc.PatchSettings(r.Context(), owner, r.PathValue("id"), in)
	if err != nil {
		s.writeServiceError(w, err, "update settings")
		return
	}
	writeJSON(w, http.StatusOK, b)
}
