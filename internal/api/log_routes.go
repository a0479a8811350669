package api

import (
	"fmt"
	"net/http"

	"github.com/kjannette/trahn-botengine/internal/models"
)

func (s *Server) handleBotLogs(w http.ResponseWriter, r *http.Request, owner string) {
	entries, err := s.svc.Logs(r.Context(), owner, r.PathValue("id"), parseLimit(r, 100))
	if err != nil {
		s.writeServiceError(w, err, "fetch decision log")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func (s *Server) handleBotTrades(w http.ResponseWriter, r *http.Request, owner string) {
	hist, err := s.svc.Trades(r.Context(), owner, r.PathValue("id"), parseLimit(r, 100))
	if err != nil {
		s.writeServiceError(w, err, "fetch trades")
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

// parseAuditFilter reads bot_id, side, outcome, from, to, q and limit.
func parseAuditFilter(r *http.Request) (models.DecisionFilter, error) {
	q := r.URL.Query()
	f := models.DecisionFilter{
		BotID: q.Get("bot_id"),
		Text:  q.Get("q"),
		Limit: parseLimit(r, 100),
	}

	switch side := models.Side(q.Get("side")); side {
	case "", models.SideBuy, models.SideSell, models.SideNone:
		f.Side = side
	default:
		return f, fmt.Errorf("invalid side %q, expected buy|sell|none", side)
	}

	switch o := models.Outcome(q.Get("outcome")); o {
	case "", models.OutcomeTrade, models.OutcomeNoAction, models.OutcomeBlocked,
		models.OutcomeOrderFailed, models.OutcomeError, models.OutcomeLifecycle:
		f.Outcome = o
	default:
		return f, fmt.Errorf("invalid outcome %q", o)
	}

	var err error
	if f.From, err = parseTime(q.Get("from"), false); err != nil {
		return f, err
	}
	if f.To, err = parseTime(q.Get("to"), true); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request, owner string) {
	f, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.svc.AuditLog(r.Context(), owner, f)
	if err != nil {
		s.writeServiceError(w, err, "fetch audit log")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func nonNil(entries []models.DecisionLogEntry) []models.DecisionLogEntry {
	if entries == nil {
		return []models.DecisionLogEntry{}
	}
	return entries
}
