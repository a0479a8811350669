package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-botengine/internal/bot"
	"github.com/kjannette/trahn-botengine/internal/engine"
	"github.com/kjannette/trahn-botengine/internal/events"
	"github.com/kjannette/trahn-botengine/internal/presets"
)

const (
	maxQueryLimit = 1000
	maxBodyBytes  = 1 << 20
	ownerHeader   = "X-Owner-ID"
)

var dateRegexp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// CheckFunc reports whether a dependency is reachable.
type CheckFunc func(ctx context.Context) error

type Options struct {
	Addr       string
	APIKey     string
	CORSOrigin string
	Service    *bot.Service
	Hub        *events.Hub[events.Event]
	Metrics    http.Handler
	Checks     map[string]CheckFunc
	// SchedulerRunning is reported by /health when set.
	SchedulerRunning func() bool
	Logger           *logrus.Entry
	// ErrorLog receives net/http's own errors when set.
	ErrorLog io.Writer
}

type Server struct {
	svc        *bot.Service
	hub        *events.Hub[events.Event]
	checks     map[string]CheckFunc
	schedOK    func() bool
	log        *logrus.Entry
	upgrader   websocket.Upgrader
	httpServer *http.Server
	handler    http.Handler
	apiKey     string
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		svc:      opts.Service,
		hub:      opts.Hub,
		checks:   opts.Checks,
		schedOK:  opts.SchedulerRunning,
		log:      opts.Logger,
		apiKey:   opts.APIKey,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	mux := http.NewServeMux()

	// Catalogue
	mux.HandleFunc("GET /v1/indicators", s.handleIndicators)
	mux.HandleFunc("GET /v1/presets", s.handlePresets)
	mux.HandleFunc("POST /v1/presets/{id}/instantiate", s.handleInstantiate)

	// Bots
	mux.HandleFunc("POST /v1/bots/preview", s.handlePreview)
	mux.HandleFunc("POST /v1/bots", s.withOwner(s.handleCreateBot))
	mux.HandleFunc("GET /v1/bots", s.withOwner(s.handleListBots))
	mux.HandleFunc("GET /v1/bots/{id}", s.withOwner(s.handleGetBot))
	mux.HandleFunc("PATCH /v1/bots/{id}", s.withOwner(s.handleUpdateBot))
	mux.HandleFunc("DELETE /v1/bots/{id}", s.withOwner(s.handleDeleteBot))
	mux.HandleFunc("POST /v1/bots/{id}/start", s.withOwner(s.handleStartBot))
	mux.HandleFunc("POST /v1/bots/{id}/pause", s.withOwner(s.handlePauseBot))
	mux.HandleFunc("POST /v1/bots/{id}/stop", s.withOwner(s.handleStopBot))
	mux.HandleFunc("PATCH /v1/bots/{id}/settings", s.withOwner(s.handlePatchSettings))

	// Decision log
	mux.HandleFunc("GET /v1/bots/{id}/logs", s.withOwner(s.handleBotLogs))
	mux.HandleFunc("GET /v1/bots/{id}/trades", s.withOwner(s.handleBotTrades))
	mux.HandleFunc("GET /v1/audit-log", s.withOwner(s.handleAuditLog))

	// Emergency stop
	mux.HandleFunc("GET /v1/emergency-stop", s.handleEmergencyStatus)
	mux.HandleFunc("POST /v1/emergency-stop", s.handleEmergencyActivate)
	mux.HandleFunc("DELETE /v1/emergency-stop", s.handleEmergencyClear)

	// Live stream
	mux.HandleFunc("GET /v1/stream", s.handleStream)

	// Health and metrics (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	s.handler = s.authMiddleware(corsMiddleware(mux, opts.CORSOrigin))
	s.httpServer = &http.Server{
		Addr:        opts.Addr,
		Handler:     s.handler,
		ReadTimeout: 10 * time.Second,
	}
	if opts.ErrorLog != nil {
		s.httpServer.ErrorLog = log.New(opts.ErrorLog, "", 0)
	}
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("REST API server started")
	if s.apiKey != "" {
		s.log.Info("authentication: enabled (Bearer token)")
	} else {
		s.log.Info("authentication: disabled (no API_KEY configured)")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+ownerHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ownerHandler func(w http.ResponseWriter, r *http.Request, owner string)

// withOwner rejects requests without an owner identity.
func (s *Server) withOwner(next ownerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get(ownerHeader))
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "missing "+ownerHeader+" header")
			return
		}
		next(w, r, owner)
	}
}

// --- validation helpers ---

func validateDate(date string) bool {
	if !dateRegexp.MatchString(date) {
		return false
	}
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}

// parseTime accepts RFC 3339 or YYYY-MM-DD. A bare date used as an upper bound covers
// the whole day.
func parseTime(v string, endOfDay bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if validateDate(v) {
		t, _ := time.Parse("2006-01-02", v)
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q, expected RFC3339 or YYYY-MM-DD", v)
	}
	return &t, nil
}

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched when optional.
func decodeBody(r *http.Request, v any, optional bool) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return errors.New("request body too large")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		if optional {
			return nil
		}
		return errors.New("request body is required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON body: %v", err)
	}
	return nil
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors to status codes. what names the failed action
// for unexpected errors, which are logged and not echoed to the client.
func (s *Server) writeServiceError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, engine.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, bot.ErrNotFound):
		writeError(w, http.StatusNotFound, "bot not found")
	case errors.Is(err, presets.ErrPresetNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.WithError(err).Errorf("failed to %s", what)
		writeError(w, http.StatusInternalServerError, "failed to "+what)
	}
}
