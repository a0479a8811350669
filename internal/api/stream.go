package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kjannette/trahn-botengine/internal/events"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
	streamBuffer     = 64
)

type streamMessage struct {
	Type string       `json:"type"`
	Data events.Event `json:"data"`
}

// handleStream pushes the owner's decision and status events plus emergency stop changes.
// Browsers cannot set headers on a websocket handshake, so owner_id may come as a query param.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.Header.Get(ownerHeader))
	if owner == "" {
		owner = strings.TrimSpace(r.URL.Query().Get("owner_id"))
	}
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "missing "+ownerHeader+" header")
		return
	}
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "stream not available")
		return
	}

	// subscribe before the handshake completes so no event after it is missed
	sub := s.hub.Subscribe(streamBuffer)
	defer s.hub.Unsubscribe(sub)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// the read pump only notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.OwnerID != "" && ev.OwnerID != owner {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(streamMessage{Type: string(ev.Kind), Data: ev}); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
