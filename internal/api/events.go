package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	eventWriteTimeout = 10 * time.Second
	eventPingInterval = 30 * time.Second
)

// handleEventsWS streams catalog-change events to the client until it
// disconnects. Delivery is best-effort, a slow client is cut off rather
// than buffered indefinitely.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	id, events := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	slog.Info("events websocket connected", "subscriber", id)

	// The stream outlives the request timeout middleware, so it is not
	// derived from the request context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Drain client frames so close and pong handling keep working.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("events websocket disconnected", "subscriber", id)
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			// The publishing instance id stays internal.
			event.Origin = ""

			data, err := json.Marshal(event)
			if err != nil {
				slog.Error("failed to marshal event", "error", err, "type", event.Type)
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("failed to send event", "error", err, "subscriber", id)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
