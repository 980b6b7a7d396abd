package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hearing-processor/pkg/models"
	"hearing-processor/pkg/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Status    string          `json:"status,omitempty"`
	Progress  int             `json:"progress,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// wsConn serialises writes; the monitor and the read loop share the socket.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg WebSocketMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// WebSocketHandler streams status snapshots of a session until it finishes.
// The session is taken from ?sessionId= or from a "subscribe" message.
func (h *Handlers) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithRequest(r).WithError(err).Warn("websocket upgrade failed")
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if id := r.URL.Query().Get("sessionId"); id != "" {
		go h.monitorSession(ctx, conn, id)
	}

	for {
		var msg WebSocketMessage
		if err := raw.ReadJSON(&msg); err != nil {
			break
		}

		switch msg.Type {
		case "subscribe":
			if msg.SessionID == "" {
				conn.send(WebSocketMessage{Type: "error", Error: "sessionId is required"})
				continue
			}
			go h.monitorSession(ctx, conn, msg.SessionID)
		case "ping":
			conn.send(WebSocketMessage{Type: "pong"})
		default:
			conn.send(WebSocketMessage{Type: "error", Error: "Unknown message type"})
		}
	}
}

func (h *Handlers) monitorSession(ctx context.Context, conn *wsConn, sessionID string) {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	var last []byte
	for {
		session, err := h.pipeline.Status(sessionID)
		if err != nil {
			msg := err.Error()
			if errors.Is(err, storage.ErrSessionNotFound) {
				msg = "session not found"
			}
			conn.send(WebSocketMessage{Type: "error", SessionID: sessionID, Error: msg})
			return
		}

		data := mustMarshal(session)
		if string(data) != string(last) {
			last = data
			if err := conn.send(WebSocketMessage{
				Type:      "status_update",
				SessionID: sessionID,
				Status:    string(session.Status),
				Progress:  session.Progress,
				Data:      data,
			}); err != nil {
				return
			}
		}

		switch session.Status {
		case models.StatusCompleted:
			conn.send(WebSocketMessage{Type: "processing_complete", SessionID: sessionID, Status: string(session.Status), Progress: session.Progress})
			return
		case models.StatusFailed:
			conn.send(WebSocketMessage{Type: "processing_failed", SessionID: sessionID, Status: string(session.Status), Error: session.Error})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
