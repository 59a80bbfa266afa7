package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same policy as the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsWriter struct {
	conn *websocket.Conn
}

func (c wsWriter) WriteFrame(v any) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c wsWriter) Heartbeat() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// WebSocket handles GET /events/{id}/ws
// Carries the same frames as Stream. Messages from the client are discarded.
func (h *EventHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.Watch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer session.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		log.Printf("ws %s: upgrade: %v", session.EventID(), err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = h.pump(ctx, session, wsWriter{conn: conn})
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		log.Printf("ws %s: %v", session.EventID(), err)
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
}
