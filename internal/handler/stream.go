package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/signup-sheets/internal/live"
	"github.com/Shivanand-hulikatti/signup-sheets/internal/notify"
)

// connectedFrame opens every live stream.
type connectedFrame struct {
	Type    string `json:"type"`
	EventID string `json:"eventId"`
}

func snapshotFrame(view live.View) notify.Message {
	return notify.Message{Type: notify.TypeSnapshot, Event: view.Event, Signups: view.Signups}
}

// frameWriter is one live transport: SSE or WebSocket.
type frameWriter interface {
	WriteFrame(v any) error
	Heartbeat() error
}

// pump writes the opening frames and then one frame per received snapshot
// until the event is deleted, the client goes away, or a write fails.
func (h *EventHandler) pump(ctx context.Context, session *live.Session, fw frameWriter) error {
	if err := fw.WriteFrame(connectedFrame{Type: "connected", EventID: session.EventID()}); err != nil {
		return err
	}
	if err := fw.WriteFrame(snapshotFrame(session.Current())); err != nil {
		return err
	}

	for {
		waitCtx, cancel := context.WithTimeout(ctx, h.heartbeat)
		view, err := session.Next(waitCtx)
		cancel()

		switch {
		case err == nil:
			if err := fw.WriteFrame(snapshotFrame(view)); err != nil {
				return err
			}
		case errors.Is(err, live.ErrEventDeleted):
			return fw.WriteFrame(notify.Deleted(view.Event))
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if err := fw.Heartbeat(); err != nil {
				return err
			}
		case ctx.Err() != nil, errors.Is(err, notify.ErrClosed):
			return nil
		default:
			return err
		}
	}
}

type sseWriter struct {
	w  io.Writer
	rc *http.ResponseController
}

func (s sseWriter) WriteFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s sseWriter) Heartbeat() error {
	if _, err := io.WriteString(s.w, ": ping\n\n"); err != nil {
		return err
	}
	return s.rc.Flush()
}

// Stream handles GET /events/{id}/stream
// Server-sent events: a connected frame, the current snapshot, then every
// change until the event is deleted or the client disconnects.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.Watch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer session.Close()

	rc := http.NewResponseController(w)
	// The server write timeout must not cut long-lived streams.
	_ = rc.SetWriteDeadline(time.Time{})

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := h.pump(r.Context(), session, sseWriter{w: w, rc: rc}); err != nil {
		log.Printf("stream %s: %v", session.EventID(), err)
	}
}
