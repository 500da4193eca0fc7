package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/studyforge/internal/events"
)

// Events handles GET /api/notebooks/{jobID}/events. It streams a snapshot of
// the job followed by every progress event until the job is terminal or the
// client goes away.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, unsubscribe := h.bus.Subscribe(job.ID)
	defer unsubscribe()
	// Read again after subscribing so an update in between is not lost.
	job, err := h.repo.GetJob(r.Context(), job.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.opts.SSERetryDelay.Milliseconds())); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err, "job_id", job.ID)
		return
	}

	var eventID int64
	send := func(ev events.JobEvent) bool {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Warn("failed to marshal job event", "error", err, "job_id", ev.JobID)
			return false
		}
		eventID++
		if err := writeSSEWithID(w, eventID, "job", string(data)); err != nil {
			slog.Debug("SSE client write failed", "error", err, "job_id", ev.JobID)
			return false
		}
		flusher.Flush()
		return !ev.Status.Terminal()
	}

	if !send(events.FromJob(job)) {
		return
	}

	keepalive := time.NewTicker(h.opts.SSEKeepalive)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok || !send(ev) {
				return
			}
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				slog.Debug("failed to write SSE keepalive ping", "error", err, "job_id", job.ID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}

// Feed handles GET /ws/notebooks/{jobID}: the same progress stream as Events
// over a websocket, one JSON object per message.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	if !h.checkOrigin(r) {
		Error(w, http.StatusForbidden, "origin not allowed")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "job_id", job.ID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "job_id", job.ID)
		}
	}()

	h.feeds.Register(job.ID, ws)
	defer h.feeds.Unregister(job.ID, ws)

	// Incoming messages are ignored; ctx ends when the client closes.
	ctx := ws.CloseRead(r.Context())

	ch, unsubscribe := h.bus.Subscribe(job.ID)
	defer unsubscribe()
	job, err = h.repo.GetJob(ctx, job.ID)
	if err != nil {
		_ = writeJSON(ctx, ws, map[string]string{"error": err.Error()})
		return
	}
	snapshot := events.FromJob(job)
	if err := writeJSON(ctx, ws, snapshot); err != nil || snapshot.Status.Terminal() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeJSON(ctx, ws, ev); err != nil {
				slog.Debug("WebSocket write error", "error", err, "job_id", job.ID)
				return
			}
			if ev.Status.Terminal() {
				return
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "*" || origin == h.opts.AllowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}
