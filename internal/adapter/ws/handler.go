// Package ws implements the WebSocket transport for the advisory event
// stream. Each connection binds to one stream session; reconnects resume
// from the client's last acknowledged sequence number.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/finsight-ai/finsight/internal/domain/stream"
	"github.com/finsight-ai/finsight/internal/service"
)

// ackFrame is the only client-to-server message: a delivery confirmation
// that lets the session prune its replay buffer.
type ackFrame struct {
	Type string `json:"type"` // "ack"
	Seq  uint64 `json:"seq"`
}

// Handler serves the /ws endpoint on top of the session manager.
type Handler struct {
	sessions *service.SessionManager

	mu    sync.Mutex
	conns int
}

// NewHandler creates a stream handler.
func NewHandler(sessions *service.SessionManager) *Handler {
	return &Handler{sessions: sessions}
}

// ServeHTTP upgrades the connection and streams the session identified by
// the session_id query parameter. last_acked_seq resumes delivery after
// the given sequence number; omitted or zero replays the full buffer.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}

	sess, err := h.sessions.Get(sessionID)
	if err != nil {
		http.Error(w, "session expired or unknown", http.StatusGone)
		return
	}

	var afterSeq uint64
	if raw := r.URL.Query().Get("last_acked_seq"); raw != "" {
		afterSeq, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "last_acked_seq must be an unsigned integer", http.StatusBadRequest)
			return
		}
	}

	// Tell intermediary proxies (nginx in particular) not to buffer the
	// upgraded stream; events must reach the client as they are emitted.
	w.Header().Set("X-Accel-Buffering", "no")

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	h.track(1)
	defer h.track(-1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	backlog, live := sess.Attach(afterSeq, h.sessions.BufferSize())
	defer sess.Detach(live)

	slog.Info("stream attached",
		"session_id", sessionID, "after_seq", afterSeq, "backlog", len(backlog))

	// Read loop: consume ack frames, detect disconnect.
	go func() {
		defer cancel()
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			var ack ackFrame
			if err := json.Unmarshal(data, &ack); err != nil || ack.Type != "ack" {
				continue
			}
			sess.Ack(ack.Seq)
		}
	}()

	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "") }()

	for _, ev := range backlog {
		if err := h.write(ctx, ws, ev); err != nil {
			return
		}
		if ev.Type.Terminal() {
			_ = ws.Close(websocket.StatusNormalClosure, "stream complete")
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-live:
			if !ok {
				// The session closed our channel: either a newer
				// connection took over, or we fell behind the buffer.
				// Ask the client to reconnect with last_acked_seq so the
				// backlog replay recovers everything it missed.
				_ = ws.Close(websocket.StatusTryAgainLater, "resume with last_acked_seq")
				return
			}
			if err := h.write(ctx, ws, ev); err != nil {
				return
			}
			if ev.Type.Terminal() {
				// Give the client its ack window, then close cleanly.
				_ = ws.Close(websocket.StatusNormalClosure, "stream complete")
				return
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, ev stream.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal stream event", "type", ev.Type, "error", err)
		return nil
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("websocket write failed", "error", err)
		return err
	}
	return nil
}

func (h *Handler) track(delta int) {
	h.mu.Lock()
	h.conns += delta
	h.mu.Unlock()
}

// ConnectionCount returns the number of active stream connections.
func (h *Handler) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns
}
