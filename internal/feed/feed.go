// Package feed streams evaluation results of a session to websocket clients
// for the live balance chart.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/terminal-bench/blasttap/internal/pipeline"
	"github.com/terminal-bench/blasttap/internal/session"
	"go.uber.org/zap"
)

const (
	bufferSize = 16
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Update is one message on the stream. Seq orders the updates of a session.
type Update struct {
	SessionID uuid.UUID       `json:"session_id"`
	Seq       uint64          `json:"seq"`
	Result    pipeline.Result `json:"result"`
}

// Subscriber receives the updates of one session.
type Subscriber struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Updates   chan Update
}

// stream is the followed state of one session: its subscribers and the
// highest sequence number already sent or fenced off.
type stream struct {
	subs map[uuid.UUID]*Subscriber
	seq  uint64
}

// Hub fans updates out to subscribers. A slow subscriber drops updates
// rather than blocking the evaluation path, and an update older than one
// already sent is never delivered.
type Hub struct {
	mu      sync.Mutex
	streams map[uuid.UUID]*stream
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		streams: make(map[uuid.UUID]*stream),
		logger:  logger,
	}
}

// Subscribe registers a subscriber for sessionID.
func (h *Hub) Subscribe(sessionID uuid.UUID) *Subscriber {
	sub := &Subscriber{
		ID:        uuid.New(),
		SessionID: sessionID,
		Updates:   make(chan Update, bufferSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.streams[sessionID]
	if st == nil {
		st = &stream{subs: make(map[uuid.UUID]*Subscriber)}
		h.streams[sessionID] = st
	}
	st.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.streams[sub.SessionID]
	if !ok {
		return
	}
	if _, ok := st.subs[sub.ID]; !ok {
		return
	}
	delete(st.subs, sub.ID)
	close(sub.Updates)
	if len(st.subs) == 0 {
		delete(h.streams, sub.SessionID)
	}
}

// CloseSession disconnects every subscriber of a session.
func (h *Hub) CloseSession(sessionID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if st, ok := h.streams[sessionID]; ok {
		for _, sub := range st.subs {
			close(sub.Updates)
		}
	}
	delete(h.streams, sessionID)
}

// Fence drops every later update of sessionID numbered seq or lower.
func (h *Hub) Fence(sessionID uuid.UUID, seq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if st, ok := h.streams[sessionID]; ok && seq > st.seq {
		st.seq = seq
	}
}

// Subscribers returns how many clients follow sessionID.
func (h *Hub) Subscribers(sessionID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.streams[sessionID]; ok {
		return len(st.subs)
	}
	return 0
}

// Broadcast sends u to every subscriber of its session.
func (h *Hub) Broadcast(u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.streams[u.SessionID]
	if !ok {
		return
	}
	if u.Seq <= st.seq {
		h.logger.Debug("dropping stale update",
			zap.String("session_id", u.SessionID.String()),
			zap.Uint64("seq", u.Seq),
		)
		return
	}
	st.seq = u.Seq

	for _, sub := range st.subs {
		select {
		case sub.Updates <- u:
		default:
			h.logger.Debug("dropping update for slow subscriber",
				zap.String("session_id", u.SessionID.String()),
				zap.String("subscriber_id", sub.ID.String()),
			)
		}
	}
}

// Name identifies the hub as a sink.
func (h *Hub) Name() string {
	return "feed"
}

// Handle broadcasts the outcome.
func (h *Hub) Handle(_ context.Context, out session.Outcome) error {
	h.Broadcast(Update{SessionID: out.SessionID, Seq: out.Seq, Result: out.Result})
	return nil
}

// Handler upgrades HTTP requests to websocket streams.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler over hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP streams sessionID's updates until the client leaves or ctx ends.
func (h *Handler) ServeHTTP(ctx context.Context, w http.ResponseWriter, r *http.Request, sessionID uuid.UUID) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.serve(ctx, conn, sessionID)
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, sessionID uuid.UUID) {
	sub := h.hub.Subscribe(sessionID)
	defer func() {
		h.hub.Unsubscribe(sub)
		conn.Close()
	}()

	done := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case u, ok := <-sub.Updates:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			data, err := json.Marshal(u)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}
