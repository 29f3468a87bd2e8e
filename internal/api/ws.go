package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lexilearn.com/tutor/internal/auth"
	"lexilearn.com/tutor/internal/chat"
	"lexilearn.com/tutor/internal/settings"
	"lexilearn.com/tutor/internal/transcript"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

// Event is a server to client WebSocket frame.
type Event struct {
	Type     string             `json:"type"`
	Outcome  *chat.Outcome      `json:"outcome,omitempty"`
	Settings *settings.Settings `json:"settings,omitempty"`
	Error    string             `json:"error,omitempty"`
}

type inbound struct {
	Message    string                 `json:"message"`
	Attachment *transcript.Attachment `json:"attachment,omitempty"`
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(ev)
}

// Hub tracks the open WebSocket connections of each learner.
type Hub struct {
	mu     sync.Mutex
	conns  map[string]map[*wsConn]struct{}
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{conns: make(map[string]map[*wsConn]struct{}), logger: logger}
}

func (h *Hub) add(userID string, c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*wsConn]struct{})
	}
	h.conns[userID][c] = struct{}{}
}

func (h *Hub) remove(userID string, c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[userID], c)
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
}

// Connections returns how many sockets userID has open.
func (h *Hub) Connections(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}

// Broadcast sends ev to every connection of userID.
func (h *Hub) Broadcast(userID string, ev Event) {
	h.mu.Lock()
	targets := make([]*wsConn, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.send(ev); err != nil {
			h.logger.Debug("websocket broadcast failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

// Apply pushes new settings to the learner's open pages.
func (h *Hub) Apply(userID string, s settings.Settings) {
	h.Broadcast(userID, Event{Type: "settings", Settings: &s})
}

var _ settings.Applier = (*Hub)(nil)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The token query parameter authorizes the socket.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ChatSocketHandler serves GET /ws/chat?token=... Each text frame is one
// learner message; the reply arrives as an "ai_response" event.
func (h *APIHandler) ChatSocketHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token is required", "redirect": "/login"})
		return
	}
	userID, err := h.authenticate(token)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, auth.ErrTokenExpired) {
			h.logger.Error("failed to resolve user identity", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to process user identity")
			return
		}
		h.unauthorized(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	c := &wsConn{conn: conn}
	key := strconv.FormatInt(userID, 10)
	h.hub.add(key, c)
	defer h.hub.remove(key, c)
	h.logger.Info("websocket connected", zap.Int64("user_id", userID))

	for {
		var in inbound
		if err := conn.ReadJSON(&in); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				_ = c.send(Event{Type: "error", Error: "invalid message"})
				continue
			}
			h.logger.Info("websocket disconnected", zap.Int64("user_id", userID), zap.Error(err))
			return
		}

		_ = c.send(Event{Type: "thinking"})
		out, err := h.chatService.PostMessage(r.Context(), userID, in.Message, in.Attachment)
		if err != nil {
			_ = c.send(Event{Type: "error", Error: err.Error()})
			continue
		}
		h.hub.Broadcast(key, Event{Type: "ai_response", Outcome: &out})
	}
}
