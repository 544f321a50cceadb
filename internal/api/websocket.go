package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/dispenser-core/internal/infrastructure/config"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/logging"
	"github.com/nerrad567/dispenser-core/internal/infrastructure/metrics"
)

// Frame types. Clients send watch and unwatch; the server sends event,
// watching and error.
const (
	WSTypeWatch    = "watch"
	WSTypeUnwatch  = "unwatch"
	WSTypeEvent    = "event"
	WSTypeWatching = "watching"
	WSTypeError    = "error"

	// maxWatchedDevices caps the device set of one connection.
	maxWatchedDevices = 32

	wsSendBufferSize = 64
)

// WSMessage is a server-to-client frame.
type WSMessage struct {
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

// wsCommand is a client-to-server frame naming the devices to watch or drop.
type wsCommand struct {
	Type    string   `json:"type"`
	Devices []string `json:"devices"`
}

// Hub fans events out to WebSocket connections. A connection always gets
// the wizard events of its own user, and device events only for the
// device IDs it watches.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	metrics *metrics.Recorder
	clock   clockwork.Clock

	mu    sync.RWMutex
	conns map[*wsConn]struct{}
}

type wsConn struct {
	hub    *Hub
	ws     *websocket.Conn
	out    chan []byte
	userID string

	mu       sync.Mutex
	watching map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS middleware owns origin policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub. A nil clock means the real clock.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, m *metrics.Recorder, clock clockwork.Clock) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		clock:   clock,
		conns:   make(map[*wsConn]struct{}),
	}
}

// Run blocks until ctx is cancelled, then drops every connection.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	for c := range h.conns {
		close(c.out)
		c.ws.Close()
		delete(h.conns, c)
	}
	h.mu.Unlock()
	h.metrics.SetWebSocketClients(0)
}

// ClientCount returns the number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SendToUser pushes an event to every connection of userID.
func (h *Hub) SendToUser(userID, eventType string, payload any) {
	h.publish(eventType, payload, func(c *wsConn) bool { return c.userID == userID })
}

// NotifyDevice pushes an event to every connection watching deviceID.
func (h *Hub) NotifyDevice(deviceID, eventType string, payload any) {
	h.publish(eventType, payload, func(c *wsConn) bool { return c.watches(deviceID) })
}

func (h *Hub) publish(eventType string, payload any, match func(*wsConn) bool) {
	data, err := h.frame(WSTypeEvent, eventType, payload)
	if err != nil {
		h.logger.Error("failed to encode websocket event", "event_type", eventType, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.conns {
		if match(c) {
			c.push(data)
			n++
		}
	}
	if n > 0 {
		h.logger.Debug("websocket event sent", "event_type", eventType, "recipients", n)
	}
}

func (h *Hub) frame(msgType, eventType string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      msgType,
		EventType: eventType,
		Timestamp: h.clock.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

func (h *Hub) add(c *wsConn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	h.metrics.SetWebSocketClients(n)
	h.logger.Debug("websocket client connected", "user_id", c.userID, "clients", n)
}

// remove drops c. The out channel is closed only by whoever deletes the
// entry, so a concurrent Run cannot close it twice.
func (h *Hub) remove(c *wsConn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	if ok {
		delete(h.conns, c)
		close(c.out)
	}
	n := len(h.conns)
	h.mu.Unlock()
	if ok {
		h.metrics.SetWebSocketClients(n)
		h.logger.Debug("websocket client disconnected", "user_id", c.userID, "clients", n)
	}
}

// handleWebSocket upgrades an authenticated request. The caller proves
// identity with a single-use ticket from POST /auth/ws-ticket because
// browsers cannot set headers on the upgrade.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	userID, ok := s.tickets.redeem(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{
		hub:      s.hub,
		ws:       ws,
		out:      make(chan []byte, wsSendBufferSize),
		userID:   userID,
		watching: make(map[string]struct{}),
	}
	s.hub.add(c)
	go c.writeLoop()
	go c.readLoop()
}

func (c *wsConn) watches(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.watching[deviceID]
	return ok
}

// push queues data without blocking. A slow connection loses the frame.
// Callers hold the hub read lock, so out is never closed underneath.
func (c *wsConn) push(data []byte) {
	select {
	case c.out <- data:
	default:
		c.hub.logger.Warn("websocket send buffer full, dropping frame", "user_id", c.userID)
	}
}

// reply queues a frame for this connection only.
func (c *wsConn) reply(msgType string, payload any) {
	data, err := c.hub.frame(msgType, "", payload)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, open := c.hub.conns[c]; open {
		c.push(data)
	}
}

func (c *wsConn) readLoop() {
	defer func() {
		c.hub.remove(c)
		c.ws.Close()
	}()

	cfg := c.hub.cfg
	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	c.ws.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // a failed deadline surfaces as a read error
	c.ws.SetReadDeadline(time.Now().Add(idle))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "user_id", c.userID, "error", err)
			}
			return
		}
		//nolint:errcheck // a failed deadline surfaces as a read error
		c.ws.SetReadDeadline(time.Now().Add(idle))

		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.reply(WSTypeError, map[string]string{"message": "malformed frame"})
			continue
		}
		c.apply(cmd)
	}
}

// apply updates the watch set and echoes it back sorted.
func (c *wsConn) apply(cmd wsCommand) {
	c.mu.Lock()
	switch cmd.Type {
	case WSTypeWatch:
		for _, id := range cmd.Devices {
			if id != "" && len(c.watching) < maxWatchedDevices {
				c.watching[id] = struct{}{}
			}
		}
	case WSTypeUnwatch:
		for _, id := range cmd.Devices {
			delete(c.watching, id)
		}
	default:
		c.mu.Unlock()
		c.reply(WSTypeError, map[string]string{"message": "unknown frame type: " + cmd.Type})
		return
	}
	devices := make([]string, 0, len(c.watching))
	for id := range c.watching {
		devices = append(devices, id)
	}
	c.mu.Unlock()

	slices.Sort(devices)
	c.reply(WSTypeWatching, map[string][]string{"devices": devices})
}

func (c *wsConn) writeLoop() {
	cfg := c.hub.cfg
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	wait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ping.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.out:
			//nolint:errcheck // a failed deadline surfaces as a write error
			c.ws.SetWriteDeadline(time.Now().Add(wait))
			if !ok {
				//nolint:errcheck // the peer may already be gone
				c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			//nolint:errcheck // a failed deadline surfaces as a write error
			c.ws.SetWriteDeadline(time.Now().Add(wait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
