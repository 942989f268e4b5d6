package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/timerly-core/internal/entity"
	"github.com/nerrad567/timerly-core/internal/infrastructure/config"
	"github.com/nerrad567/timerly-core/internal/infrastructure/logging"
	"github.com/nerrad567/timerly-core/internal/integration"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

const (
	// wsSendBufferSize is the per-client outbound queue length. A client
	// that falls this far behind misses events.
	wsSendBufferSize = 256

	defaultWSMaxMessageSize = 8192
	defaultWSPingInterval   = 30
	defaultWSPongTimeout    = 10
)

// wsChannels are the channels a client may subscribe to.
var wsChannels = map[string]struct{}{
	entity.ChannelState:          {},
	entity.ChannelEvent:          {},
	integration.ChannelDiscovery: {},
}

// WSMessage is the envelope for every server-to-client message.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsInbound is a client message before its payload is decoded.
type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsTimings are the connection limits derived from config.
type wsTimings struct {
	maxMessageSize int64
	pingInterval   time.Duration
	pongWait       time.Duration
}

// readDeadline is how long a connection may stay silent.
func (t wsTimings) readDeadline() time.Time {
	return time.Now().Add(t.pingInterval + t.pongWait)
}

// Hub tracks WebSocket clients and fans events out to their subscriptions.
//
// Thread Safety: All methods are safe for concurrent use.
type Hub struct {
	timings wsTimings
	logger  *logging.Logger

	mu        sync.RWMutex
	clients   map[string]*WSClient
	snapshots map[string]func() any
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]struct{}
	closed        bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a hub. Zero config values fall back to defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultWSMaxMessageSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultWSPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultWSPongTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		timings: wsTimings{
			maxMessageSize: int64(cfg.MaxMessageSize),
			pingInterval:   time.Duration(cfg.PingInterval) * time.Second,
			pongWait:       time.Duration(cfg.PongTimeout) * time.Second,
		},
		logger:    logger,
		clients:   make(map[string]*WSClient),
		snapshots: make(map[string]func() any),
	}
}

// SetSnapshot registers fn as the current-state provider for channel. Its
// result is returned in the subscribe response so a new client does not
// wait for the next change to learn the current state.
func (h *Hub) SetSnapshot(channel string, fn func() any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fn == nil {
		delete(h.snapshots, channel)
		return
	}
	h.snapshots[channel] = fn
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*WSClient)
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
		c.conn.Close()
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client.id] = client
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "client_id", client.id, "clients", n)
}

// Unregister removes a client and closes its send queue. Safe to call
// more than once.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	delete(h.clients, client.id)
	n := len(h.clients)
	h.mu.Unlock()

	client.shutdown()
	h.logger.Debug("websocket client disconnected", "client_id", client.id, "clients", n)
}

// Broadcast sends payload as an event to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encodeWS(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	recipients := make([]*WSClient, 0, len(h.clients))
	for _, c := range h.clients {
		recipients = append(recipients, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range recipients {
		if c.isSubscribed(channel) && c.enqueue(data) {
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sent)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot(channels []string) map[string]any {
	h.mu.RLock()
	fns := make(map[string]func() any)
	for _, ch := range channels {
		if fn, ok := h.snapshots[ch]; ok {
			fns[ch] = fn
		}
	}
	h.mu.RUnlock()

	if len(fns) == 0 {
		return nil
	}
	out := make(map[string]any, len(fns))
	for ch, fn := range fns {
		out[ch] = fn()
	}
	return out
}

func encodeWS(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}

// handleWebSocket upgrades the connection. When JWT auth is enabled the
// client must present a ticket from POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "websocket hub not running")
		return
	}

	if s.secCfg.JWT.Enabled {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		if !s.tickets.consume(ticket) {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		id:            uuid.NewString(),
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	s.hub.Register(client)

	go client.writeLoop()
	go client.readLoop()
}

// readLoop handles client messages until the connection fails.
func (c *WSClient) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	t := c.hub.timings
	c.conn.SetReadLimit(t.maxMessageSize)
	_ = c.conn.SetReadDeadline(t.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(t.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "client_id", c.id, "error", err)
			}
			return
		}
		// Browsers that ignore protocol pings stay connected by talking.
		_ = c.conn.SetReadDeadline(t.readDeadline())
		c.handleMessage(data)
	}
}

// writeLoop drains the send queue and pings the client until the queue
// is closed or a write fails.
func (c *WSClient) writeLoop() {
	t := c.hub.timings
	ticker := time.NewTicker(t.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(t.pongWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = write(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		channels, ok := c.decodeChannels(msg)
		if !ok {
			return
		}
		c.setSubscribed(channels, true)
		c.hub.logger.Debug("websocket client subscribed", "client_id", c.id, "channels", channels)

		resp := map[string]any{"subscribed": channels}
		if snap := c.hub.snapshot(channels); snap != nil {
			resp["snapshot"] = snap
		}
		c.reply(msg.ID, WSTypeResponse, resp)
	case WSTypeUnsubscribe:
		channels, ok := c.decodeChannels(msg)
		if !ok {
			return
		}
		c.setSubscribed(channels, false)
		c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": channels})
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// decodeChannels parses a subscribe payload and rejects unknown channels.
func (c *WSClient) decodeChannels(msg wsInbound) ([]string, bool) {
	var sub WSSubscribePayload
	if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &sub) != nil {
		c.sendError(msg.ID, "invalid subscribe payload")
		return nil, false
	}
	if len(sub.Channels) == 0 {
		c.sendError(msg.ID, "channels must not be empty")
		return nil, false
	}
	for _, ch := range sub.Channels {
		if _, ok := wsChannels[ch]; !ok {
			c.sendError(msg.ID, "unknown channel: "+ch)
			return nil, false
		}
	}
	return sub.Channels, true
}

func (c *WSClient) setSubscribed(channels []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if on {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// enqueue queues data for the write loop. It reports false when the
// client is gone or its queue is full.
func (c *WSClient) enqueue(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown closes the send queue once.
func (c *WSClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := encodeWS(WSMessage{Type: msgType, ID: id, Payload: payload})
	if err != nil {
		c.hub.logger.Error("failed to marshal websocket reply", "client_id", c.id, "error", err)
		return
	}
	c.enqueue(data)
}

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
