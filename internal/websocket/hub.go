package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frostdev-ops/pma-sensor-core/internal/config"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/metrics"
	"github.com/frostdev-ops/pma-sensor-core/internal/core/state"
	"github.com/sirupsen/logrus"
)

const (
	defaultPingInterval      = 54 * time.Second
	defaultPongTimeout       = 60 * time.Second
	defaultWriteTimeout      = 10 * time.Second
	defaultSendBuffer        = 256
	defaultHeartbeatInterval = 30 * time.Second
)

// Subscriber is the event source clients are attached to
type Subscriber interface {
	Subscribe(filter state.Filter) *state.Subscription
}

// HubStats is a snapshot of hub activity
type HubStats struct {
	ConnectedClients int    `json:"connected_clients"`
	TotalConnections uint64 `json:"total_connections"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesDropped  uint64 `json:"messages_dropped"`
}

// Hub owns the connected clients and streams change events to them
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	source         Subscriber
	allowedOrigins []string
	logger         *logrus.Logger
	metrics        *metrics.PrometheusCollector

	pingInterval      time.Duration
	pongTimeout       time.Duration
	writeTimeout      time.Duration
	sendBuffer        int
	heartbeatInterval time.Duration

	totalConnections atomic.Uint64
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	messagesDropped  atomic.Uint64
}

// NewHub creates a hub. Zero config values use defaults; intervals are in
// seconds.
func NewHub(source Subscriber, cfg config.WebSocketConfig, allowedOrigins []string, logger *logrus.Logger, collector *metrics.PrometheusCollector) *Hub {
	h := &Hub{
		clients:           make(map[*Client]bool),
		register:          make(chan *Client),
		unregister:        make(chan *Client),
		done:              make(chan struct{}),
		source:            source,
		allowedOrigins:    allowedOrigins,
		logger:            logger,
		metrics:           collector,
		pingInterval:      seconds(cfg.PingInterval, defaultPingInterval),
		pongTimeout:       seconds(cfg.PongTimeout, defaultPongTimeout),
		writeTimeout:      seconds(cfg.WriteTimeout, defaultWriteTimeout),
		sendBuffer:        cfg.BufferSize,
		heartbeatInterval: defaultHeartbeatInterval,
	}
	if h.sendBuffer <= 0 {
		h.sendBuffer = defaultSendBuffer
	}
	// Pings must arrive before the peer's read deadline expires
	if h.pingInterval >= h.pongTimeout {
		h.pingInterval = h.pongTimeout * 9 / 10
	}
	return h
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

// SetHeartbeatInterval changes the heartbeat period. Call before Run.
func (h *Hub) SetHeartbeatInterval(d time.Duration) {
	if d > 0 {
		h.heartbeatInterval = d
	}
}

// Run serves registrations until ctx is cancelled, then disconnects every
// client
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ticker.C:
			h.sendHeartbeat()

		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			clients := h.clients
			h.clients = make(map[*Client]bool)
			h.mu.Unlock()
			for client := range clients {
				client.close()
				h.metrics.RecordWebSocketConnection("disconnect")
			}
			h.logger.WithField("clients", len(clients)).Info("WebSocket hub stopped")
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	connected := len(h.clients)
	h.mu.Unlock()

	h.totalConnections.Add(1)
	h.metrics.RecordWebSocketConnection("connect")

	h.logger.WithFields(logrus.Fields{
		"client_id":         client.ID,
		"remote_addr":       client.RemoteAddr,
		"connected_clients": connected,
	}).Info("WebSocket client connected")

	client.enqueue(Message{
		Type: MessageTypeConnection,
		Data: map[string]interface{}{
			"status":    "connected",
			"client_id": client.ID,
			"filter":    client.Filter(),
		},
	})
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	connected := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	client.close()
	h.metrics.RecordWebSocketConnection("disconnect")

	h.logger.WithFields(logrus.Fields{
		"client_id":         client.ID,
		"connected_clients": connected,
	}).Info("WebSocket client disconnected")
}

func (h *Hub) sendHeartbeat() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	msg := Message{
		Type: MessageTypeHeartbeat,
		Data: map[string]interface{}{"clients": len(clients)},
	}
	for _, client := range clients {
		client.enqueue(msg)
	}
}

// attach hands a client to the run loop. It fails once the hub stopped.
func (h *Hub) attach(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// detach asks the run loop to drop a client
func (h *Hub) detach(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns a snapshot of hub counters
func (h *Hub) Stats() HubStats {
	return HubStats{
		ConnectedClients: h.ClientCount(),
		TotalConnections: h.totalConnections.Load(),
		MessagesSent:     h.messagesSent.Load(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesDropped:  h.messagesDropped.Load(),
	}
}
