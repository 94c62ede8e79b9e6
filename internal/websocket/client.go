package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/state"
	"github.com/frostdev-ops/pma-sensor-core/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Maximum request size accepted from a client
const maxMessageSize = 4096

// Client is one websocket connection and its event subscription
type Client struct {
	ID          string
	RemoteAddr  string
	UserAgent   string
	ConnectedAt time.Time

	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	hub       *Hub
	logger    *logrus.Logger

	mu     sync.Mutex
	sub    *state.Subscription
	filter FilterSpec
}

// ServeWS upgrades the request and streams events matching the device,
// room, type and min_significance query parameters
func (h *Hub) ServeWS(c *gin.Context) {
	spec, err := FilterSpecFromQuery(c.Request.URL.Query())
	if err != nil {
		utils.SendError(c, http.StatusBadRequest, err.Error())
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		RemoteAddr:  c.Request.RemoteAddr,
		UserAgent:   c.Request.UserAgent(),
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, h.sendBuffer),
		done:        make(chan struct{}),
		hub:         h,
		logger:      h.logger,
	}
	client.subscribe(spec)

	if !h.attach(client) {
		client.close()
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	h.logger.WithField("origin", origin).Warn("WebSocket origin rejected")
	return false
}

// Filter returns the client's current event filter
func (c *Client) Filter() FilterSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// subscribe replaces the client's subscription. It returns false once the
// client is closed; the new subscription is then released immediately.
func (c *Client) subscribe(spec FilterSpec) bool {
	sub := c.hub.source.Subscribe(spec.Filter())

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		sub.Close()
		return false
	default:
	}
	old := c.sub
	c.sub = sub
	c.filter = spec
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	go c.forward(sub)

	c.logger.WithFields(logrus.Fields{
		"client_id":       c.ID,
		"subscription_id": sub.ID,
		"device":          spec.Device,
		"room":            spec.Room,
		"type":            spec.Type,
	}).Debug("WebSocket client subscribed")
	return true
}

// forward runs until the subscription is closed
func (c *Client) forward(sub *state.Subscription) {
	for event := range sub.Events {
		c.enqueue(Message{Type: MessageTypeStateChange, Data: event})
	}
}

// enqueue queues a message without blocking. A full queue drops it.
func (c *Client) enqueue(msg Message) bool {
	data, err := msg.ToJSON()
	if err != nil {
		c.logger.WithError(err).WithField("type", msg.Type).Error("Failed to encode WebSocket message")
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		c.hub.messagesDropped.Add(1)
		c.logger.WithField("client_id", c.ID).Debug("WebSocket send queue full, message dropped")
		return false
	}
}

// close stops delivery; writePump sends the close frame and releases the
// connection
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		sub := c.sub
		c.mu.Unlock()
		if sub != nil {
			sub.Close()
		}
	})
}

func (c *Client) readPump() {
	defer c.hub.detach(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.pongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).WithField("client_id", c.ID).Warn("WebSocket connection error")
			}
			return
		}
		c.hub.messagesReceived.Add(1)
		c.hub.metrics.RecordWebSocketConnection("message_received")
		c.handleRequest(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.detach(c)
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			c.hub.messagesSent.Add(1)
			c.hub.metrics.RecordWebSocketConnection("message_sent")

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

func (c *Client) handleRequest(message []byte) {
	var req Request
	if err := json.Unmarshal(message, &req); err != nil {
		c.enqueue(Message{Type: MessageTypeError, Data: map[string]string{"error": "invalid request"}})
		return
	}

	switch req.Type {
	case RequestTypePing:
		c.enqueue(Message{Type: MessageTypePong})
	case RequestTypeSubscribe:
		req.Filter.MinSignificance = normalizeSignificance(req.Filter.MinSignificance)
		if err := req.Filter.Validate(); err != nil {
			c.enqueue(Message{Type: MessageTypeError, Data: map[string]string{"error": err.Error()}})
			return
		}
		if !c.subscribe(req.Filter) {
			return
		}
		c.enqueue(Message{Type: MessageTypeSubscribed, Data: map[string]interface{}{"filter": req.Filter}})
	default:
		c.logger.WithField("request_type", req.Type).Debug("Unknown WebSocket request type")
		c.enqueue(Message{Type: MessageTypeError, Data: map[string]string{"error": "unknown request type " + req.Type}})
	}
}
