package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// hubMessage is the wire form of a notification pushed to subscribers.
type hubMessage struct {
	Type       Type           `json:"type"`
	IdentityID string         `json:"identityId"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  int64          `json:"timestamp"`
}

// client is one WebSocket subscription for an identity's notifications.
type client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	identityID string
}

// Hub fans trip notifications out to WebSocket subscribers, keyed by
// identity. It implements Notifier so the API server can serve live updates
// without a push gateway. Construct with NewHub and run the loop with Run.
type Hub struct {
	clients    map[string]map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan *hubMessage
	log        *zap.Logger
	mu         sync.RWMutex
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan *hubMessage, 256),
		log:        log,
	}
}

// Notify implements Notifier by broadcasting to the identity's subscribers.
func (h *Hub) Notify(_ context.Context, n Notification) error {
	h.broadcast <- &hubMessage{
		Type:       n.Type,
		IdentityID: n.IdentityID,
		Severity:   n.Severity,
		Message:    n.Message,
		Data:       n.Data,
		Timestamp:  time.Now().UnixMilli(),
	}
	return nil
}

// Run drives the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.identityID] == nil {
				h.clients[c.identityID] = make(map[*client]bool)
			}
			h.clients[c.identityID][c] = true
			h.mu.Unlock()
			h.log.Debug("notification subscriber registered", zap.String("identityId", c.identityID))

		case c := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[c.identityID]; ok {
				if _, ok := clients[c]; ok {
					delete(clients, c)
					close(c.send)
					if len(clients) == 0 {
						delete(h.clients, c.identityID)
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.log.Warn("failed to marshal hub message", zap.Error(err))
				continue
			}

			h.mu.RLock()
			clients := h.clients[msg.IdentityID]
			h.mu.RUnlock()

			for c := range clients {
				select {
				case c.send <- data:
				default:
					h.mu.Lock()
					delete(h.clients[msg.IdentityID], c)
					close(c.send)
					h.mu.Unlock()
				}
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API layer already applies CORS; the hub accepts any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades the request and subscribes it to identityID's
// notifications.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, identityID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, 64),
		identityID: identityID,
	}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SubscriberCount returns how many connections watch an identity.
func (h *Hub) SubscriberCount(identityID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[identityID])
}
