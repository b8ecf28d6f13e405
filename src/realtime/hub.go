package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/auth"
	"tradeengine/src/model"
)

const writeTimeout = 5 * time.Second

// envelope is the wire frame pushed to clients.
type envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// client wraps one websocket connection. The mutex serializes writes, the
// websocket package allows only one concurrent writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub fans trade updates out to the websocket connections of each user.
// Delivery is best effort: a connection that cannot be written to is
// dropped, the database remains the source of truth.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint]map[*client]bool

	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients: map[uint]map[*client]bool{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// HandleWS upgrades an authenticated request and keeps the connection
// registered until the peer goes away.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.GetUserFromContext(r.Context())
	if !ok || user == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{conn: conn}
	h.register(user.ID, c)
	logger.WithField("user_id", user.ID).Debug("websocket client connected")

	// Reads are only used to detect the peer closing.
	go func() {
		defer func() {
			h.unregister(user.ID, c)
			_ = conn.Close()
			logger.WithField("user_id", user.ID).Debug("websocket client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// PublishTradeUpdate pushes the trade's current state to every connection
// of the user. Safe to call from any goroutine.
func (h *Hub) PublishTradeUpdate(userID uint, trade *model.Trade) {
	payload, err := json.Marshal(envelope{Type: "trade_update", Data: trade})
	if err != nil {
		logger.WithError(err).Error("failed to serialize trade update")
		return
	}

	for _, c := range h.clientsFor(userID) {
		if err := c.send(payload); err != nil {
			logger.WithError(err).WithField("user_id", userID).Debug("dropping dead websocket connection")
			h.unregister(userID, c)
			_ = c.conn.Close()
		}
	}
}

func (h *Hub) register(userID uint, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = map[*client]bool{}
	}
	h.clients[userID][c] = true
}

func (h *Hub) unregister(userID uint, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[userID], c)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

func (h *Hub) clientsFor(userID uint) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		clients = append(clients, c)
	}
	return clients
}
