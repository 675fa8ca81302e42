package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/michalprusek/spheroseg-sub008/internal/logger"
)

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu    sync.Mutex
	scope string
}

type IncomingMessage struct {
	Type  string `json:"type"`
	Scope string `json:"scope,omitempty"`
}

func NewClient(hub *Hub, conn *websocket.Conn, scope string) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, hub.settings.clientBuffer),
		scope: scope,
	}
}

// wants reports whether the client should receive a message published on
// the given scope. Unsubscribed clients receive the full firehose.
func (c *Client) wants(scope string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scope == "" || c.scope == scope
}

func (c *Client) setScope(scope string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous := c.scope
	c.scope = scope
	return previous
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	settings := c.hub.settings
	c.conn.SetReadLimit(settings.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(settings.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(settings.pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Errorf("WebSocket error: %v", err)
			}
			break
		}

		var msg IncomingMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			c.handleMessage(&msg)
		}
	}
}

func (c *Client) WritePump() {
	settings := c.hub.settings
	ticker := time.NewTicker(settings.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(settings.writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to current websocket frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(settings.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg *IncomingMessage) {
	switch msg.Type {
	case "subscribe":
		if msg.Scope != "" {
			c.setScope(msg.Scope)
			logger.Infof("Client subscribed to scope: %s", msg.Scope)
			c.sendConfirmation("subscribed", msg.Scope)
		}
	case "unsubscribe":
		previous := c.setScope("")
		logger.Info("Client unsubscribed, receiving all scopes")
		c.sendConfirmation("unsubscribed", previous)
	}
}

func (c *Client) sendConfirmation(action, scope string) {
	confirmation := map[string]interface{}{
		"type":      "subscription_update",
		"action":    action,
		"scope":     scope,
		"timestamp": time.Now(),
	}
	data, err := json.Marshal(confirmation)
	if err != nil {
		logger.Errorf("Failed to marshal confirmation: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		logger.Warn("Client send channel full, dropping confirmation")
	}
}

func ServeWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  hub.settings.readBuffer,
		WriteBufferSize: hub.settings.writeBuffer,
		CheckOrigin: func(r *http.Request) bool {
			return true // Cross-origin dashboards are allowed
		},
	}

	return func(c *gin.Context) {
		if hub.ClientCount() >= hub.settings.maxConnections {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "connection limit reached"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Errorf("WebSocket upgrade failed: %v", err)
			return
		}

		scope := c.Query("scope")
		client := NewClient(hub, conn, scope)
		hub.Register(client)

		go client.WritePump()
		go client.ReadPump()
	}
}
