package websocket

import (
	"sync"
	"time"

	"github.com/michalprusek/spheroseg-sub008/internal/logger"
	"github.com/michalprusek/spheroseg-sub008/pkg/config"
)

const (
	defaultBroadcastBuffer = 256
	defaultClientBuffer    = 64
	defaultMaxConnections  = 1000
)

// WebSocketSettings carries the per-connection tunables resolved from
// configuration once at hub construction.
type WebSocketSettings struct {
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
	readBuffer     int
	writeBuffer    int
	clientBuffer   int
	maxConnections int
}

func NewWebSocketSettings(cfg *config.WebSocketConfig) *WebSocketSettings {
	s := &WebSocketSettings{
		writeWait:      10 * time.Second,
		pongWait:       60 * time.Second,
		maxMessageSize: 4096,
		readBuffer:     1024,
		writeBuffer:    1024,
		clientBuffer:   defaultClientBuffer,
		maxConnections: defaultMaxConnections,
	}
	if cfg != nil {
		if cfg.WriteTimeout > 0 {
			s.writeWait = cfg.WriteTimeout
		}
		if cfg.PongTimeout > 0 {
			s.pongWait = cfg.PongTimeout
		}
		if cfg.MaxMessageSize > 0 {
			s.maxMessageSize = cfg.MaxMessageSize
		}
		if cfg.ReadBufferSize > 0 {
			s.readBuffer = cfg.ReadBufferSize
		}
		if cfg.WriteBufferSize > 0 {
			s.writeBuffer = cfg.WriteBufferSize
		}
		if cfg.ClientBuffer > 0 {
			s.clientBuffer = cfg.ClientBuffer
		}
		if cfg.MaxConnections > 0 {
			s.maxConnections = cfg.MaxConnections
		}
	}
	// Pings must arrive before the peer's pong deadline expires.
	s.pingPeriod = (s.pongWait * 9) / 10
	if cfg != nil && cfg.PingInterval > 0 && cfg.PingInterval < s.pongWait {
		s.pingPeriod = cfg.PingInterval
	}
	return s
}

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *OutgoingMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	settings   *WebSocketSettings
}

func NewHub(cfg *config.WebSocketConfig) *Hub {
	settings := NewWebSocketSettings(cfg)

	broadcastBuffer := defaultBroadcastBuffer
	if cfg != nil && cfg.BroadcastBuffer > 0 {
		broadcastBuffer = cfg.BroadcastBuffer
	}

	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *OutgoingMessage, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		settings:   settings,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.Infof("WebSocket client connected (total: %d)", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			logger.Infof("WebSocket client disconnected (total: %d)", h.ClientCount())

		case message := <-h.broadcast:
			h.deliver(message)

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop shuts the run loop down and disconnects every client.
func (h *Hub) Stop() {
	close(h.done)
}

// Broadcast queues a message for every interested client. When the queue
// is full the message is dropped; live streams must not back-pressure
// collectors or the scaler.
func (h *Hub) Broadcast(message *OutgoingMessage) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	default:
		logger.Warn("Broadcast channel full, dropping message")
	}
}

// deliver fans a message out, skipping clients subscribed to a different
// scope. Clients that cannot keep up are evicted.
func (h *Hub) deliver(message *OutgoingMessage) {
	payload := message.JSON()

	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		if !client.wants(message.Scope) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
		}
	}
	h.mu.Unlock()
	logger.Warnf("Evicted %d slow WebSocket client(s)", len(slow))
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
