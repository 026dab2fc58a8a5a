package overlay

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	logx "irlshots/pkg/logx"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	sendQueue  = 8
	maxInbound = 4 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 << 10,
	// Overlays are loaded by OBS browser sources from arbitrary origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans messages out to connected overlay listeners.
//
// Broadcast never blocks: every listener has a small queue and a listener
// whose queue is full is disconnected.
type Hub struct {
	log logx.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	onCount func(int)
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewHub(log logx.Logger) *Hub {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Hub{log: log, clients: map[*client]struct{}{}}
}

// OnCount registers a callback invoked with the listener count after every
// connect/disconnect.
func (h *Hub) OnCount(fn func(int)) {
	h.mu.Lock()
	h.onCount = fn
	h.mu.Unlock()
}

// Len reports connected listeners.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the listener until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("overlay upgrade failed", logx.Err(err))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendQueue), done: make(chan struct{})}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	h.log.Info("overlay listener connected", logx.String("remote", r.RemoteAddr), logx.Int("listeners", h.Len()))

	go c.writePump()
	c.readPump()
}

// Broadcast sends msg to every listener and returns how many it was queued for.
func (h *Hub) Broadcast(msg Message) (int, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range targets {
		select {
		case <-c.done:
		case c.send <- payload:
			n++
		default:
			h.log.Warn("overlay listener too slow, disconnecting", logx.String("remote", c.conn.RemoteAddr().String()))
			h.unregister(c)
		}
	}
	return n, nil
}

// Close disconnects all listeners and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = map[*client]struct{}{}
	h.mu.Unlock()
	for c := range clients {
		c.shutdown()
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	n, fn := len(h.clients), h.onCount
	h.mu.Unlock()
	if fn != nil {
		fn(n)
	}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n, fn := len(h.clients), h.onCount
	h.mu.Unlock()
	c.shutdown()
	if ok && fn != nil {
		fn(n)
	}
}

func (c *client) shutdown() {
	c.once.Do(func() {
		close(c.done)
	})
}

// readPump discards inbound frames; it exists to process control frames and
// notice disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
		c.hub.log.Info("overlay listener disconnected", logx.Int("listeners", c.hub.Len()))
	}()
	c.conn.SetReadLimit(maxInbound)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
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
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
