// Package websocket pushes live log lines and engine events to connected
// admin UI clients.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	readLimit  = 32 << 10
	sendBuffer = 256
)

// Message is the wire envelope for every push.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Client is one connected admin UI session.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string
}

// Hub fans messages out to every connected client. Clients that cannot
// keep up are disconnected rather than allowed to stall the others.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	stop       sync.Once

	mu      sync.RWMutex
	clients map[*Client]bool

	initial  func() []Message
	upgrader websocket.Upgrader
}

// NewHub builds a hub. initial produces the messages replayed to each new
// connection (recent log lines, engine status); origins is the
// comma-separated origin allow list, empty meaning any origin.
func NewHub(initial func() []Message, origins string) *Hub {
	h := &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		clients:    map[*Client]bool{},
		initial:    initial,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(origins),
	}
	return h
}

func originChecker(origins string) func(*http.Request) bool {
	var allowed []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed = append(allowed, o)
		}
	}
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Run owns the client set until ctx ends, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Debug().Str("client", c.id).Int("clients", n).Msg("Websocket client connected")
			h.replayInitial(c)

		case c := <-h.unregister:
			if h.drop(c) {
				log.Debug().Str("client", c.id).Msg("Websocket client disconnected")
			}

		case msg := <-h.broadcast:
			for _, c := range h.clientList() {
				select {
				case c.send <- msg:
				default:
					h.drop(c)
					log.Warn().Str("client", c.id).Msg("Websocket client too slow, dropping")
				}
			}
		}
	}
}

// replayInitial runs inside the hub loop, so the client cannot be dropped
// concurrently while we write to its send channel.
func (h *Hub) replayInitial(c *Client) {
	if h.initial == nil {
		return
	}
	for _, msg := range h.initial() {
		raw, err := json.Marshal(msg)
		if err != nil {
			log.Error().Err(err).Str("type", msg.Type).Msg("marshal initial websocket message")
			continue
		}
		select {
		case c.send <- raw:
		default:
			return
		}
	}
}

func (h *Hub) drop(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	close(c.send)
	return true
}

func (h *Hub) clientList() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) closeAll() {
	h.stop.Do(func() { close(h.done) })
	for _, c := range h.clientList() {
		h.drop(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues one typed message for every client.
func (h *Hub) Broadcast(typ string, data any) {
	raw, err := json.Marshal(Message{Type: typ, Data: data})
	if err != nil {
		log.Error().Err(err).Str("type", typ).Msg("marshal websocket message")
		return
	}
	select {
	case h.broadcast <- raw:
	default:
		log.Warn().Str("type", typ).Msg("Websocket broadcast queue full, message dropped")
	}
}

// BroadcastLog pushes one rendered log line.
func (h *Hub) BroadcastLog(line string) {
	h.Broadcast("log", line)
}

// BroadcastEvent pushes one engine event.
func (h *Hub) BroadcastEvent(name string, data any) {
	h.Broadcast("event", map[string]any{"name": name, "data": data})
}

// ServeHTTP upgrades the request and starts the client pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("Websocket upgrade refused")
		return
	}
	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		id:   uuid.NewString()[:8],
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump consumes client messages until the connection dies. The only
// message a client is expected to send is an application-level ping, which
// is answered with a pong control frame; WriteControl is safe to call
// concurrently with the write pump.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client", c.id).Msg("Websocket read failed")
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Debug().Err(err).Str("client", c.id).Msg("Ignoring malformed websocket message")
			continue
		}
		switch msg.Type {
		case "ping":
			c.conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(writeWait))
		default:
			log.Debug().Str("client", c.id).Str("type", msg.Type).Msg("Unhandled websocket message")
		}
	}
}

// writePump is the only goroutine writing data frames to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			// Flush whatever queued up behind this message.
			for n := len(c.send); n > 0; n-- {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
