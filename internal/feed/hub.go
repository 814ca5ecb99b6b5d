// Package feed streams moderation decisions to connected moderator consoles
// over WebSocket. Clients only listen; anything they send besides control
// frames is discarded.
package feed

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/whisper/comment-moderator/internal/metrics"
	"github.com/whisper/comment-moderator/internal/moderation"
)

// Config holds tunable parameters for the hub.
type Config struct {
	SendBuffer   int           // queued frames per client before it is dropped
	WriteTimeout time.Duration // timeout for one frame write
	PingInterval time.Duration // how often idle clients are pinged
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SendBuffer:   64,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

type client struct {
	id      string
	conn    net.Conn
	send    chan []byte
	writeMu sync.Mutex // serializes frames written by the pump and control replies
	once    sync.Once
}

func (c *client) write(op ws.OpCode, data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	defer c.conn.SetWriteDeadline(time.Time{})
	return wsutil.WriteServerMessage(c.conn, op, data)
}

// Hub fans decisions out to every connected client.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates an empty Hub.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultConfig().PingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger.With("component", "feed"),
		clients: make(map[string]*client),
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	metrics.FeedClients.Inc()
	h.logger.Info("client connected", "client_id", c.id, "remote", r.RemoteAddr, "clients", n)

	go h.writePump(c)
	go h.readPump(c)
}

// readPump answers control frames and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	control := func(hdr ws.Header, r io.Reader) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return wsutil.ControlFrameHandler(c.conn, ws.StateServerSide)(hdr, r)
	}
	rd := &wsutil.Reader{
		Source:         c.conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				return
			}
			continue
		}
		if err := rd.Discard(); err != nil {
			return
		}
	}
}

// writePump sends queued frames and pings the client while idle.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.write(ws.OpText, data, h.cfg.WriteTimeout); err != nil {
				h.logger.Warn("write failed", "client_id", c.id, "err", err)
				h.remove(c)
				return
			}
		case <-ticker.C:
			if err := c.write(ws.OpPing, nil, h.cfg.WriteTimeout); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// remove unregisters c and closes its connection. It is safe to call more
// than once.
func (h *Hub) remove(c *client) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		close(c.send)
		c.conn.Close()
		metrics.FeedClients.Dec()
		h.logger.Info("client disconnected", "client_id", c.id)
	})
}

// Broadcast queues d for every client. Clients whose buffer is full are
// dropped rather than slowing the caller.
func (h *Hub) Broadcast(d moderation.Decision) {
	data, err := json.Marshal(d)
	if err != nil {
		h.logger.Error("encode decision", "decision_id", d.ID, "err", err)
		return
	}

	var slow []*client
	h.mu.RLock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow client", "client_id", c.id)
		h.remove(c)
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.remove(c)
	}
}
