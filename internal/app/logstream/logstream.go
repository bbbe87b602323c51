// Package logstream implements the request-logging multicast hub: every
// protocol adapter's logging middleware step publishes a structured
// record here, and any number of websocket subscribers (an attached
// terminal, a test harness) receive a live tail of them.
//
// Grounded on _examples/other_examples' RemedyIQ streaming hub
// (register/unregister channels draining into one event loop goroutine,
// a bounded per-client send buffer that drops the oldest message under
// backpressure instead of blocking the publisher) adapted from a
// per-topic pub/sub shape to a single broadcast-to-everyone stream,
// since log records have no topic to filter by.
package logstream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// sendBufferSize bounds how many unsent records a slow subscriber can
// accumulate before the hub starts dropping its oldest buffered record.
const sendBufferSize = 256

// Record is one request-logging entry, matching the fields spec.md 4.8
// step 1 calls for.
type Record struct {
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Operation string `json:"operation,omitempty"`
	Status    int    `json:"status"`
	DurationMs int64  `json:"duration_ms"`
}

// Hub owns every connected subscriber and fans out published records.
type Hub struct {
	log *logrus.Entry

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub constructs an empty log-stream hub.
func NewHub(log *logrus.Entry) *Hub {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{log: log, clients: make(map[*client]struct{})}
}

// Publish broadcasts one record to every connected subscriber.
func (h *Hub) Publish(r Record) {
	data, err := json.Marshal(r)
	if err != nil {
		h.log.WithError(err).Warn("marshal log-stream record")
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			select {
			case <-c.send:
			default:
			}
			select {
			case c.send <- data:
			default:
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the connection to a websocket and streams log
// records until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("upgrade log-stream websocket")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.readPump(c)
	h.writePump(c)
}

// readPump drains and discards client frames, detecting disconnects;
// subscribers are expected to be read-only.
func (h *Hub) readPump(c *client) {
	defer h.removeClient(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
