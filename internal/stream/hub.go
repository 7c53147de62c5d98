// Package stream fans simulation frames out to websocket viewers.
package stream

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 5 * time.Second
	maxReadBytes = 4096
)

var ErrHubClosed = errors.New("stream hub closed")

type client struct {
	conn *websocket.Conn
	addr string
	send chan []byte
}

// Hub keeps a bounded send queue per viewer. A viewer whose queue is full
// when a message is broadcast gets disconnected. New viewers receive the
// hello, the latest frame and, if growth finished, the done message.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *log.Logger
	buffer   int
	seq      atomic.Uint64

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	hello   []byte
	frame   []byte
	done    []byte
}

func NewHub(buffer int, logger *log.Logger) *Hub {
	if buffer <= 0 {
		buffer = 8
	}
	if logger == nil {
		logger = log.New(log.Writer(), "stream ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		buffer:  buffer,
		clients: make(map[*client]struct{}),
	}
}

// SetHello stores the greeting sent to every viewer on connect.
func (h *Hub) SetHello(hello Hello) error {
	data, err := h.prepare(MessageHello, hello)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.hello = data
	h.mu.Unlock()
	return nil
}

// Broadcast sends payload to all connected viewers. Frame and done messages
// are kept for replay; a restart clears them.
func (h *Hub) Broadcast(msgType MessageType, payload any) error {
	data, err := h.prepare(msgType, payload)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	switch msgType {
	case MessageFrame:
		h.frame = data
	case MessageDone:
		h.done = data
	case MessageRestart:
		h.frame, h.done = nil, nil
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Printf("dropping slow viewer %s", c.addr)
			h.dropLocked(c)
		}
	}
	return nil
}

// ServeHTTP upgrades the request and streams messages until the viewer
// disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade: %v", err)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	replay := h.replayLocked()
	c := &client{
		conn: conn,
		addr: conn.RemoteAddr().String(),
		send: make(chan []byte, h.buffer+len(replay)),
	}
	for _, msg := range replay {
		c.send <- msg
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) replayLocked() [][]byte {
	var out [][]byte
	for _, msg := range [][]byte{h.hello, h.frame, h.done} {
		if msg != nil {
			out = append(out, msg)
		}
	}
	return out
}

// readPump discards viewer input and notices when the peer goes away.
func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(maxReadBytes)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(c)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.dropLocked(c)
	h.mu.Unlock()
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Clients reports the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every viewer. Later broadcasts fail with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (h *Hub) prepare(msgType MessageType, payload any) ([]byte, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	return Encode(Envelope{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Seq:       h.seq.Add(1),
		Payload:   raw,
	})
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte("null"), nil
	case []byte:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}
