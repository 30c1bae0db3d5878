// Package eventstream broadcasts session events to WebSocket clients.
//
// A Hub is a session.Listener: OnEvent never blocks the session, it queues
// the event and a single broadcast goroutine fans it out. Each new client
// first receives a snapshot of the last known state.
package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/mrz1836/replisync/internal/session"
)

// MessageSnapshot is the type of the first message every client receives.
const MessageSnapshot = "snapshot"

const (
	queueSize    = 128
	writeTimeout = 5 * time.Second
)

// Logger is the logging surface the hub uses.
type Logger interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Error(string, ...any) {}

// Message is the JSON form of a session event.
type Message struct {
	Type    string    `json:"type"`
	Session string    `json:"session,omitempty"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	NextMs  int64     `json:"next_ms,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// FromEvent converts a session event to its wire form.
func FromEvent(e session.Event) Message {
	m := Message{
		Type:    string(e.Type),
		Session: e.Session,
		From:    e.From.String(),
		To:      e.To.String(),
		Attempt: e.Attempt,
		NextMs:  e.Next.Milliseconds(),
		At:      e.At,
	}
	if e.Err != nil {
		m.Error = e.Err.Error()
	}
	return m
}

// Hub tracks WebSocket clients and broadcasts messages to them.
type Hub struct {
	clients   map[*websocket.Conn]struct{}
	clientsMu sync.RWMutex

	// last is the most recent state_entered message, sent to new clients.
	last   *Message
	lastMu sync.Mutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	server   *http.Server
	listener net.Listener

	logger Logger
}

// NewHub creates a hub and starts its broadcast loop.
func NewHub(logger Logger) *Hub {
	if logger == nil {
		logger = nopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan Message, queueSize),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}

	h.wg.Add(1)
	go h.broadcastLoop()
	return h
}

// OnEvent queues e for broadcast. When the queue is full the event is dropped.
func (h *Hub) OnEvent(e session.Event) {
	msg := FromEvent(e)
	if e.Type == session.EventStateEntered {
		h.lastMu.Lock()
		h.last = &msg
		h.lastMu.Unlock()
	}
	h.Broadcast(msg)
}

// Broadcast queues msg for every connected client.
func (h *Hub) Broadcast(msg Message) {
	select {
	case <-h.ctx.Done():
	case h.broadcast <- msg:
	default:
		h.logger.Error("eventstream: queue full, dropping %s", msg.Type)
	}
}

// Handler returns the HTTP routes: /ws for the stream and /health.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)
	mux.HandleFunc("/health", h.handleHealth)
	return mux
}

// Start serves Handler on addr and returns the bound address.
func (h *Hub) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listening on %s: %w", addr, err)
	}
	h.listener = ln
	h.server = &http.Server{
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("eventstream: serve: %v", err)
		}
	}()

	h.logger.Debug("eventstream: listening on %s", ln.Addr())
	return ln.Addr().String(), nil
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() error {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	var err error
	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		err = h.server.Shutdown(ctx)
	}

	h.wg.Wait()
	return err
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("eventstream: encoding %s: %v", msg.Type, err)
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range clients {
				if err := h.write(conn, data); err != nil {
					h.logger.Debug("eventstream: dropping client: %v", err)
					h.removeClient(conn)
				}
			}
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("eventstream: upgrade failed: %v", err)
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Debug("eventstream: client connected (total: %d)", count)

	snapshot := Message{Type: MessageSnapshot, At: time.Now()}
	h.lastMu.Lock()
	if h.last != nil {
		snapshot.Session = h.last.Session
		snapshot.To = h.last.To
	}
	h.lastMu.Unlock()

	data, _ := json.Marshal(snapshot)
	if err := h.write(conn, data); err != nil {
		h.removeClient(conn)
		return
	}

	h.readLoop(conn)
}

// readLoop discards client messages until the connection closes.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)
	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, ok := h.clients[conn]; !ok {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, conn)
	count := len(h.clients)
	h.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Debug("eventstream: client disconnected (total: %d)", count)
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": h.ClientCount(),
	})
}
