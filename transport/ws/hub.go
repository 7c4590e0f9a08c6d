// Package ws is the out-of-core WebSocket broadcast pump: it subscribes
// to the Knowledge Base's event feed and fans each event out to every
// connected client. A registry of live connections, each with a buffered
// outgoing channel drained by its own write pump, simplified here to
// pure broadcast fan-out — there is no per-session JSON-RPC dispatch on
// this pump, only notification of graph events.
//
// The core (internal/kb) knows only that listeners exist (kb.Subscribe);
// the sequencing and buffering of broadcast notifications is owned
// entirely here, keeping global mutable broadcast state out of the core.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kgraphd/kgraphd/internal/kb"
	"github.com/kgraphd/kgraphd/internal/kgtypes"
)

// Event is one broadcast notification: a graph event plus the
// process-wide monotonic sequence number assigned at emission time.
type Event struct {
	Seq    uint64         `json:"seq"`
	Record kgtypes.Record `json:"record"`
}

// Hub fans out Knowledge Base events to every connected WebSocket
// client. The zero value is not usable; construct with NewHub.
type Hub struct {
	upgrader   websocket.Upgrader
	bufferSize int
	seq        atomic.Uint64

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub builds a Hub whose per-connection outgoing buffer holds
// bufferSize events before a slow client is dropped (default 1024).
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Hub{
		bufferSize: bufferSize,
		conns:      make(map[*conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Subscribe registers the Hub as a listener on graph, so every
// subsequently committed event is broadcast to connected clients.
func (h *Hub) Subscribe(graph *kb.KB) {
	graph.Subscribe(h.broadcast)
}

func (h *Hub) broadcast(rec kgtypes.Record) {
	evt := Event{Seq: h.seq.Add(1), Record: rec}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}

	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		select {
		case c.sendCh <- data:
		default:
			// Slow client: drop rather than block the broadcaster.
			go h.drop(c)
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket connection and streams
// broadcast events to it until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: wsConn, sendCh: make(chan []byte, h.bufferSize)}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go c.readPump(cancel)
	c.writePump(ctx)

	h.drop(c)
}

func (h *Hub) drop(c *conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		_ = c.ws.Close()
	}
	h.mu.Unlock()
}

// ConnectionCount reports how many clients are currently connected.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// conn wraps one client connection with a buffered outgoing channel and
// splits reading from writing across two goroutines: one drains the
// socket for liveness (pong handling), the other owns all writes.
type conn struct {
	ws     *websocket.Conn
	sendCh chan []byte
}

func (c *conn) readPump(cancel context.CancelFunc) {
	defer cancel()
	_ = c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.sendCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ListenAndServe runs an HTTP server exposing the Hub at /ws until ctx is
// canceled.
func ListenAndServe(ctx context.Context, addr string, h *Hub) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeHTTP)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("websocket server: %w", err)
		}
		return nil
	}
}
