package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for decoupled UI
	},
}

const writeWait = 5 * time.Second

// safeConn serializes writes; gorilla connections allow one concurrent writer.
type safeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *safeConn) write(data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_ = sc.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return sc.Conn.WriteMessage(websocket.TextMessage, data)
}

// WebMonitor broadcasts every MonitorMessage as JSON to the websocket
// clients connected on /ws. Late joiners receive the backlog first.
type WebMonitor struct {
	addr     string
	server   *http.Server
	listener net.Listener

	mu      sync.RWMutex
	conns   map[*safeConn]struct{}
	backlog [][]byte
	// BacklogSize caps the replayed messages; 0 keeps none.
	BacklogSize int
}

// NewWebMonitor listens on addr (":9453", "127.0.0.1:0", ...).
func NewWebMonitor(addr string) *WebMonitor {
	return &WebMonitor{
		addr:        addr,
		conns:       make(map[*safeConn]struct{}),
		BacklogSize: 200,
	}
}

// Start binds the listener and serves in the background.
func (m *WebMonitor) Start() error {
	ln, err := net.Listen("tcp", m.addr)
	if err != nil {
		return fmt.Errorf("web monitor listen %s: %w", m.addr, err)
	}
	m.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", m.handleWebSocket)
	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Web monitor listening", "addr", ln.Addr().String())

	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Web monitor server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (m *WebMonitor) Addr() string {
	if m.listener == nil {
		return m.addr
	}
	return m.listener.Addr().String()
}

// Stop closes the server and every client connection.
func (m *WebMonitor) Stop() error {
	if m.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := m.server.Shutdown(ctx)

	m.mu.Lock()
	for c := range m.conns {
		c.Close()
		delete(m.conns, c)
	}
	m.mu.Unlock()
	return err
}

// OnMessage broadcasts msg to every connected client.
func (m *WebMonitor) OnMessage(msg MonitorMessage) {
	data, err := json.Marshal(map[string]any{
		"type": "message",
		"data": msg,
	})
	if err != nil {
		slog.Error("Failed to marshal monitor message", "error", err)
		return
	}

	m.mu.Lock()
	if m.BacklogSize > 0 {
		m.backlog = append(m.backlog, data)
		if over := len(m.backlog) - m.BacklogSize; over > 0 {
			m.backlog = m.backlog[over:]
		}
	}
	conns := make([]*safeConn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		if err := c.write(data); err != nil {
			slog.Debug("Dropping web monitor client", "error", err)
			m.drop(c)
		}
	}
}

func (m *WebMonitor) drop(c *safeConn) {
	m.mu.Lock()
	delete(m.conns, c)
	m.mu.Unlock()
	c.Close()
}

func (m *WebMonitor) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS Upgrade failed", "error", err)
		return
	}
	conn := &safeConn{Conn: rawConn}

	// Hold the write lock until the backlog is flushed so broadcasts that race
	// with registration are delivered after it.
	conn.mu.Lock()
	m.mu.Lock()
	backlog := make([][]byte, len(m.backlog))
	copy(backlog, m.backlog)
	m.conns[conn] = struct{}{}
	m.mu.Unlock()

	var flushErr error
	for _, data := range backlog {
		_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		if flushErr = conn.Conn.WriteMessage(websocket.TextMessage, data); flushErr != nil {
			break
		}
	}
	conn.mu.Unlock()
	if flushErr != nil {
		m.drop(conn)
		return
	}

	// Read loop only detects disconnects; clients never send anything useful.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			m.drop(conn)
			return
		}
	}
}
