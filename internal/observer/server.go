// Package observer streams sim log entries to WebSocket clients on the local
// machine. Publishing never blocks the simulation: a client that falls
// behind loses entries instead.
package observer

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Garsondee/Volley-Sense/internal/volley"
)

const ProtocolVersion = 1

// Message is one frame sent to a client.
type Message struct {
	Type     string              `json:"type"` // HELLO or ENTRY
	Version  int                 `json:"version,omitempty"`
	RunID    string              `json:"run_id,omitempty"`
	ClientID uint64              `json:"client_id,omitempty"`
	Entry    *volley.SimLogEntry `json:"entry,omitempty"`
}

// Status is served as JSON from /status.
type Status struct {
	RunID     string `json:"run_id"`
	Clients   int    `json:"clients"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

type client struct {
	id  uint64
	out chan []byte
}

type Server struct {
	runID  string
	logger *slog.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.Mutex
	clients map[uint64]*client

	published atomic.Uint64
	dropped   atomic.Uint64
	buffer    int
}

func NewServer(runID string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		runID:  runID,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: map[uint64]*client{},
		buffer:  1024,
	}
}

// Attach publishes every entry added to sl from now on.
func (s *Server) Attach(sl *volley.SimLog) {
	sl.Subscribe(s.Publish)
}

// Publish sends e to every connected client.
func (s *Server) Publish(e volley.SimLogEntry) {
	b, err := json.Marshal(Message{Type: "ENTRY", RunID: s.runID, Entry: &e})
	if err != nil {
		s.logger.Error("observer encode failed", "error", err)
		return
	}
	s.published.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		select {
		case c.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Server) Status() Status {
	s.mu.Lock()
	n := len(s.clients)
	s.mu.Unlock()
	return Status{RunID: s.runID, Clients: n, Published: s.published.Load(), Dropped: s.dropped.Load()}
}

func (s *Server) register() *client {
	c := &client{id: s.nextID.Add(1), out: make(chan []byte, s.buffer)}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	return c
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
}

// Handler serves /ws and /status.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.WSHandler())
	mux.HandleFunc("/status", s.StatusHandler())
	return mux
}

func (s *Server) StatusHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.Status())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := s.register()
		defer s.unregister(c)
		s.logger.Debug("observer connected", "client", c.id, "remote", r.RemoteAddr)

		hello, _ := json.Marshal(Message{Type: "HELLO", Version: ProtocolVersion, RunID: s.runID, ClientID: c.id})
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
			return
		}

		done := make(chan struct{})
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-done:
					writeErr <- nil
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Clients only listen; reading keeps control frames flowing and
		// notices when they leave.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		close(done)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.logger.Debug("observer disconnected", "client", c.id)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
