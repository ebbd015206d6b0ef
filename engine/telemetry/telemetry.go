// Package telemetry streams engine statistics and chunk state transitions to
// websocket subscribers. The stream is read-only and best-effort: a slow
// subscriber is dropped rather than ever blocking the engine.
package telemetry

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeTimeout bounds how long a broadcast may block on one subscriber.
const writeTimeout = 5 * time.Second

// Config holds the options for a Server.
type Config struct {
	// Log is the logger subscriber churn is reported to. If nil, Log is set
	// to slog.Default().
	Log *slog.Logger
}

// Server fans engine telemetry out to websocket subscribers.
type Server struct {
	conf     Config
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// New creates a telemetry Server.
func New(conf Config) *Server {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	return &Server{
		conf: conf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket subscription. Subscribers
// only receive; anything they send is read and discarded to service control
// frames.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.conf.Log.Debug("telemetry: upgrade failed", "error", err)
		return
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	n := len(s.conns)
	s.mu.Unlock()
	s.conf.Log.Info("telemetry: subscriber connected", "remote", conn.RemoteAddr().String(), "subscribers", n)

	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				s.drop(conn)
				return
			}
		}
	}()
}

// Broadcast sends a JSON message to all subscribers. Subscribers that cannot
// keep up within the write timeout are dropped.
func (s *Server) Broadcast(v any) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(v); err != nil {
			s.drop(conn)
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (s *Server) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	_, ok := s.conns[conn]
	delete(s.conns, conn)
	s.mu.Unlock()
	if ok {
		_ = conn.Close()
		s.conf.Log.Info("telemetry: subscriber dropped", "remote", conn.RemoteAddr().String())
	}
}

// Close disconnects all subscribers.
func (s *Server) Close() error {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.conns = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
	return nil
}
