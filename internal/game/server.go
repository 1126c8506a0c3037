package game

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robots-arena/robots/internal/events"
)

// Traffic is the transport activity of the connection a session runs on.
type Traffic struct {
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	BytesRead    uint64    `json:"bytes_read"`
	BytesWritten uint64    `json:"bytes_written"`
}

// trackedConn is a connection that counts its own traffic, such as
// network.Connection.
type trackedConn interface {
	ConnectedAt() time.Time
	LastActivity() time.Time
	BytesRead() uint64
	BytesWritten() uint64
}

// Server creates one Session per connection handed to Serve. It is the
// network.SessionHandler of the robots server.
type Server struct {
	settings Settings
	bus      *events.EventBus

	nextID   atomic.Uint64
	finished atomic.Uint64

	mu          sync.RWMutex
	current     *Session
	currentConn trackedConn
}

// NewServer validates the generator choice and returns a Server.
func NewServer(settings Settings, bus *events.EventBus) (*Server, error) {
	if _, err := NewTurnGenerator(settings); err != nil {
		return nil, err
	}
	return &Server{settings: settings, bus: bus}, nil
}

// Settings returns the settings every session is started with.
func (s *Server) Settings() Settings {
	return s.settings
}

// Serve runs one session over conn and returns when it ends.
func (s *Server) Serve(ctx context.Context, conn net.Conn) error {
	gen, err := NewTurnGenerator(s.settings)
	if err != nil {
		return err
	}
	sess := NewSession(s.nextID.Add(1), conn, conn.RemoteAddr().String(), s.settings, gen, s.bus)

	tc, _ := conn.(trackedConn)
	s.mu.Lock()
	s.current, s.currentConn = sess, tc
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.current, s.currentConn = nil, nil
		s.mu.Unlock()
	}()

	if err := sess.Run(ctx); err != nil {
		return err
	}
	s.finished.Add(1)
	return nil
}

// Current returns the status of the session being served, if any. Traffic
// is filled in when the connection tracks its own activity.
func (s *Server) Current() (Status, bool) {
	s.mu.RLock()
	sess, tc := s.current, s.currentConn
	s.mu.RUnlock()
	if sess == nil {
		return Status{}, false
	}
	st := sess.Status()
	if tc != nil {
		st.Traffic = &Traffic{
			ConnectedAt:  tc.ConnectedAt(),
			LastActivity: tc.LastActivity(),
			BytesRead:    tc.BytesRead(),
			BytesWritten: tc.BytesWritten(),
		}
	}
	return st, true
}

// GamesFinished returns the number of sessions that reached GameEnded.
func (s *Server) GamesFinished() uint64 {
	return s.finished.Load()
}
