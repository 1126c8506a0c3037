package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/robots-arena/robots/internal/events"
	"github.com/robots-arena/robots/internal/util"
)

const (
	spectatorQueue = 64
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
)

// FeedMessage is one session event as sent to spectators.
type FeedMessage struct {
	Type      events.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   interface{}      `json:"payload"`
}

type spectator struct {
	conn *websocket.Conn
	send chan []byte
}

// SpectatorHub relays session events to websocket spectators. A spectator
// that falls more than a queue behind is disconnected.
type SpectatorHub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[*spectator]struct{}
	detach  []func()
}

// NewSpectatorHub creates a hub accepting upgrades from the given origins
// ("*" allows any).
func NewSpectatorHub(allowedOrigins []string) *SpectatorHub {
	h := &SpectatorHub{
		clients: make(map[*spectator]struct{}),
		logger:  util.ComponentLogger("spectate"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Subscribe forwards every session event published on bus until Close.
func (h *SpectatorHub) Subscribe(bus *events.EventBus) {
	forward := func(ctx context.Context, event events.Event) error {
		h.Broadcast(FeedMessage{Type: event.Type, Timestamp: time.Now().UTC(), Payload: event.Payload})
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, et := range events.AllSessionEvents {
		h.detach = append(h.detach, bus.Subscribe(et, "api.spectate", forward))
	}
}

// HandleWebSocket upgrades the request and serves the spectator until it
// disconnects.
func (h *SpectatorHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	s := &spectator{conn: conn, send: make(chan []byte, spectatorQueue)}
	h.mu.Lock()
	h.clients[s] = struct{}{}
	h.mu.Unlock()
	h.logger.Info().Str("remote", r.RemoteAddr).Msg("spectator connected")

	go h.writeLoop(s)

	// Spectators only listen; reading keeps pongs and close frames flowing.
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(s)
	h.logger.Info().Str("remote", r.RemoteAddr).Msg("spectator disconnected")
}

func (h *SpectatorHub) writeLoop(s *spectator) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.remove(s)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(s)
				return
			}
		}
	}
}

// remove unregisters s and closes its queue; the write loop then closes the
// connection.
func (h *SpectatorHub) remove(s *spectator) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[s]; ok {
		delete(h.clients, s)
		close(s.send)
	}
}

// Broadcast queues msg for every spectator.
func (h *SpectatorHub) Broadcast(msg FeedMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("failed to marshal feed message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.clients {
		select {
		case s.send <- data:
		default:
			h.logger.Warn().Str("remote", s.conn.RemoteAddr().String()).Msg("spectator too slow, dropping")
			delete(h.clients, s)
			close(s.send)
		}
	}
}

// ClientCount returns the number of connected spectators.
func (h *SpectatorHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close detaches the hub from the bus and disconnects every spectator.
func (h *SpectatorHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, cancel := range h.detach {
		cancel()
	}
	h.detach = nil
	for s := range h.clients {
		delete(h.clients, s)
		close(s.send)
	}
}
