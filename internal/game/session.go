package game

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/robots-arena/robots/internal/events"
	"github.com/robots-arena/robots/internal/protocol"
	"github.com/robots-arena/robots/internal/util"
)

// Phase is the state of a session.
type Phase int

const (
	PhaseAwaitingPlayers Phase = iota
	PhaseRunning
	PhaseEnded
)

var phaseStrings = map[Phase]string{
	PhaseAwaitingPlayers: "awaiting_players",
	PhaseRunning:         "running",
	PhaseEnded:           "ended",
}

func (p Phase) String() string {
	if s, ok := phaseStrings[p]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON serializes Phase as a JSON string (e.g. "running").
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// Status is a point-in-time copy of a session's public state.
type Status struct {
	SessionID uint64                                `json:"session_id"`
	Remote    string                                `json:"remote"`
	Phase     Phase                                 `json:"phase"`
	Turn      uint16                                `json:"turn"`
	Players   map[protocol.PlayerID]protocol.Player `json:"players"`
	Scores    map[protocol.PlayerID]protocol.Score  `json:"scores"`
	StartedAt time.Time                             `json:"started_at"`
	Traffic   *Traffic                              `json:"traffic,omitempty"`
}

// Session services one accepted connection from Hello to GameEnded.
type Session struct {
	id       uint64
	rw       io.ReadWriter
	remote   string
	settings Settings
	gen      TurnGenerator
	bus      *events.EventBus
	tracer   trace.Tracer
	logger   zerolog.Logger

	in  *protocol.StreamBuffer
	out *protocol.StreamBuffer

	mu        sync.RWMutex
	phase     Phase
	turn      uint16
	players   map[protocol.PlayerID]protocol.Player
	scores    map[protocol.PlayerID]protocol.Score
	startedAt time.Time
}

// NewSession creates a session for one connection. remote is the peer
// address recorded in every accepted Player.
func NewSession(id uint64, rw io.ReadWriter, remote string, settings Settings, gen TurnGenerator, bus *events.EventBus) *Session {
	return &Session{
		id:       id,
		rw:       rw,
		remote:   remote,
		settings: settings,
		gen:      gen,
		bus:      bus,
		tracer:   otel.Tracer("github.com/robots-arena/robots/internal/game"),
		logger: util.ComponentLogger("session").With().
			Uint64("session_id", id).
			Str("remote", remote).
			Logger(),
		in:      protocol.NewStreamBuffer(rw),
		out:     protocol.NewStreamBuffer(rw),
		players: make(map[protocol.PlayerID]protocol.Player),
		scores:  make(map[protocol.PlayerID]protocol.Score),
	}
}

// ID returns the session identifier.
func (s *Session) ID() uint64 {
	return s.id
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		SessionID: s.id,
		Remote:    s.remote,
		Phase:     s.phase,
		Turn:      s.turn,
		Players:   make(map[protocol.PlayerID]protocol.Player, len(s.players)),
		Scores:    make(map[protocol.PlayerID]protocol.Score, len(s.scores)),
		StartedAt: s.startedAt,
	}
	for id, p := range s.players {
		st.Players[id] = p
	}
	for id, sc := range s.scores {
		st.Scores[id] = sc
	}
	return st
}

func (s *Session) emit(ctx context.Context, t events.EventType, payload interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.EmitSync(ctx, events.Event{Type: t, Source: s.remote, Payload: payload})
}

// emitAsync publishes an event whose observers need no ordering relative
// to the session's lifecycle events.
func (s *Session) emitAsync(ctx context.Context, t events.EventType, payload interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(ctx, events.Event{Type: t, Source: s.remote, Payload: payload})
}

func (s *Session) send(m protocol.ServerMessage) error {
	if err := protocol.SendServerMessage(s.out, m); err != nil {
		return fmt.Errorf("sending %s: %w", m.Type(), err)
	}
	return nil
}

// Run drives the session to completion. It returns nil once GameEnded has
// been sent, or the first transport, protocol or context error.
func (s *Session) Run(ctx context.Context) (err error) {
	ctx, span := s.tracer.Start(ctx, "robots.session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.Int64("robots.session_id", int64(s.id)),
			attribute.String("robots.remote", s.remote),
			attribute.String("robots.server_name", s.settings.Game.ServerName),
		),
	)
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()

		kind := protocol.Kind(err)
		bg := context.WithoutCancel(ctx)
		switch kind {
		case "validation", "protocol", "framing":
			s.logger.Warn().Err(err).Str("kind", kind).Msg("message rejected, closing connection")
			s.emitAsync(bg, events.EventMessageRejected, events.MessageRejectedPayload{
				Remote: s.remote,
				Kind:   kind,
				Error:  err.Error(),
			})
		}

		closed := events.SessionClosedPayload{
			SessionID: s.id,
			Remote:    s.remote,
			ErrorKind: kind,
			Duration:  time.Since(start),
		}
		if err != nil {
			closed.Error = err.Error()
		}
		s.emit(bg, events.EventSessionClosed, closed)
	}()

	s.mu.Lock()
	s.startedAt = start
	s.mu.Unlock()

	if err := s.send(protocol.Hello{GameConfig: s.settings.Game}); err != nil {
		return err
	}
	s.logger.Info().Msg("client connected, hello sent")
	s.emit(ctx, events.EventSessionStarted, events.SessionStartedPayload{
		SessionID: s.id,
		Remote:    s.remote,
		Config:    s.settings.Game,
		StartedAt: start,
	})

	if err := s.lobby(ctx); err != nil {
		return err
	}
	if err := s.startGame(ctx); err != nil {
		return err
	}
	span.AddEvent("game_started", trace.WithAttributes(attribute.Int("robots.players", len(s.Status().Players))))

	if err := s.playTurns(ctx, span); err != nil {
		return err
	}
	return s.endGame(ctx)
}

// lobby reads client messages until the configured number of players joined.
func (s *Session) lobby(ctx context.Context) error {
	want := int(s.settings.Game.PlayerCount)
	for len(s.Status().Players) < want {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := protocol.ReadClientMessage(s.in)
		if err != nil {
			s.logger.Warn().Err(err).Str("kind", protocol.Kind(err)).Msg("lobby read failed")
			return fmt.Errorf("lobby: %w", err)
		}

		join, ok := msg.(protocol.Join)
		if !ok {
			s.logger.Debug().Stringer("message", msg.Type()).Msg("gameplay message in lobby discarded")
			continue
		}

		s.mu.Lock()
		id := protocol.PlayerID(len(s.players))
		player := protocol.Player{Name: join.Name, Address: s.remote}
		s.players[id] = player
		s.mu.Unlock()

		if err := s.send(protocol.AcceptedPlayer{ID: id, Player: player}); err != nil {
			return err
		}
		s.logger.Info().Uint8("player_id", uint8(id)).Str("name", join.Name).Msg("player accepted")
		s.emit(ctx, events.EventPlayerAccepted, events.PlayerAcceptedPayload{
			SessionID: s.id,
			PlayerID:  id,
			Player:    player,
		})
	}
	return nil
}

func (s *Session) startGame(ctx context.Context) error {
	st := s.Status()
	ids := make([]protocol.PlayerID, 0, len(st.Players))
	for id := range st.Players {
		ids = append(ids, id)
	}
	s.gen.Reset(ids)

	s.mu.Lock()
	s.phase = PhaseRunning
	s.scores = s.gen.Scores()
	s.mu.Unlock()

	if err := s.send(protocol.GameStarted{Players: st.Players}); err != nil {
		return err
	}
	s.logger.Info().Int("players", len(st.Players)).Msg("game started")
	s.emit(ctx, events.EventGameStarted, events.GameStartedPayload{
		SessionID: s.id,
		Players:   st.Players,
	})
	return nil
}

type readResult struct {
	msg protocol.ClientMessage
	err error
}

// readIntents owns the inbound buffer while the game runs. It stops on the
// first read error or when done is closed.
func (s *Session) readIntents(done <-chan struct{}, out chan<- readResult) {
	for {
		msg, err := protocol.ReadClientMessage(s.in)
		select {
		case out <- readResult{msg: msg, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) playTurns(ctx context.Context, span trace.Span) error {
	done := make(chan struct{})
	defer close(done)
	reads := make(chan readResult)
	go s.readIntents(done, reads)

	ids := make([]protocol.PlayerID, 0)
	for id := range s.Status().Players {
		ids = append(ids, id)
	}

	timer := time.NewTimer(s.settings.TurnDuration)
	defer timer.Stop()

	for turn := uint16(0); turn < s.settings.Game.GameLength; turn++ {
	wait:
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case r := <-reads:
				if r.err != nil {
					return fmt.Errorf("turn %d: %w", turn, r.err)
				}
				if _, isJoin := r.msg.(protocol.Join); isJoin {
					s.logger.Debug().Msg("join during game discarded")
					continue
				}
				for _, id := range ids {
					s.gen.Submit(id, r.msg)
				}
			case <-timer.C:
				break wait
			}
		}

		evs := s.gen.Turn(turn)
		if err := s.send(protocol.Turn{Turn: turn, Events: evs}); err != nil {
			return err
		}
		timer.Reset(s.settings.TurnDuration)

		scores := s.gen.Scores()
		s.mu.Lock()
		s.turn = turn
		s.scores = scores
		s.mu.Unlock()

		s.logger.Debug().Uint16("turn", turn).Int("events", len(evs)).Msg("turn sent")
		span.AddEvent("turn", trace.WithAttributes(
			attribute.Int("robots.turn", int(turn)),
			attribute.Int("robots.events", len(evs)),
		))
		s.emit(ctx, events.EventTurnCompleted, events.TurnCompletedPayload{
			SessionID: s.id,
			Turn:      turn,
			Events:    evs,
		})
	}
	return nil
}

func (s *Session) endGame(ctx context.Context) error {
	scores := s.gen.Scores()
	s.mu.Lock()
	s.phase = PhaseEnded
	s.scores = scores
	s.mu.Unlock()

	if err := s.send(protocol.GameEnded{Scores: scores}); err != nil {
		return err
	}
	st := s.Status()
	s.logger.Info().Int("players", len(scores)).Msg("game ended")
	s.emit(ctx, events.EventGameEnded, events.GameEndedPayload{
		SessionID:  s.id,
		ServerName: s.settings.Game.ServerName,
		Players:    st.Players,
		Scores:     scores,
		Turns:      s.settings.Game.GameLength,
		StartedAt:  st.StartedAt,
		EndedAt:    time.Now(),
	})
	return nil
}
