package client

import (
	"sync/atomic"

	"github.com/robots-arena/robots/internal/protocol"
)

// Phase decides what a controller action turns into.
type Phase int32

const (
	// PhaseAwaitingJoin turns the next controller action into a Join.
	PhaseAwaitingJoin Phase = iota
	PhaseInLobby
	PhaseInGame
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingJoin:
		return "awaiting_join"
	case PhaseInLobby:
		return "in_lobby"
	case PhaseInGame:
		return "in_game"
	default:
		return "unknown"
	}
}

// PhaseState is the only state shared by the two relay goroutines.
type PhaseState struct {
	v atomic.Int32
}

func (s *PhaseState) Load() Phase {
	return Phase(s.v.Load())
}

func (s *PhaseState) Store(p Phase) {
	s.v.Store(int32(p))
}

// ClaimJoin moves AwaitingJoin to InLobby and reports whether the caller
// won the transition and must send the Join.
func (s *PhaseState) ClaimJoin() bool {
	return s.v.CompareAndSwap(int32(PhaseAwaitingJoin), int32(PhaseInLobby))
}

// Observe updates the phase from a message received from the server.
func (s *PhaseState) Observe(msg protocol.ServerMessage) {
	switch msg.(type) {
	case protocol.Hello, protocol.GameEnded:
		s.Store(PhaseAwaitingJoin)
	case protocol.GameStarted:
		s.Store(PhaseInGame)
	}
}
