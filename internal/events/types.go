// Package events defines the session lifecycle events published on the EventBus.
package events

import (
	"time"

	"github.com/robots-arena/robots/internal/protocol"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle events
	EventSessionStarted EventType = "session_started"
	EventPlayerAccepted EventType = "player_accepted"
	EventGameStarted    EventType = "game_started"
	EventTurnCompleted  EventType = "turn_completed"
	EventGameEnded      EventType = "game_ended"
	EventSessionClosed  EventType = "session_closed"

	// Message rejected by a decoder
	EventMessageRejected EventType = "message_rejected"

	// System events
	EventShutdown EventType = "shutdown"
)

// AllSessionEvents lists the events a spectator sees, in lifecycle order.
var AllSessionEvents = []EventType{
	EventSessionStarted,
	EventPlayerAccepted,
	EventGameStarted,
	EventTurnCompleted,
	EventGameEnded,
	EventSessionClosed,
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// SessionStartedPayload is emitted when a connection is accepted and Hello sent.
type SessionStartedPayload struct {
	SessionID uint64              `json:"session_id"`
	Remote    string              `json:"remote"`
	Config    protocol.GameConfig `json:"config"`
	StartedAt time.Time           `json:"started_at"`
}

// PlayerAcceptedPayload is emitted for every accepted Join.
type PlayerAcceptedPayload struct {
	SessionID uint64            `json:"session_id"`
	PlayerID  protocol.PlayerID `json:"player_id"`
	Player    protocol.Player   `json:"player"`
}

// GameStartedPayload carries the roster broadcast in GameStarted.
type GameStartedPayload struct {
	SessionID uint64                                `json:"session_id"`
	Players   map[protocol.PlayerID]protocol.Player `json:"players"`
}

// TurnCompletedPayload carries one Turn message after it was sent.
type TurnCompletedPayload struct {
	SessionID uint64           `json:"session_id"`
	Turn      uint16           `json:"turn"`
	Events    []protocol.Event `json:"events"`
}

// GameEndedPayload carries the final scores of a finished game.
type GameEndedPayload struct {
	SessionID  uint64                                `json:"session_id"`
	ServerName string                                `json:"server_name"`
	Players    map[protocol.PlayerID]protocol.Player `json:"players"`
	Scores     map[protocol.PlayerID]protocol.Score  `json:"scores"`
	Turns      uint16                                `json:"turns"`
	StartedAt  time.Time                             `json:"started_at"`
	EndedAt    time.Time                             `json:"ended_at"`
}

// SessionClosedPayload is emitted when a session returns, with the error
// text when it failed.
type SessionClosedPayload struct {
	SessionID uint64        `json:"session_id"`
	Remote    string        `json:"remote"`
	Error     string        `json:"error,omitempty"`
	ErrorKind string        `json:"error_kind"`
	Duration  time.Duration `json:"duration"`
}

// MessageRejectedPayload describes a message that failed to decode.
type MessageRejectedPayload struct {
	Remote string `json:"remote"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}
