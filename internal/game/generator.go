// Package game runs the authoritative side of a robots game: one session
// per accepted connection, from lobby through the fixed number of turns to
// the final scores.
package game

import (
	"fmt"
	"slices"
	"time"

	"github.com/robots-arena/robots/internal/protocol"
)

// Generator names accepted by NewTurnGenerator.
const (
	GeneratorRules       = "rules"
	GeneratorPlaceholder = "placeholder"
)

// TurnGenerator produces the event list of every turn. A generator is owned
// by one session goroutine and is not safe for concurrent use.
type TurnGenerator interface {
	// Reset starts a new game for the given roster.
	Reset(players []protocol.PlayerID)
	// Submit records a player's intent for the next turn.
	Submit(id protocol.PlayerID, msg protocol.ClientMessage)
	// Turn resolves turn n and returns its events in application order.
	Turn(n uint16) []protocol.Event
	// Scores returns the current score of every player in the roster.
	Scores() map[protocol.PlayerID]protocol.Score
}

// Settings configures every session started by a Server.
type Settings struct {
	Game          protocol.GameConfig
	TurnDuration  time.Duration
	InitialBlocks uint16
	// Seed drives block and spawn placement; nil picks a time-based seed.
	Seed      *uint32
	Generator string
}

// NewTurnGenerator builds the generator named by s.Generator.
func NewTurnGenerator(s Settings) (TurnGenerator, error) {
	switch s.Generator {
	case "", GeneratorRules:
		seed := uint64(time.Now().UnixNano())
		if s.Seed != nil {
			seed = uint64(*s.Seed)
		}
		return NewRulesEngine(s.Game, s.InitialBlocks, seed), nil
	case GeneratorPlaceholder:
		return NewPlaceholder(s.Game, s.InitialBlocks), nil
	default:
		return nil, fmt.Errorf("unknown turn generator %q", s.Generator)
	}
}

// Placeholder reproduces the reference server: every turn moves all players
// to (turn mod size_x, turn mod size_y) and places initial_blocks blocks on
// the same cell. Intents are ignored and scores stay zero.
type Placeholder struct {
	cfg           protocol.GameConfig
	initialBlocks uint16
	players       []protocol.PlayerID
}

// NewPlaceholder creates a Placeholder generator.
func NewPlaceholder(cfg protocol.GameConfig, initialBlocks uint16) *Placeholder {
	return &Placeholder{cfg: cfg, initialBlocks: initialBlocks}
}

func (p *Placeholder) Reset(players []protocol.PlayerID) {
	p.players = slices.Clone(players)
	slices.Sort(p.players)
}

func (p *Placeholder) Submit(protocol.PlayerID, protocol.ClientMessage) {}

func (p *Placeholder) Turn(n uint16) []protocol.Event {
	var pos protocol.Position
	if p.cfg.SizeX > 0 && p.cfg.SizeY > 0 {
		pos = protocol.Position{X: n % p.cfg.SizeX, Y: n % p.cfg.SizeY}
	}
	evs := make([]protocol.Event, 0, len(p.players)+int(p.initialBlocks))
	for _, id := range p.players {
		evs = append(evs, protocol.PlayerMovedEvent(id, pos))
	}
	for i := uint16(0); i < p.initialBlocks; i++ {
		evs = append(evs, protocol.BlockPlacedEvent(pos))
	}
	return evs
}

func (p *Placeholder) Scores() map[protocol.PlayerID]protocol.Score {
	scores := make(map[protocol.PlayerID]protocol.Score, len(p.players))
	for _, id := range p.players {
		scores[id] = 0
	}
	return scores
}
