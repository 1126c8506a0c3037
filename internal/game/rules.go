package game

import (
	"math/rand/v2"
	"slices"

	"github.com/robots-arena/robots/internal/arena"
	"github.com/robots-arena/robots/internal/protocol"
)

type liveBomb struct {
	pos   protocol.Position
	timer uint16
}

// RulesEngine resolves player intents into turn events.
//
// Turn 0 spawns every player on a random cell and places the initial
// blocks. Every later turn first ticks all bombs and explodes those that
// reach zero, then removes the destroyed blocks, then either respawns each
// destroyed player (scoring one death) or applies that player's latest
// intent. Intents are cleared after each turn.
type RulesEngine struct {
	cfg           protocol.GameConfig
	board         arena.Board
	initialBlocks uint16
	rng           *rand.Rand

	players   []protocol.PlayerID
	positions map[protocol.PlayerID]protocol.Position
	blocks    arena.PositionSet
	bombs     map[protocol.BombID]*liveBomb
	nextBomb  protocol.BombID
	intents   map[protocol.PlayerID]protocol.ClientMessage
	scores    map[protocol.PlayerID]protocol.Score
}

// NewRulesEngine creates a rules engine with a PCG source seeded by seed.
func NewRulesEngine(cfg protocol.GameConfig, initialBlocks uint16, seed uint64) *RulesEngine {
	e := &RulesEngine{
		cfg:           cfg,
		board:         arena.BoardOf(cfg),
		initialBlocks: initialBlocks,
		rng:           rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
	}
	e.Reset(nil)
	return e
}

func (e *RulesEngine) Reset(players []protocol.PlayerID) {
	e.players = slices.Clone(players)
	slices.Sort(e.players)
	e.positions = make(map[protocol.PlayerID]protocol.Position, len(players))
	e.blocks = arena.PositionSet{}
	e.bombs = make(map[protocol.BombID]*liveBomb)
	e.nextBomb = 0
	e.intents = make(map[protocol.PlayerID]protocol.ClientMessage)
	e.scores = make(map[protocol.PlayerID]protocol.Score, len(players))
	for _, id := range e.players {
		e.scores[id] = 0
	}
}

// Submit keeps only the latest intent of each player. Join is not an intent.
func (e *RulesEngine) Submit(id protocol.PlayerID, msg protocol.ClientMessage) {
	if _, ok := e.scores[id]; !ok {
		return
	}
	switch msg.(type) {
	case protocol.PlaceBomb, protocol.PlaceBlock, protocol.Move:
		e.intents[id] = msg
	}
}

func (e *RulesEngine) randomCell() protocol.Position {
	return protocol.Position{
		X: uint16(e.rng.IntN(int(e.board.Width))),
		Y: uint16(e.rng.IntN(int(e.board.Height))),
	}
}

func (e *RulesEngine) Turn(n uint16) []protocol.Event {
	defer clear(e.intents)
	if e.board.Cells() == 0 {
		return []protocol.Event{}
	}
	if n == 0 {
		return e.firstTurn()
	}

	var evs []protocol.Event
	destroyedBlocks := arena.PositionSet{}
	destroyedPlayers := map[protocol.PlayerID]bool{}

	for _, id := range sortedBombIDs(e.bombs) {
		b := e.bombs[id]
		if b.timer > 1 {
			b.timer--
			continue
		}
		delete(e.bombs, id)

		hit := arena.NewPositionSet(arena.Footprint(e.board, b.pos, e.cfg.ExplosionRadius, e.blocks.Contains)...)
		killed := []protocol.PlayerID{}
		for _, pid := range e.players {
			if p, ok := e.positions[pid]; ok && hit.Contains(p) {
				killed = append(killed, pid)
				destroyedPlayers[pid] = true
			}
		}
		razed := []protocol.Position{}
		for _, p := range hit.Sorted() {
			if e.blocks.Contains(p) {
				razed = append(razed, p)
				destroyedBlocks.Add(p)
			}
		}
		evs = append(evs, protocol.BombExplodedEvent(id, killed, razed))
	}

	for p := range destroyedBlocks {
		e.blocks.Remove(p)
	}

	for _, id := range e.players {
		if destroyedPlayers[id] {
			e.scores[id]++
			pos := e.randomCell()
			e.positions[id] = pos
			evs = append(evs, protocol.PlayerMovedEvent(id, pos))
			continue
		}
		if ev, ok := e.applyIntent(id); ok {
			evs = append(evs, ev)
		}
	}

	if evs == nil {
		evs = []protocol.Event{}
	}
	return evs
}

func (e *RulesEngine) firstTurn() []protocol.Event {
	evs := make([]protocol.Event, 0, len(e.players)+int(e.initialBlocks))
	for _, id := range e.players {
		pos := e.randomCell()
		e.positions[id] = pos
		evs = append(evs, protocol.PlayerMovedEvent(id, pos))
	}
	for i := uint16(0); i < e.initialBlocks; i++ {
		pos := e.randomCell()
		if e.blocks.Contains(pos) {
			continue
		}
		e.blocks.Add(pos)
		evs = append(evs, protocol.BlockPlacedEvent(pos))
	}
	return evs
}

func (e *RulesEngine) applyIntent(id protocol.PlayerID) (protocol.Event, bool) {
	pos, placed := e.positions[id]
	if !placed {
		return protocol.Event{}, false
	}
	switch m := e.intents[id].(type) {
	case protocol.PlaceBomb:
		bid := e.nextBomb
		e.nextBomb++
		e.bombs[bid] = &liveBomb{pos: pos, timer: e.cfg.BombTimer}
		return protocol.BombPlacedEvent(bid, pos), true
	case protocol.PlaceBlock:
		if e.blocks.Contains(pos) {
			return protocol.Event{}, false
		}
		e.blocks.Add(pos)
		return protocol.BlockPlacedEvent(pos), true
	case protocol.Move:
		next, ok := e.board.Step(pos, m.Direction)
		if !ok || e.blocks.Contains(next) {
			return protocol.Event{}, false
		}
		e.positions[id] = next
		return protocol.PlayerMovedEvent(id, next), true
	}
	return protocol.Event{}, false
}

func (e *RulesEngine) Scores() map[protocol.PlayerID]protocol.Score {
	out := make(map[protocol.PlayerID]protocol.Score, len(e.scores))
	for id, s := range e.scores {
		out[id] = s
	}
	return out
}

func sortedBombIDs(bombs map[protocol.BombID]*liveBomb) []protocol.BombID {
	ids := make([]protocol.BombID, 0, len(bombs))
	for id := range bombs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
