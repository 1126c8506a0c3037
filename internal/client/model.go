// Package client implements the relay between a controller/display peer
// speaking datagrams and the authoritative game server.
package client

import (
	"slices"

	"github.com/rs/zerolog"

	"github.com/robots-arena/robots/internal/arena"
	"github.com/robots-arena/robots/internal/protocol"
	"github.com/robots-arena/robots/internal/util"
)

// Model rebuilds the world the display shows from the server's messages.
// It is owned by the goroutine reading from the server and is not safe for
// concurrent use.
type Model struct {
	cfg     protocol.GameConfig
	inGame  bool
	turn    uint16
	players map[protocol.PlayerID]protocol.Player

	positions  map[protocol.PlayerID]protocol.Position
	blocks     arena.PositionSet
	bombs      map[protocol.BombID]protocol.Bomb
	explosions arena.PositionSet
	scores     map[protocol.PlayerID]protocol.Score

	logger zerolog.Logger
}

// NewModel returns an empty lobby view.
func NewModel() *Model {
	m := &Model{
		logger: util.ComponentLogger("client_model"),
	}
	m.clearGame()
	m.players = make(map[protocol.PlayerID]protocol.Player)
	m.scores = make(map[protocol.PlayerID]protocol.Score)
	return m
}

func (m *Model) clearGame() {
	m.turn = 0
	m.positions = make(map[protocol.PlayerID]protocol.Position)
	m.blocks = arena.PositionSet{}
	m.bombs = make(map[protocol.BombID]protocol.Bomb)
	m.explosions = arena.PositionSet{}
}

// Apply folds one server message into the model and reports whether the
// display should receive an update for it. GameStarted is the only message
// that does not produce one; the first Turn follows it immediately.
func (m *Model) Apply(msg protocol.ServerMessage) bool {
	switch msg := msg.(type) {
	case protocol.Hello:
		m.cfg = msg.GameConfig
		m.inGame = false
		m.clearGame()
		m.players = make(map[protocol.PlayerID]protocol.Player)
		m.scores = make(map[protocol.PlayerID]protocol.Score)
	case protocol.AcceptedPlayer:
		m.players[msg.ID] = msg.Player
		m.scores[msg.ID] = 0
	case protocol.GameStarted:
		m.inGame = true
		m.clearGame()
		m.players = make(map[protocol.PlayerID]protocol.Player, len(msg.Players))
		m.scores = make(map[protocol.PlayerID]protocol.Score, len(msg.Players))
		for id, p := range msg.Players {
			m.players[id] = p
			m.scores[id] = 0
		}
		return false
	case protocol.Turn:
		m.applyTurn(msg)
	case protocol.GameEnded:
		m.applyGameEnded(msg)
	}
	return true
}

func (m *Model) applyTurn(t protocol.Turn) {
	m.inGame = true
	m.turn = t.Turn
	for id, b := range m.bombs {
		if b.Timer > 0 {
			b.Timer--
			m.bombs[id] = b
		}
	}
	m.explosions = arena.PositionSet{}

	dead := make(map[protocol.PlayerID]struct{})
	destroyed := arena.PositionSet{}

	for _, ev := range t.Events {
		switch ev.Kind {
		case protocol.EventBombPlaced:
			m.bombs[ev.BombID] = protocol.Bomb{Position: ev.Position, Timer: m.cfg.BombTimer}
		case protocol.EventBombExploded:
			m.explode(ev, dead, destroyed)
		case protocol.EventPlayerMoved:
			m.positions[ev.PlayerID] = ev.Position
		case protocol.EventBlockPlaced:
			m.blocks.Add(ev.Position)
		}
	}

	for p := range destroyed {
		m.blocks.Remove(p)
	}
}

func (m *Model) explode(ev protocol.Event, dead map[protocol.PlayerID]struct{}, destroyed arena.PositionSet) {
	bomb, ok := m.bombs[ev.BombID]
	if ok {
		delete(m.bombs, ev.BombID)
		cells := arena.Footprint(arena.BoardOf(m.cfg), bomb.Position, m.cfg.ExplosionRadius, m.blocks.Contains)
		for _, c := range cells {
			m.explosions.Add(c)
		}
	} else {
		m.logger.Warn().
			Uint32("bomb_id", uint32(ev.BombID)).
			Uint16("turn", m.turn).
			Msg("explosion of unknown bomb")
	}

	for _, id := range ev.DestroyedPlayers {
		if _, done := dead[id]; done {
			continue
		}
		dead[id] = struct{}{}
		m.scores[id]++
	}
	for _, p := range ev.DestroyedBlocks {
		destroyed.Add(p)
	}
}

func (m *Model) applyGameEnded(msg protocol.GameEnded) {
	scores := make(map[protocol.PlayerID]protocol.Score, len(msg.Scores))
	for id, s := range msg.Scores {
		if _, ok := m.players[id]; !ok {
			m.logger.Debug().Uint8("player_id", uint8(id)).Msg("ignoring score of unannounced player")
			continue
		}
		scores[id] = s
	}
	m.scores = scores
	m.inGame = false
	m.players = make(map[protocol.PlayerID]protocol.Player)
	m.clearGame()
}

// InGame reports whether the model currently renders a game view.
func (m *Model) InGame() bool {
	return m.inGame
}

// Scores returns a copy of the current score table.
func (m *Model) Scores() map[protocol.PlayerID]protocol.Score {
	out := make(map[protocol.PlayerID]protocol.Score, len(m.scores))
	for id, s := range m.scores {
		out[id] = s
	}
	return out
}

// View returns the display message for the current state. The returned
// value shares nothing with the model.
func (m *Model) View() protocol.DisplayMessage {
	players := make(map[protocol.PlayerID]protocol.Player, len(m.players))
	for id, p := range m.players {
		players[id] = p
	}
	if !m.inGame {
		return protocol.LobbyView{GameConfig: m.cfg, Players: players}
	}

	positions := make(map[protocol.PlayerID]protocol.Position, len(m.positions))
	for id, p := range m.positions {
		positions[id] = p
	}

	ids := make([]protocol.BombID, 0, len(m.bombs))
	for id := range m.bombs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	bombs := make([]protocol.Bomb, 0, len(ids))
	for _, id := range ids {
		bombs = append(bombs, m.bombs[id])
	}

	return protocol.GameView{
		ServerName:      m.cfg.ServerName,
		SizeX:           m.cfg.SizeX,
		SizeY:           m.cfg.SizeY,
		GameLength:      m.cfg.GameLength,
		Turn:            m.turn,
		Players:         players,
		PlayerPositions: positions,
		Blocks:          m.blocks.Sorted(),
		Bombs:           bombs,
		Explosions:      m.explosions.Sorted(),
		Scores:          m.Scores(),
	}
}
