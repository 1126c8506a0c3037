package protocol

import (
	"fmt"
)

// decoder reads wire values from a FramedBuffer, remembering the first error.
type decoder struct {
	buf FramedBuffer
	err error
}

func (d *decoder) u8() uint8 {
	if d.err != nil {
		return 0
	}
	v, err := d.buf.ReadUint8()
	d.err = err
	return v
}

func (d *decoder) u16() uint16 {
	if d.err != nil {
		return 0
	}
	v, err := d.buf.ReadUint16()
	d.err = err
	return v
}

func (d *decoder) u32() uint32 {
	if d.err != nil {
		return 0
	}
	v, err := d.buf.ReadUint32()
	d.err = err
	return v
}

func (d *decoder) str() string {
	n := d.u8()
	if d.err != nil {
		return ""
	}
	s, err := d.buf.ReadString(int(n))
	d.err = err
	return s
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

// preallocLimit caps the capacity reserved from a decoded count; larger
// collections grow as their elements actually arrive.
const preallocLimit = 1024

func capHint(n int) int {
	return min(n, preallocLimit)
}

// count reads a collection count and rejects counts above MaxCollectionCount.
func (d *decoder) count(what string) int {
	n := d.u32()
	if d.err != nil {
		return 0
	}
	if n > MaxCollectionCount {
		d.fail(&FramingError{Op: "read", Msg: fmt.Sprintf("%s count %d exceeds limit %d", what, n, MaxCollectionCount)})
		return 0
	}
	return int(n)
}

func (d *decoder) position() Position {
	x := d.u16()
	y := d.u16()
	return Position{X: x, Y: y}
}

func (d *decoder) player() Player {
	name := d.str()
	addr := d.str()
	return Player{Name: name, Address: addr}
}

func (d *decoder) config() GameConfig {
	var c GameConfig
	c.ServerName = d.str()
	c.PlayerCount = d.u8()
	c.SizeX = d.u16()
	c.SizeY = d.u16()
	c.GameLength = d.u16()
	c.ExplosionRadius = d.u16()
	c.BombTimer = d.u16()
	return c
}

func (d *decoder) players() map[PlayerID]Player {
	n := d.count("players")
	m := make(map[PlayerID]Player, capHint(n))
	for i := 0; i < n && d.err == nil; i++ {
		id := PlayerID(d.u8())
		m[id] = d.player()
	}
	return m
}

func (d *decoder) playerPositions() map[PlayerID]Position {
	n := d.count("player positions")
	m := make(map[PlayerID]Position, capHint(n))
	for i := 0; i < n && d.err == nil; i++ {
		id := PlayerID(d.u8())
		m[id] = d.position()
	}
	return m
}

func (d *decoder) scores() map[PlayerID]Score {
	n := d.count("scores")
	m := make(map[PlayerID]Score, capHint(n))
	for i := 0; i < n && d.err == nil; i++ {
		id := PlayerID(d.u8())
		m[id] = Score(d.u32())
	}
	return m
}

func (d *decoder) positions(what string) []Position {
	n := d.count(what)
	ps := make([]Position, 0, capHint(n))
	for i := 0; i < n && d.err == nil; i++ {
		ps = append(ps, d.position())
	}
	return ps
}

func (d *decoder) playerIDs() []PlayerID {
	n := d.count("destroyed players")
	ids := make([]PlayerID, 0, capHint(n))
	for i := 0; i < n && d.err == nil; i++ {
		ids = append(ids, PlayerID(d.u8()))
	}
	return ids
}

func (d *decoder) event() Event {
	kind := EventKind(d.u8())
	if d.err != nil {
		return Event{}
	}
	switch kind {
	case EventBombPlaced:
		id := BombID(d.u32())
		return BombPlacedEvent(id, d.position())
	case EventBombExploded:
		id := BombID(d.u32())
		players := d.playerIDs()
		blocks := d.positions("destroyed blocks")
		return BombExplodedEvent(id, players, blocks)
	case EventPlayerMoved:
		id := PlayerID(d.u8())
		return PlayerMovedEvent(id, d.position())
	case EventBlockPlaced:
		return BlockPlacedEvent(d.position())
	default:
		d.fail(invalidTag("event", uint8(kind)))
		return Event{}
	}
}

func (d *decoder) direction() Direction {
	v := d.u8()
	if d.err != nil {
		return 0
	}
	dir := Direction(v)
	if !dir.Valid() {
		d.fail(newValidationError("direction", uint64(v)))
		return 0
	}
	return dir
}

// ReadServerMessage decodes the next server message from buf.
func ReadServerMessage(buf FramedBuffer) (ServerMessage, error) {
	if err := buf.ReceiveMessage(); err != nil {
		return nil, err
	}
	d := &decoder{buf: buf}
	tag := ServerMessageType(d.u8())
	if d.err != nil {
		return nil, d.err
	}

	var msg ServerMessage
	switch tag {
	case MsgHello:
		msg = Hello{GameConfig: d.config()}
	case MsgAcceptedPlayer:
		id := PlayerID(d.u8())
		msg = AcceptedPlayer{ID: id, Player: d.player()}
	case MsgGameStarted:
		msg = GameStarted{Players: d.players()}
	case MsgTurn:
		turn := d.u16()
		n := d.count("events")
		evs := make([]Event, 0, capHint(n))
		for i := 0; i < n && d.err == nil; i++ {
			evs = append(evs, d.event())
		}
		msg = Turn{Turn: turn, Events: evs}
	case MsgGameEnded:
		msg = GameEnded{Scores: d.scores()}
	default:
		return nil, invalidTag("server message", uint8(tag))
	}
	if d.err != nil {
		return nil, fmt.Errorf("decoding %s: %w", tag, d.err)
	}
	if err := buf.AssertComplete(); err != nil {
		return nil, err
	}
	return msg, nil
}

// ReadClientMessage decodes the next client message from buf.
func ReadClientMessage(buf FramedBuffer) (ClientMessage, error) {
	if err := buf.ReceiveMessage(); err != nil {
		return nil, err
	}
	d := &decoder{buf: buf}
	tag := ClientMessageType(d.u8())
	if d.err != nil {
		return nil, d.err
	}

	var msg ClientMessage
	switch tag {
	case MsgJoin:
		msg = Join{Name: d.str()}
	case MsgPlaceBomb:
		msg = PlaceBomb{}
	case MsgPlaceBlock:
		msg = PlaceBlock{}
	case MsgMove:
		msg = Move{Direction: d.direction()}
	default:
		return nil, invalidTag("client message", uint8(tag))
	}
	if d.err != nil {
		return nil, fmt.Errorf("decoding %s: %w", tag, d.err)
	}
	if err := buf.AssertComplete(); err != nil {
		return nil, err
	}
	return msg, nil
}

// ReadInputMessage receives and decodes one controller datagram. The
// datagram must contain exactly one message.
func ReadInputMessage(buf FramedBuffer) (InputMessage, error) {
	if err := buf.ReceiveMessage(); err != nil {
		return nil, err
	}
	d := &decoder{buf: buf}
	tag := InputMessageType(d.u8())
	if d.err != nil {
		return nil, d.err
	}

	var msg InputMessage
	switch tag {
	case MsgPlaceBombInput:
		msg = PlaceBombInput{}
	case MsgPlaceBlockInput:
		msg = PlaceBlockInput{}
	case MsgMoveInput:
		msg = MoveInput{Direction: d.direction()}
	default:
		return nil, invalidTag("input message", uint8(tag))
	}
	if d.err != nil {
		return nil, fmt.Errorf("decoding %s: %w", tag, d.err)
	}
	if err := buf.AssertComplete(); err != nil {
		return nil, err
	}
	return msg, nil
}

// ReadDisplayMessage receives and decodes one display datagram.
func ReadDisplayMessage(buf FramedBuffer) (DisplayMessage, error) {
	if err := buf.ReceiveMessage(); err != nil {
		return nil, err
	}
	d := &decoder{buf: buf}
	tag := DisplayMessageType(d.u8())
	if d.err != nil {
		return nil, d.err
	}

	var msg DisplayMessage
	switch tag {
	case MsgLobbyView:
		cfg := d.config()
		msg = LobbyView{GameConfig: cfg, Players: d.players()}
	case MsgGameView:
		var v GameView
		v.ServerName = d.str()
		v.SizeX = d.u16()
		v.SizeY = d.u16()
		v.GameLength = d.u16()
		v.Turn = d.u16()
		v.Players = d.players()
		v.PlayerPositions = d.playerPositions()
		v.Blocks = d.positions("blocks")
		n := d.count("bombs")
		v.Bombs = make([]Bomb, 0, capHint(n))
		for i := 0; i < n && d.err == nil; i++ {
			pos := d.position()
			v.Bombs = append(v.Bombs, Bomb{Position: pos, Timer: d.u16()})
		}
		v.Explosions = d.positions("explosions")
		v.Scores = d.scores()
		msg = v
	default:
		return nil, invalidTag("display message", uint8(tag))
	}
	if d.err != nil {
		return nil, fmt.Errorf("decoding %s: %w", tag, d.err)
	}
	if err := buf.AssertComplete(); err != nil {
		return nil, err
	}
	return msg, nil
}
