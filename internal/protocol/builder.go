package protocol

import (
	"fmt"
	"math"
	"slices"
)

// encoder writes wire values into a FramedBuffer, remembering the first
// error so a whole message can be written before checking.
type encoder struct {
	buf FramedBuffer
	err error
}

func (e *encoder) u8(v uint8) {
	if e.err == nil {
		e.err = e.buf.WriteUint8(v)
	}
}

func (e *encoder) u16(v uint16) {
	if e.err == nil {
		e.err = e.buf.WriteUint16(v)
	}
}

func (e *encoder) u32(v uint32) {
	if e.err == nil {
		e.err = e.buf.WriteUint32(v)
	}
}

// str writes a length-prefixed string, truncated to MaxStringLength bytes.
func (e *encoder) str(s string) {
	if len(s) > MaxStringLength {
		s = s[:MaxStringLength]
	}
	e.u8(uint8(len(s)))
	if e.err == nil {
		e.err = e.buf.WriteString(s)
	}
}

func (e *encoder) count(n int) {
	if uint64(n) > math.MaxUint32 {
		if e.err == nil {
			e.err = &FramingError{Op: "write", Msg: fmt.Sprintf("collection of %d elements", n)}
		}
		return
	}
	e.u32(uint32(n))
}

func (e *encoder) position(p Position) {
	e.u16(p.X)
	e.u16(p.Y)
}

func (e *encoder) player(p Player) {
	e.str(p.Name)
	e.str(p.Address)
}

func (e *encoder) config(c GameConfig) {
	e.str(c.ServerName)
	e.u8(c.PlayerCount)
	e.u16(c.SizeX)
	e.u16(c.SizeY)
	e.u16(c.GameLength)
	e.u16(c.ExplosionRadius)
	e.u16(c.BombTimer)
}

func (e *encoder) players(m map[PlayerID]Player) {
	e.count(len(m))
	for _, id := range sortedKeys(m) {
		e.u8(uint8(id))
		e.player(m[id])
	}
}

func (e *encoder) playerPositions(m map[PlayerID]Position) {
	e.count(len(m))
	for _, id := range sortedKeys(m) {
		e.u8(uint8(id))
		e.position(m[id])
	}
}

func (e *encoder) scores(m map[PlayerID]Score) {
	e.count(len(m))
	for _, id := range sortedKeys(m) {
		e.u8(uint8(id))
		e.u32(uint32(m[id]))
	}
}

// positionSet writes ps as a set: ascending and without duplicates.
func (e *encoder) positionSet(ps []Position) {
	set := slices.Clone(ps)
	slices.SortFunc(set, ComparePositions)
	set = slices.Compact(set)
	e.count(len(set))
	for _, p := range set {
		e.position(p)
	}
}

func (e *encoder) playerSet(ids []PlayerID) {
	set := slices.Clone(ids)
	slices.Sort(set)
	set = slices.Compact(set)
	e.count(len(set))
	for _, id := range set {
		e.u8(uint8(id))
	}
}

func (e *encoder) event(ev Event) {
	e.u8(uint8(ev.Kind))
	switch ev.Kind {
	case EventBombPlaced:
		e.u32(uint32(ev.BombID))
		e.position(ev.Position)
	case EventBombExploded:
		e.u32(uint32(ev.BombID))
		e.playerSet(ev.DestroyedPlayers)
		e.positionSet(ev.DestroyedBlocks)
	case EventPlayerMoved:
		e.u8(uint8(ev.PlayerID))
		e.position(ev.Position)
	case EventBlockPlaced:
		e.position(ev.Position)
	default:
		if e.err == nil {
			e.err = invalidTag("event", uint8(ev.Kind))
		}
	}
}

func (e *encoder) direction(d Direction) {
	if !d.Valid() {
		if e.err == nil {
			e.err = newValidationError("direction", uint64(d))
		}
		return
	}
	e.u8(uint8(d))
}

// checkEncodable reports the first value of m that has no wire form. It runs
// before the tag is written, so a rejected message leaves nothing in buf.
func checkEncodable(m interface{}) error {
	switch m := m.(type) {
	case Turn:
		for _, ev := range m.Events {
			switch ev.Kind {
			case EventBombPlaced, EventBombExploded, EventPlayerMoved, EventBlockPlaced:
			default:
				return invalidTag("event", uint8(ev.Kind))
			}
		}
	case Move:
		if !m.Direction.Valid() {
			return newValidationError("direction", uint64(m.Direction))
		}
	case MoveInput:
		if !m.Direction.Valid() {
			return newValidationError("direction", uint64(m.Direction))
		}
	}
	return nil
}

// WriteServerMessage encodes m into buf without sending it.
func WriteServerMessage(buf FramedBuffer, m ServerMessage) error {
	if err := checkEncodable(m); err != nil {
		return err
	}
	e := &encoder{buf: buf}
	e.u8(uint8(m.Type()))
	switch m := m.(type) {
	case Hello:
		e.config(m.GameConfig)
	case AcceptedPlayer:
		e.u8(uint8(m.ID))
		e.player(m.Player)
	case GameStarted:
		e.players(m.Players)
	case Turn:
		e.u16(m.Turn)
		e.count(len(m.Events))
		for _, ev := range m.Events {
			e.event(ev)
		}
	case GameEnded:
		e.scores(m.Scores)
	default:
		return &ProtocolError{Message: fmt.Sprintf("cannot encode server message %T", m)}
	}
	return e.err
}

// WriteClientMessage encodes m into buf without sending it.
func WriteClientMessage(buf FramedBuffer, m ClientMessage) error {
	if err := checkEncodable(m); err != nil {
		return err
	}
	e := &encoder{buf: buf}
	e.u8(uint8(m.Type()))
	switch m := m.(type) {
	case Join:
		e.str(m.Name)
	case PlaceBomb, PlaceBlock:
	case Move:
		e.direction(m.Direction)
	default:
		return &ProtocolError{Message: fmt.Sprintf("cannot encode client message %T", m)}
	}
	return e.err
}

// WriteInputMessage encodes a controller action into buf without sending it.
func WriteInputMessage(buf FramedBuffer, m InputMessage) error {
	if err := checkEncodable(m); err != nil {
		return err
	}
	e := &encoder{buf: buf}
	e.u8(uint8(m.Type()))
	switch m := m.(type) {
	case PlaceBombInput, PlaceBlockInput:
	case MoveInput:
		e.direction(m.Direction)
	default:
		return &ProtocolError{Message: fmt.Sprintf("cannot encode input message %T", m)}
	}
	return e.err
}

// WriteDisplayMessage encodes a display snapshot into buf without sending it.
func WriteDisplayMessage(buf FramedBuffer, m DisplayMessage) error {
	if err := checkEncodable(m); err != nil {
		return err
	}
	e := &encoder{buf: buf}
	e.u8(uint8(m.Type()))
	switch m := m.(type) {
	case LobbyView:
		e.config(m.GameConfig)
		e.players(m.Players)
	case GameView:
		e.str(m.ServerName)
		e.u16(m.SizeX)
		e.u16(m.SizeY)
		e.u16(m.GameLength)
		e.u16(m.Turn)
		e.players(m.Players)
		e.playerPositions(m.PlayerPositions)
		e.positionSet(m.Blocks)
		e.count(len(m.Bombs))
		for _, b := range m.Bombs {
			e.position(b.Position)
			e.u16(b.Timer)
		}
		e.positionSet(m.Explosions)
		e.scores(m.Scores)
	default:
		return &ProtocolError{Message: fmt.Sprintf("cannot encode display message %T", m)}
	}
	return e.err
}

// SendServerMessage encodes m and flushes it as one message.
func SendServerMessage(buf FramedBuffer, m ServerMessage) error {
	if err := WriteServerMessage(buf, m); err != nil {
		return err
	}
	return buf.SendMessage()
}

// SendClientMessage encodes m and flushes it as one message.
func SendClientMessage(buf FramedBuffer, m ClientMessage) error {
	if err := WriteClientMessage(buf, m); err != nil {
		return err
	}
	return buf.SendMessage()
}

// SendInputMessage encodes m and sends it as one datagram.
func SendInputMessage(buf FramedBuffer, m InputMessage) error {
	if err := WriteInputMessage(buf, m); err != nil {
		return err
	}
	return buf.SendMessage()
}

// SendDisplayMessage encodes m and sends it as one datagram.
func SendDisplayMessage(buf FramedBuffer, m DisplayMessage) error {
	if err := WriteDisplayMessage(buf, m); err != nil {
		return err
	}
	return buf.SendMessage()
}
