// Package protocol implements the binary protocol spoken between the robots
// server, the relay client and the display/controller peer. All integers are
// big-endian, strings carry a 1-byte length prefix and collections carry a
// 4-byte element count. Messages travel either over a reliable stream
// (server <-> client) or as single datagrams (client <-> display).
package protocol

import (
	"cmp"
	"fmt"
	"slices"
)

// Buffer capacities.
const (
	// StreamBufferSize is the capacity of one direction of a stream buffer.
	StreamBufferSize = 1024

	// MaxDatagramSize is the largest UDP payload we send or accept.
	MaxDatagramSize = 65507

	// MaxStringLength is the longest string the 1-byte prefix can describe.
	MaxStringLength = 255

	// MaxCollectionCount bounds decoded collection counts.
	MaxCollectionCount = 1 << 20
)

// ServerMessageType is the tag byte of a server -> client message.
type ServerMessageType uint8

const (
	MsgHello          ServerMessageType = 0
	MsgAcceptedPlayer ServerMessageType = 1
	MsgGameStarted    ServerMessageType = 2
	MsgTurn           ServerMessageType = 3
	MsgGameEnded      ServerMessageType = 4
)

var serverMessageNames = map[ServerMessageType]string{
	MsgHello:          "Hello",
	MsgAcceptedPlayer: "AcceptedPlayer",
	MsgGameStarted:    "GameStarted",
	MsgTurn:           "Turn",
	MsgGameEnded:      "GameEnded",
}

func (t ServerMessageType) String() string {
	if s, ok := serverMessageNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ServerMessage(%d)", uint8(t))
}

// ClientMessageType is the tag byte of a client -> server message.
type ClientMessageType uint8

const (
	MsgJoin       ClientMessageType = 0
	MsgPlaceBomb  ClientMessageType = 1
	MsgPlaceBlock ClientMessageType = 2
	MsgMove       ClientMessageType = 3
)

var clientMessageNames = map[ClientMessageType]string{
	MsgJoin:       "Join",
	MsgPlaceBomb:  "PlaceBomb",
	MsgPlaceBlock: "PlaceBlock",
	MsgMove:       "Move",
}

func (t ClientMessageType) String() string {
	if s, ok := clientMessageNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ClientMessage(%d)", uint8(t))
}

// InputMessageType is the tag byte of a controller -> relay datagram.
type InputMessageType uint8

const (
	MsgPlaceBombInput  InputMessageType = 0
	MsgPlaceBlockInput InputMessageType = 1
	MsgMoveInput       InputMessageType = 2
)

func (t InputMessageType) String() string {
	switch t {
	case MsgPlaceBombInput:
		return "PlaceBombGui"
	case MsgPlaceBlockInput:
		return "PlaceBlockGui"
	case MsgMoveInput:
		return "MoveGui"
	default:
		return fmt.Sprintf("InputMessage(%d)", uint8(t))
	}
}

// DisplayMessageType is the tag byte of a relay -> display datagram.
type DisplayMessageType uint8

const (
	MsgLobbyView DisplayMessageType = 0
	MsgGameView  DisplayMessageType = 1
)

func (t DisplayMessageType) String() string {
	switch t {
	case MsgLobbyView:
		return "Lobby"
	case MsgGameView:
		return "Game"
	default:
		return fmt.Sprintf("DisplayMessage(%d)", uint8(t))
	}
}

// EventKind is the tag byte of one event inside a Turn.
type EventKind uint8

const (
	EventBombPlaced   EventKind = 0
	EventBombExploded EventKind = 1
	EventPlayerMoved  EventKind = 2
	EventBlockPlaced  EventKind = 3
)

func (k EventKind) String() string {
	switch k {
	case EventBombPlaced:
		return "BombPlaced"
	case EventBombExploded:
		return "BombExploded"
	case EventPlayerMoved:
		return "PlayerMoved"
	case EventBlockPlaced:
		return "BlockPlaced"
	default:
		return fmt.Sprintf("Event(%d)", uint8(k))
	}
}

// Direction of a move. Up increases y, Right increases x.
type Direction uint8

const (
	DirUp    Direction = 0
	DirRight Direction = 1
	DirDown  Direction = 2
	DirLeft  Direction = 3
)

// Valid reports whether d is one of the four directions.
func (d Direction) Valid() bool {
	return d <= DirLeft
}

func (d Direction) String() string {
	switch d {
	case DirUp:
		return "up"
	case DirRight:
		return "right"
	case DirDown:
		return "down"
	case DirLeft:
		return "left"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

type (
	PlayerID uint8
	BombID   uint32
	Score    uint32
)

// Position is a board cell. Positions order by x, then y.
type Position struct {
	X uint16 `json:"x"`
	Y uint16 `json:"y"`
}

// ComparePositions orders positions lexicographically by (x, y).
func ComparePositions(a, b Position) int {
	if c := cmp.Compare(a.X, b.X); c != 0 {
		return c
	}
	return cmp.Compare(a.Y, b.Y)
}

// Player is immutable once accepted by the server.
type Player struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Bomb is a live bomb as seen by the display.
type Bomb struct {
	Position Position `json:"position"`
	Timer    uint16   `json:"timer"`
}

// GameConfig is fixed for the lifetime of a server session and echoed in Hello.
type GameConfig struct {
	ServerName      string `json:"server_name"`
	PlayerCount     uint8  `json:"player_count"`
	SizeX           uint16 `json:"size_x"`
	SizeY           uint16 `json:"size_y"`
	GameLength      uint16 `json:"game_length"`
	ExplosionRadius uint16 `json:"explosion_radius"`
	BombTimer       uint16 `json:"bomb_timer"`
}

// Contains reports whether p lies on the board described by c.
func (c GameConfig) Contains(p Position) bool {
	return p.X < c.SizeX && p.Y < c.SizeY
}

// Event is a tagged union; only the fields of its Kind are meaningful.
type Event struct {
	Kind             EventKind  `json:"kind"`
	BombID           BombID     `json:"bomb_id,omitempty"`
	PlayerID         PlayerID   `json:"player_id,omitempty"`
	Position         Position   `json:"position"`
	DestroyedPlayers []PlayerID `json:"destroyed_players,omitempty"`
	DestroyedBlocks  []Position `json:"destroyed_blocks,omitempty"`
}

// BombPlacedEvent builds a BombPlaced event.
func BombPlacedEvent(id BombID, pos Position) Event {
	return Event{Kind: EventBombPlaced, BombID: id, Position: pos}
}

// BombExplodedEvent builds a BombExploded event.
func BombExplodedEvent(id BombID, players []PlayerID, blocks []Position) Event {
	return Event{Kind: EventBombExploded, BombID: id, DestroyedPlayers: players, DestroyedBlocks: blocks}
}

// PlayerMovedEvent builds a PlayerMoved event.
func PlayerMovedEvent(id PlayerID, pos Position) Event {
	return Event{Kind: EventPlayerMoved, PlayerID: id, Position: pos}
}

// BlockPlacedEvent builds a BlockPlaced event.
func BlockPlacedEvent(pos Position) Event {
	return Event{Kind: EventBlockPlaced, Position: pos}
}

// ---- Server -> client messages ----

// ServerMessage is one of Hello, AcceptedPlayer, GameStarted, Turn, GameEnded.
type ServerMessage interface {
	Type() ServerMessageType
}

type Hello struct {
	GameConfig
}

type AcceptedPlayer struct {
	ID     PlayerID
	Player Player
}

type GameStarted struct {
	Players map[PlayerID]Player
}

type Turn struct {
	Turn   uint16
	Events []Event
}

type GameEnded struct {
	Scores map[PlayerID]Score
}

func (Hello) Type() ServerMessageType          { return MsgHello }
func (AcceptedPlayer) Type() ServerMessageType { return MsgAcceptedPlayer }
func (GameStarted) Type() ServerMessageType    { return MsgGameStarted }
func (Turn) Type() ServerMessageType           { return MsgTurn }
func (GameEnded) Type() ServerMessageType      { return MsgGameEnded }

// ---- Client -> server messages ----

// ClientMessage is one of Join, PlaceBomb, PlaceBlock, Move.
type ClientMessage interface {
	Type() ClientMessageType
}

type Join struct {
	Name string
}

type PlaceBomb struct{}

type PlaceBlock struct{}

type Move struct {
	Direction Direction
}

func (Join) Type() ClientMessageType       { return MsgJoin }
func (PlaceBomb) Type() ClientMessageType  { return MsgPlaceBomb }
func (PlaceBlock) Type() ClientMessageType { return MsgPlaceBlock }
func (Move) Type() ClientMessageType       { return MsgMove }

// ---- Controller -> relay datagrams ----

// InputMessage is one of PlaceBombInput, PlaceBlockInput, MoveInput.
type InputMessage interface {
	Type() InputMessageType
}

type PlaceBombInput struct{}

type PlaceBlockInput struct{}

type MoveInput struct {
	Direction Direction
}

func (PlaceBombInput) Type() InputMessageType  { return MsgPlaceBombInput }
func (PlaceBlockInput) Type() InputMessageType { return MsgPlaceBlockInput }
func (MoveInput) Type() InputMessageType       { return MsgMoveInput }

// ToClientMessage maps a controller action to its gameplay message.
func ToClientMessage(in InputMessage) ClientMessage {
	switch m := in.(type) {
	case PlaceBombInput:
		return PlaceBomb{}
	case PlaceBlockInput:
		return PlaceBlock{}
	case MoveInput:
		return Move{Direction: m.Direction}
	default:
		return nil
	}
}

// ---- Relay -> display datagrams ----

// DisplayMessage is either a LobbyView or a GameView.
type DisplayMessage interface {
	Type() DisplayMessageType
}

type LobbyView struct {
	GameConfig
	Players map[PlayerID]Player
}

type GameView struct {
	ServerName      string
	SizeX           uint16
	SizeY           uint16
	GameLength      uint16
	Turn            uint16
	Players         map[PlayerID]Player
	PlayerPositions map[PlayerID]Position
	Blocks          []Position
	Bombs           []Bomb
	Explosions      []Position
	Scores          map[PlayerID]Score
}

func (LobbyView) Type() DisplayMessageType { return MsgLobbyView }
func (GameView) Type() DisplayMessageType  { return MsgGameView }

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
