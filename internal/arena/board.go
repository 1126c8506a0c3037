// Package arena holds board geometry shared by the server rules engine and
// the client state model.
package arena

import (
	"slices"

	"github.com/robots-arena/robots/internal/protocol"
)

// Board is the rectangle of valid cells, x in [0, Width) and y in [0, Height).
type Board struct {
	Width  uint16
	Height uint16
}

// BoardOf returns the board described by a game config.
func BoardOf(cfg protocol.GameConfig) Board {
	return Board{Width: cfg.SizeX, Height: cfg.SizeY}
}

// Contains reports whether p lies on the board.
func (b Board) Contains(p protocol.Position) bool {
	return p.X < b.Width && p.Y < b.Height
}

// Cells returns the number of cells on the board.
func (b Board) Cells() int {
	return int(b.Width) * int(b.Height)
}

// Step returns the neighbour of p in direction d, or false when it would
// leave the board.
func (b Board) Step(p protocol.Position, d protocol.Direction) (protocol.Position, bool) {
	switch d {
	case protocol.DirUp:
		if p.Y+1 >= b.Height || p.Y == 65535 {
			return p, false
		}
		p.Y++
	case protocol.DirRight:
		if p.X+1 >= b.Width || p.X == 65535 {
			return p, false
		}
		p.X++
	case protocol.DirDown:
		if p.Y == 0 {
			return p, false
		}
		p.Y--
	case protocol.DirLeft:
		if p.X == 0 {
			return p, false
		}
		p.X--
	default:
		return p, false
	}
	return p, b.Contains(p)
}

var directions = [...]protocol.Direction{
	protocol.DirRight,
	protocol.DirLeft,
	protocol.DirUp,
	protocol.DirDown,
}

// Footprint returns the cells hit by an explosion at center, sorted by
// (x, y). Each of the four directions is walked independently for up to
// radius steps. A walk stops at the board edge, and stops after including
// the first cell for which blocked returns true.
func Footprint(b Board, center protocol.Position, radius uint16, blocked func(protocol.Position) bool) []protocol.Position {
	if !b.Contains(center) {
		return nil
	}
	cells := PositionSet{}
	for _, d := range directions {
		p := center
		for i := 0; i <= int(radius); i++ {
			if i > 0 {
				next, ok := b.Step(p, d)
				if !ok {
					break
				}
				p = next
			}
			cells.Add(p)
			if blocked != nil && blocked(p) {
				break
			}
		}
	}
	return cells.Sorted()
}

// PositionSet is an unordered set of cells with deterministic iteration
// through Sorted.
type PositionSet map[protocol.Position]struct{}

// NewPositionSet builds a set from ps.
func NewPositionSet(ps ...protocol.Position) PositionSet {
	s := make(PositionSet, len(ps))
	for _, p := range ps {
		s.Add(p)
	}
	return s
}

func (s PositionSet) Add(p protocol.Position) {
	s[p] = struct{}{}
}

func (s PositionSet) Remove(p protocol.Position) {
	delete(s, p)
}

func (s PositionSet) Contains(p protocol.Position) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the members ordered by (x, y).
func (s PositionSet) Sorted() []protocol.Position {
	out := make([]protocol.Position, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	slices.SortFunc(out, protocol.ComparePositions)
	return out
}
