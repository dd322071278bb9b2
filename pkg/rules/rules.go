// Package rules exposes the move generation and notation a game session needs,
// without tying the session to a particular engine.
package rules

import (
	"errors"
)

var (
	ErrIllegalMove     = errors.New("illegal move")
	ErrMalformedMove   = errors.New("malformed move notation")
	ErrUnknownPosition = errors.New("position was not created by this engine")
)

type Color int8

const (
	NoColor Color = iota
	White
	Black
)

func (c Color) Other() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	}
	return NoColor
}

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Black:
		return "black"
	}
	return "none"
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Move is a single ply in from/to square form. Promotion is a lowercase piece
// letter or empty.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

func (m Move) String() string {
	return m.From + m.To + m.Promotion
}

type Outcome int8

const (
	Ongoing Outcome = iota
	Checkmate
	Stalemate
)

func (o Outcome) String() string {
	switch o {
	case Checkmate:
		return "checkmate"
	case Stalemate:
		return "stalemate"
	}
	return "ongoing"
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Position is an immutable game state.
type Position interface {
	Turn() Color
	ValidMoves() []Move
	// Apply returns the position after m, or ErrIllegalMove.
	Apply(m Move) (Position, error)
	Encode(m Move) string
	Decode(s string) (Move, error)
	Outcome() Outcome
	// String returns the position in FEN.
	String() string
	// Board renders the position as a text diagram.
	Board() string
}

// Engine creates starting positions.
type Engine interface {
	Start() Position
}

// IsLegal reports whether m is among the valid moves of pos.
func IsLegal(pos Position, m Move) bool {
	for _, v := range pos.ValidMoves() {
		if v == m {
			return true
		}
	}
	return false
}
