package rules

import (
	"fmt"
	"strings"

	"github.com/notnil/chess"
)

type chessEngine struct{}

// Chess returns an Engine playing standard chess.
func Chess() Engine {
	return chessEngine{}
}

func (chessEngine) Start() Position {
	return chessPosition{pos: chess.NewGame().Position()}
}

// FromFEN loads a position for analysis or tests.
func FromFEN(fen string) (Position, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, err
	}
	return chessPosition{pos: chess.NewGame(opt).Position()}, nil
}

type chessPosition struct {
	pos *chess.Position
}

func (p chessPosition) Turn() Color {
	switch p.pos.Turn() {
	case chess.White:
		return White
	case chess.Black:
		return Black
	}
	return NoColor
}

func (p chessPosition) ValidMoves() []Move {
	valid := p.pos.ValidMoves()
	out := make([]Move, len(valid))
	for i, m := range valid {
		out[i] = fromEngine(m)
	}
	return out
}

func (p chessPosition) Apply(m Move) (Position, error) {
	for _, v := range p.pos.ValidMoves() {
		if fromEngine(v) == m {
			return chessPosition{pos: p.pos.Update(v)}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrIllegalMove, m)
}

func (p chessPosition) Encode(m Move) string {
	return m.String()
}

func (p chessPosition) Decode(s string) (Move, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 4 && len(s) != 5 {
		return Move{}, fmt.Errorf("%w: %q", ErrMalformedMove, s)
	}
	m, err := chess.UCINotation{}.Decode(p.pos, s)
	if err != nil {
		return Move{}, fmt.Errorf("%w: %v", ErrMalformedMove, err)
	}
	return fromEngine(m), nil
}

func (p chessPosition) Outcome() Outcome {
	switch p.pos.Status() {
	case chess.Checkmate:
		return Checkmate
	case chess.Stalemate:
		return Stalemate
	}
	return Ongoing
}

func (p chessPosition) String() string {
	return p.pos.String()
}

func (p chessPosition) Board() string {
	return p.pos.Board().Draw()
}

func fromEngine(m *chess.Move) Move {
	return Move{
		From:      m.S1().String(),
		To:        m.S2().String(),
		Promotion: m.Promo().String(),
	}
}
