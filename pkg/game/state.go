package game

import (
	"time"

	"github.com/kabili207/mesh-chess/pkg/meshtastic"
	"github.com/kabili207/mesh-chess/pkg/rules"
)

type State int8

const (
	Idle State = iota
	InviteSent
	InvitePending
	Active
	Ended
)

func (s State) String() string {
	switch s {
	case InviteSent:
		return "invite_sent"
	case InvitePending:
		return "invite_pending"
	case Active:
		return "active"
	case Ended:
		return "ended"
	}
	return "idle"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the local player's result once a session has ended.
type Result string

const (
	ResultNone Result = ""
	ResultWin  Result = "win"
	ResultLoss Result = "loss"
	ResultDraw Result = "draw"
)

const (
	ReasonCheckmate        = "checkmate"
	ReasonStalemate        = "stalemate"
	ReasonResigned         = "resigned"
	ReasonOpponentResigned = "opponent resigned"
)

// Snapshot is a point-in-time copy of a session, safe to hand to other goroutines.
type Snapshot struct {
	ID       string            `json:"id,omitempty"`
	State    State             `json:"state"`
	Color    rules.Color       `json:"color"`
	Opponent meshtastic.NodeID `json:"opponent,omitempty"`
	Pending  meshtastic.NodeID `json:"pending_invite,omitempty"`
	FEN      string            `json:"fen,omitempty"`
	Turn     rules.Color       `json:"turn"`
	YourTurn bool              `json:"your_turn"`
	Moves    []string          `json:"moves"`
	Result   Result            `json:"result,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Desynced bool              `json:"desynced,omitempty"`
	Updated  time.Time         `json:"updated"`
}
