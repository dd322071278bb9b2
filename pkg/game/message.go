package game

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolKey is the JSON key that marks a text message as a game message.
const ProtocolKey = "chess"

var ErrMalformedMessage = errors.New("malformed game message")

type Kind string

const (
	KindInvite Kind = "invite"
	KindAccept Kind = "accept"
	KindMove   Kind = "move"
	KindResign Kind = "resign"
)

func (k Kind) valid() bool {
	switch k {
	case KindInvite, KindAccept, KindMove, KindResign:
		return true
	}
	return false
}

// Message is the payload exchanged between the two players, for example
// {"chess":"move","u":"e2e4","n":1}. Ply is optional and only used to notice
// missed moves.
type Message struct {
	Kind Kind   `json:"chess"`
	Move string `json:"u,omitempty"`
	Ply  int    `json:"n,omitempty"`
}

// DecodeMessage parses a game message. Unknown kinds and moves without
// notation are rejected.
func DecodeMessage(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if !msg.Kind.valid() {
		return Message{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, msg.Kind)
	}
	if msg.Kind == KindMove && msg.Move == "" {
		return Message{}, fmt.Errorf("%w: move without notation", ErrMalformedMessage)
	}
	if msg.Ply < 0 {
		return Message{}, fmt.Errorf("%w: negative ply", ErrMalformedMessage)
	}
	return msg, nil
}
