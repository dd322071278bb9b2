package meshtastic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// BROADCAST_ID is the destination used for packets addressed to everyone on a channel.
const BROADCAST_ID = 0xFFFFFFFF

var ErrInvalidNodeID = errors.New("invalid node id")

// NodeID is the 32-bit identifier of a Meshtastic node.
type NodeID uint32

// String renders the node ID in the canonical "!xxxxxxxx" form.
func (n NodeID) String() string {
	return fmt.Sprintf("!%08x", uint32(n))
}

func (n NodeID) Uint32() uint32 {
	return uint32(n)
}

// IsBroadcast reports whether the ID is the broadcast address.
func (n NodeID) IsBroadcast() bool {
	return uint32(n) == BROADCAST_ID
}

// ParseNodeID parses "!abcd1234", "0xabcd1234" or a decimal node number.
func ParseNodeID(s string) (NodeID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidNodeID
	}

	var (
		v   uint64
		err error
	)
	switch {
	case strings.HasPrefix(s, "!"):
		v, err = strconv.ParseUint(s[1:], 16, 32)
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		v, err = strconv.ParseUint(s[2:], 16, 32)
	default:
		v, err = strconv.ParseUint(s, 10, 32)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
	}
	return NodeID(v), nil
}

// MarshalText lets node IDs appear as "!xxxxxxxx" in JSON and config files.
func (n NodeID) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText treats empty text as the zero (unset) node ID.
func (n *NodeID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*n = 0
		return nil
	}
	id, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*n = id
	return nil
}
