package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kabili207/mesh-chess/pkg/meshtastic"
)

// PrimaryChannel is the channel index used when a broadcast carries none.
const PrimaryChannel uint32 = 0

// ChatKey identifies a chat log: a channel index, or a peer for direct messages.
type ChatKey struct {
	Channel uint32
	Peer    meshtastic.NodeID
}

// ChannelKey returns the key of a channel's broadcast log.
func ChannelKey(index uint32) ChatKey {
	return ChatKey{Channel: index}
}

// DirectKey returns the key of the direct-message log shared with peer.
func DirectKey(peer meshtastic.NodeID) ChatKey {
	return ChatKey{Peer: peer}
}

func (k ChatKey) IsDirect() bool {
	return k.Peer != 0
}

// String renders the key as "channel/<n>" or "dm/!xxxxxxxx".
func (k ChatKey) String() string {
	if k.IsDirect() {
		return "dm/" + k.Peer.String()
	}
	return "channel/" + strconv.FormatUint(uint64(k.Channel), 10)
}

// ParseChatKey is the inverse of ChatKey.String. The "/" may also be a ":".
func ParseChatKey(s string) (ChatKey, error) {
	kind, value, ok := strings.Cut(s, "/")
	if !ok {
		kind, value, ok = strings.Cut(s, ":")
	}
	if !ok {
		return ChatKey{}, fmt.Errorf("invalid chat key %q", s)
	}

	switch kind {
	case "channel", "ch":
		idx, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return ChatKey{}, fmt.Errorf("invalid channel index %q: %w", value, err)
		}
		return ChannelKey(uint32(idx)), nil
	case "dm":
		peer, err := meshtastic.ParseNodeID(value)
		if err != nil {
			return ChatKey{}, err
		}
		if peer == 0 || peer.IsBroadcast() {
			return ChatKey{}, fmt.Errorf("invalid direct message peer %q", value)
		}
		return DirectKey(peer), nil
	}
	return ChatKey{}, fmt.Errorf("invalid chat key kind %q", kind)
}

func (k ChatKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ChatKey) UnmarshalText(text []byte) error {
	parsed, err := ParseChatKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ChatMessage is a single entry in a chat log. Messages are never modified once appended.
type ChatMessage struct {
	From    meshtastic.NodeID `json:"from"`
	To      meshtastic.NodeID `json:"to"`
	Channel uint32            `json:"channel"`
	Text    string            `json:"text"`
	Time    time.Time         `json:"time"`
	IsSelf  bool              `json:"is_self"`
}

// ChannelInfo describes a configured channel.
type ChannelInfo struct {
	Index uint32 `json:"index"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}
