package router

import (
	"github.com/kabili207/mesh-chess/pkg/meshtastic"
	"github.com/kabili207/mesh-chess/pkg/models"
)

// Target is where an outbound message goes: a channel broadcast, or a single peer.
type Target struct {
	Channel uint32
	Peer    meshtastic.NodeID
}

func ChannelTarget(index uint32) Target {
	return Target{Channel: index}
}

func PeerTarget(peer meshtastic.NodeID) Target {
	return Target{Peer: peer}
}

func (t Target) IsDirect() bool {
	return t.Peer != 0
}

// Destination is the packet recipient for this target.
func (t Target) Destination() meshtastic.NodeID {
	if t.IsDirect() {
		return t.Peer
	}
	return meshtastic.BROADCAST_ID
}

// Key is the chat log that messages sent to this target are mirrored into.
func (t Target) Key() models.ChatKey {
	if t.IsDirect() {
		return models.DirectKey(t.Peer)
	}
	return models.ChannelKey(t.Channel)
}

func (t Target) String() string {
	return t.Key().String()
}

func (t Target) valid() bool {
	return !t.Peer.IsBroadcast()
}
