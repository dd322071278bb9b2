package models

import (
	"math"
	"time"

	"github.com/kabili207/mesh-chess/pkg/meshtastic"
)

// UnknownSNR marks a hop whose signal report was not recorded.
const UnknownSNR = math.MinInt8

// Hop is one relay on a traced route. SNR is in quarter-dB steps as carried on the wire.
type Hop struct {
	Node   meshtastic.NodeID `json:"node"`
	SNRRaw int32             `json:"snr_raw"`
}

// SNR returns the hop's signal-to-noise ratio in dB, and false when unknown.
func (h Hop) SNR() (float32, bool) {
	if h.SNRRaw == UnknownSNR {
		return 0, false
	}
	return float32(h.SNRRaw) / 4, true
}

// IsUnknown is true for hops that relayed the packet without recording themselves.
func (h Hop) IsUnknown() bool {
	return uint32(h.Node) == meshtastic.BROADCAST_ID
}

// TraceRecord is the most recent route reported for a destination.
type TraceRecord struct {
	Destination meshtastic.NodeID `json:"destination"`
	Towards     []Hop             `json:"towards"`
	Back        []Hop             `json:"back,omitempty"`
	Updated     time.Time         `json:"updated"`
}
