package models

import (
	"time"

	"github.com/kabili207/mesh-chess/pkg/meshtastic"
)

// Node is a snapshot of a peer as seen by the transport.
type Node struct {
	ID        meshtastic.NodeID `json:"id"`
	ShortName string            `json:"short_name,omitempty"`
	LongName  string            `json:"long_name,omitempty"`
	HwModel   string            `json:"hw_model,omitempty"`
	LastHeard time.Time         `json:"last_heard"`
	SNR       float32           `json:"snr"`
	HopsAway  *uint32           `json:"hops_away,omitempty"`
	Position  *Position         `json:"position,omitempty"`
	Metrics   *DeviceMetrics    `json:"metrics,omitempty"`
	PublicKey []byte            `json:"public_key,omitempty"`
}

// Position is a decoded location fix in decimal degrees.
type Position struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   int32     `json:"altitude,omitempty"`
	SatsInView uint32    `json:"sats_in_view,omitempty"`
	Time       time.Time `json:"time,omitempty"`
}

// DeviceMetrics mirrors the device telemetry variant.
type DeviceMetrics struct {
	BatteryLevel       uint32  `json:"battery_level"`
	Voltage            float32 `json:"voltage"`
	ChannelUtilization float32 `json:"channel_utilization"`
	AirUtilTx          float32 `json:"air_util_tx"`
	UptimeSeconds      uint32  `json:"uptime_seconds,omitempty"`
}

// HasPosition returns true if the node has reported a usable fix.
func (n *Node) HasPosition() bool {
	return n.Position != nil
}

// GetDisplayName prefers the long name, then the short name, then the node ID.
func (n *Node) GetDisplayName() string {
	if n.LongName != "" {
		return n.LongName
	}
	if n.ShortName != "" {
		return n.ShortName
	}
	return n.ID.String()
}

// Clone returns a deep copy safe to hand out of a locked store.
func (n Node) Clone() Node {
	if n.HopsAway != nil {
		h := *n.HopsAway
		n.HopsAway = &h
	}
	if n.Position != nil {
		p := *n.Position
		n.Position = &p
	}
	if n.Metrics != nil {
		m := *n.Metrics
		n.Metrics = &m
	}
	if n.PublicKey != nil {
		n.PublicKey = append([]byte(nil), n.PublicKey...)
	}
	return n
}
