package components

import (
	"time"

	"github.com/kabili207/mesh-chess/pkg/models"
	"github.com/kabili207/mesh-chess/pkg/nodes"
)

// NodeData represents a node for display
type NodeData struct {
	NodeID       string                `json:"node_id"`
	ShortName    string                `json:"short_name,omitempty"`
	LongName     string                `json:"long_name,omitempty"`
	DisplayName  string                `json:"display_name"`
	HwModel      string                `json:"hw_model,omitempty"`
	LastSeen     *string               `json:"last_seen,omitempty"`
	SNR          float32               `json:"snr"`
	HopsAway     *uint32               `json:"hops_away,omitempty"`
	Distance     *float64              `json:"distance_m,omitempty"`
	Position     *models.Position      `json:"position,omitempty"`
	Metrics      *models.DeviceMetrics `json:"metrics,omitempty"`
	HasPublicKey bool                  `json:"has_public_key"`
}

// ChatData summarises one chat log for the chat list.
type ChatData struct {
	Key         models.ChatKey      `json:"key"`
	Title       string              `json:"title"`
	IsDirect    bool                `json:"is_direct"`
	Count       int                 `json:"count"`
	LastMessage *models.ChatMessage `json:"last_message,omitempty"`
}

// NewNodeData converts a neighbor into its display form. Nodes without a
// usable position get no distance.
func NewNodeData(n nodes.Neighbor) NodeData {
	d := NodeData{
		NodeID:       n.ID.String(),
		ShortName:    n.ShortName,
		LongName:     n.LongName,
		DisplayName:  n.GetDisplayName(),
		HwModel:      n.HwModel,
		SNR:          n.SNR,
		HopsAway:     n.HopsAway,
		Position:     n.Position,
		Metrics:      n.Metrics,
		HasPublicKey: len(n.PublicKey) == 32,
	}
	if !n.LastHeard.IsZero() {
		s := n.LastHeard.UTC().Format(time.RFC3339)
		d.LastSeen = &s
	}
	if n.Distance < nodes.FarAway {
		dist := n.Distance
		d.Distance = &dist
	}
	return d
}
