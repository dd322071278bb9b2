package traceroute

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	pb "github.com/kabili207/meshtastic-go/core/proto"

	"github.com/kabili207/mesh-chess/pkg/meshtastic"
	"github.com/kabili207/mesh-chess/pkg/models"
)

// DefaultHopLimit is the hop limit used for outbound trace requests.
const DefaultHopLimit = 7

const requestTimeout = 15 * time.Second

// Requester sends a route discovery request into the mesh.
type Requester interface {
	SendTraceRequest(ctx context.Context, dest meshtastic.NodeID, hopLimit uint32) error
}

// Listener is notified after a destination's record changes.
type Listener interface {
	TraceUpdated(dest meshtastic.NodeID)
}

type TrackerOptions struct {
	Requester Requester
	Listener  Listener
	Log       *slog.Logger
	HopLimit  uint32
}

// Tracker keeps the most recent route reported for each destination.
type Tracker struct {
	mu      sync.RWMutex
	records map[meshtastic.NodeID]models.TraceRecord

	requester Requester
	listener  Listener
	log       *slog.Logger
	hopLimit  uint32
}

func NewTracker(opts TrackerOptions) *Tracker {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	hopLimit := opts.HopLimit
	if hopLimit == 0 || hopLimit > DefaultHopLimit {
		hopLimit = DefaultHopLimit
	}
	return &Tracker{
		records:   make(map[meshtastic.NodeID]models.TraceRecord),
		requester: opts.Requester,
		listener:  opts.Listener,
		log:       log.With("component", "traceroute"),
		hopLimit:  hopLimit,
	}
}

// RecordResponse replaces any existing record for dest.
func (t *Tracker) RecordResponse(dest meshtastic.NodeID, towards, back []models.Hop) {
	rec := models.TraceRecord{
		Destination: dest,
		Towards:     slices.Clone(towards),
		Back:        slices.Clone(back),
		Updated:     time.Now(),
	}

	t.mu.Lock()
	t.records[dest] = rec
	t.mu.Unlock()

	if t.listener != nil {
		t.listener.TraceUpdated(dest)
	}
}

// Route returns the hops towards dest, or nil when no trace has been recorded.
func (t *Tracker) Route(dest meshtastic.NodeID) []models.Hop {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[dest]
	if !ok {
		return nil
	}
	return slices.Clone(rec.Towards)
}

// Record returns the full record for dest.
func (t *Tracker) Record(dest meshtastic.NodeID) (models.TraceRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[dest]
	if !ok {
		return models.TraceRecord{}, false
	}
	rec.Towards = slices.Clone(rec.Towards)
	rec.Back = slices.Clone(rec.Back)
	return rec, true
}

// Destinations lists every destination with a recorded route.
func (t *Tracker) Destinations() []meshtastic.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]meshtastic.NodeID, 0, len(t.records))
	for id := range t.records {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// RequestTrace asks the transport to trace a route to dest. It returns
// immediately; any response arrives later through HandleRouteDiscovery.
func (t *Tracker) RequestTrace(ctx context.Context, dest meshtastic.NodeID) error {
	if dest == 0 || dest.IsBroadcast() {
		return ErrInvalidDestination
	}
	if t.requester == nil {
		return ErrNoRequester
	}

	go func(dest meshtastic.NodeID, hopLimit uint32) {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requestTimeout)
		defer cancel()
		if err := t.requester.SendTraceRequest(sendCtx, dest, hopLimit); err != nil {
			t.log.Error("error sending trace request", "dest", dest, "error", err)
		}
	}(dest, t.hopLimit)

	return nil
}

// HandleRouteDiscovery records the route carried by a traceroute response.
// Requests relayed through us are ignored.
func (t *Tracker) HandleRouteDiscovery(pkt *pb.MeshPacket, data *pb.Data, disco *pb.RouteDiscovery) bool {
	if pkt == nil || data == nil || disco == nil || data.GetRequestId() == 0 {
		return false
	}
	dest := meshtastic.NodeID(pkt.GetFrom())
	if dest == 0 {
		return false
	}

	route, snrs := disco.GetRoute(), disco.GetSnrTowards()
	back, snrBack := disco.GetRouteBack(), disco.GetSnrBack()

	// The response packet's own hop counters describe the return leg.
	if pkt.GetHopStart() != 0 && pkt.GetHopLimit() <= pkt.GetHopStart() {
		back, snrBack = insertUnknownHops(back, snrBack, int(pkt.GetHopStart()-pkt.GetHopLimit()))
	}

	towards := toHops(route, snrs)
	backHops := toHops(back, snrBack)

	t.log.Debug("traceroute response", "dest", dest, "towards", len(towards), "back", len(backHops))
	t.RecordResponse(dest, towards, backHops)
	return true
}

// insertUnknownHops pads a route with placeholder relays until it matches the
// number of hops the packet actually took, then pads the SNR list to match.
func insertUnknownHops(route []uint32, snrs []int32, hopsTaken int) ([]uint32, []int32) {
	route = slices.Clone(route)
	snrs = slices.Clone(snrs)
	for len(route) < hopsTaken {
		route = append(route, meshtastic.BROADCAST_ID)
	}
	for len(snrs) < len(route) {
		snrs = append(snrs, models.UnknownSNR)
	}
	return route, snrs
}

func toHops(route []uint32, snrs []int32) []models.Hop {
	hops := make([]models.Hop, len(route))
	for i, node := range route {
		snr := int32(models.UnknownSNR)
		if i < len(snrs) {
			snr = snrs[i]
		}
		hops[i] = models.Hop{Node: meshtastic.NodeID(node), SNRRaw: snr}
	}
	return hops
}
