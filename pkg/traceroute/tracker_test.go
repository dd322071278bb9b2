package traceroute

import (
	"context"
	"sync"
	"testing"
	"time"

	pb "github.com/kabili207/meshtastic-go/core/proto"
	"github.com/stretchr/testify/require"

	"github.com/kabili207/mesh-chess/pkg/meshtastic"
	"github.com/kabili207/mesh-chess/pkg/models"
)

type recordingListener struct {
	mu      sync.Mutex
	updates []meshtastic.NodeID
}

func (l *recordingListener) TraceUpdated(dest meshtastic.NodeID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, dest)
}

type fakeRequester struct {
	sent chan meshtastic.NodeID
	hops chan uint32
}

func (f *fakeRequester) SendTraceRequest(ctx context.Context, dest meshtastic.NodeID, hopLimit uint32) error {
	f.sent <- dest
	f.hops <- hopLimit
	return nil
}

func TestRecordResponseOverwrites(t *testing.T) {
	l := &recordingListener{}
	tr := NewTracker(TrackerOptions{Listener: l})

	dest := meshtastic.NodeID(0xabcd)
	tr.RecordResponse(dest, []models.Hop{{Node: 1, SNRRaw: 20}, {Node: 2, SNRRaw: 8}}, nil)
	tr.RecordResponse(dest, []models.Hop{{Node: 3, SNRRaw: -4}}, nil)

	route := tr.Route(dest)
	require.Equal(t, []models.Hop{{Node: 3, SNRRaw: -4}}, route)
	require.Equal(t, []meshtastic.NodeID{dest, dest}, l.updates)
}

func TestRouteUnknownDestination(t *testing.T) {
	tr := NewTracker(TrackerOptions{})
	require.Empty(t, tr.Route(0x1))
	_, ok := tr.Record(0x1)
	require.False(t, ok)
}

func TestRouteReturnsCopy(t *testing.T) {
	tr := NewTracker(TrackerOptions{})
	tr.RecordResponse(5, []models.Hop{{Node: 1}}, nil)
	r := tr.Route(5)
	r[0].Node = 99
	require.Equal(t, meshtastic.NodeID(1), tr.Route(5)[0].Node)
}

func TestHandleRouteDiscovery(t *testing.T) {
	tr := NewTracker(TrackerOptions{})

	pkt := &pb.MeshPacket{From: 0x1111, To: 0x2222, HopStart: 5, HopLimit: 2}
	data := &pb.Data{Portnum: pb.PortNum_TRACEROUTE_APP, RequestId: 77}
	disco := &pb.RouteDiscovery{
		Route:      []uint32{0xaaaa, 0xbbbb},
		SnrTowards: []int32{24, 12, 4},
		RouteBack:  []uint32{0xcccc},
		SnrBack:    []int32{-8},
	}

	require.True(t, tr.HandleRouteDiscovery(pkt, data, disco))

	rec, ok := tr.Record(0x1111)
	require.True(t, ok)
	require.Equal(t, []models.Hop{{Node: 0xaaaa, SNRRaw: 24}, {Node: 0xbbbb, SNRRaw: 12}}, rec.Towards)

	// Three hops were taken on the way back but only one relay recorded itself.
	require.Len(t, rec.Back, 3)
	require.Equal(t, meshtastic.NodeID(0xcccc), rec.Back[0].Node)
	require.True(t, rec.Back[1].IsUnknown())
	require.True(t, rec.Back[2].IsUnknown())
	_, known := rec.Back[2].SNR()
	require.False(t, known)

	// The caller's RouteDiscovery must not be modified.
	require.Len(t, disco.RouteBack, 1)
}

func TestHandleRouteDiscoveryIgnoresRequests(t *testing.T) {
	tr := NewTracker(TrackerOptions{})
	pkt := &pb.MeshPacket{From: 0x1111}
	data := &pb.Data{Portnum: pb.PortNum_TRACEROUTE_APP}
	require.False(t, tr.HandleRouteDiscovery(pkt, data, &pb.RouteDiscovery{}))
	require.Empty(t, tr.Destinations())
}

func TestRequestTrace(t *testing.T) {
	req := &fakeRequester{sent: make(chan meshtastic.NodeID, 1), hops: make(chan uint32, 1)}
	tr := NewTracker(TrackerOptions{Requester: req})

	require.NoError(t, tr.RequestTrace(context.Background(), 0x4242))

	select {
	case dest := <-req.sent:
		require.Equal(t, meshtastic.NodeID(0x4242), dest)
		require.Equal(t, uint32(DefaultHopLimit), <-req.hops)
	case <-time.After(time.Second):
		t.Fatal("trace request was not sent")
	}

	require.ErrorIs(t, tr.RequestTrace(context.Background(), meshtastic.BROADCAST_ID), ErrInvalidDestination)
}

func TestHopSNR(t *testing.T) {
	snr, ok := models.Hop{SNRRaw: 25}.SNR()
	require.True(t, ok)
	require.InDelta(t, 6.25, snr, 0.001)
}
