package nodes

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kabili207/mesh-chess/pkg/meshtastic"
	"github.com/kabili207/mesh-chess/pkg/models"
)

type fakeSource struct {
	mu    sync.Mutex
	nodes map[meshtastic.NodeID]models.Node
	calls int
}

func (f *fakeSource) Nodes() map[meshtastic.NodeID]models.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make(map[meshtastic.NodeID]models.Node, len(f.nodes))
	for k, v := range f.nodes {
		out[k] = v
	}
	return out
}

func (f *fakeSource) set(n models.Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[n.ID] = n
}

func TestHaversineKnownDistance(t *testing.T) {
	// One degree of latitude along a meridian.
	d := Haversine(0, 0, 1, 0)
	want := EarthRadius * math.Pi / 180
	require.InDelta(t, want, d, 0.001)

	require.Zero(t, Haversine(45.5, -122.6, 45.5, -122.6))
}

func TestDistanceWithoutPosition(t *testing.T) {
	p := &models.Position{Latitude: 1, Longitude: 1}
	require.Equal(t, FarAway, Distance(nil, p))
	require.Equal(t, FarAway, Distance(p, nil))
}

func TestSortByProximityPositionlessLast(t *testing.T) {
	ref := &models.Position{Latitude: 40.0, Longitude: -75.0}
	nodes := []models.Node{
		{ID: 4, SNR: 12.5}, // no position, strongest signal
		{ID: 3, SNR: -10, Position: &models.Position{Latitude: 41.0, Longitude: -75.0}},
		{ID: 1, SNR: -5, Position: &models.Position{Latitude: 40.01, Longitude: -75.0}},
		{ID: 2, SNR: 0, Position: &models.Position{Latitude: 40.2, Longitude: -75.0}},
	}

	sorted := SortByProximity(ref, nodes)
	require.Len(t, sorted, 4)
	require.Equal(t, meshtastic.NodeID(1), sorted[0].ID)
	require.Equal(t, meshtastic.NodeID(2), sorted[1].ID)
	require.Equal(t, meshtastic.NodeID(3), sorted[2].ID)
	require.Equal(t, meshtastic.NodeID(4), sorted[3].ID)
	require.Equal(t, FarAway, sorted[3].Distance)
	require.Less(t, sorted[0].Distance, sorted[1].Distance)
	require.Less(t, sorted[1].Distance, sorted[2].Distance)
}

func TestSortByProximitySNRBreaksTies(t *testing.T) {
	sorted := SortByProximity(nil, []models.Node{
		{ID: 1, SNR: -3},
		{ID: 2, SNR: 7},
	})
	require.Equal(t, meshtastic.NodeID(2), sorted[0].ID)
}

func TestRegistryReadThrough(t *testing.T) {
	src := &fakeSource{nodes: map[meshtastic.NodeID]models.Node{}}
	r := NewRegistry(src, time.Minute)

	_, ok := r.Get(0x1234)
	require.False(t, ok)

	src.set(models.Node{ID: 0x1234, LongName: "Base Camp"})
	n, ok := r.Get(0x1234)
	require.True(t, ok)
	require.Equal(t, "Base Camp", n.LongName)
	require.Equal(t, "Base Camp", r.DisplayName(0x1234))
	require.Equal(t, "!00005678", r.DisplayName(0x5678))

	calls := src.calls
	_, ok = r.Get(0x1234)
	require.True(t, ok)
	require.Equal(t, calls, src.calls, "cached lookups must not hit the source")
}

func TestRegistryByProximityExcludesSelf(t *testing.T) {
	src := &fakeSource{nodes: map[meshtastic.NodeID]models.Node{
		1: {ID: 1, Position: &models.Position{Latitude: 10, Longitude: 10}},
		2: {ID: 2, Position: &models.Position{Latitude: 10.5, Longitude: 10}},
		3: {ID: 3},
	}}
	r := NewRegistry(src, time.Minute)

	got := r.ByProximity(&models.Position{Latitude: 10, Longitude: 10}, 1)
	require.Len(t, got, 2)
	require.Equal(t, meshtastic.NodeID(2), got[0].ID)
	require.Equal(t, meshtastic.NodeID(3), got[1].ID)
}
