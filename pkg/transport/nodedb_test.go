package transport

import (
	"sync"
	"testing"

	pb "github.com/kabili207/meshtastic-go/core/proto"
	"github.com/stretchr/testify/require"

	"github.com/kabili207/mesh-chess/pkg/meshtastic"
	"github.com/kabili207/mesh-chess/pkg/models"
)

type memNodeStore struct {
	mu    sync.Mutex
	nodes map[meshtastic.NodeID]models.Node
}

func (m *memNodeStore) GetNode(id meshtastic.NodeID) (*models.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (m *memNodeStore) SaveNode(n *models.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[n.ID] = n.Clone()
	return nil
}

func (m *memNodeStore) GetAllNodes() ([]*models.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		c := n.Clone()
		out = append(out, &c)
	}
	return out, nil
}

type nodeEvents struct {
	mu  sync.Mutex
	ids []meshtastic.NodeID
}

func (e *nodeEvents) NodeUpdated(id meshtastic.NodeID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, id)
}

func TestNodeDBLoadAndPersist(t *testing.T) {
	st := &memNodeStore{nodes: map[meshtastic.NodeID]models.Node{
		peerID: {ID: peerID, LongName: "Saved"},
	}}
	listener := &nodeEvents{}
	db := NewNodeDB(st, listener, nil, nil)
	require.NoError(t, db.Load())
	require.Equal(t, "Saved", db.Nodes()[peerID].LongName)

	key := make([]byte, 32)
	key[0] = 7
	db.UpdateUser(peerID, &pb.User{LongName: "Renamed", ShortName: "RN", HwModel: pb.HardwareModel_TBEAM, PublicKey: key})

	saved, err := st.GetNode(peerID)
	require.NoError(t, err)
	require.Equal(t, "Renamed", saved.LongName)
	require.Equal(t, key, db.PublicKey(peerID))
	require.Equal(t, []meshtastic.NodeID{peerID}, listener.ids)

	// Short keys are not PKI keys.
	db.UpdateUser(0x1, &pb.User{PublicKey: []byte{1, 2, 3}})
	require.Nil(t, db.PublicKey(0x1))
}

func TestNodeDBPositionAndTelemetry(t *testing.T) {
	db := NewNodeDB(nil, nil, nil, nil)

	zero := int32(0)
	db.UpdatePosition(peerID, &pb.Position{LatitudeI: &zero, LongitudeI: &zero})
	_, ok := db.Nodes()[peerID]
	require.False(t, ok, "a position without a fix should not create a node")

	lat, lon := int32(515000000), int32(-1000000)
	db.UpdatePosition(peerID, &pb.Position{LatitudeI: &lat, LongitudeI: &lon, SatsInView: 9})
	n := db.Nodes()[peerID]
	require.NotNil(t, n.Position)
	require.InDelta(t, 51.5, n.Position.Latitude, 1e-6)
	require.InDelta(t, -0.1, n.Position.Longitude, 1e-6)
	require.Equal(t, uint32(9), n.Position.SatsInView)

	battery := uint32(87)
	db.UpdateTelemetry(peerID, &pb.Telemetry{
		Variant: &pb.Telemetry_DeviceMetrics{DeviceMetrics: &pb.DeviceMetrics{BatteryLevel: &battery}},
	})
	n = db.Nodes()[peerID]
	require.NotNil(t, n.Metrics)
	require.Equal(t, uint32(87), n.Metrics.BatteryLevel)

	// Snapshots are copies.
	n.Position.Latitude = 0
	require.InDelta(t, 51.5, db.Nodes()[peerID].Position.Latitude, 1e-6)
}
