package transport

import (
	"log/slog"
	"sync"
	"time"

	pb "github.com/kabili207/meshtastic-go/core/proto"

	"github.com/kabili207/mesh-chess/pkg/meshtastic"
	"github.com/kabili207/mesh-chess/pkg/metrics"
	"github.com/kabili207/mesh-chess/pkg/models"
	"github.com/kabili207/mesh-chess/pkg/store"
)

// NodeListener is notified after a node's record changes.
type NodeListener interface {
	NodeUpdated(id meshtastic.NodeID)
}

// NodeDB is the transport's view of the mesh, built from the packets it hears.
type NodeDB struct {
	mu    sync.RWMutex
	nodes map[meshtastic.NodeID]*models.Node

	store    store.NodeStore
	listener NodeListener
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewNodeDB(st store.NodeStore, listener NodeListener, m *metrics.Metrics, log *slog.Logger) *NodeDB {
	if log == nil {
		log = slog.Default()
	}
	return &NodeDB{
		nodes:    make(map[meshtastic.NodeID]*models.Node),
		store:    st,
		listener: listener,
		metrics:  m,
		log:      log,
	}
}

// Load seeds the database from the persistent store.
func (db *NodeDB) Load() error {
	if db.store == nil {
		return nil
	}
	saved, err := db.store.GetAllNodes()
	if err != nil {
		return err
	}
	db.mu.Lock()
	for _, n := range saved {
		if _, ok := db.nodes[n.ID]; !ok {
			db.nodes[n.ID] = n
		}
	}
	count := len(db.nodes)
	db.mu.Unlock()

	db.metrics.SetKnownNodes(count)
	db.log.Info("loaded saved nodes", "count", len(saved))
	return nil
}

// Put stores n as-is, replacing any existing record.
func (db *NodeDB) Put(n models.Node) {
	db.mu.Lock()
	c := n.Clone()
	db.nodes[n.ID] = &c
	count := len(db.nodes)
	db.mu.Unlock()

	db.metrics.SetKnownNodes(count)
	db.notify(n.ID)
}

// Nodes returns a snapshot of every known node.
func (db *NodeDB) Nodes() map[meshtastic.NodeID]models.Node {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[meshtastic.NodeID]models.Node, len(db.nodes))
	for id, n := range db.nodes {
		out[id] = n.Clone()
	}
	return out
}

// PublicKey returns the X25519 key a node announced, if any.
func (db *NodeDB) PublicKey(id meshtastic.NodeID) []byte {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if n, ok := db.nodes[id]; ok && len(n.PublicKey) == 32 {
		return append([]byte(nil), n.PublicKey...)
	}
	return nil
}

// update applies fn to the node's record, creating it if needed, and
// optionally persists the result.
func (db *NodeDB) update(id meshtastic.NodeID, persist bool, fn func(n *models.Node)) {
	db.mu.Lock()
	n, ok := db.nodes[id]
	if !ok {
		n = &models.Node{ID: id}
		db.nodes[id] = n
	}
	fn(n)
	snapshot := n.Clone()
	count := len(db.nodes)
	db.mu.Unlock()

	if !ok {
		db.metrics.SetKnownNodes(count)
	}
	if persist && db.store != nil {
		if err := db.store.SaveNode(&snapshot); err != nil {
			db.log.Warn("failed to save node", "node", id, "error", err)
		}
	}
	db.notify(id)
}

func (db *NodeDB) notify(id meshtastic.NodeID) {
	if db.listener != nil {
		db.listener.NodeUpdated(id)
	}
}

// Heard records that a packet from the node was received.
func (db *NodeDB) Heard(pkt *pb.MeshPacket) {
	id := meshtastic.NodeID(pkt.GetFrom())
	db.update(id, false, func(n *models.Node) {
		n.LastHeard = time.Now()
		n.SNR = pkt.GetRxSnr()
		if start, limit := pkt.GetHopStart(), pkt.GetHopLimit(); start != 0 && limit <= start {
			hops := start - limit
			n.HopsAway = &hops
		}
	})
}

func (db *NodeDB) UpdateUser(id meshtastic.NodeID, user *pb.User) {
	db.update(id, true, func(n *models.Node) {
		n.LongName = user.GetLongName()
		n.ShortName = user.GetShortName()
		n.HwModel = user.GetHwModel().String()
		if key := user.GetPublicKey(); len(key) == 32 {
			n.PublicKey = append([]byte(nil), key...)
		}
	})
}

// UpdatePosition records a position report. A report at 0,0 means the node has no fix.
func (db *NodeDB) UpdatePosition(id meshtastic.NodeID, pos *pb.Position) {
	lat, lon := pos.GetLatitudeI(), pos.GetLongitudeI()
	if lat == 0 && lon == 0 {
		return
	}
	db.update(id, true, func(n *models.Node) {
		p := &models.Position{
			Latitude:   float64(lat) * 1e-7,
			Longitude:  float64(lon) * 1e-7,
			Altitude:   pos.GetAltitude(),
			SatsInView: pos.GetSatsInView(),
		}
		if t := pos.GetTime(); t != 0 {
			p.Time = time.Unix(int64(t), 0)
		}
		n.Position = p
	})
}

// UpdateTelemetry records device metrics. Other telemetry variants are ignored.
func (db *NodeDB) UpdateTelemetry(id meshtastic.NodeID, tel *pb.Telemetry) {
	dm := tel.GetDeviceMetrics()
	if dm == nil {
		return
	}
	db.update(id, false, func(n *models.Node) {
		n.Metrics = &models.DeviceMetrics{
			BatteryLevel:       dm.GetBatteryLevel(),
			Voltage:            dm.GetVoltage(),
			ChannelUtilization: dm.GetChannelUtilization(),
			AirUtilTx:          dm.GetAirUtilTx(),
			UptimeSeconds:      dm.GetUptimeSeconds(),
		}
	})
}
