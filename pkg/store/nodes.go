package store

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kabili207/mesh-chess/pkg/meshtastic"
	"github.com/kabili207/mesh-chess/pkg/models"
)

var selectNodes = `SELECT * FROM nodes`

// NodeStore remembers the identity and last position of mesh nodes between runs.
type NodeStore interface {
	GetNode(id meshtastic.NodeID) (*models.Node, error)
	SaveNode(node *models.Node) error
	GetAllNodes() ([]*models.Node, error)
}

type nodeRow struct {
	NodeID    int64           `db:"node_id"`
	ShortName string          `db:"short_name"`
	LongName  string          `db:"long_name"`
	HwModel   string          `db:"hw_model"`
	PublicKey []byte          `db:"public_key"`
	Latitude  sql.NullFloat64 `db:"latitude"`
	Longitude sql.NullFloat64 `db:"longitude"`
	Altitude  sql.NullInt64   `db:"altitude"`
	LastHeard int64           `db:"last_heard"`
}

func (r nodeRow) toModel() *models.Node {
	n := &models.Node{
		ID:        meshtastic.NodeID(r.NodeID),
		ShortName: r.ShortName,
		LongName:  r.LongName,
		HwModel:   r.HwModel,
		PublicKey: r.PublicKey,
		LastHeard: time.UnixMilli(r.LastHeard),
	}
	if r.Latitude.Valid && r.Longitude.Valid {
		n.Position = &models.Position{
			Latitude:  r.Latitude.Float64,
			Longitude: r.Longitude.Float64,
			Altitude:  int32(r.Altitude.Int64),
		}
	}
	return n
}

func rowFromModel(n *models.Node) nodeRow {
	r := nodeRow{
		NodeID:    int64(n.ID),
		ShortName: n.ShortName,
		LongName:  n.LongName,
		HwModel:   n.HwModel,
		PublicKey: n.PublicKey,
		LastHeard: n.LastHeard.UnixMilli(),
	}
	if n.Position != nil {
		r.Latitude = sql.NullFloat64{Float64: n.Position.Latitude, Valid: true}
		r.Longitude = sql.NullFloat64{Float64: n.Position.Longitude, Valid: true}
		r.Altitude = sql.NullInt64{Int64: int64(n.Position.Altitude), Valid: true}
	}
	return r
}

type sqliteNodeStore struct {
	db *sqlx.DB
}

// NewNodeStore creates a node store backed by dbconn.
func NewNodeStore(dbconn *sqlx.DB) NodeStore {
	return &sqliteNodeStore{db: dbconn}
}

// GetNode retrieves a node by ID. It returns nil, nil when the node is unknown.
func (s *sqliteNodeStore) GetNode(id meshtastic.NodeID) (*models.Node, error) {
	query := selectNodes + " WHERE node_id = ?;"
	var row nodeRow
	err := s.db.Get(&row, query, int64(id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// SaveNode inserts or updates a node. A missing position keeps the stored one.
func (s *sqliteNodeStore) SaveNode(node *models.Node) error {
	stmt := `
	INSERT INTO nodes (node_id, short_name, long_name, hw_model, public_key, latitude, longitude, altitude, last_heard)
	VALUES (:node_id, :short_name, :long_name, :hw_model, :public_key, :latitude, :longitude, :altitude, :last_heard)
	ON CONFLICT (node_id)
	DO UPDATE SET
		short_name = :short_name,
		long_name = :long_name,
		hw_model = :hw_model,
		public_key = COALESCE(:public_key, public_key),
		latitude = COALESCE(:latitude, latitude),
		longitude = COALESCE(:longitude, longitude),
		altitude = COALESCE(:altitude, altitude),
		last_heard = :last_heard
	;`

	_, err := s.db.NamedExec(stmt, rowFromModel(node))
	return err
}

// GetAllNodes retrieves every stored node.
func (s *sqliteNodeStore) GetAllNodes() ([]*models.Node, error) {
	query := selectNodes + " ORDER BY node_id;"
	rows := []nodeRow{}
	err := s.db.Select(&rows, query)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	nodes := make([]*models.Node, len(rows))
	for i, r := range rows {
		nodes[i] = r.toModel()
	}
	return nodes, nil
}
