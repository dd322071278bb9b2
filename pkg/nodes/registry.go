package nodes

import (
	"cmp"
	"slices"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/kabili207/mesh-chess/pkg/meshtastic"
	"github.com/kabili207/mesh-chess/pkg/models"
)

const defaultTTL = 30 * time.Second

// Source is the transport-owned view of the mesh that the registry reads through.
type Source interface {
	Nodes() map[meshtastic.NodeID]models.Node
}

// Registry is a read-through cache of known peers. Entries expire after the TTL
// and are reloaded from the source on the next lookup.
type Registry struct {
	source Source
	cache  *ttlcache.Cache[meshtastic.NodeID, models.Node]
}

// NewRegistry creates a registry over source. Call Start to run expiry in the
// background and Stop to release it.
func NewRegistry(source Source, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = defaultTTL
	}

	loader := ttlcache.LoaderFunc[meshtastic.NodeID, models.Node](
		func(c *ttlcache.Cache[meshtastic.NodeID, models.Node], id meshtastic.NodeID) *ttlcache.Item[meshtastic.NodeID, models.Node] {
			node, ok := source.Nodes()[id]
			if !ok {
				return nil
			}
			return c.Set(id, node.Clone(), ttlcache.DefaultTTL)
		},
	)

	cache := ttlcache.New[meshtastic.NodeID, models.Node](
		ttlcache.WithTTL[meshtastic.NodeID, models.Node](ttl),
		ttlcache.WithLoader[meshtastic.NodeID, models.Node](ttlcache.NewSuppressedLoader(loader, nil)),
	)

	return &Registry{
		source: source,
		cache:  cache,
	}
}

func (r *Registry) Start() {
	go r.cache.Start()
}

func (r *Registry) Stop() {
	r.cache.Stop()
}

// Get returns the node with the given ID, loading it from the source when it is
// not cached.
func (r *Registry) Get(id meshtastic.NodeID) (models.Node, bool) {
	item := r.cache.Get(id)
	if item == nil {
		return models.Node{}, false
	}
	return item.Value().Clone(), true
}

// DisplayName resolves a node ID to the best available name.
func (r *Registry) DisplayName(id meshtastic.NodeID) string {
	if n, ok := r.Get(id); ok {
		return n.GetDisplayName()
	}
	return id.String()
}

// All refreshes the cache from the source and returns every known node ordered by ID.
func (r *Registry) All() []models.Node {
	snapshot := r.source.Nodes()
	out := make([]models.Node, 0, len(snapshot))
	for id, n := range snapshot {
		r.cache.Set(id, n.Clone(), ttlcache.DefaultTTL)
		out = append(out, n.Clone())
	}
	slices.SortFunc(out, func(a, b models.Node) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// ByProximity returns every known node except exclude, nearest to ref first.
func (r *Registry) ByProximity(ref *models.Position, exclude meshtastic.NodeID) []Neighbor {
	all := r.All()
	filtered := all[:0]
	for _, n := range all {
		if n.ID != exclude {
			filtered = append(filtered, n)
		}
	}
	return SortByProximity(ref, filtered)
}
