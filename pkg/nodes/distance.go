package nodes

import (
	"cmp"
	"math"
	"slices"

	"github.com/kabili207/mesh-chess/pkg/models"
)

const (
	// EarthRadius is the mean earth radius in meters used by Haversine.
	EarthRadius = 6371000.0
	// FarAway is reported for any pair of nodes where a position is missing so
	// that such nodes sort after every located node.
	FarAway = 999999999.0
)

// Neighbor is a node annotated with its distance from a reference point.
type Neighbor struct {
	models.Node
	Distance float64 `json:"distance_m"`
}

// Haversine returns the great-circle distance in meters between two points given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadius * c
}

// Distance returns the distance between two positions, or FarAway if either is nil.
func Distance(a, b *models.Position) float64 {
	if a == nil || b == nil {
		return FarAway
	}
	d := Haversine(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
	if math.IsNaN(d) {
		return FarAway
	}
	return d
}

// SortByProximity orders nodes by distance from ref, then by SNR (strongest
// first), then by ID.
func SortByProximity(ref *models.Position, nodes []models.Node) []Neighbor {
	out := make([]Neighbor, len(nodes))
	for i, n := range nodes {
		out[i] = Neighbor{Node: n, Distance: Distance(ref, n.Position)}
	}
	slices.SortStableFunc(out, func(a, b Neighbor) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		if c := cmp.Compare(b.SNR, a.SNR); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
