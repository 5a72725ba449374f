// Package spatial provides nearest-neighbour lookups over postcode sector
// centroids and the distance-weighted lag features derived from them.
//
// Distances are planar Euclidean in degrees, which is adequate at city scale.
// KmPerDegree converts them to kilometres for reporting.
package spatial

import (
	"math"
	"sort"

	"github.com/couchcryptid/property-forecast/internal/domain"
)

// KmPerDegree approximates one degree of latitude in kilometres.
const KmPerDegree = 111.0

// Centroid is the representative coordinate of a sector.
type Centroid struct {
	Sector string  `json:"sector"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

// Neighbor is a sector returned by a nearest-neighbour query.
type Neighbor struct {
	Sector   string  `json:"sector"`
	Distance float64 `json:"distance_deg"`
}

// DistanceKm converts the planar degree distance to kilometres.
func (n Neighbor) DistanceKm() float64 { return n.Distance * KmPerDegree }

// Index answers k-nearest-neighbour queries over sector centroids. It is
// immutable after construction and safe for concurrent use.
type Index struct {
	centroids []Centroid
	bySector  map[string]int
}

// NewIndex builds an index. Sector names are normalised the same way postcodes
// are; a repeated sector keeps its last coordinate.
func NewIndex(centroids []Centroid) *Index {
	idx := &Index{bySector: make(map[string]int, len(centroids))}
	for _, c := range centroids {
		c.Sector = domain.NormalizePostcode(c.Sector)
		if c.Sector == "" || math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
			continue
		}
		if i, ok := idx.bySector[c.Sector]; ok {
			idx.centroids[i] = c
			continue
		}
		idx.bySector[c.Sector] = len(idx.centroids)
		idx.centroids = append(idx.centroids, c)
	}
	return idx
}

// Len returns the number of indexed sectors.
func (idx *Index) Len() int { return len(idx.centroids) }

// Lookup returns the centroid of sector.
func (idx *Index) Lookup(sector string) (Centroid, bool) {
	i, ok := idx.bySector[domain.NormalizePostcode(sector)]
	if !ok {
		return Centroid{}, false
	}
	return idx.centroids[i], true
}

// Nearest returns up to k sectors closest to sector, excluding itself, nearest
// first. An unknown sector yields nil.
func (idx *Index) Nearest(sector string, k int) []Neighbor {
	return idx.nearest(sector, k, nil)
}

// NearestTo returns up to k sectors closest to a coordinate.
func (idx *Index) NearestTo(lat, lng float64, k int) []Neighbor {
	return idx.search(lat, lng, k, func(string) bool { return true })
}

func (idx *Index) nearest(sector string, k int, keep func(string) bool) []Neighbor {
	origin, ok := idx.Lookup(sector)
	if !ok {
		return nil
	}
	return idx.search(origin.Lat, origin.Lng, k, func(s string) bool {
		return s != origin.Sector && (keep == nil || keep(s))
	})
}

// search is a brute-force scan; ties are broken by sector name so results are
// deterministic.
func (idx *Index) search(lat, lng float64, k int, keep func(string) bool) []Neighbor {
	if k <= 0 {
		return nil
	}
	out := make([]Neighbor, 0, len(idx.centroids))
	for _, c := range idx.centroids {
		if !keep(c.Sector) {
			continue
		}
		out = append(out, Neighbor{Sector: c.Sector, Distance: math.Hypot(c.Lat-lat, c.Lng-lng)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Sector < out[j].Sector
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
