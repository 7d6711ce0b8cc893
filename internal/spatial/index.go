// Package spatial implements the radius index over road-network nodes.
//
// Nodes are stored in an R-tree keyed on (lng, lat). A radius query first
// collects the nodes whose point falls in the lat/lng box around the query
// point and then keeps the ones whose great-circle distance is within the
// radius, using geo.DistanceMiles so the boundary agrees with the walking
// radius conversion.
package spatial

import (
	"errors"

	"github.com/dhconnelly/rtreego"

	"pickupopt/internal/geo"
)

// ErrEmptyNetwork is returned by Build when there is nothing to index.
var ErrEmptyNetwork = errors.New("spatial: road network has no nodes")

const (
	minChildren = 25
	maxChildren = 50
	// pad widens the query box so float rounding in the bound computation
	// never drops a node sitting exactly on the radius.
	pad = 1e-7
	// pointTol gives stored points a non-degenerate rectangle.
	pointTol = 1e-9
)

// Candidate is a node within walking range of a query point.
type Candidate struct {
	Node          geo.Node `json:"node"`
	DistanceMiles float64  `json:"distanceMiles"`
}

type entry struct {
	node geo.Node
	rect rtreego.Rect
}

func (e *entry) Bounds() rtreego.Rect { return e.rect }

// Index answers "all nodes within R miles of P". It is immutable after Build
// and safe for concurrent queries.
type Index struct {
	tree *rtreego.Rtree
	size int
}

// Build indexes nodes. Nodes with an invalid coordinate are skipped.
func Build(nodes []geo.Node) (*Index, error) {
	objs := make([]rtreego.Spatial, 0, len(nodes))
	for _, n := range nodes {
		if !n.Coord.Valid() {
			continue
		}
		p := rtreego.Point{n.Coord.Lng, n.Coord.Lat}
		objs = append(objs, &entry{node: n, rect: p.ToRect(pointTol)})
	}
	if len(objs) == 0 {
		return nil, ErrEmptyNetwork
	}
	return &Index{tree: rtreego.NewTree(2, minChildren, maxChildren, objs...), size: len(objs)}, nil
}

// Len is the number of indexed nodes.
func (ix *Index) Len() int { return ix.size }

// Query returns every node whose distance to p is at most radiusMiles.
// The order of the result is unspecified. A negative radius yields nothing.
func (ix *Index) Query(p geo.Coordinate, radiusMiles float64) []Candidate {
	if ix == nil || radiusMiles < 0 {
		return nil
	}
	b := geo.BoundAround(p, radiusMiles)
	var hits []rtreego.Spatial
	for _, lng := range lngRanges(b.Min[0], b.Max[0]) {
		box, err := rtreego.NewRectFromPoints(
			rtreego.Point{lng[0] - pad, b.Min[1] - pad},
			rtreego.Point{lng[1] + pad, b.Max[1] + pad},
		)
		if err != nil {
			continue
		}
		hits = append(hits, ix.tree.SearchIntersect(box)...)
	}
	out := make([]Candidate, 0, len(hits))
	seen := make(map[*entry]struct{}, len(hits))
	for _, h := range hits {
		e := h.(*entry)
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		d := geo.DistanceMiles(p, e.node.Coord)
		if d <= radiusMiles {
			out = append(out, Candidate{Node: e.node, DistanceMiles: d})
		}
	}
	return out
}

// lngRanges splits a longitude span that crosses the antimeridian
// (min > max) into its two halves.
func lngRanges(minLng, maxLng float64) [][2]float64 {
	if minLng <= maxLng {
		return [][2]float64{{minLng, maxLng}}
	}
	return [][2]float64{{minLng, 180}, {-180, maxLng}}
}
