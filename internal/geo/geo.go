// Package geo holds the coordinate and node value types shared by the index,
// the oracle adapter and the optimizer, plus the single great-circle distance
// function they all use.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// MetersPerMile converts orb's metric distances to miles.
const MetersPerMile = 1609.344

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Node is a vehicle-reachable point of a road network.
type Node struct {
	ID    string     `json:"id"`
	Coord Coordinate `json:"coord"`
}

// Point returns the orb representation (lng, lat).
func (c Coordinate) Point() orb.Point { return orb.Point{c.Lng, c.Lat} }

// Valid reports whether the coordinate lies inside the WGS84 range.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Round truncates the coordinate to the given number of decimal digits.
// Negative digits leave the coordinate unchanged.
func (c Coordinate) Round(digits int) Coordinate {
	if digits < 0 {
		return c
	}
	f := math.Pow(10, float64(digits))
	return Coordinate{Lat: math.Round(c.Lat*f) / f, Lng: math.Round(c.Lng*f) / f}
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// DistanceMiles is the great-circle distance between a and b.
func DistanceMiles(a, b Coordinate) float64 {
	return orbgeo.DistanceHaversine(a.Point(), b.Point()) / MetersPerMile
}

// BoundAround returns a lat/lng box that contains every point within
// radiusMiles of c. Near the antimeridian the box wraps and Min[0] is
// greater than Max[0].
func BoundAround(c Coordinate, radiusMiles float64) orb.Bound {
	if radiusMiles <= 0 {
		return orb.Bound{Min: c.Point(), Max: c.Point()}
	}
	return orbgeo.NewBoundAroundPoint(c.Point(), radiusMiles*MetersPerMile)
}
