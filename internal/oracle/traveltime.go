// Package oracle wraps the external driving-time provider with a shared
// cache, request coalescing, a concurrency ceiling, a rate limit and bounded
// retries. The optimizer only ever talks to an Adapter.
package oracle

import (
	"encoding/json"
	"fmt"
	"strconv"

	"pickupopt/internal/geo"
)

// TravelTime is a driving time in seconds or the Unreachable outcome.
type TravelTime struct {
	Seconds   float64
	Reachable bool
}

// Unreachable is the "no route exists" outcome.
var Unreachable = TravelTime{}

// Seconds builds a reachable TravelTime.
func Seconds(s float64) TravelTime { return TravelTime{Seconds: s, Reachable: true} }

// Less reports whether t is strictly faster than u. Unreachable is slower
// than every reachable time.
func (t TravelTime) Less(u TravelTime) bool {
	if !t.Reachable {
		return false
	}
	return !u.Reachable || t.Seconds < u.Seconds
}

// MarshalJSON encodes Unreachable as null.
func (t TravelTime) MarshalJSON() ([]byte, error) {
	if !t.Reachable {
		return []byte("null"), nil
	}
	return json.Marshal(t.Seconds)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (t *TravelTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = Unreachable
		return nil
	}
	var s float64
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = Seconds(s)
	return nil
}

func (t TravelTime) String() string {
	if !t.Reachable {
		return "unreachable"
	}
	return strconv.FormatFloat(t.Seconds, 'f', -1, 64) + "s"
}

// Query is an ordered (origin, destination) pair rounded to a fixed
// precision so that near-duplicate lookups share a cache entry.
type Query struct {
	Origin      geo.Coordinate
	Destination geo.Coordinate
	digits      int
}

// NewQuery rounds origin and destination to digits decimal places.
func NewQuery(origin, destination geo.Coordinate, digits int) Query {
	return Query{Origin: origin.Round(digits), Destination: destination.Round(digits), digits: digits}
}

// Key is the cache key of the query.
func (q Query) Key() string {
	if q.digits < 0 {
		return formatPair(q.Origin) + ">" + formatPair(q.Destination)
	}
	return fmt.Sprintf("%.*f,%.*f>%.*f,%.*f",
		q.digits, q.Origin.Lat, q.digits, q.Origin.Lng,
		q.digits, q.Destination.Lat, q.digits, q.Destination.Lng)
}

func (q Query) String() string { return q.Key() }

func formatPair(c geo.Coordinate) string {
	return strconv.FormatFloat(c.Lat, 'g', -1, 64) + "," + strconv.FormatFloat(c.Lng, 'g', -1, 64)
}
