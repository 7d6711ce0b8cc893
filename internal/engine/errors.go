package engine

import (
	"errors"
	"fmt"
)

// Side names the end of the trip a candidate search ran for.
type Side string

const (
	SideOrigin      Side = "origin"
	SideDestination Side = "destination"
)

var (
	// ErrNoRouteFound means every evaluated pair was unreachable.
	ErrNoRouteFound = errors.New("engine: no drivable route between any candidate pair")
	// ErrTimeout means the deadline passed before any pair produced a usable time.
	ErrTimeout = errors.New("engine: optimization deadline exceeded before any pair completed")
)

// NoCandidatesError means no road-network node is within walking distance
// of one end of the trip.
type NoCandidatesError struct {
	Side        Side
	RadiusMiles float64
}

func (e *NoCandidatesError) Error() string {
	return fmt.Sprintf("engine: no walkable node within %.2f mi of the %s", e.RadiusMiles, e.Side)
}
