// Package geocode resolves addresses to coordinates and back.
package geocode

import (
	"context"
	"errors"
	"fmt"

	"pickupopt/internal/geo"
)

// UnknownLocation is returned by reverse lookups that find nothing.
const UnknownLocation = "Unknown Location"

// ErrNotFound means the geocoder had no match for the address.
var ErrNotFound = errors.New("geocode: no match")

// Geocoder turns a free-form address into a coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.Coordinate, error)
}

// ReverseGeocoder turns a coordinate into a display address. It returns
// UnknownLocation, not an error, when nothing is found.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, c geo.Coordinate) (string, error)
}

// Error is returned when an address cannot be resolved.
type Error struct {
	Address string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("could not geocode the address %q: %v", e.Address, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
