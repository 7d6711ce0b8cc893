// Package routing talks to the external point-to-point driving-time service.
package routing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"pickupopt/internal/geo"
)

// ErrNoRoute means the provider answered and found no route between the
// two points. It is an outcome, not a failure.
var ErrNoRoute = errors.New("routing: no route")

// Route is the part of a provider answer the optimizer needs.
type Route struct {
	DurationSeconds float64
	DistanceMeters  float64
}

// Provider returns the driving route between two coordinates.
type Provider interface {
	Route(ctx context.Context, origin, destination geo.Coordinate) (Route, error)
}

// StatusError is a non-success answer from the provider.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("routing: provider returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("routing: provider returned %d", e.StatusCode)
}

// IsTransient reports whether a failed call is worth retrying: timeouts,
// connection errors, 5xx and 429 answers. Cancellation of the caller's
// context and "no route" are not transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrNoRoute) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var decodeErr *DecodeError
	return !errors.As(err, &decodeErr)
}

// DecodeError wraps a provider body that could not be parsed.
type DecodeError struct{ Err error }

func (e *DecodeError) Error() string { return "routing: decode response: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }
