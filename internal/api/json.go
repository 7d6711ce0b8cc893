package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"pickupopt/internal/engine"
	"pickupopt/internal/geocode"
	"pickupopt/internal/network"
	"pickupopt/internal/spatial"
	"pickupopt/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Side     string `json:"side,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// errorKind names an optimization failure for clients, history and events.
func errorKind(err error) string {
	var (
		ge *geocode.Error
		nc *engine.NoCandidatesError
	)
	switch {
	case errors.As(err, &ge):
		return "geocoding"
	case errors.As(err, &nc):
		return "no_candidates"
	case errors.Is(err, engine.ErrNoRouteFound):
		return "no_route"
	case errors.Is(err, engine.ErrTimeout):
		return "timeout"
	case errors.Is(err, network.ErrUnknownNetwork):
		return "unknown_network"
	case errors.Is(err, spatial.ErrEmptyNetwork):
		return "empty_network"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "internal"
	}
}

// writeError maps err to a problem response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errorKind(err)
	p := Problem{Type: "about:blank", Detail: err.Error(), Instance: r.URL.Path, Kind: kind}
	switch kind {
	case "geocoding":
		p.Status, p.Title = http.StatusUnprocessableEntity, "Address could not be geocoded"
	case "no_candidates":
		var nc *engine.NoCandidatesError
		errors.As(err, &nc)
		p.Status, p.Title, p.Side = http.StatusUnprocessableEntity, "No walkable pickup or dropoff point", string(nc.Side)
	case "no_route":
		p.Status, p.Title = http.StatusUnprocessableEntity, "No drivable route between candidates"
	case "timeout":
		p.Status, p.Title = http.StatusGatewayTimeout, "Optimization timed out"
	case "unknown_network", "not_found":
		p.Status, p.Title = http.StatusNotFound, "Not Found"
	case "empty_network":
		p.Status, p.Title = http.StatusUnprocessableEntity, "Road network has no nodes"
	case "cancelled":
		p.Status, p.Title = http.StatusServiceUnavailable, "Request cancelled"
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		p.Status, p.Title = http.StatusInternalServerError, "Internal Server Error"
	}
	writeJSON(w, p.Status, p)
}
