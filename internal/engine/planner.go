package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pickupopt/internal/geo"
	"pickupopt/internal/geocode"
)

// Place is either a free-form address or a coordinate. Coord wins when both
// are set.
type Place struct {
	Address string          `json:"address,omitempty"`
	Coord   *geo.Coordinate `json:"coordinate,omitempty"`
}

// PlanRequest is an optimization expressed with places rather than
// coordinates.
type PlanRequest struct {
	Origin         Place
	Destination    Place
	MaxWalkMinutes float64
	Index          CandidateIndex
	Deadline       time.Duration
	Progress       func(Event)
}

// Plan is a Report together with the resolved trip ends.
type Plan struct {
	Report
	Origin      geo.Coordinate `json:"origin"`
	Destination geo.Coordinate `json:"destination"`
}

// Planner resolves places, runs the engine and assembles the report.
type Planner struct {
	Engine   *Engine
	Geocoder geocode.Geocoder
	Reverse  geocode.ReverseGeocoder
}

// Plan runs one end-to-end optimization. Geocoding errors abort before any
// travel-time lookup is made.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	origin, err := p.resolve(ctx, req.Origin)
	if err != nil {
		return nil, err
	}
	dest, err := p.resolve(ctx, req.Destination)
	if err != nil {
		return nil, err
	}
	res, err := p.Engine.Optimize(ctx, Request{
		Origin:         origin,
		Destination:    dest,
		MaxWalkMinutes: req.MaxWalkMinutes,
		Index:          req.Index,
		Deadline:       req.Deadline,
		Progress:       req.Progress,
	})
	if err != nil {
		return nil, err
	}
	rep, err := Assemble(ctx, p.Reverse, res)
	if err != nil {
		return nil, fmt.Errorf("engine: reverse geocode: %w", err)
	}
	return &Plan{Report: *rep, Origin: origin, Destination: dest}, nil
}

func (p *Planner) resolve(ctx context.Context, pl Place) (geo.Coordinate, error) {
	if pl.Coord != nil {
		return *pl.Coord, nil
	}
	addr := strings.TrimSpace(pl.Address)
	if addr == "" || p.Geocoder == nil {
		return geo.Coordinate{}, &geocode.Error{Address: addr, Err: geocode.ErrNotFound}
	}
	return p.Geocoder.Geocode(ctx, addr)
}
