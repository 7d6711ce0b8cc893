package api

import (
	"fmt"
	"strings"

	"pickupopt/internal/engine"
	"pickupopt/internal/geo"
	"pickupopt/internal/model"
)

func validateOptimizeRequest(req *model.OptimizeRequest, maxWalk float64) error {
	if strings.TrimSpace(req.Network) == "" {
		return fmt.Errorf("network is required")
	}
	if req.MaxWalkMinutes < 0 {
		return fmt.Errorf("maxWalkMinutes must be >= 0")
	}
	if maxWalk > 0 && req.MaxWalkMinutes > maxWalk {
		return fmt.Errorf("maxWalkMinutes must be <= %g", maxWalk)
	}
	if req.DeadlineMs < 0 {
		return fmt.Errorf("deadlineMs must be >= 0")
	}
	if err := validatePlace("origin", req.Origin); err != nil {
		return err
	}
	return validatePlace("destination", req.Destination)
}

func validatePlace(name string, p model.PlaceIn) error {
	if (p.Lat == nil) != (p.Lng == nil) {
		return fmt.Errorf("%s: lat and lng must be given together", name)
	}
	if p.Lat != nil {
		if !(geo.Coordinate{Lat: *p.Lat, Lng: *p.Lng}).Valid() {
			return fmt.Errorf("%s: coordinate out of range", name)
		}
		return nil
	}
	if strings.TrimSpace(p.Address) == "" {
		return fmt.Errorf("%s: address or lat/lng required", name)
	}
	return nil
}

func toPlace(p model.PlaceIn) engine.Place {
	if p.Lat != nil && p.Lng != nil {
		return engine.Place{Coord: &geo.Coordinate{Lat: *p.Lat, Lng: *p.Lng}}
	}
	return engine.Place{Address: p.Address}
}
