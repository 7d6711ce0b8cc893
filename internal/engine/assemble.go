package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"pickupopt/internal/geocode"
	"pickupopt/internal/oracle"
)

// Stop is a winning location with its display address.
type Stop struct {
	Spot
	Address string `json:"address"`
}

// Report is the user-facing outcome of an optimization.
type Report struct {
	Pickup   Stop              `json:"pickup"`
	Dropoff  Stop              `json:"dropoff"`
	BestTime oracle.TravelTime `json:"bestTimeSeconds"`
	Baseline oracle.TravelTime `json:"baselineSeconds"`
	// TimeSavedSeconds is baseline minus best, unclamped. It is nil when the
	// direct trip has no route.
	TimeSavedSeconds *float64 `json:"timeSavedSeconds"`
	NoImprovement    bool     `json:"noImprovement"`

	RadiusMiles       float64 `json:"radiusMiles"`
	PickupCandidates  int     `json:"pickupCandidates"`
	DropoffCandidates int     `json:"dropoffCandidates"`
	PairsTotal        int     `json:"pairsTotal"`
	PairsEvaluated    int     `json:"pairsEvaluated"`
	PairsUnavailable  int     `json:"pairsUnavailable"`
	Partial           bool    `json:"partial"`
}

// Assemble reverse geocodes the two winners and computes the saving. A
// reverse lookup failure fails the whole report.
func Assemble(ctx context.Context, rg geocode.ReverseGeocoder, res *Result) (*Report, error) {
	rep := &Report{
		Pickup:            Stop{Spot: res.BestPickup},
		Dropoff:           Stop{Spot: res.BestDropoff},
		BestTime:          res.BestTime,
		Baseline:          res.Baseline,
		RadiusMiles:       res.RadiusMiles,
		PickupCandidates:  res.PickupCandidates,
		DropoffCandidates: res.DropoffCandidates,
		PairsTotal:        res.PairsTotal,
		PairsEvaluated:    res.PairsEvaluated,
		PairsUnavailable:  res.PairsUnavailable,
		Partial:           res.Partial,
	}
	if res.Baseline.Reachable && res.BestTime.Reachable {
		saved := res.Baseline.Seconds - res.BestTime.Seconds
		rep.TimeSavedSeconds = &saved
		rep.NoImprovement = saved <= 0
	}

	if rg == nil {
		rep.Pickup.Address, rep.Dropoff.Address = geocode.UnknownLocation, geocode.UnknownLocation
		return rep, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr, err := rg.ReverseGeocode(gctx, res.BestPickup.Coord)
		rep.Pickup.Address = addr
		return err
	})
	g.Go(func() error {
		addr, err := rg.ReverseGeocode(gctx, res.BestDropoff.Coord)
		rep.Dropoff.Address = addr
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rep, nil
}
