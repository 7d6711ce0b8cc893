package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"pickupopt/internal/geo"
	"pickupopt/internal/geocode"
)

type fakeGeocoder map[string]geo.Coordinate

func (f fakeGeocoder) Geocode(_ context.Context, address string) (geo.Coordinate, error) {
	c, ok := f[address]
	if !ok {
		return geo.Coordinate{}, &geocode.Error{Address: address, Err: geocode.ErrNotFound}
	}
	return c, nil
}

func TestPlanWithAddresses(t *testing.T) {
	ix, f := scenario(t)
	pl := &Planner{
		Engine:   New(f, Config{InjectEndpoints: true}),
		Geocoder: fakeGeocoder{"home": origin},
		Reverse:  &fakeReverse{names: map[geo.Coordinate]string{d2.Coord: "Office"}},
	}
	d := dest
	plan, err := pl.Plan(context.Background(), PlanRequest{
		Origin:         Place{Address: " home "},
		Destination:    Place{Coord: &d},
		MaxWalkMinutes: 5,
		Index:          ix,
	})
	require.NoError(t, err)
	require.Equal(t, origin, plan.Origin)
	require.Equal(t, dest, plan.Destination)
	require.Equal(t, "P1", plan.Pickup.NodeID)
	require.Equal(t, "Office", plan.Dropoff.Address)
	require.Equal(t, 150.0, *plan.TimeSavedSeconds)
}

func TestPlanGeocodingFailureAbortsBeforeSearch(t *testing.T) {
	ix, f := scenario(t)
	pl := &Planner{Engine: New(f, Config{}), Geocoder: fakeGeocoder{}}
	_, err := pl.Plan(context.Background(), PlanRequest{
		Origin:         Place{Address: "atlantis"},
		Destination:    Place{Address: "home"},
		MaxWalkMinutes: 5,
		Index:          ix,
	})
	var ge *geocode.Error
	require.ErrorAs(t, err, &ge)
	require.Equal(t, "atlantis", ge.Address)
	require.Zero(t, f.Calls())
}

func TestPlanEmptyPlace(t *testing.T) {
	ix, f := scenario(t)
	pl := &Planner{Engine: New(f, Config{}), Geocoder: fakeGeocoder{}}
	_, err := pl.Plan(context.Background(), PlanRequest{Index: ix, MaxWalkMinutes: 5})
	require.ErrorIs(t, err, geocode.ErrNotFound)
}
