package engine

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"pickupopt/internal/geo"
	"pickupopt/internal/oracle"
	"pickupopt/internal/routing"
	"pickupopt/internal/spatial"
)

type pairKey struct{ o, d geo.Coordinate }

type fakeOracle struct {
	mu          sync.Mutex
	times       map[pairKey]oracle.TravelTime
	errs        map[pairKey]error
	delay       func() time.Duration
	calls       int
	concurrency int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{times: map[pairKey]oracle.TravelTime{}, errs: map[pairKey]error{}, concurrency: 4}
}

func (f *fakeOracle) set(o, d geo.Coordinate, seconds float64) {
	f.times[pairKey{o, d}] = oracle.Seconds(seconds)
}

func (f *fakeOracle) TimeBetween(ctx context.Context, o, d geo.Coordinate) (oracle.TravelTime, error) {
	f.mu.Lock()
	f.calls++
	tt, ok := f.times[pairKey{o, d}]
	err := f.errs[pairKey{o, d}]
	delay := f.delay
	f.mu.Unlock()
	if delay != nil {
		select {
		case <-time.After(delay()):
		case <-ctx.Done():
			return oracle.Unreachable, ctx.Err()
		}
	}
	if err != nil {
		return oracle.Unreachable, err
	}
	if !ok {
		return oracle.Unreachable, nil
	}
	return tt, nil
}

func (f *fakeOracle) Concurrency() int { return f.concurrency }

func (f *fakeOracle) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// About 0.069 mi per 0.001 degree of latitude.
var (
	origin = geo.Coordinate{Lat: 40.0, Lng: -75.0}
	dest   = geo.Coordinate{Lat: 40.1, Lng: -75.0}
	p1     = geo.Node{ID: "P1", Coord: geo.Coordinate{Lat: 40.001, Lng: -75.0}}
	p2     = geo.Node{ID: "P2", Coord: geo.Coordinate{Lat: 39.998, Lng: -75.0}}
	d1     = geo.Node{ID: "D1", Coord: geo.Coordinate{Lat: 40.101, Lng: -75.0}}
	d2     = geo.Node{ID: "D2", Coord: geo.Coordinate{Lat: 40.0985, Lng: -75.0}}
	far    = geo.Node{ID: "F", Coord: geo.Coordinate{Lat: 40.05, Lng: -75.0}}
)

func scenario(t *testing.T) (*spatial.Index, *fakeOracle) {
	t.Helper()
	ix, err := spatial.Build([]geo.Node{p1, p2, d1, d2, far})
	require.NoError(t, err)
	f := newFakeOracle()
	f.set(origin, dest, 350)
	f.set(p1.Coord, d1.Coord, 300)
	f.set(p1.Coord, d2.Coord, 200)
	f.set(p2.Coord, d1.Coord, 250)
	f.set(p2.Coord, d2.Coord, 220)
	return ix, f
}

// northOf moves c due north by miles along the meridian.
func northOf(c geo.Coordinate, miles float64) geo.Coordinate {
	return geo.Coordinate{Lat: c.Lat + miles*geo.MetersPerMile/orb.EarthRadius*180/math.Pi, Lng: c.Lng}
}

func TestOptimizeTenMinuteWalk(t *testing.T) {
	a := geo.Node{ID: "P1", Coord: northOf(origin, 0.1)}
	b := geo.Node{ID: "P2", Coord: northOf(origin, -0.4)}
	c := geo.Node{ID: "D1", Coord: northOf(dest, 0.1)}
	d := geo.Node{ID: "D2", Coord: northOf(dest, -0.4)}
	ix, err := spatial.Build([]geo.Node{a, b, c, d, far})
	require.NoError(t, err)
	f := newFakeOracle()
	f.set(origin, dest, 350)
	f.set(a.Coord, c.Coord, 300)
	f.set(a.Coord, d.Coord, 200)
	f.set(b.Coord, c.Coord, 250)
	f.set(b.Coord, d.Coord, 400)

	for _, inject := range []bool{false, true} {
		t.Run("inject="+strconv.FormatBool(inject), func(t *testing.T) {
			e := New(f, Config{InjectEndpoints: inject})
			res, err := e.Optimize(context.Background(), Request{Origin: origin, Destination: dest, MaxWalkMinutes: 10, Index: ix})
			require.NoError(t, err)
			require.InDelta(t, 0.5, res.RadiusMiles, 1e-12)
			require.InDelta(t, 0.1, geo.DistanceMiles(origin, a.Coord), 1e-6)
			require.InDelta(t, 0.4, geo.DistanceMiles(origin, b.Coord), 1e-6)

			extra := 0
			if inject {
				extra = 1
			}
			require.Equal(t, 2+extra, res.PickupCandidates)
			require.Equal(t, 2+extra, res.DropoffCandidates)
			require.Equal(t, "P1", res.BestPickup.NodeID)
			require.Equal(t, "D2", res.BestDropoff.NodeID)
			require.Equal(t, oracle.Seconds(200), res.BestTime)
			require.Equal(t, oracle.Seconds(350), res.Baseline)

			rep, err := Assemble(context.Background(), nil, res)
			require.NoError(t, err)
			require.NotNil(t, rep.TimeSavedSeconds)
			require.Equal(t, 150.0, *rep.TimeSavedSeconds)
			require.False(t, rep.NoImprovement)
		})
	}
}

func TestOptimizeScenario(t *testing.T) {
	ix, f := scenario(t)
	for _, inject := range []bool{false, true} {
		t.Run("inject="+strconv.FormatBool(inject), func(t *testing.T) {
			e := New(f, Config{InjectEndpoints: inject})
			res, err := e.Optimize(context.Background(), Request{Origin: origin, Destination: dest, MaxWalkMinutes: 5, Index: ix})
			require.NoError(t, err)
			require.Equal(t, "P1", res.BestPickup.NodeID)
			require.Equal(t, "D2", res.BestDropoff.NodeID)
			require.Equal(t, oracle.Seconds(200), res.BestTime)
			require.Equal(t, oracle.Seconds(350), res.Baseline)
			require.InDelta(t, 0.25, res.RadiusMiles, 1e-12)
			require.False(t, res.Partial)
			if inject {
				require.Equal(t, 3, res.PickupCandidates)
				require.Equal(t, 9, res.PairsTotal)
			} else {
				require.Equal(t, 2, res.PickupCandidates)
				require.Equal(t, 4, res.PairsTotal)
			}
			require.Equal(t, res.PairsTotal, res.PairsEvaluated)

			rep, err := Assemble(context.Background(), nil, res)
			require.NoError(t, err)
			require.NotNil(t, rep.TimeSavedSeconds)
			require.Equal(t, 150.0, *rep.TimeSavedSeconds)
			require.False(t, rep.NoImprovement)
		})
	}
}

func TestOptimizeAllUnreachable(t *testing.T) {
	ix, _ := scenario(t)
	f := newFakeOracle()
	e := New(f, Config{})
	_, err := e.Optimize(context.Background(), Request{Origin: origin, Destination: dest, MaxWalkMinutes: 5, Index: ix})
	require.ErrorIs(t, err, ErrNoRouteFound)
}

func TestOptimizeOriginWithoutNodes(t *testing.T) {
	ix, f := scenario(t)
	e := New(f, Config{InjectEndpoints: true})
	lonely := geo.Coordinate{Lat: 41.0, Lng: -75.0}
	_, err := e.Optimize(context.Background(), Request{Origin: lonely, Destination: dest, MaxWalkMinutes: 5, Index: ix})
	var nc *NoCandidatesError
	require.ErrorAs(t, err, &nc)
	require.Equal(t, SideOrigin, nc.Side)
	require.Zero(t, f.Calls(), "no travel-time lookups for an impossible request")
}

func TestOptimizeDestinationWithoutNodes(t *testing.T) {
	ix, f := scenario(t)
	e := New(f, Config{})
	_, err := e.Optimize(context.Background(), Request{Origin: origin, Destination: geo.Coordinate{Lat: 10, Lng: 10}, MaxWalkMinutes: 5, Index: ix})
	var nc *NoCandidatesError
	require.ErrorAs(t, err, &nc)
	require.Equal(t, SideDestination, nc.Side)
}

func TestOptimizeZeroWalk(t *testing.T) {
	ix, f := scenario(t)
	e := New(f, Config{InjectEndpoints: true})
	_, err := e.Optimize(context.Background(), Request{Origin: origin, Destination: dest, MaxWalkMinutes: 0, Index: ix})
	var nc *NoCandidatesError
	require.ErrorAs(t, err, &nc)
	require.Equal(t, SideOrigin, nc.Side)
	require.Zero(t, nc.RadiusMiles)
}

func TestOptimizeEndpointInjectionNeverWorseThanBaseline(t *testing.T) {
	ix, _ := scenario(t)
	f := newFakeOracle()
	f.set(origin, dest, 300)
	for _, p := range []geo.Node{p1, p2} {
		for _, d := range []geo.Node{d1, d2} {
			f.set(p.Coord, d.Coord, 400)
		}
	}
	e := New(f, Config{InjectEndpoints: true})
	res, err := e.Optimize(context.Background(), Request{Origin: origin, Destination: dest, MaxWalkMinutes: 5, Index: ix})
	require.NoError(t, err)
	require.Empty(t, res.BestPickup.NodeID)
	require.Empty(t, res.BestDropoff.NodeID)
	require.Equal(t, origin, res.BestPickup.Coord)
	require.False(t, res.Baseline.Less(res.BestTime))

	rep, err := Assemble(context.Background(), nil, res)
	require.NoError(t, err)
	require.Equal(t, 0.0, *rep.TimeSavedSeconds)
	require.True(t, rep.NoImprovement)
}

func TestOptimizeNegativeSavingIsReported(t *testing.T) {
	ix, _ := scenario(t)
	f := newFakeOracle()
	f.set(origin, dest, 300)
	f.set(p1.Coord, d1.Coord, 420)
	e := New(f, Config{})
	res, err := e.Optimize(context.Background(), Request{Origin: origin, Destination: dest, MaxWalkMinutes: 5, Index: ix})
	require.NoError(t, err)
	rep, err := Assemble(context.Background(), nil, res)
	require.NoError(t, err)
	require.Equal(t, -120.0, *rep.TimeSavedSeconds)
	require.True(t, rep.NoImprovement)
}

func TestOptimizeAbsorbsUnavailablePairs(t *testing.T) {
	ix, f := scenario(t)
	f.errs[pairKey{p1.Coord, d2.Coord}] = &oracle.UnavailableError{Attempts: 4, Err: errors.New("503")}
	e := New(f, Config{})
	res, err := e.Optimize(context.Background(), Request{Origin: origin, Destination: dest, MaxWalkMinutes: 5, Index: ix})
	require.NoError(t, err)
	require.Equal(t, "P2", res.BestPickup.NodeID)
	require.Equal(t, "D2", res.BestDropoff.NodeID)
	require.Equal(t, oracle.Seconds(220), res.BestTime)
	require.Equal(t, 1, res.PairsUnavailable)
	require.Equal(t, 4, res.PairsEvaluated)
}

func TestOptimizeBaselineFailureDegrades(t *testing.T) {
	ix, f := scenario(t)
	f.errs[pairKey{origin, dest}] = &oracle.UnavailableError{Attempts: 4, Err: errors.New("timeout")}
	e := New(f, Config{})
	res, err := e.Optimize(context.Background(), Request{Origin: origin, Destination: dest, MaxWalkMinutes: 5, Index: ix})
	require.NoError(t, err)
	require.False(t, res.Baseline.Reachable)
	rep, err := Assemble(context.Background(), nil, res)
	require.NoError(t, err)
	require.Nil(t, rep.TimeSavedSeconds)
	require.False(t, rep.NoImprovement)
}

func TestOptimizeDeadlineReturnsPartialResult(t *testing.T) {
	ix, f := scenario(t)
	f.delay = func() time.Duration { return 40 * time.Millisecond }
	e := New(f, Config{Workers: 1, OverallDeadline: 60 * time.Millisecond})
	res, err := e.Optimize(context.Background(), Request{Origin: origin, Destination: dest, MaxWalkMinutes: 5, Index: ix})
	require.NoError(t, err)
	require.True(t, res.Partial)
	require.Less(t, res.PairsEvaluated, res.PairsTotal)
	require.GreaterOrEqual(t, res.PairsEvaluated, 1)
	require.True(t, res.BestTime.Reachable)
}

func TestOptimizeDeadlineWithNothingUsable(t *testing.T) {
	ix, _ := scenario(t)
	f := newFakeOracle()
	f.set(origin, dest, 350)
	f.delay = func() time.Duration { return 40 * time.Millisecond }
	e := New(f, Config{Workers: 1})
	_, err := e.Optimize(context.Background(), Request{Origin: origin, Destination: dest, MaxWalkMinutes: 5, Index: ix, Deadline: 20 * time.Millisecond})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestOptimizeCancelled(t *testing.T) {
	ix, f := scenario(t)
	f.delay = func() time.Duration { return time.Second }
	e := New(f, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Optimize(ctx, Request{Origin: origin, Destination: dest, MaxWalkMinutes: 5, Index: ix})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOptimizeProgressEvents(t *testing.T) {
	ix, f := scenario(t)
	e := New(f, Config{Workers: 1})
	var (
		mu     sync.Mutex
		events []Event
	)
	res, err := e.Optimize(context.Background(), Request{
		Origin: origin, Destination: dest, MaxWalkMinutes: 5, Index: ix,
		Progress: func(ev Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	require.Equal(t, EventCandidates, events[0].Kind)
	require.Equal(t, 4, events[0].PairsTotal)
	last := events[len(events)-1]
	require.Equal(t, EventImproved, last.Kind)
	require.Equal(t, res.BestTime, last.Time)
	require.Equal(t, res.BestPickup, *last.Pickup)
}

// sequentialSearch is the plain nested-loop search the concurrent engine
// must agree with.
func sequentialSearch(t *testing.T, o TimeOracle, pickups, dropoffs []Spot) (Spot, Spot, oracle.TravelTime) {
	t.Helper()
	best := oracle.Unreachable
	var bp, bd Spot
	for _, p := range pickups {
		for _, d := range dropoffs {
			tt, err := o.TimeBetween(context.Background(), p.Coord, d.Coord)
			require.NoError(t, err)
			if tt.Less(best) {
				best, bp, bd = tt, p, d
			}
		}
	}
	return bp, bd, best
}

func TestOptimizeMatchesSequentialSearch(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var nodes []geo.Node
	for i := 0; i < 40; i++ {
		base := origin
		if i%2 == 1 {
			base = dest
		}
		nodes = append(nodes, geo.Node{
			ID:    "n" + strconv.Itoa(i),
			Coord: geo.Coordinate{Lat: base.Lat + (rng.Float64()-0.5)*0.006, Lng: base.Lng + (rng.Float64()-0.5)*0.006},
		})
	}
	ix, err := spatial.Build(nodes)
	require.NoError(t, err)

	f := newFakeOracle()
	f.concurrency = 8
	f.set(origin, dest, 500)
	for _, a := range nodes {
		for _, b := range nodes {
			// few distinct values so ties are common
			if rng.Intn(5) > 0 {
				f.set(a.Coord, b.Coord, float64(100+10*rng.Intn(4)))
			}
		}
	}
	f.delay = func() time.Duration { return time.Duration(rand.Intn(200)) * time.Microsecond }

	for _, inject := range []bool{false, true} {
		e := New(f, Config{InjectEndpoints: inject})
		pickups := candidates(ix, origin, e.RadiusMiles(5))
		dropoffs := candidates(ix, dest, e.RadiusMiles(5))
		if inject {
			pickups = append([]Spot{{Coord: origin}}, pickups...)
			dropoffs = append([]Spot{{Coord: dest}}, dropoffs...)
		}
		wantP, wantD, wantT := sequentialSearch(t, f, pickups, dropoffs)
		for run := 0; run < 5; run++ {
			res, err := e.Optimize(context.Background(), Request{Origin: origin, Destination: dest, MaxWalkMinutes: 5, Index: ix})
			require.NoError(t, err)
			require.Equal(t, wantT, res.BestTime)
			require.Equal(t, wantP, res.BestPickup)
			require.Equal(t, wantD, res.BestDropoff)
		}
	}
}

func TestCandidatesOrder(t *testing.T) {
	a := geo.Node{ID: "b", Coord: geo.Coordinate{Lat: 40.001, Lng: -75.0}}
	b := geo.Node{ID: "a", Coord: geo.Coordinate{Lat: 39.999, Lng: -75.0}}
	c := geo.Node{ID: "c", Coord: geo.Coordinate{Lat: 40.0005, Lng: -75.0}}
	ix, err := spatial.Build([]geo.Node{a, b, c})
	require.NoError(t, err)
	got := candidates(ix, origin, 1)
	require.Len(t, got, 3)
	require.Equal(t, "c", got[0].NodeID)
	// a and b are equidistant within float error; order must be stable either way
	again := candidates(ix, origin, 1)
	require.Equal(t, got, again)
}

type heldProvider struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	gate    chan struct{}
}

func (h *heldProvider) Route(context.Context, geo.Coordinate, geo.Coordinate) (routing.Route, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	select {
	case h.entered <- struct{}{}:
	default:
	}
	<-h.gate
	return routing.Route{DurationSeconds: 100}, nil
}

func (h *heldProvider) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func TestOptimizeDeadlineStopsQueuedLookups(t *testing.T) {
	ix, _ := scenario(t)
	h := &heldProvider{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	defer close(h.gate)
	cache := oracle.NewMemoryCache()
	require.NoError(t, cache.Set(context.Background(), oracle.NewQuery(origin, dest, oracle.DefaultPrecisionDigits).Key(), oracle.Seconds(350)))
	ad := oracle.NewAdapter(h, cache, oracle.Options{Concurrency: 1})

	// another request holds the only provider slot
	go func() { _, _ = ad.TimeBetween(context.Background(), far.Coord, origin) }()
	<-h.entered

	e := New(ad, Config{Workers: 2})
	done := make(chan error, 1)
	go func() {
		_, err := e.Optimize(context.Background(), Request{Origin: origin, Destination: dest, MaxWalkMinutes: 5, Index: ix, Deadline: 30 * time.Millisecond})
		done <- err
	}()
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("optimize kept waiting for a provider slot after its deadline")
	}
	require.Equal(t, 1, h.Calls())
}
