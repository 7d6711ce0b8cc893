// Package engine searches walkable pickup/dropoff pairs for the lowest
// driving time and assembles the outcome.
package engine

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"pickupopt/internal/geo"
	"pickupopt/internal/metrics"
	"pickupopt/internal/oracle"
	"pickupopt/internal/spatial"
)

// DefaultWalkSpeed is roughly three miles per hour.
const DefaultWalkSpeed = 0.05

// Config holds engine tunables. Zero values pick defaults, except
// InjectEndpoints which must be set explicitly.
type Config struct {
	WalkSpeedMilesPerMinute float64
	// InjectEndpoints adds the exact origin and destination as zero-walk
	// candidates so the direct trip is always one of the evaluated pairs.
	InjectEndpoints bool
	// OverallDeadline stops dispatching new pairs once elapsed; 0 means none.
	OverallDeadline time.Duration
	// Workers caps concurrent pair evaluations; 0 uses the oracle ceiling.
	Workers int
}

// TimeOracle is the travel-time capability the engine consumes.
type TimeOracle interface {
	TimeBetween(ctx context.Context, origin, destination geo.Coordinate) (oracle.TravelTime, error)
	Concurrency() int
}

// CandidateIndex finds nodes within a radius of a point.
type CandidateIndex interface {
	Query(p geo.Coordinate, radiusMiles float64) []spatial.Candidate
}

// Spot is a candidate location. NodeID is empty for an injected endpoint.
type Spot struct {
	NodeID    string         `json:"nodeId,omitempty"`
	Coord     geo.Coordinate `json:"coordinate"`
	WalkMiles float64        `json:"walkMiles"`
}

// Request is one optimization over a loaded network.
type Request struct {
	Origin         geo.Coordinate
	Destination    geo.Coordinate
	MaxWalkMinutes float64
	Index          CandidateIndex
	// Deadline overrides Config.OverallDeadline when positive.
	Deadline time.Duration
	// Progress, when set, receives search events. It is called synchronously
	// from worker goroutines and must not block.
	Progress func(Event)
}

// EventKind labels a progress Event.
type EventKind string

const (
	EventCandidates EventKind = "candidates"
	EventImproved   EventKind = "improved"
)

// Event reports search progress.
type Event struct {
	Kind       EventKind         `json:"kind"`
	Pickups    int               `json:"pickups,omitempty"`
	Dropoffs   int               `json:"dropoffs,omitempty"`
	PairsTotal int               `json:"pairsTotal,omitempty"`
	Baseline   oracle.TravelTime `json:"baselineSeconds"`
	Pickup     *Spot             `json:"pickup,omitempty"`
	Dropoff    *Spot             `json:"dropoff,omitempty"`
	Time       oracle.TravelTime `json:"timeSeconds"`
}

// Result is the winning pair and how the search went.
type Result struct {
	BestPickup        Spot
	BestDropoff       Spot
	BestTime          oracle.TravelTime
	Baseline          oracle.TravelTime
	RadiusMiles       float64
	PickupCandidates  int
	DropoffCandidates int
	PairsTotal        int
	PairsEvaluated    int
	PairsUnavailable  int
	// Partial is set when the deadline cut the search short.
	Partial bool
}

// Engine runs optimizations against a shared TimeOracle.
type Engine struct {
	oracle TimeOracle
	cfg    Config
}

func New(o TimeOracle, cfg Config) *Engine {
	if cfg.WalkSpeedMilesPerMinute <= 0 {
		cfg.WalkSpeedMilesPerMinute = DefaultWalkSpeed
	}
	return &Engine{oracle: o, cfg: cfg}
}

// RadiusMiles converts a walking budget to a search radius.
func (e *Engine) RadiusMiles(maxWalkMinutes float64) float64 {
	return maxWalkMinutes * e.cfg.WalkSpeedMilesPerMinute
}

// Optimize finds the candidate pair with the lowest driving time.
func (e *Engine) Optimize(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := e.optimize(ctx, req)
	outcome := outcomeOf(err, res)
	metrics.Optimizations.WithLabelValues(outcome).Inc()
	metrics.OptimizationDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Info().Err(err).Str("outcome", outcome).Dur("took", time.Since(start)).Msg("optimization failed")
		return nil, err
	}
	log.Info().
		Str("outcome", outcome).
		Int("pickups", res.PickupCandidates).
		Int("dropoffs", res.DropoffCandidates).
		Int("pairs", res.PairsTotal).
		Int("evaluated", res.PairsEvaluated).
		Int("unavailable", res.PairsUnavailable).
		Stringer("best", res.BestTime).
		Stringer("baseline", res.Baseline).
		Dur("took", time.Since(start)).
		Msg("optimization finished")
	return res, nil
}

func (e *Engine) optimize(ctx context.Context, req Request) (*Result, error) {
	radius := e.RadiusMiles(req.MaxWalkMinutes)
	pickups := candidates(req.Index, req.Origin, radius)
	dropoffs := candidates(req.Index, req.Destination, radius)
	metrics.Candidates.WithLabelValues(string(SideOrigin)).Observe(float64(len(pickups)))
	metrics.Candidates.WithLabelValues(string(SideDestination)).Observe(float64(len(dropoffs)))
	if len(pickups) == 0 {
		return nil, &NoCandidatesError{Side: SideOrigin, RadiusMiles: radius}
	}
	if len(dropoffs) == 0 {
		return nil, &NoCandidatesError{Side: SideDestination, RadiusMiles: radius}
	}
	if e.cfg.InjectEndpoints {
		pickups = append([]Spot{{Coord: req.Origin}}, pickups...)
		dropoffs = append([]Spot{{Coord: req.Destination}}, dropoffs...)
	}

	baseline, err := e.oracle.TimeBetween(ctx, req.Origin, req.Destination)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Msg("baseline travel time unavailable; treating as unreachable")
		baseline = oracle.Unreachable
	}

	res := &Result{
		Baseline:          baseline,
		RadiusMiles:       radius,
		PickupCandidates:  len(pickups),
		DropoffCandidates: len(dropoffs),
		PairsTotal:        len(pickups) * len(dropoffs),
	}
	emit(req.Progress, Event{
		Kind:       EventCandidates,
		Pickups:    len(pickups),
		Dropoffs:   len(dropoffs),
		PairsTotal: res.PairsTotal,
		Baseline:   baseline,
	})

	deadline := e.cfg.OverallDeadline
	if req.Deadline > 0 {
		deadline = req.Deadline
	}
	// gate only stops dispatch; calls already issued run on ctx.
	gate, cancel := context.WithCancel(ctx)
	if deadline > 0 {
		gate, cancel = context.WithTimeout(ctx, deadline)
	}
	defer cancel()

	workers := e.cfg.Workers
	if workers <= 0 {
		workers = e.oracle.Concurrency()
	}
	if workers <= 0 {
		workers = 1
	}

	var (
		best        tracker
		evaluated   atomic.Int64
		unavailable atomic.Int64
		skipped     atomic.Bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	// past the deadline, lookups still waiting for a provider slot give up
	octx := gctx
	dl, hasDeadline := gate.Deadline()
	if hasDeadline {
		octx = oracle.WithQueueDeadline(gctx, dl)
	}
dispatch:
	for i, p := range pickups {
		for j, d := range dropoffs {
			if gate.Err() != nil || gctx.Err() != nil {
				skipped.Store(true)
				break dispatch
			}
			idx := i*len(dropoffs) + j
			g.Go(func() error {
				if gate.Err() != nil {
					skipped.Store(true)
					return nil
				}
				tt, err := e.oracle.TimeBetween(octx, p.Coord, d.Coord)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					var ue *oracle.UnavailableError
					if !errors.As(err, &ue) && hasDeadline && !time.Now().Before(dl) && errors.Is(err, context.DeadlineExceeded) {
						skipped.Store(true)
						return nil
					}
					if ue != nil {
						log.Warn().Err(err).Int("attempts", ue.Attempts).Msg("pair degraded to unreachable")
					} else {
						log.Warn().Err(err).Msg("pair degraded to unreachable")
					}
					unavailable.Add(1)
					tt = oracle.Unreachable
				}
				evaluated.Add(1)
				best.offer(idx, p, d, tt, req.Progress)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	res.PairsEvaluated = int(evaluated.Load())
	res.PairsUnavailable = int(unavailable.Load())
	res.Partial = skipped.Load()
	if !best.found {
		if res.Partial {
			return nil, ErrTimeout
		}
		return nil, ErrNoRouteFound
	}
	res.BestPickup, res.BestDropoff, res.BestTime = best.pickup, best.dropoff, best.time
	return res, nil
}

// candidates returns index hits around p in a fixed order: nearest first,
// then by node ID.
func candidates(ix CandidateIndex, p geo.Coordinate, radius float64) []Spot {
	if ix == nil {
		return nil
	}
	hits := ix.Query(p, radius)
	out := make([]Spot, 0, len(hits))
	for _, c := range hits {
		out = append(out, Spot{NodeID: c.Node.ID, Coord: c.Node.Coord, WalkMiles: c.DistanceMiles})
	}
	slices.SortFunc(out, func(a, b Spot) int {
		if c := cmp.Compare(a.WalkMiles, b.WalkMiles); c != 0 {
			return c
		}
		return cmp.Compare(a.NodeID, b.NodeID)
	})
	return out
}

// tracker keeps the fastest pair seen. A tie goes to the lower pair index,
// so the winner does not depend on completion order.
type tracker struct {
	mu      sync.Mutex
	found   bool
	idx     int
	pickup  Spot
	dropoff Spot
	time    oracle.TravelTime
}

func (t *tracker) offer(idx int, p, d Spot, tt oracle.TravelTime, progress func(Event)) {
	if !tt.Reachable {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.found && !tt.Less(t.time) && !(tt.Seconds == t.time.Seconds && idx < t.idx) {
		return
	}
	t.found, t.idx, t.pickup, t.dropoff, t.time = true, idx, p, d, tt
	emit(progress, Event{Kind: EventImproved, Pickup: &p, Dropoff: &d, Time: tt})
}

func emit(progress func(Event), ev Event) {
	if progress != nil {
		progress(ev)
	}
}

func outcomeOf(err error, res *Result) string {
	var nc *NoCandidatesError
	switch {
	case err == nil && res.Partial:
		return "partial"
	case err == nil:
		return "ok"
	case errors.As(err, &nc):
		return "no_candidates"
	case errors.Is(err, ErrNoRouteFound):
		return "no_route"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
