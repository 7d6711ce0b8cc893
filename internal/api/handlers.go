package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pickupopt/internal/buildinfo"
	"pickupopt/internal/engine"
	"pickupopt/internal/model"
	"pickupopt/internal/network"
)

// OptimizeResponse is returned by POST /v1/optimize.
type OptimizeResponse struct {
	ID      string `json:"id"`
	Network string `json:"network"`
	*engine.Plan
}

// OptimizeHandler handles POST /v1/optimize
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateOptimizeRequest(&req, s.MaxWalkMinutes); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path)
		return
	}
	resp, err := s.runOptimization(r.Context(), req, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// runOptimization plans req, records the outcome in the history store and
// publishes it to the network's stream subscribers.
func (s *Server) runOptimization(ctx context.Context, req model.OptimizeRequest, progress func(engine.Event)) (*OptimizeResponse, error) {
	sess, err := s.Networks.Get(req.Network)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	plan, err := s.Planner.Plan(ctx, engine.PlanRequest{
		Origin:         toPlace(req.Origin),
		Destination:    toPlace(req.Destination),
		MaxWalkMinutes: req.MaxWalkMinutes,
		Index:          sess.Index,
		Deadline:       time.Duration(req.DeadlineMs) * time.Millisecond,
		Progress:       progress,
	})

	rec := model.Optimization{
		Network:    req.Network,
		Request:    req,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		rec.Status = model.StatusFailed
		rec.Error = &model.ErrorInfo{Kind: errorKind(err), Message: err.Error()}
	} else {
		rec.Status = model.StatusCompleted
		if b, merr := json.Marshal(plan); merr == nil {
			rec.Result = b
		}
	}
	// the client may be gone; history is still written
	saved, serr := s.Store.SaveOptimization(context.WithoutCancel(ctx), rec)
	if serr != nil {
		log.Warn().Err(serr).Str("network", req.Network).Msg("saving optimization failed")
		saved = rec
	}
	s.publish(saved, plan)
	if err != nil {
		return nil, err
	}
	return &OptimizeResponse{ID: saved.ID, Network: req.Network, Plan: plan}, nil
}

func (s *Server) publish(rec model.Optimization, plan *engine.Plan) {
	data := map[string]any{
		"id":         rec.ID,
		"network":    rec.Network,
		"status":     rec.Status,
		"durationMs": rec.DurationMs,
	}
	typ := EventOptimizationCompleted
	if rec.Error != nil {
		typ = EventOptimizationFailed
		data["kind"] = rec.Error.Kind
		data["message"] = rec.Error.Message
	}
	if plan != nil {
		data["bestTimeSeconds"] = plan.BestTime
		data["baselineSeconds"] = plan.Baseline
		if plan.TimeSavedSeconds != nil {
			data["timeSavedSeconds"] = *plan.TimeSavedSeconds
		}
	}
	s.Broker.Publish(rec.Network, SSEEvent{Type: typ, Data: data})
}

// OptimizationsHandler handles GET /v1/optimizations
func (s *Server) OptimizationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer", r.URL.Path)
			return
		}
		limit = n
	}
	items, next, err := s.Store.ListOptimizations(r.Context(), q.Get("network"), q.Get("cursor"), limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List optimizations failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse[model.Optimization]{Items: items, NextCursor: next})
}

// OptimizationByIDHandler handles GET /v1/optimizations/{id}
func (s *Server) OptimizationByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	o, err := s.Store.GetOptimization(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// OptimizationStreamHandler handles GET /v1/optimizations/stream?network=
// as Server-Sent Events.
func (s *Server) OptimizationStreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("network")
	if name == "" {
		writeProblem(w, http.StatusBadRequest, "Missing network", "", r.URL.Path)
		return
	}
	if _, err := s.Networks.Get(name); err != nil {
		writeError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.Broker.Subscribe(name)
	defer s.Broker.Unsubscribe(name, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"network\":%q,\"ts\":%q}\n\n", name, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}

// NetworksHandler handles GET/POST /v1/networks. Loading is admin only.
func (s *Server) NetworksHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, model.ListResponse[network.Summary]{Items: s.Networks.List()})
	case http.MethodPost:
		if !s.requireAdmin(w, r) {
			return
		}
		var req model.NetworkLoadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" || strings.TrimSpace(req.Path) == "" {
			writeProblem(w, http.StatusBadRequest, "Invalid network", "name and path are required", r.URL.Path)
			return
		}
		n, err := network.LoadFile(req.Name, req.Path)
		if err != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "Road network could not be read", err.Error(), r.URL.Path)
			return
		}
		sess, err := s.Networks.Load(n)
		if err != nil {
			writeError(w, r, err)
			return
		}
		sum := network.Summary{Name: req.Name, Nodes: sess.Index.Len(), LoadedAt: sess.LoadedAt}
		s.Broker.Publish(req.Name, SSEEvent{Type: EventNetworkLoaded, Data: map[string]any{"network": req.Name, "nodes": sum.Nodes}})
		writeJSON(w, http.StatusCreated, sum)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler reports ready once the store answers and a network is loaded.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	if len(s.Networks.List()) == 0 {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "no road network loaded", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info())
}

