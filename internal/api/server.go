// Package api implements the HTTP surface of the pickup optimization service.
package api

import (
	"net/http"

	"pickupopt/internal/auth"
	"pickupopt/internal/engine"
	"pickupopt/internal/network"
	"pickupopt/internal/store"
)

type Server struct {
	Store    store.Store
	Broker   EventBroker
	Auth     *auth.Verifier
	Networks *network.Registry
	Planner  *engine.Planner
	// MaxWalkMinutes caps the walking budget a request may ask for.
	MaxWalkMinutes float64
}

// NewServer wires a Server. Nil store and broker fall back to in-memory
// implementations.
func NewServer(st store.Store, broker EventBroker, v *auth.Verifier, reg *network.Registry, pl *engine.Planner) *Server {
	if st == nil {
		st = store.NewMemory()
	}
	if broker == nil {
		broker = NewBroker()
	}
	if v == nil {
		v = auth.NewVerifier("")
	}
	if reg == nil {
		reg = network.NewRegistry()
	}
	return &Server{Store: st, Broker: broker, Auth: v, Networks: reg, Planner: pl, MaxWalkMinutes: 30}
}

// Routes returns the API mux wrapped in the logging and metrics middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/optimize", s.OptimizeHandler)
	mux.HandleFunc("/v1/optimize/ws", s.OptimizeWSHandler)

	mux.HandleFunc("/v1/optimizations", s.OptimizationsHandler)
	mux.HandleFunc("/v1/optimizations/stream", s.OptimizationStreamHandler)
	mux.HandleFunc("/v1/optimizations/{id}", s.OptimizationByIDHandler)

	mux.HandleFunc("/v1/networks", s.NetworksHandler)

	mux.HandleFunc("/v1/version", s.VersionHandler)
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)

	return logMiddleware(mux)
}
