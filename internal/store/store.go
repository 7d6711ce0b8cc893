package store

import (
	"context"
	"errors"

	"pickupopt/internal/model"
)

// Store persists optimization history for the API server.
type Store interface {
	// SaveOptimization assigns an ID and creation time when unset.
	SaveOptimization(ctx context.Context, o model.Optimization) (model.Optimization, error)
	GetOptimization(ctx context.Context, id string) (model.Optimization, error)
	// ListOptimizations pages newest first. An empty network lists all.
	ListOptimizations(ctx context.Context, network, cursor string, limit int) ([]model.Optimization, string, error)
	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")

const (
	defaultLimit = 50
	maxLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxLimit {
		return defaultLimit
	}
	return limit
}
