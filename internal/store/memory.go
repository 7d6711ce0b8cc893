package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pickupopt/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu    sync.Mutex
	byID  map[string]model.Optimization
	order []string // insertion order, oldest first
}

func NewMemory() *Memory {
	return &Memory{byID: map[string]model.Optimization{}}
}

func (m *Memory) SaveOptimization(_ context.Context, o model.Optimization) (model.Optimization, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[o.ID]; !ok {
		m.order = append(m.order, o.ID)
	}
	m.byID[o.ID] = o
	return o, nil
}

func (m *Memory) GetOptimization(_ context.Context, id string) (model.Optimization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return model.Optimization{}, ErrNotFound
	}
	return o, nil
}

func (m *Memory) ListOptimizations(_ context.Context, network, cursor string, limit int) ([]model.Optimization, string, error) {
	limit = clampLimit(limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	start := len(m.order) - 1
	if cursor != "" {
		start = -1
		for i := len(m.order) - 1; i >= 0; i-- {
			if m.order[i] == cursor {
				start = i - 1
				break
			}
		}
	}
	out := []model.Optimization{}
	next := ""
	for i := start; i >= 0; i-- {
		o := m.byID[m.order[i]]
		if network != "" && o.Network != network {
			continue
		}
		if len(out) == limit {
			next = out[len(out)-1].ID
			break
		}
		out = append(out, o)
	}
	return out, next, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

var _ Store = (*Memory)(nil)
