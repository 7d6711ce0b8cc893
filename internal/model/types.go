package model

import (
	"encoding/json"
	"time"
)

// API data types shared by the HTTP layer and the store.

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PlaceIn is one trip end: an address, or lat/lng when both are set.
type PlaceIn struct {
	Address string   `json:"address,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

type OptimizeRequest struct {
	Network        string  `json:"network"`
	Origin         PlaceIn `json:"origin"`
	Destination    PlaceIn `json:"destination"`
	MaxWalkMinutes float64 `json:"maxWalkMinutes"`
	DeadlineMs     int     `json:"deadlineMs,omitempty"`
}

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Optimization is a stored optimization run.
type Optimization struct {
	ID         string          `json:"id"`
	Network    string          `json:"network"`
	Status     string          `json:"status"`
	Request    OptimizeRequest `json:"request"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *ErrorInfo      `json:"error,omitempty"`
	DurationMs int64           `json:"durationMs"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type NetworkLoadRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type ListResponse[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}
