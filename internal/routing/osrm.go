package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pickupopt/internal/geo"
)

// DefaultOSRMURL is the public OSRM demo server.
const DefaultOSRMURL = "https://router.project-osrm.org"

// OSRM is a Provider backed by the OSRM HTTP route service. One OSRM value
// is shared by every request; its http.Client keeps connections alive.
type OSRM struct {
	baseURL string
	profile string
	http    *http.Client
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

// NewOSRM creates an OSRM client. An empty profile means "driving".
func NewOSRM(baseURL, profile string, timeout time.Duration) *OSRM {
	if baseURL == "" {
		baseURL = DefaultOSRMURL
	}
	if profile == "" {
		profile = "driving"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OSRM{
		baseURL: strings.TrimRight(baseURL, "/"),
		profile: profile,
		http:    &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient swaps the underlying client (tests, custom transports).
func (o *OSRM) WithHTTPClient(c *http.Client) *OSRM {
	o.http = c
	return o
}

// Route implements Provider. OSRM expects lng,lat;lng,lat.
func (o *OSRM) Route(ctx context.Context, origin, destination geo.Coordinate) (Route, error) {
	url := fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f?overview=false&alternatives=false&steps=false",
		o.baseURL, o.profile,
		origin.Lng, origin.Lat,
		destination.Lng, destination.Lat,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Route{}, fmt.Errorf("routing: create request: %w", err)
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return Route{}, fmt.Errorf("routing: call OSRM: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Route{}, fmt.Errorf("routing: read response: %w", err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return Route{}, &StatusError{StatusCode: resp.StatusCode}
	}

	var out osrmResponse
	if err := json.Unmarshal(body, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return Route{}, &StatusError{StatusCode: resp.StatusCode}
		}
		return Route{}, &DecodeError{Err: err}
	}
	switch out.Code {
	case "Ok":
		if len(out.Routes) == 0 {
			return Route{}, ErrNoRoute
		}
		return Route{DurationSeconds: out.Routes[0].Duration, DistanceMeters: out.Routes[0].Distance}, nil
	case "NoRoute", "NoSegment":
		return Route{}, ErrNoRoute
	default:
		return Route{}, &StatusError{StatusCode: resp.StatusCode, Code: out.Code, Message: out.Message}
	}
}
