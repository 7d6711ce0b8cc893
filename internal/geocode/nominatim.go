package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"pickupopt/internal/geo"
)

const (
	// DefaultNominatimURL is the public OpenStreetMap instance. Its usage
	// policy allows one request per second with an identifying User-Agent.
	DefaultNominatimURL = "https://nominatim.openstreetmap.org"
	DefaultUserAgent    = "pickupopt/1.0"
)

// Nominatim implements Geocoder and ReverseGeocoder over the Nominatim HTTP
// API.
type Nominatim struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
}

// NominatimOptions configure NewNominatim. Zero values pick defaults;
// RequestsPerSecond < 0 disables the limiter.
type NominatimOptions struct {
	BaseURL           string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
}

func NewNominatim(opts NominatimOptions) *Nominatim {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultNominatimURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 1
	}
	n := &Nominatim{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		http:      &http.Client{Timeout: opts.Timeout},
	}
	if opts.RequestsPerSecond > 0 {
		n.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return n
}

type searchHit struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

type reverseHit struct {
	DisplayName string `json:"display_name"`
	Error       string `json:"error"`
}

// Geocode returns the best match for address. Every failure is a *Error.
func (n *Nominatim) Geocode(ctx context.Context, address string) (geo.Coordinate, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return geo.Coordinate{}, &Error{Address: address, Err: ErrNotFound}
	}
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")

	var hits []searchHit
	if err := n.get(ctx, "/search", q, &hits); err != nil {
		return geo.Coordinate{}, &Error{Address: address, Err: err}
	}
	if len(hits) == 0 {
		return geo.Coordinate{}, &Error{Address: address, Err: ErrNotFound}
	}
	lat, err1 := strconv.ParseFloat(hits[0].Lat, 64)
	lng, err2 := strconv.ParseFloat(hits[0].Lon, 64)
	c := geo.Coordinate{Lat: lat, Lng: lng}
	if err1 != nil || err2 != nil || !c.Valid() {
		return geo.Coordinate{}, &Error{Address: address, Err: fmt.Errorf("bad coordinate %q,%q", hits[0].Lat, hits[0].Lon)}
	}
	return c, nil
}

// ReverseGeocode returns the display name nearest to c.
func (n *Nominatim) ReverseGeocode(ctx context.Context, c geo.Coordinate) (string, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(c.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(c.Lng, 'f', -1, 64))
	q.Set("format", "jsonv2")

	var hit reverseHit
	if err := n.get(ctx, "/reverse", q, &hit); err != nil {
		return "", fmt.Errorf("geocode: reverse %s: %w", c, err)
	}
	if hit.Error != "" || strings.TrimSpace(hit.DisplayName) == "" {
		return UnknownLocation, nil
	}
	return hit.DisplayName, nil
}

func (n *Nominatim) get(ctx context.Context, path string, q url.Values, out any) error {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")
	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nominatim returned %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

var (
	_ Geocoder        = (*Nominatim)(nil)
	_ ReverseGeocoder = (*Nominatim)(nil)
)
