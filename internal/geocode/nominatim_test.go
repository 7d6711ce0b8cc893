package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pickupopt/internal/geo"
)

func newTestNominatim(t *testing.T, h http.HandlerFunc) *Nominatim {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewNominatim(NominatimOptions{BaseURL: srv.URL, UserAgent: "pickupopt-test", RequestsPerSecond: -1})
}

func TestGeocode(t *testing.T) {
	n := newTestNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Times Square, New York", r.URL.Query().Get("q"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "pickupopt-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`[{"lat":"40.7580","lon":"-73.9855","display_name":"Times Square"}]`))
	})
	c, err := n.Geocode(context.Background(), "  Times Square, New York ")
	require.NoError(t, err)
	require.Equal(t, geo.Coordinate{Lat: 40.758, Lng: -73.9855}, c)
}

func TestGeocodeNoMatch(t *testing.T) {
	n := newTestNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	_, err := n.Geocode(context.Background(), "nowhere at all")
	var ge *Error
	require.ErrorAs(t, err, &ge)
	require.Equal(t, "nowhere at all", ge.Address)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGeocodeEmptyAddress(t *testing.T) {
	n := newTestNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := n.Geocode(context.Background(), " ")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGeocodeServerError(t *testing.T) {
	n := newTestNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := n.Geocode(context.Background(), "Times Square")
	var ge *Error
	require.ErrorAs(t, err, &ge)
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestReverseGeocode(t *testing.T) {
	n := newTestNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "40.7484", r.URL.Query().Get("lat"))
		assert.Equal(t, "-73.9857", r.URL.Query().Get("lon"))
		_, _ = w.Write([]byte(`{"display_name":"350 5th Ave, New York"}`))
	})
	s, err := n.ReverseGeocode(context.Background(), geo.Coordinate{Lat: 40.7484, Lng: -73.9857})
	require.NoError(t, err)
	require.Equal(t, "350 5th Ave, New York", s)
}

func TestReverseGeocodeFallsBackToUnknown(t *testing.T) {
	n := newTestNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
	})
	s, err := n.ReverseGeocode(context.Background(), geo.Coordinate{Lat: 0, Lng: 0})
	require.NoError(t, err)
	require.Equal(t, UnknownLocation, s)
}

func TestReverseGeocodeTransportError(t *testing.T) {
	n := newTestNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := n.ReverseGeocode(context.Background(), geo.Coordinate{Lat: 1, Lng: 1})
	require.Error(t, err)
}
