package network

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"pickupopt/internal/geo"
	"pickupopt/internal/spatial"
)

const nodeLinkPlain = `{
  "directed": true,
  "graph": {"crs": "epsg:4326"},
  "nodes": [
    {"id": 42432000, "x": -73.9855, "y": 40.7580, "street_count": 4},
    {"id": 42432001, "x": -73.9857, "y": 40.7484, "street_count": 3},
    {"id": "stop_7", "x": -73.99, "y": 40.75}
  ],
  "links": [{"source": 42432000, "target": 42432001, "length": 1067.3}]
}`

const nodeLinkWrapped = `{"graph": {"nodes": [{"id": 1, "x": 2.35, "y": 48.85}], "links": []}}`

func TestDecodePlain(t *testing.T) {
	n, err := Decode("midtown", strings.NewReader(nodeLinkPlain))
	require.NoError(t, err)
	require.Equal(t, "midtown", n.Name)
	require.Len(t, n.Nodes, 3)
	require.Equal(t, geo.Node{ID: "42432000", Coord: geo.Coordinate{Lat: 40.7580, Lng: -73.9855}}, n.Nodes[0])
	require.Equal(t, "stop_7", n.Nodes[2].ID)
}

func TestDecodeWrapped(t *testing.T) {
	n, err := Decode("paris", strings.NewReader(nodeLinkWrapped))
	require.NoError(t, err)
	require.Len(t, n.Nodes, 1)
	require.Equal(t, geo.Coordinate{Lat: 48.85, Lng: 2.35}, n.Nodes[0].Coord)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode("x", strings.NewReader(`{"nodes": [{"id": 1, "x": 1}]}`))
	require.ErrorContains(t, err, "no x/y")

	_, err = Decode("x", strings.NewReader(`{"nodes": [{"id": 1, "x": 1, "y": 1}, {"id": 1, "x": 2, "y": 2}]}`))
	require.ErrorContains(t, err, "duplicate node id 1")

	_, err = Decode("x", strings.NewReader(`not json`))
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "midtown.json")
	require.NoError(t, os.WriteFile(path, []byte(nodeLinkPlain), 0o600))
	n, err := LoadFile("midtown", path)
	require.NoError(t, err)
	require.Len(t, n.Nodes, 3)

	_, err = LoadFile("missing", filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	var loaded []string
	reg.OnLoad = func(name string) { loaded = append(loaded, name) }

	_, err := reg.Get("midtown")
	require.ErrorIs(t, err, ErrUnknownNetwork)

	n, err := Decode("midtown", strings.NewReader(nodeLinkPlain))
	require.NoError(t, err)
	s, err := reg.Load(n)
	require.NoError(t, err)
	require.Equal(t, 3, s.Index.Len())

	got, err := reg.Get("midtown")
	require.NoError(t, err)
	require.Same(t, s, got)

	_, err = reg.Load(&Network{Name: "empty"})
	require.ErrorIs(t, err, spatial.ErrEmptyNetwork)

	list := reg.List()
	require.Len(t, list, 1)
	require.Equal(t, "midtown", list[0].Name)
	require.Equal(t, 3, list[0].Nodes)
	require.Equal(t, []string{"midtown"}, loaded)
}
