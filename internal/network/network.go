// Package network loads road networks and keeps the indexed, read-only
// sessions the optimizer runs against.
package network

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"pickupopt/internal/geo"
)

// Network is a named set of drivable nodes. It is never mutated after load.
type Network struct {
	Name  string
	Nodes []geo.Node
}

// nodeLinkNode is one node of an OSMnx/networkx node-link export; x is the
// longitude and y the latitude.
type nodeLinkNode struct {
	ID json.RawMessage `json:"id"`
	X  *float64        `json:"x"`
	Y  *float64        `json:"y"`
}

type nodeLinkDoc struct {
	Nodes []nodeLinkNode `json:"nodes"`
	Graph struct {
		Nodes []nodeLinkNode `json:"nodes"`
	} `json:"graph"`
}

// Decode reads an OSMnx node-link JSON document. Both the plain networkx
// layout ({"nodes": [...], "links": [...]}) and the wrapped layout
// ({"graph": {"nodes": [...]}}) are accepted. Edges are ignored: the
// optimizer only needs node positions.
func Decode(name string, r io.Reader) (*Network, error) {
	var doc nodeLinkDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse road network %q: %w", name, err)
	}
	raw := doc.Nodes
	if len(raw) == 0 {
		raw = doc.Graph.Nodes
	}
	n := &Network{Name: name, Nodes: make([]geo.Node, 0, len(raw))}
	seen := make(map[string]struct{}, len(raw))
	for i, rn := range raw {
		if rn.X == nil || rn.Y == nil {
			return nil, fmt.Errorf("road network %q: node %d has no x/y", name, i)
		}
		id := parseID(rn.ID)
		if id == "" {
			id = fmt.Sprintf("#%d", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("road network %q: duplicate node id %s", name, id)
		}
		seen[id] = struct{}{}
		n.Nodes = append(n.Nodes, geo.Node{ID: id, Coord: geo.Coordinate{Lat: *rn.Y, Lng: *rn.X}})
	}
	return n, nil
}

// parseID keeps numeric OSM ids exactly as written and unquotes string ids.
func parseID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// LoadFile reads a node-link JSON file from disk.
func LoadFile(name, path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open road network file: %w", err)
	}
	defer f.Close()
	return Decode(name, f)
}
