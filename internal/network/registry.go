package network

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pickupopt/internal/spatial"
)

// ErrUnknownNetwork is returned for a name that has not been loaded.
var ErrUnknownNetwork = errors.New("network: unknown road network")

// Session is a loaded network together with its spatial index.
type Session struct {
	Network  *Network
	Index    *spatial.Index
	LoadedAt time.Time
}

// Summary describes a session for listings.
type Summary struct {
	Name     string    `json:"name"`
	Nodes    int       `json:"nodes"`
	LoadedAt time.Time `json:"loadedAt"`
}

// Registry holds the loaded sessions by name. Loading a network builds the
// index before the session becomes visible, so readers never see a
// half-built session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	// OnLoad runs after a session is published, e.g. to drop travel times
	// cached against the previous network.
	OnLoad func(name string)
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*Session{}}
}

// Load indexes n and publishes it under n.Name, replacing any previous
// session with that name.
func (r *Registry) Load(n *Network) (*Session, error) {
	start := time.Now()
	ix, err := spatial.Build(n.Nodes)
	if err != nil {
		return nil, err
	}
	s := &Session{Network: n, Index: ix, LoadedAt: time.Now()}
	r.mu.Lock()
	_, replaced := r.sessions[n.Name]
	r.sessions[n.Name] = s
	r.mu.Unlock()
	log.Info().
		Str("network", n.Name).
		Int("nodes", ix.Len()).
		Bool("replaced", replaced).
		Dur("took", time.Since(start)).
		Msg("road network indexed")
	if r.OnLoad != nil {
		r.OnLoad(n.Name)
	}
	return s, nil
}

// Get returns the session for name.
func (r *Registry) Get(name string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	if !ok {
		return nil, ErrUnknownNetwork
	}
	return s, nil
}

// List returns the loaded sessions sorted by name.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	out := make([]Summary, 0, len(r.sessions))
	for name, s := range r.sessions {
		out = append(out, Summary{Name: name, Nodes: s.Index.Len(), LoadedAt: s.LoadedAt})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
