package backend

import (
	"sort"
	"strings"
	"sync"
)

// Info pairs a scheme with the capabilities of its backend.
type Info struct {
	Scheme       string       `json:"scheme"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry holds graph backends keyed by namespace scheme. A namespace
// "nebula:nba" has scheme "nebula"; a namespace without a colon uses the
// registry's default scheme.
type Registry struct {
	mu            sync.RWMutex
	backends      map[string]Graph
	defaultScheme string
}

// NewRegistry creates an empty registry. defaultScheme applies to namespaces
// that carry no scheme prefix.
func NewRegistry(defaultScheme string) *Registry {
	return &Registry{
		backends:      make(map[string]Graph),
		defaultScheme: defaultScheme,
	}
}

// Register adds a backend under the given scheme.
func (r *Registry) Register(scheme string, g Graph) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[scheme] = g
}

// Scheme returns the scheme part of a namespace.
func (r *Registry) Scheme(namespace string) string {
	if scheme, _, ok := strings.Cut(namespace, ":"); ok {
		return scheme
	}
	return r.defaultScheme
}

// Resolve returns the backend serving namespace. ok is false when no backend
// is registered for its scheme, in which case Offline is returned.
func (r *Registry) Resolve(namespace string) (g Graph, ok bool) {
	scheme := r.Scheme(namespace)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if g, ok := r.backends[scheme]; ok {
		return g, true
	}
	return Offline{}, false
}

// List returns information about all registered backends, sorted by scheme
// for a stable API response.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.backends))
	for scheme, g := range r.backends {
		infos = append(infos, Info{
			Scheme:       scheme,
			Capabilities: g.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Scheme < infos[j].Scheme
	})
	return infos
}
