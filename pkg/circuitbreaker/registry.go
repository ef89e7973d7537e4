package circuitbreaker

import (
	"sort"
	"sync"
)

// Capability names the kind of remote operation a breaker guards. Completion
// and embedding failures are tracked independently per provider.
type Capability string

const (
	CapabilityCompletion Capability = "completion"
	CapabilityEmbedding  Capability = "embedding"
)

// Registry hands out one breaker per (provider, capability) pair, creating
// them lazily with a shared configuration. Breakers are never removed.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      Config
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

func (r *Registry) Get(provider string, capability Capability) *CircuitBreaker {
	key := provider + "/" + string(capability)

	r.mu.RLock()
	cb, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[key]; ok {
		return cb
	}

	cb = NewCircuitBreaker(key, r.cfg)
	r.breakers[key] = cb
	return cb
}

// Snapshots returns the state of every breaker created so far, ordered by
// name for stable output.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(r.breakers))
	for _, cb := range r.breakers {
		snapshots = append(snapshots, cb.Snapshot())
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Name < snapshots[j].Name
	})

	return snapshots
}
