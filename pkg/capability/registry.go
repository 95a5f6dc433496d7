package capability

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages all available capabilities, indexed by name and by
// domain. It is mutable during startup registration and sealed before the
// first turn; after Seal it is read-only and safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]Capability
	byDomain map[Domain][]Capability
	sealed   bool
}

// NewRegistry creates a new empty capability registry
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]Capability),
		byDomain: make(map[Domain][]Capability),
	}
}

// Register adds a capability to the registry. It fails on duplicate names
// and after the registry has been sealed.
func (r *Registry) Register(cap Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("registry is sealed; capabilities must be registered at startup")
	}
	name := cap.Name()
	if name == "" {
		return fmt.Errorf("capability name cannot be empty")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("capability %q already registered", name)
	}

	r.byName[name] = cap
	r.byDomain[cap.Domain()] = append(r.byDomain[cap.Domain()], cap)
	return nil
}

// Seal freezes the registry. Registration after Seal fails.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	for domain := range r.byDomain {
		caps := r.byDomain[domain]
		sort.Slice(caps, func(i, j int) bool { return caps[i].Name() < caps[j].Name() })
	}
}

// Sealed reports whether the registry has been sealed.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Get returns a capability by name
func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cap, ok := r.byName[name]
	return cap, ok
}

// ByDomain returns all capabilities in a domain, sorted by name.
func (r *Registry) ByDomain(domain Domain) []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps := r.byDomain[domain]
	result := make([]Capability, len(caps))
	copy(result, caps)
	return result
}

// All returns every registered capability, sorted by name for
// deterministic iteration.
func (r *Registry) All() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Capability, 0, len(r.byName))
	for _, cap := range r.byName {
		result = append(result, cap)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Count returns the number of registered capabilities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Scored pairs a capability with its relevance score for a request.
type Scored struct {
	Capability Capability
	Score      float64
}

// Score evaluates every capability's relevance against the request and
// returns the results sorted by descending score (name-ordered on ties).
func (r *Registry) Score(request string) []Scored {
	all := r.All()
	scored := make([]Scored, 0, len(all))
	for _, cap := range all {
		s := cap.RelevanceScore(request)
		if s < 0 {
			s = 0
		}
		if s > 1 {
			s = 1
		}
		scored = append(scored, Scored{Capability: cap, Score: s})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return scored
}

// Alternates returns other capabilities in the same domain that produce the
// same data kinds as cap, in name order. Used for substitute recovery when
// a step's tool fails.
func (r *Registry) Alternates(cap Capability) []Capability {
	if len(cap.Produces()) == 0 {
		// A tool producing no data has no meaningful substitute.
		return nil
	}
	var result []Capability
	for _, candidate := range r.ByDomain(cap.Domain()) {
		if candidate.Name() == cap.Name() {
			continue
		}
		match := true
		for _, kind := range cap.Produces() {
			if !ProducesKind(candidate, kind) {
				match = false
				break
			}
		}
		if match {
			result = append(result, candidate)
		}
	}
	return result
}
