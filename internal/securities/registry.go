package securities

import (
	"sort"
	"sync"

	"github.com/quantarc/engine/internal/symbol"
)

// Registry indexes securities by identifier. Safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	byID map[symbol.SecurityIdentifier]*Security
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[symbol.SecurityIdentifier]*Security)}
}

// Add registers the security, replacing any prior entry for the identifier.
func (r *Registry) Add(sec *Security) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[sec.Symbol.SID] = sec
}

// Remove drops the security.
func (r *Registry) Remove(sid symbol.SecurityIdentifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, sid)
}

// Get returns the security for the identifier.
func (r *Registry) Get(sid symbol.SecurityIdentifier) (*Security, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sec, ok := r.byID[sid]
	return sec, ok
}

// Len returns the number of registered securities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// All returns the securities sorted by canonical identifier.
func (r *Registry) All() []*Security {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Security, 0, len(r.byID))
	for _, sec := range r.byID {
		out = append(out, sec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Symbol.SID.String() < out[j].Symbol.SID.String()
	})
	return out
}
