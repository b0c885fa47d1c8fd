package plugin

import (
	"fmt"
	"sync"

	"github.com/samknelson/sirius-sub007/internal/charge/domain"
)

// Registry holds the installed plugins. Registration happens during startup
// wiring; lookups are concurrency-safe afterwards.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]Plugin
	ordered []Plugin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Plugin)}
}

// Register installs a plugin. A duplicate id is a wiring bug and fails.
func (r *Registry) Register(p Plugin) error {
	meta := p.Metadata()
	if meta.ID == "" {
		return fmt.Errorf("plugin has empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[meta.ID]; exists {
		return fmt.Errorf("plugin %q already registered", meta.ID)
	}
	r.byID[meta.ID] = p
	r.ordered = append(r.ordered, p)
	return nil
}

// Get returns the plugin by id, or nil when unknown.
func (r *Registry) Get(id string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// All returns every plugin in registration order.
func (r *Registry) All() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// ForTrigger returns, in registration order, the plugins that declare the
// trigger kind.
func (r *Registry) ForTrigger(kind domain.TriggerKind) []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Plugin
	for _, p := range r.ordered {
		for _, t := range p.Metadata().Triggers {
			if t == kind {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
