package manifest

import (
	"cmp"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry holds the plugin definitions of the SMART apps that can be hosted.
type Registry struct {
	mux         sync.RWMutex
	definitions map[string]*PluginDefinition
}

func NewRegistry() *Registry {
	return &Registry{
		definitions: map[string]*PluginDefinition{},
	}
}

// Register adds the definition to the registry, replacing any definition with the same ID.
func (r *Registry) Register(definition *PluginDefinition) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if _, exists := r.definitions[definition.ID]; exists {
		log.Warn().Msgf("Replacing existing plugin definition (id=%s)", definition.ID)
	}
	r.definitions[definition.ID] = definition
}

// Get returns the plugin definition with the given ID, or nil if it isn't registered.
func (r *Registry) Get(id string) *PluginDefinition {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return r.definitions[id]
}

// List returns all registered plugin definitions, sorted by name, then ID.
func (r *Registry) List() []PluginDefinition {
	r.mux.RLock()
	result := make([]PluginDefinition, 0, len(r.definitions))
	for _, definition := range r.definitions {
		result = append(result, *definition)
	}
	r.mux.RUnlock()
	slices.SortFunc(result, func(a, b PluginDefinition) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return result
}

func (r *Registry) Len() int {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return len(r.definitions)
}
