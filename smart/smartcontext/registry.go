package smartcontext

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry holds the SMART contexts by scope.
type Registry struct {
	mux      sync.RWMutex
	contexts map[string]*Context
}

func NewRegistry() *Registry {
	return &Registry{
		contexts: map[string]*Context{},
	}
}

func (r *Registry) Register(context *Context) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.contexts[context.Name()] = context
	log.Info().Msgf("Registered SMART context type '%s'", context.Name())
}

// Get returns the context for the given scope.
func (r *Registry) Get(scope string) (*Context, error) {
	r.mux.RLock()
	defer r.mux.RUnlock()
	result, ok := r.contexts[scope]
	if !ok {
		return nil, fmt.Errorf("unknown SMART context type: %s", scope)
	}
	return result, nil
}

// Scopes returns the registered scopes, sorted.
func (r *Registry) Scopes() []string {
	r.mux.RLock()
	defer r.mux.RUnlock()
	result := make([]string, 0, len(r.contexts))
	for scope := range r.contexts {
		result = append(result, scope)
	}
	sort.Strings(result)
	return result
}

// Destroy destroys all registered contexts.
func (r *Registry) Destroy() {
	r.mux.RLock()
	defer r.mux.RUnlock()
	for _, context := range r.contexts {
		context.Destroy()
	}
}
