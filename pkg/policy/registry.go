package policy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/conarypm/conary-policy/pkg/domain"
)

// Factory constructs a fresh policy instance.
type Factory func() Policy

// Registry maintains a threadsafe catalogue of available policies.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	order     []string
}

// NewRegistry creates an empty registry instance.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register inserts or replaces a policy factory.
func (r *Registry) Register(name string, factory Factory) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("policy: registry entry name is required")
	}
	if factory == nil {
		return fmt.Errorf("policy: registry entry %s missing factory", name)
	}

	key := strings.ToLower(name)

	r.mu.Lock()
	if _, exists := r.factories[key]; !exists {
		r.order = append(r.order, key)
	}
	r.factories[key] = factory
	r.mu.Unlock()
	return nil
}

// Resolve instantiates a policy by name.
func (r *Registry) Resolve(name string) (Policy, error) {
	key := strings.ToLower(name)

	r.mu.RLock()
	factory, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPolicyNotFound, name)
	}
	return factory(), nil
}

// Names lists the registered policy names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// All instantiates every registered policy in registration order.
func (r *Registry) All() []Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Policy, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.factories[key]())
	}
	return out
}

var defaultRegistry = NewRegistry()

// DefaultRegistry exposes the process-wide registry the builtin policy
// packages register themselves into.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// MustRegister registers into the default registry and panics on a
// malformed entry; intended for package init of builtins.
func MustRegister(name string, factory Factory) {
	if err := defaultRegistry.Register(name, factory); err != nil {
		panic(err)
	}
}
