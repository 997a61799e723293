// Package registry implements the kernel's service registry: a named map of
// process-lifetime shared objects that plugins expose for one another during
// init. First registration wins; entries are never mutated afterwards.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"objectos/internal/apierr"
)

// Registry is the name → instance map with typed lookup.
type Registry struct {
	mu       sync.RWMutex
	services map[string]interface{}
}

// New creates an empty service registry.
func New() *Registry {
	return &Registry{
		services: make(map[string]interface{}),
	}
}

// Register adds a service instance under a unique name. Registration of a
// nil instance, an empty name, or a name already taken fails.
func (r *Registry) Register(name string, instance interface{}) error {
	if instance == nil {
		return fmt.Errorf("cannot register nil service")
	}
	if name == "" {
		return fmt.Errorf("service has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[name]; exists {
		return apierr.NewConflictError("service", name)
	}

	r.services[name] = instance
	return nil
}

// Get returns the instance registered under name, or a not-found error
// naming the absent service.
func (r *Registry) Get(name string) (interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instance, exists := r.services[name]
	if !exists {
		return nil, apierr.NewServiceNotFoundError(name)
	}
	return instance, nil
}

// Has reports whether a service is registered under name. Never fails.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.services[name]
	return exists
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.services)
}

// Remove deletes a service. Services are never removed during normal
// operation; the kernel calls this when rolling back a failed bootstrap or
// destroying a plugin, so the registry returns to its pre-init state.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[name]; !exists {
		return apierr.NewServiceNotFoundError(name)
	}

	delete(r.services, name)
	return nil
}

// Lookup fetches a service and asserts its concrete type in one place, so
// call sites do not repeat the cast.
func Lookup[T any](r *Registry, name string) (T, error) {
	var zero T

	instance, err := r.Get(name)
	if err != nil {
		return zero, err
	}

	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("service %s has type %T, not %T", name, instance, zero)
	}
	return typed, nil
}
