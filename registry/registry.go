// Package registry implements a process-wide service registry: a keyed
// registry of long-lived services (model repositories, output caches,
// worker pools) that tasks receive by reference through task.RunContext.
// The registry is built once at startup and frozen before the first graph
// runs; registering after freeze is a configuration error.
//
// Grounded on store/type_registry.go's global TypeRegistry, generalized
// from type-name -> reflect.Type registration to token -> service-instance
// registration.
package registry

import (
	"fmt"
	"sync"
)

// Token is a strongly-typed registry key. Callers typically declare a
// package-level Token per service:
//
//	var ModelRepositoryToken = registry.NewToken("model-repository")
type Token struct {
	name string
}

// NewToken creates a new, distinct token. Two tokens are equal only if
// they are the same Go value — names are for diagnostics, not identity.
func NewToken(name string) Token {
	return Token{name: name}
}

func (t Token) String() string { return t.name }

// Registry is a process-wide keyed registry of services. The zero value is
// not usable; construct with New.
type Registry struct {
	mu       sync.RWMutex
	services map[Token]any
	frozen   bool
	teardown []func()
}

// New returns an empty, unfrozen registry.
func New() *Registry {
	return &Registry{services: make(map[Token]any)}
}

// Register binds token to service. Registering after Freeze is a
// configuration error.
func (r *Registry) Register(token Token, service any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry: cannot register %s: registry is frozen", token)
	}
	r.services[token] = service
	return nil
}

// RegisterWithTeardown is like Register but also records a teardown
// function invoked (in reverse registration order) by Close.
func (r *Registry) RegisterWithTeardown(token Token, service any, teardown func()) error {
	if err := r.Register(token, service); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if teardown != nil {
		r.teardown = append(r.teardown, teardown)
	}
	return nil
}

// Freeze prevents further registration. Safe to call multiple times.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether the registry has been frozen.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Lookup returns the service bound to token, or ok=false if unbound.
func (r *Registry) Lookup(token Token) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.services[token]
	return v, ok
}

// MustLookup panics if token is unbound; intended for use during graph
// construction where an unbound required service is a programming error.
func (r *Registry) MustLookup(token Token) any {
	v, ok := r.Lookup(token)
	if !ok {
		panic(fmt.Sprintf("registry: no service registered for %s", token))
	}
	return v
}

// Close runs registered teardown functions in reverse order. Close does
// not unfreeze or clear the registry; it is meant to be called once at
// process shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	fns := make([]func(), len(r.teardown))
	copy(fns, r.teardown)
	r.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// Lookup is a generic convenience wrapper that type-asserts the looked-up
// service to T.
func Lookup[T any](r *Registry, token Token) (T, bool) {
	v, ok := r.Lookup(token)
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}
