package storage

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// Factory opens a backend of type T from a merged configuration map.
type Factory[T any] func(ctx context.Context, config map[string]string) (T, error)

// DefaultsFunc returns a backend's default configuration.
type DefaultsFunc func() map[string]string

type registration[T any] struct {
	factory  Factory[T]
	defaults DefaultsFunc
}

// Registry maps backend names to factories. Backends register themselves
// from init functions; callers open them by name.
type Registry[T any] struct {
	kind    string
	mu      sync.RWMutex
	entries map[string]registration[T]
}

// NewRegistry returns an empty registry. kind names the backend family in
// errors and logs, e.g. "objectstore".
func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{kind: kind, entries: make(map[string]registration[T])}
}

// Register adds a backend. It panics if name is taken.
func (r *Registry[T]) Register(name string, factory Factory[T], defaults DefaultsFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		panic(fmt.Sprintf("%s backend %q already registered", r.kind, name))
	}
	r.entries[name] = registration[T]{factory: factory, defaults: defaults}
}

// Defaults returns the default configuration of name, or nil when name is
// unknown or has no defaults.
func (r *Registry[T]) Defaults(name string) map[string]string {
	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok || entry.defaults == nil {
		return nil
	}
	return entry.defaults()
}

// Names returns the registered names in sorted order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries))
}

// Has reports whether name is registered.
func (r *Registry[T]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Open creates the backend registered as name. config is merged over the
// backend's defaults. An unknown name is a *ConfigError.
func (r *Registry[T]) Open(ctx context.Context, name string, config map[string]string) (T, error) {
	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		var zero T
		return zero, NewConfigError(name, "", fmt.Sprintf("unknown %s backend %q (available: %v)", r.kind, name, r.Names()))
	}

	var defaults map[string]string
	if entry.defaults != nil {
		defaults = entry.defaults()
	}
	backend, err := entry.factory(ctx, MergeConfig(defaults, config))
	if err != nil {
		var zero T
		return zero, err
	}

	slog.DebugContext(ctx, "backend opened", "kind", r.kind, "backend", name)
	return backend, nil
}
