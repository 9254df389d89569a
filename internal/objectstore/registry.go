package objectstore

import (
	"context"

	"github.com/gezibash/blobsync/internal/storage"
)

// Factory creates a backend from a configuration map.
type Factory func(ctx context.Context, config map[string]string) (Backend, error)

// DefaultsFunc returns the default configuration for a backend.
type DefaultsFunc = storage.DefaultsFunc

var registry = storage.NewRegistry[Backend]("objectstore")

// Register makes a backend available by name. It panics if name is taken.
func Register(name string, factory Factory, defaults DefaultsFunc) {
	registry.Register(name, storage.Factory[Backend](factory), defaults)
}

// GetDefaults returns the default configuration for a backend.
func GetDefaults(name string) map[string]string {
	return registry.Defaults(name)
}

// ListBackends returns the names of all registered backends, sorted.
func ListBackends() []string {
	return registry.Names()
}

// IsRegistered reports whether a backend with the given name is registered.
func IsRegistered(name string) bool {
	return registry.Has(name)
}

// New creates a backend by name. Config values are merged over the
// backend's defaults.
func New(ctx context.Context, name string, config map[string]string) (Backend, error) {
	return registry.Open(ctx, name, config)
}
