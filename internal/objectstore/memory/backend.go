// Package memory provides an in-memory object store for tests and dry runs.
package memory

import (
	"context"
	"maps"

	"github.com/gezibash/blobsync/internal/objectstore"
	"github.com/gezibash/blobsync/internal/objectstore/badger"
)

func init() {
	objectstore.Register("memory", NewFactory, Defaults)
}

// Defaults returns the default configuration for the memory backend.
func Defaults() map[string]string {
	return map[string]string{
		badger.KeyInMemory: "true",
	}
}

// NewFactory creates a new in-memory backend using BadgerDB's in-memory mode.
func NewFactory(ctx context.Context, config map[string]string) (objectstore.Backend, error) {
	cfg := maps.Clone(config)
	if cfg == nil {
		cfg = make(map[string]string, 1)
	}
	cfg[badger.KeyInMemory] = "true"
	return badger.NewFactory(ctx, cfg)
}
