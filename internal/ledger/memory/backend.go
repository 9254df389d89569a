// Package memory provides an in-memory transfer ledger for tests and dry
// runs. Entries are lost when the backend is closed.
package memory

import (
	"context"

	"github.com/gezibash/blobsync/internal/ledger"
	"github.com/gezibash/blobsync/internal/ledger/sqlite"
)

func init() {
	ledger.Register("memory", NewFactory, Defaults)
}

// Defaults returns the default configuration for the memory backend.
func Defaults() map[string]string {
	return map[string]string{}
}

// NewFactory creates a ledger backed by an in-memory SQLite database.
func NewFactory(ctx context.Context, config map[string]string) (ledger.Backend, error) {
	cfg := map[string]string{sqlite.KeyPath: sqlite.MemoryPath}
	if v, ok := config[sqlite.KeyBusyTimeout]; ok {
		cfg[sqlite.KeyBusyTimeout] = v
	}
	return sqlite.NewFactory(ctx, cfg)
}
