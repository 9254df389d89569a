// Package ledger records completed transfers so later runs can tell
// whether a local file changed since it was last uploaded.
package ledger

import (
	"context"
	"time"
)

// Entry is one completed transfer.
type Entry struct {
	ID            int64
	Key           string
	LocalPath     string
	Direction     string
	Strategy      string
	SizeBytes     int64
	Blocks        int
	LastWriteTime time.Time
	CompletedAt   time.Time
}

// Unchanged reports whether a file with the given size and last-write time
// matches what this entry recorded.
func (e *Entry) Unchanged(size int64, lastWrite time.Time) bool {
	return e.SizeBytes == size && e.LastWriteTime.Equal(lastWrite)
}

// ListOptions narrows List.
type ListOptions struct {
	// Prefix restricts results to keys starting with it.
	Prefix string
	// Direction restricts results to one direction when non-empty.
	Direction string
	// Limit caps the number of entries. Zero means DefaultListLimit.
	Limit int
}

// DefaultListLimit is used when ListOptions.Limit is zero.
const DefaultListLimit = 100

// Backend stores ledger entries.
type Backend interface {
	// Record appends an entry and assigns its ID.
	Record(ctx context.Context, entry *Entry) error

	// Last returns the most recent entry for key in the given direction,
	// or ErrNotFound.
	Last(ctx context.Context, key, direction string) (*Entry, error)

	// List returns entries newest first.
	List(ctx context.Context, opts *ListOptions) ([]*Entry, error)

	Close() error
}

// EffectiveLimit returns the limit List should apply.
func (o *ListOptions) EffectiveLimit() int {
	if o == nil || o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}

// UnixNano encodes t for storage. The zero time encodes as 0.
func UnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// FromUnixNano decodes a value written by UnixNano.
func FromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
