package ledger

import "errors"

var (
	// ErrNotFound indicates no entry matched.
	ErrNotFound = errors.New("ledger entry not found")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("ledger closed")
)
