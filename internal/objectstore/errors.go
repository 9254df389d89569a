package objectstore

import "errors"

var (
	// ErrNotFound indicates the requested object was not found.
	ErrNotFound = errors.New("object not found")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("backend closed")

	// ErrIntegrity indicates the store rejected a block whose content did not
	// match its hash.
	ErrIntegrity = errors.New("block integrity mismatch")

	// ErrBlockNotStaged indicates a commit referenced a block id that was
	// never staged for the object.
	ErrBlockNotStaged = errors.New("block not staged")

	// ErrInvalidRange indicates a ranged read outside the object.
	ErrInvalidRange = errors.New("invalid range")
)
