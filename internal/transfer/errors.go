package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gezibash/blobsync/internal/objectstore"
)

// Kind classifies a transfer failure.
type Kind int

const (
	// KindInvalid is a request that cannot be attempted.
	KindInvalid Kind = iota
	// KindIO is a local read or write failure.
	KindIO
	// KindNetwork is a failed store operation.
	KindNetwork
	// KindIntegrity is a block the store rejected as corrupt or unknown.
	KindIntegrity
	// KindCanceled is a transfer stopped by its context.
	KindCanceled
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrInvalid   = errors.New("invalid transfer")
	ErrIO        = errors.New("io failure")
	ErrNetwork   = errors.New("network failure")
	ErrIntegrity = errors.New("integrity failure")
	ErrCanceled  = errors.New("transfer canceled")
)

func (k Kind) sentinel() error {
	switch k {
	case KindIO:
		return ErrIO
	case KindNetwork:
		return ErrNetwork
	case KindIntegrity:
		return ErrIntegrity
	case KindCanceled:
		return ErrCanceled
	default:
		return ErrInvalid
	}
}

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindNetwork:
		return "network"
	case KindIntegrity:
		return "integrity"
	case KindCanceled:
		return "canceled"
	default:
		return "invalid"
	}
}

// Error is a failed transfer. BlockIndex and Offset are -1 when the failure
// is not tied to a block or byte range.
type Error struct {
	Op         string
	Path       string
	Kind       Kind
	BlockIndex int
	Offset     int64
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.BlockIndex >= 0 {
		fmt.Fprintf(&b, ": block %d", e.BlockIndex)
	}
	if e.Offset >= 0 {
		fmt.Fprintf(&b, ": offset %d", e.Offset)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.sentinel().Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// KindOf returns the kind of a transfer error, or KindInvalid for
// anything else.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInvalid
}

func newError(op, path string, kind Kind, err error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, BlockIndex: -1, Offset: -1, Err: err}
}

func isCanceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// storeKind classifies an error returned by the object store.
func storeKind(ctx context.Context, err error) Kind {
	switch {
	case isCanceled(ctx, err):
		return KindCanceled
	case errors.Is(err, objectstore.ErrIntegrity), errors.Is(err, objectstore.ErrBlockNotStaged):
		return KindIntegrity
	default:
		return KindNetwork
	}
}

// localKind classifies an error from the local file system.
func localKind(ctx context.Context, err error) Kind {
	if isCanceled(ctx, err) {
		return KindCanceled
	}
	return KindIO
}
