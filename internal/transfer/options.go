package transfer

import (
	"errors"
	"fmt"
)

// Defaults for Options.
const (
	DefaultMaxBlockSize  = 4 << 20
	DefaultSizeThreshold = 12 << 20
	DefaultBlockIDWidth  = 32

	maxBlockIDWidth = 64
)

// Options configures a Transferer. They are fixed at construction.
type Options struct {
	// MaxBlockSize is the block size for uploads and the range size for
	// downloads on the chunked path.
	MaxBlockSize int64
	// SizeThreshold is the largest size still transferred in one operation.
	SizeThreshold int64
	// BlockIDWidth is the number of digits in a block id.
	BlockIDWidth int

	// ReportStart emits a fraction-0 event before any data moves.
	ReportStart bool
	// ReportCompletion emits a distinct fraction-1 event after the last
	// block of a chunked transfer.
	ReportCompletion bool

	// KeyPrefix is prepended to a file's relative path to form its object key.
	KeyPrefix string
}

// DefaultOptions returns the default transfer options.
func DefaultOptions() Options {
	return Options{
		MaxBlockSize:  DefaultMaxBlockSize,
		SizeThreshold: DefaultSizeThreshold,
		BlockIDWidth:  DefaultBlockIDWidth,
	}
}

// Validate checks that the options are usable.
func (o Options) Validate() error {
	var errs []error
	if o.MaxBlockSize <= 0 {
		errs = append(errs, fmt.Errorf("max block size must be positive, got %d", o.MaxBlockSize))
	}
	if o.SizeThreshold < 0 {
		errs = append(errs, fmt.Errorf("size threshold must not be negative, got %d", o.SizeThreshold))
	}
	if o.BlockIDWidth < 1 || o.BlockIDWidth > maxBlockIDWidth {
		errs = append(errs, fmt.Errorf("block id width must be between 1 and %d, got %d", maxBlockIDWidth, o.BlockIDWidth))
	}
	return errors.Join(errs...)
}
