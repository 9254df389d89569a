package transfer

import (
	"errors"
	"strconv"
	"strings"
)

// ErrBlockIDOverflow is returned when the block counter no longer fits the
// configured id width.
var ErrBlockIDOverflow = errors.New("block id overflow")

// ErrTooManyBlocks is returned when an object needs more blocks than the
// store accepts.
var ErrTooManyBlocks = errors.New("too many blocks")

// BlockIDGenerator yields zero-padded, fixed-width decimal ids 0, 1, 2, ...
// Fixed width keeps lexical and numeric order identical.
type BlockIDGenerator struct {
	width int
	next  uint64
	// limit is 10^width, or 0 when every uint64 fits.
	limit uint64
}

// NewBlockIDGenerator returns a generator starting at 0.
func NewBlockIDGenerator(width int) *BlockIDGenerator {
	g := &BlockIDGenerator{width: width}
	if width < 20 {
		g.limit = 1
		for range width {
			g.limit *= 10
		}
	}
	return g
}

// Next returns the next id.
func (g *BlockIDGenerator) Next() (string, error) {
	if g.limit != 0 && g.next >= g.limit {
		return "", ErrBlockIDOverflow
	}
	s := strconv.FormatUint(g.next, 10)
	g.next++
	if pad := g.width - len(s); pad > 0 {
		s = strings.Repeat("0", pad) + s
	}
	return s, nil
}

// Reset restarts the sequence at 0.
func (g *BlockIDGenerator) Reset() {
	g.next = 0
}

// Capacity reports whether n ids can be generated from a fresh generator.
func (g *BlockIDGenerator) Capacity(n int64) bool {
	return g.limit == 0 || uint64(n) <= g.limit
}
