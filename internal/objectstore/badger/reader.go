package badger

import (
	"errors"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"

	"github.com/gezibash/blobsync/internal/objectstore"
)

// segmentReader streams a byte window of a committed object one segment at
// a time.
type segmentReader struct {
	db         *badger.DB
	generation string
	blocks     []manifestBlock

	block     int
	segment   int
	skip      int64
	remaining int64
	buf       []byte
}

func newSegmentReader(db *badger.DB, m *manifest, start, length int64) *segmentReader {
	r := &segmentReader{
		db:         db,
		generation: m.Generation,
		blocks:     m.Blocks,
		remaining:  length,
	}

	skip := start
	for r.block < len(r.blocks) && skip >= r.blocks[r.block].Size {
		skip -= r.blocks[r.block].Size
		r.block++
	}
	r.segment = int(skip / segmentSize)
	r.skip = skip % segmentSize
	return r
}

func (r *segmentReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	for len(r.buf) == 0 {
		if err := r.next(); err != nil {
			return 0, err
		}
	}

	n := copy(p, r.buf[:min(int64(len(r.buf)), r.remaining)])
	r.buf = r.buf[n:]
	r.remaining -= int64(n)
	return n, nil
}

func (r *segmentReader) next() error {
	if r.block >= len(r.blocks) {
		return io.ErrUnexpectedEOF
	}
	b := r.blocks[r.block]

	var val []byte
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(segmentKey(r.generation, b.ID, r.segment))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: segment %d of block %s", objectstore.ErrNotFound, r.segment, b.ID)
	}
	if err != nil {
		return fmt.Errorf("badger read segment: %w", err)
	}

	r.segment++
	if r.segment >= b.Segments {
		r.block++
		r.segment = 0
	}

	if r.skip > 0 {
		val = val[min(r.skip, int64(len(val))):]
		r.skip = 0
	}
	r.buf = val
	return nil
}

func (r *segmentReader) Close() error {
	r.buf = nil
	r.remaining = 0
	return nil
}
