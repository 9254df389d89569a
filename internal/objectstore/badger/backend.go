// Package badger provides a BadgerDB-backed object store.
//
// Staged blocks are written under a per-upload generation and split into
// segments so that no single badger entry exceeds the transaction limit.
// CommitBlockList writes the object's manifest in one transaction; the
// previous generation's segments are deleted afterwards.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/gezibash/blobsync/internal/objectstore"
	"github.com/gezibash/blobsync/internal/storage"
)

const (
	manifestPrefix = "manifest/"
	segmentPrefix  = "seg/"
	stagedPrefix   = "staged/"

	// valueThreshold is set explicitly on every DB we open. An in-memory
	// DB has no value log, so every value must stay below it.
	valueThreshold = 1 << 20

	// segmentSize bounds a single badger value and must stay strictly
	// below valueThreshold.
	segmentSize = valueThreshold / 2

	// simpleBlockID names the single block written by Put.
	simpleBlockID = "simple"
)

const (
	KeyPath             = "path"
	KeySyncWrites       = "sync_writes"
	KeyValueLogFileSize = "value_log_file_size"
	KeyMemTableSize     = "mem_table_size"
	KeyInMemory         = "in_memory"
)

func init() {
	objectstore.Register("badger", NewFactory, Defaults)
}

// Defaults returns the default configuration for the BadgerDB backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:             "~/.blobsync/objects",
		KeySyncWrites:       "false",
		KeyValueLogFileSize: strconv.FormatInt(1<<30, 10),
		KeyMemTableSize:     strconv.FormatInt(64<<20, 10),
		KeyInMemory:         "false",
	}
}

// NewFactory creates a new BadgerDB backend from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (objectstore.Backend, error) {
	inMemory, err := storage.GetBool(config, KeyInMemory, false)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeyInMemory, config[KeyInMemory], err.Error())
	}

	if inMemory {
		return newInMemory()
	}

	path := storage.GetString(config, KeyPath, "")
	if path == "" {
		return nil, storage.NewConfigError("badger", KeyPath, "cannot be empty")
	}
	path = storage.ExpandPath(path)

	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, storage.NewConfigErrorWithCause("badger", KeyPath, "failed to create directory", err)
	}

	syncWrites, err := storage.GetBool(config, KeySyncWrites, false)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeySyncWrites, config[KeySyncWrites], err.Error())
	}

	valueLogFileSize, err := storage.GetSize(config, KeyValueLogFileSize, 1<<30)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeyValueLogFileSize, config[KeyValueLogFileSize], err.Error())
	}

	memTableSize, err := storage.GetSize(config, KeyMemTableSize, 64<<20)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("badger", KeyMemTableSize, config[KeyMemTableSize], err.Error())
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = syncWrites
	opts.ValueThreshold = valueThreshold
	if valueLogFileSize > 0 {
		opts.ValueLogFileSize = valueLogFileSize
	}
	if memTableSize > 0 {
		opts.MemTableSize = memTableSize
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("badger", KeyPath, "failed to open database", err)
	}

	slog.Info("badger objectstore initialized", "path", path, "sync_writes", syncWrites)
	return NewWithDB(db), nil
}

func newInMemory() (*Backend, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithValueThreshold(valueThreshold).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("badger", KeyInMemory, "failed to open in-memory database", err)
	}

	slog.Info("badger objectstore initialized (in-memory)")
	return NewWithDB(db), nil
}

// Backend is a BadgerDB implementation of objectstore.Backend.
type Backend struct {
	db     *badger.DB
	closed atomic.Bool
}

// NewWithDB creates a new backend with an existing BadgerDB instance.
func NewWithDB(db *badger.DB) *Backend {
	return &Backend{db: db}
}

// Blob returns a handle for ref. Each handle stages blocks under its own
// generation, so concurrent uploads of the same key never see each other's
// blocks.
func (b *Backend) Blob(ref objectstore.Ref) objectstore.Blob {
	return &blob{backend: b, ref: ref, generation: uuid.NewString()}
}

// Stats returns storage statistics.
func (b *Backend) Stats(_ context.Context) (*objectstore.Stats, error) {
	if b.closed.Load() {
		return nil, objectstore.ErrClosed
	}

	lsm, vlog := b.db.Size()
	return &objectstore.Stats{
		SizeBytes:   lsm + vlog,
		BackendType: "badger",
	}, nil
}

// Close closes the BadgerDB database.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}

type manifest struct {
	Generation   string          `json:"generation"`
	Size         int64           `json:"size"`
	LastModified int64           `json:"last_modified,omitempty"`
	Blocks       []manifestBlock `json:"blocks"`
}

type manifestBlock struct {
	ID       string `json:"id"`
	Size     int64  `json:"size"`
	Segments int    `json:"segments"`
}

func manifestKey(key string) []byte {
	return []byte(manifestPrefix + key)
}

func stagedKey(generation, id string) []byte {
	return []byte(stagedPrefix + generation + "/" + id)
}

func segmentKey(generation, id string, n int) []byte {
	return fmt.Appendf(nil, "%s%s/%s/%08d", segmentPrefix, generation, id, n)
}

type blob struct {
	backend    *Backend
	ref        objectstore.Ref
	generation string
}

func (o *blob) db() (*badger.DB, error) {
	if o.backend.closed.Load() {
		return nil, objectstore.ErrClosed
	}
	return o.backend.db, nil
}

// PutBlock stages data under the handle's generation.
func (o *blob) PutBlock(_ context.Context, id string, data []byte, contentMD5 []byte) error {
	if err := objectstore.VerifyMD5(data, contentMD5); err != nil {
		return fmt.Errorf("badger put block %s: %w", id, err)
	}
	if err := o.stage(o.generation, id, data); err != nil {
		return fmt.Errorf("badger put block %s: %w", id, err)
	}
	return nil
}

func (o *blob) stage(generation, id string, data []byte) error {
	db, err := o.db()
	if err != nil {
		return err
	}

	wb := db.NewWriteBatch()
	defer wb.Cancel()

	segments := 0
	for off := 0; off < len(data) || segments == 0; off += segmentSize {
		end := min(off+segmentSize, len(data))
		if err := wb.Set(segmentKey(generation, id, segments), data[off:end]); err != nil {
			return err
		}
		segments++
	}
	if err := wb.Flush(); err != nil {
		return err
	}

	var marker [16]byte
	binary.BigEndian.PutUint64(marker[:8], uint64(len(data)))
	binary.BigEndian.PutUint64(marker[8:], uint64(segments))
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(stagedKey(generation, id), marker[:])
	})
}

// CommitBlockList writes the manifest for ids in one transaction.
func (o *blob) CommitBlockList(_ context.Context, ids []string) error {
	if err := o.commit(o.generation, ids); err != nil {
		return fmt.Errorf("badger commit: %w", err)
	}
	return nil
}

func (o *blob) commit(generation string, ids []string) error {
	db, err := o.db()
	if err != nil {
		return err
	}

	m := manifest{Generation: generation, Blocks: make([]manifestBlock, 0, len(ids))}
	if !o.ref.LastModified.IsZero() {
		m.LastModified = o.ref.LastModified.UTC().UnixNano()
	}

	var previous string
	err = db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get(stagedKey(generation, id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", objectstore.ErrBlockNotStaged, id)
			}
			if err != nil {
				return err
			}
			marker, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			size := int64(binary.BigEndian.Uint64(marker[:8]))
			m.Blocks = append(m.Blocks, manifestBlock{
				ID:       id,
				Size:     size,
				Segments: int(binary.BigEndian.Uint64(marker[8:])),
			})
			m.Size += size
		}

		if old, err := readManifest(txn, o.ref.Key); err == nil {
			previous = old.Generation
		} else if !errors.Is(err, objectstore.ErrNotFound) {
			return err
		}

		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return txn.Set(manifestKey(o.ref.Key), data)
	})
	if err != nil {
		return err
	}

	if previous != "" && previous != generation {
		if err := o.backend.dropGeneration(previous); err != nil {
			slog.Warn("badger: failed to drop previous generation", "key", o.ref.Key, "generation", previous, "error", err)
		}
	}
	return nil
}

// Put stages data as a single block under a fresh generation and commits it.
func (o *blob) Put(_ context.Context, data []byte) error {
	generation := uuid.NewString()
	if err := o.stage(generation, simpleBlockID, data); err != nil {
		return fmt.Errorf("badger put: %w", err)
	}
	if err := o.commit(generation, []string{simpleBlockID}); err != nil {
		return fmt.Errorf("badger put: %w", err)
	}
	return nil
}

// Get returns a reader over the committed object.
func (o *blob) Get(_ context.Context) (io.ReadCloser, error) {
	m, err := o.manifest()
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return newSegmentReader(o.backend.db, m, 0, m.Size), nil
}

// RangedGet returns a reader over [start, endInclusive] of the committed object.
func (o *blob) RangedGet(_ context.Context, start, endInclusive int64) (io.ReadCloser, error) {
	m, err := o.manifest()
	if err != nil {
		return nil, fmt.Errorf("badger ranged get: %w", err)
	}
	if err := objectstore.CheckRange(start, endInclusive, m.Size); err != nil {
		return nil, fmt.Errorf("badger ranged get: %w", err)
	}
	return newSegmentReader(o.backend.db, m, start, endInclusive-start+1), nil
}

// Stat returns the committed object's attributes.
func (o *blob) Stat(_ context.Context) (objectstore.Attributes, error) {
	m, err := o.manifest()
	if err != nil {
		return objectstore.Attributes{}, fmt.Errorf("badger stat: %w", err)
	}
	attrs := objectstore.Attributes{Size: m.Size}
	if m.LastModified != 0 {
		attrs.LastModified = time.Unix(0, m.LastModified).UTC()
	}
	return attrs, nil
}

func (o *blob) manifest() (*manifest, error) {
	db, err := o.db()
	if err != nil {
		return nil, err
	}
	var m *manifest
	err = db.View(func(txn *badger.Txn) error {
		m, err = readManifest(txn, o.ref.Key)
		return err
	})
	return m, err
}

func readManifest(txn *badger.Txn, key string) (*manifest, error) {
	item, err := txn.Get(manifestKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, objectstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var m manifest
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &m)
	})
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

func (b *Backend) dropGeneration(generation string) error {
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		for _, prefix := range []string{segmentPrefix, stagedPrefix} {
			p := []byte(prefix + generation + "/")
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = p
			it := txn.NewIterator(opts)
			for it.Seek(p); it.ValidForPrefix(p); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}
