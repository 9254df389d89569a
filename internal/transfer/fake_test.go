package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/gezibash/blobsync/internal/localfs"
	"github.com/gezibash/blobsync/internal/objectstore"
)

var errInjected = errors.New("injected failure")

// fakeStore is a deterministic in-memory store that records every call and
// can fail on demand.
type fakeStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	modified map[string]time.Time
	staged   map[string]map[string][]byte
	calls    []string
	blocks   []int

	failBlock   int   // block index whose PutBlock fails, -1 for none
	failRange   int64 // range start whose RangedGet fails, -1 for none
	shortRange  int64 // range start whose body is truncated, -1 for none
	failCommit  bool
	rejectBlock bool // PutBlock fails with ErrIntegrity
	putBlocks   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:    make(map[string][]byte),
		modified:   make(map[string]time.Time),
		staged:     make(map[string]map[string][]byte),
		failBlock:  -1,
		failRange:  -1,
		shortRange: -1,
	}
}

func (s *fakeStore) Blob(ref objectstore.Ref) objectstore.Blob {
	return &fakeBlob{store: s, ref: ref}
}

func (s *fakeStore) Stats(context.Context) (*objectstore.Stats, error) {
	return &objectstore.Stats{BackendType: "fake"}, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *fakeStore) count(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

type fakeBlob struct {
	store *fakeStore
	ref   objectstore.Ref
}

func (b *fakeBlob) PutBlock(_ context.Context, id string, data, contentMD5 []byte) error {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.putBlocks
	s.putBlocks++
	s.record("put-block:" + id)
	if index == s.failBlock {
		return errInjected
	}
	if s.rejectBlock {
		return fmt.Errorf("fake: %w", objectstore.ErrIntegrity)
	}
	if err := objectstore.VerifyMD5(data, contentMD5); err != nil {
		return err
	}
	if s.staged[b.ref.Key] == nil {
		s.staged[b.ref.Key] = make(map[string][]byte)
	}
	s.staged[b.ref.Key][id] = bytes.Clone(data)
	s.blocks = append(s.blocks, len(data))
	return nil
}

func (b *fakeBlob) CommitBlockList(_ context.Context, ids []string) error {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record(fmt.Sprintf("commit:%d", len(ids)))
	if s.failCommit {
		return errInjected
	}
	var buf bytes.Buffer
	for _, id := range ids {
		data, ok := s.staged[b.ref.Key][id]
		if !ok {
			return fmt.Errorf("fake: %w: %s", objectstore.ErrBlockNotStaged, id)
		}
		buf.Write(data)
	}
	s.objects[b.ref.Key] = buf.Bytes()
	s.modified[b.ref.Key] = b.ref.LastModified
	delete(s.staged, b.ref.Key)
	return nil
}

func (b *fakeBlob) RangedGet(_ context.Context, start, endInclusive int64) (io.ReadCloser, error) {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record(fmt.Sprintf("range:%d-%d", start, endInclusive))
	if start == s.failRange {
		return nil, errInjected
	}
	data, ok := s.objects[b.ref.Key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	if err := objectstore.CheckRange(start, endInclusive, int64(len(data))); err != nil {
		return nil, err
	}
	window := data[start : endInclusive+1]
	if start == s.shortRange {
		window = window[:len(window)/2]
	}
	return io.NopCloser(bytes.NewReader(window)), nil
}

func (b *fakeBlob) Put(_ context.Context, data []byte) error {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record("put")
	s.objects[b.ref.Key] = bytes.Clone(data)
	s.modified[b.ref.Key] = b.ref.LastModified
	return nil
}

func (b *fakeBlob) Get(context.Context) (io.ReadCloser, error) {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record("get")
	data, ok := s.objects[b.ref.Key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *fakeBlob) Stat(context.Context) (objectstore.Attributes, error) {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.objects[b.ref.Key]
	if !ok {
		return objectstore.Attributes{}, objectstore.ErrNotFound
	}
	return objectstore.Attributes{Size: int64(len(data)), LastModified: s.modified[b.ref.Key]}, nil
}

// minSizeStore adds a minimum block size to fakeStore.
type minSizeStore struct {
	*fakeStore
	min int64
}

func (s minSizeStore) MinBlockSize() int64 { return s.min }

// cappedStore adds a block count limit to fakeStore.
type cappedStore struct {
	*fakeStore
	max int64
}

func (s cappedStore) MaxBlocks() int64 { return s.max }

// recorder is a ProgressSink that keeps every event.
type recorder struct {
	events []Progress
}

func (r *recorder) Report(path, message string, fraction float64) {
	r.events = append(r.events, Progress{Path: path, Message: message, Fraction: fraction})
}

// checkMonotonic asserts the fraction sequence is non-decreasing, within
// [0, 1] and ends at 1.
func checkMonotonic(t *testing.T, events []Progress) {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no progress events")
	}
	prev := 0.0
	for i, e := range events {
		if e.Fraction < 0 || e.Fraction > 1 {
			t.Fatalf("event %d: fraction %v out of [0,1]", i, e.Fraction)
		}
		if e.Fraction < prev {
			t.Fatalf("event %d: fraction %v after %v", i, e.Fraction, prev)
		}
		prev = e.Fraction
	}
	if last := events[len(events)-1].Fraction; last != 1 {
		t.Fatalf("last fraction = %v, want 1", last)
	}
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

// writeLocal creates a file on an in-memory fs and describes it.
func writeLocal(t *testing.T, fsys *localfs.FileSystem, path string, data []byte, mtime time.Time) localfs.FileDescriptor {
	t.Helper()
	if err := afero.WriteFile(fsys.Fs(), path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if !mtime.IsZero() {
		if err := fsys.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
	fd, err := fsys.Describe("/src", path)
	if err != nil {
		t.Fatal(err)
	}
	return fd
}

func readLocal(t *testing.T, fsys *localfs.FileSystem, path string) []byte {
	t.Helper()
	data, err := afero.ReadFile(fsys.Fs(), path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// testOptions uses small sizes so chunked transfers stay cheap.
func testOptions() Options {
	return Options{
		MaxBlockSize:  4,
		SizeThreshold: 12,
		BlockIDWidth:  DefaultBlockIDWidth,
	}
}

func newMemFS() *localfs.FileSystem {
	return localfs.New(afero.NewMemMapFs())
}

// writeLocalDescriptor describes a file that was never written.
func writeLocalDescriptor(rel string) localfs.FileDescriptor {
	return localfs.FileDescriptor{FullPath: "/src/" + rel, RelativePath: rel}
}

func newTestTransferer(t *testing.T, store objectstore.Backend, opts Options) (*Transferer, *localfs.FileSystem) {
	t.Helper()
	fsys := newMemFS()
	tr, err := New(store, fsys, opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	return tr, fsys
}
