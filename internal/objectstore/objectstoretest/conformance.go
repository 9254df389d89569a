// Package objectstoretest provides a conformance suite shared by the
// objectstore backend tests.
package objectstoretest

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // matches the store's content hash
	"errors"
	"io"
	"testing"
	"time"

	"github.com/gezibash/blobsync/internal/objectstore"
)

// NewBackendFunc creates a fresh, empty backend for one subtest.
type NewBackendFunc func(t *testing.T) objectstore.Backend

// Options adjusts the suite for backend limitations.
type Options struct {
	// SkipIntegrity skips the bad-MD5 case for stores that cannot verify it.
	SkipIntegrity bool
}

// Pattern returns n deterministic bytes.
func Pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31) ^ seed
	}
	return b
}

// MD5 returns the raw MD5 digest of data.
func MD5(data []byte) []byte {
	sum := md5.Sum(data) //nolint:gosec // content hash
	return sum[:]
}

// ReadAll reads and closes rc.
func ReadAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return data
}

// Run executes the conformance suite.
func Run(t *testing.T, newBackend NewBackendFunc, opts Options) {
	t.Run("PutGetStat", func(t *testing.T) { testPutGetStat(t, newBackend(t)) })
	t.Run("CommitOrder", func(t *testing.T) { testCommitOrder(t, newBackend(t)) })
	t.Run("RangedGet", func(t *testing.T) { testRangedGet(t, newBackend(t)) })
	t.Run("LargeBlocks", func(t *testing.T) { testLargeBlocks(t, newBackend(t)) })
	t.Run("RangeBeyondEnd", func(t *testing.T) { testRangeBeyondEnd(t, newBackend(t)) })
	t.Run("UncommittedInvisible", func(t *testing.T) { testUncommittedInvisible(t, newBackend(t)) })
	t.Run("CommitUnstaged", func(t *testing.T) { testCommitUnstaged(t, newBackend(t)) })
	t.Run("Replace", func(t *testing.T) { testReplace(t, newBackend(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newBackend(t)) })
	if !opts.SkipIntegrity {
		t.Run("IntegrityMismatch", func(t *testing.T) { testIntegrityMismatch(t, newBackend(t)) })
	}
	t.Run("Closed", func(t *testing.T) { testClosed(t, newBackend(t)) })
}

func testPutGetStat(t *testing.T, b objectstore.Backend) {
	ctx := context.Background()
	modified := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	data := Pattern(1000, 1)

	blob := b.Blob(objectstore.Ref{Key: "docs/a.txt", LastModified: modified})
	if err := blob.Put(ctx, data); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got := ReadAll(t, mustGet(t, blob))
	if !bytes.Equal(got, data) {
		t.Fatalf("Get returned %d bytes, want %d", len(got), len(data))
	}

	attrs, err := b.Blob(objectstore.Ref{Key: "docs/a.txt"}).Stat(ctx)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if attrs.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", attrs.Size, len(data))
	}
	if !attrs.LastModified.Equal(modified) {
		t.Errorf("LastModified = %v, want %v", attrs.LastModified, modified)
	}
}

func testCommitOrder(t *testing.T, b objectstore.Backend) {
	ctx := context.Background()
	blocks := [][]byte{Pattern(300, 1), Pattern(300, 2), Pattern(120, 3)}
	ids := []string{"00000000", "00000001", "00000002"}

	blob := b.Blob(objectstore.Ref{Key: "ordered.bin"})
	for _, i := range []int{2, 0, 1} {
		if err := blob.PutBlock(ctx, ids[i], blocks[i], MD5(blocks[i])); err != nil {
			t.Fatalf("PutBlock(%s): %v", ids[i], err)
		}
	}
	if err := blob.CommitBlockList(ctx, ids); err != nil {
		t.Fatalf("CommitBlockList: %v", err)
	}

	want := bytes.Join(blocks, nil)
	got := ReadAll(t, mustGet(t, b.Blob(objectstore.Ref{Key: "ordered.bin"})))
	if !bytes.Equal(got, want) {
		t.Fatalf("committed object does not match block order")
	}
}

func testRangedGet(t *testing.T, b objectstore.Backend) {
	ctx := context.Background()
	blocks := [][]byte{Pattern(256, 4), Pattern(256, 5), Pattern(100, 6)}
	ids := []string{"0", "1", "2"}

	blob := b.Blob(objectstore.Ref{Key: "ranged.bin"})
	for i := range blocks {
		if err := blob.PutBlock(ctx, ids[i], blocks[i], MD5(blocks[i])); err != nil {
			t.Fatalf("PutBlock: %v", err)
		}
	}
	if err := blob.CommitBlockList(ctx, ids); err != nil {
		t.Fatalf("CommitBlockList: %v", err)
	}
	whole := bytes.Join(blocks, nil)

	tests := []struct {
		name       string
		start, end int64
	}{
		{"first byte", 0, 0},
		{"within block", 10, 99},
		{"exact block", 256, 511},
		{"across blocks", 200, 300},
		{"tail", 500, 611},
		{"whole", 0, 611},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := blob.RangedGet(ctx, tt.start, tt.end)
			if err != nil {
				t.Fatalf("RangedGet(%d, %d): %v", tt.start, tt.end, err)
			}
			got := ReadAll(t, rc)
			if want := whole[tt.start : tt.end+1]; !bytes.Equal(got, want) {
				t.Fatalf("RangedGet(%d, %d) returned %d bytes, want %d", tt.start, tt.end, len(got), len(want))
			}
		})
	}
}

// testLargeBlocks uses the default 4 MiB block size with a 1 MiB tail and a
// multi-megabyte single Put, so backends that split values are exercised
// past their internal limits.
func testLargeBlocks(t *testing.T, b objectstore.Backend) {
	ctx := context.Background()
	const mib = 1 << 20
	blocks := [][]byte{Pattern(4*mib, 7), Pattern(4*mib, 8), Pattern(mib, 9)}
	ids := []string{"0", "1", "2"}

	blob := b.Blob(objectstore.Ref{Key: "large.bin"})
	for i := range blocks {
		if err := blob.PutBlock(ctx, ids[i], blocks[i], MD5(blocks[i])); err != nil {
			t.Fatalf("PutBlock(%s): %v", ids[i], err)
		}
	}
	if err := blob.CommitBlockList(ctx, ids); err != nil {
		t.Fatalf("CommitBlockList: %v", err)
	}
	whole := bytes.Join(blocks, nil)

	if got := ReadAll(t, mustGet(t, blob)); !bytes.Equal(got, whole) {
		t.Fatalf("Get returned %d bytes, want %d", len(got), len(whole))
	}
	for _, r := range [][2]int64{
		{0, 4*mib - 1},
		{4*mib - 10, 4*mib + 10},
		{8 * mib, 9*mib - 1},
		{mib/2 - 1, 3*mib + 1},
	} {
		rc, err := blob.RangedGet(ctx, r[0], r[1])
		if err != nil {
			t.Fatalf("RangedGet(%d, %d): %v", r[0], r[1], err)
		}
		if got := ReadAll(t, rc); !bytes.Equal(got, whole[r[0]:r[1]+1]) {
			t.Fatalf("RangedGet(%d, %d): content mismatch", r[0], r[1])
		}
	}

	single := Pattern(2*mib+3, 10)
	simple := b.Blob(objectstore.Ref{Key: "large-simple.bin"})
	if err := simple.Put(ctx, single); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := ReadAll(t, mustGet(t, simple)); !bytes.Equal(got, single) {
		t.Fatalf("Get after Put returned %d bytes, want %d", len(got), len(single))
	}
}

func testRangeBeyondEnd(t *testing.T, b objectstore.Backend) {
	ctx := context.Background()
	blob := b.Blob(objectstore.Ref{Key: "short.bin"})
	if err := blob.Put(ctx, Pattern(10, 7)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := blob.RangedGet(ctx, 20, 29)
	if err == nil {
		rc.Close()
		t.Fatal("expected error for range past end")
	}
	if !errors.Is(err, objectstore.ErrInvalidRange) {
		t.Fatalf("got %v, want ErrInvalidRange", err)
	}
}

func testUncommittedInvisible(t *testing.T, b objectstore.Backend) {
	ctx := context.Background()
	data := Pattern(64, 8)
	blob := b.Blob(objectstore.Ref{Key: "pending.bin"})
	if err := blob.PutBlock(ctx, "0", data, MD5(data)); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}

	_, err := b.Blob(objectstore.Ref{Key: "pending.bin"}).Stat(ctx)
	if !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("Stat before commit: got %v, want ErrNotFound", err)
	}
}

func testCommitUnstaged(t *testing.T, b objectstore.Backend) {
	ctx := context.Background()
	data := Pattern(64, 9)
	blob := b.Blob(objectstore.Ref{Key: "gap.bin"})
	if err := blob.PutBlock(ctx, "0", data, MD5(data)); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}

	err := blob.CommitBlockList(ctx, []string{"0", "1"})
	if !errors.Is(err, objectstore.ErrBlockNotStaged) {
		t.Fatalf("got %v, want ErrBlockNotStaged", err)
	}
}

func testReplace(t *testing.T, b objectstore.Backend) {
	ctx := context.Background()
	first := Pattern(500, 10)
	second := Pattern(200, 11)

	if err := b.Blob(objectstore.Ref{Key: "v.bin"}).Put(ctx, first); err != nil {
		t.Fatalf("Put first: %v", err)
	}

	blob := b.Blob(objectstore.Ref{Key: "v.bin"})
	if err := blob.PutBlock(ctx, "0", second, MD5(second)); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}
	if err := blob.CommitBlockList(ctx, []string{"0"}); err != nil {
		t.Fatalf("CommitBlockList: %v", err)
	}

	got := ReadAll(t, mustGet(t, b.Blob(objectstore.Ref{Key: "v.bin"})))
	if !bytes.Equal(got, second) {
		t.Fatalf("replaced object has %d bytes, want %d", len(got), len(second))
	}
}

func testNotFound(t *testing.T, b objectstore.Backend) {
	ctx := context.Background()
	blob := b.Blob(objectstore.Ref{Key: "missing"})

	if _, err := blob.Stat(ctx); !errors.Is(err, objectstore.ErrNotFound) {
		t.Errorf("Stat: got %v, want ErrNotFound", err)
	}
	if rc, err := blob.Get(ctx); !errors.Is(err, objectstore.ErrNotFound) {
		if rc != nil {
			rc.Close()
		}
		t.Errorf("Get: got %v, want ErrNotFound", err)
	}
}

func testIntegrityMismatch(t *testing.T, b objectstore.Backend) {
	ctx := context.Background()
	data := Pattern(128, 12)
	blob := b.Blob(objectstore.Ref{Key: "corrupt.bin"})

	err := blob.PutBlock(ctx, "0", data, MD5([]byte("something else")))
	if !errors.Is(err, objectstore.ErrIntegrity) {
		t.Fatalf("got %v, want ErrIntegrity", err)
	}
}

func testClosed(t *testing.T, b objectstore.Backend) {
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	ctx := context.Background()
	if err := b.Blob(objectstore.Ref{Key: "x"}).Put(ctx, []byte("x")); !errors.Is(err, objectstore.ErrClosed) {
		t.Errorf("Put after close: got %v, want ErrClosed", err)
	}
	if _, err := b.Stats(ctx); !errors.Is(err, objectstore.ErrClosed) {
		t.Errorf("Stats after close: got %v, want ErrClosed", err)
	}
}

func mustGet(t *testing.T, blob objectstore.Blob) io.ReadCloser {
	t.Helper()
	rc, err := blob.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return rc
}
