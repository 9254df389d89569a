package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gezibash/blobsync/internal/objectstore"
	"github.com/gezibash/blobsync/internal/objectstore/objectstoretest"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	dir := t.TempDir()
	b, err := NewFactory(context.Background(), map[string]string{
		KeyPath:            dir,
		KeyDirPermissions:  "0700",
		KeyFilePermissions: "0600",
	})
	if err != nil {
		t.Fatal(err)
	}
	return b.(*Backend)
}

func TestConformance(t *testing.T) {
	objectstoretest.Run(t, func(t *testing.T) objectstore.Backend {
		return newTestBackend(t)
	}, objectstoretest.Options{})
}

func TestObjectLayout(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if err := b.Blob(objectstore.Ref{Key: "docs/2024/report.pdf"}).Put(ctx, []byte("pdf")); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(b.rootPath, objectsDir, "docs", "2024", "report.pdf")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("object not at %s: %v", path, err)
	}
	if string(data) != "pdf" {
		t.Fatalf("got %q, want %q", data, "pdf")
	}
}

func TestFilePermissions(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if err := b.Blob(objectstore.Ref{Key: "perm"}).Put(ctx, []byte("perm test")); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(filepath.Join(b.rootPath, objectsDir, "perm"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("file permissions = %04o, want 0600", perm)
	}
}

func TestNoLeftoverStaging(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	blob := b.Blob(objectstore.Ref{Key: "staged"})
	for _, id := range []string{"0", "1"} {
		data := []byte("block " + id)
		if err := blob.PutBlock(ctx, id, data, objectstoretest.MD5(data)); err != nil {
			t.Fatal(err)
		}
	}
	if err := blob.CommitBlockList(ctx, []string{"0", "1"}); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Join(b.rootPath, stagingDir))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("staging directory has %d entries after commit", len(entries))
	}

	entries, err = os.ReadDir(filepath.Join(b.rootPath, objectsDir))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("leftover temp file: %s", e.Name())
		}
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	for _, key := range []string{"", "../outside", "/abs/path", "a/../../b"} {
		if err := b.Blob(objectstore.Ref{Key: key}).Put(ctx, []byte("x")); err == nil {
			t.Errorf("Put(%q) succeeded, want error", key)
		}
	}
}

func TestStats(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b/c"} {
		if err := b.Blob(objectstore.Ref{Key: key}).Put(ctx, []byte("12345")); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := b.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.SizeBytes != 10 {
		t.Fatalf("SizeBytes = %d, want 10", stats.SizeBytes)
	}
	if stats.BackendType != "fs" {
		t.Fatalf("BackendType = %q, want %q", stats.BackendType, "fs")
	}
}
