// Package ledgertest provides a conformance suite shared by the ledger
// backend tests.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gezibash/blobsync/internal/ledger"
)

// NewBackendFunc creates a fresh, empty backend for one subtest.
type NewBackendFunc func(t *testing.T) ledger.Backend

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Entry builds an upload entry completed i seconds after a fixed base time.
func Entry(key string, i int) *ledger.Entry {
	return &ledger.Entry{
		Key:           key,
		LocalPath:     "/data/" + key,
		Direction:     "upload",
		Strategy:      "chunked",
		SizeBytes:     int64(1000 + i),
		Blocks:        3,
		LastWriteTime: base.Add(-time.Hour).Add(time.Duration(i) * time.Nanosecond),
		CompletedAt:   base.Add(time.Duration(i) * time.Second),
	}
}

// Run executes the conformance suite.
func Run(t *testing.T, newBackend NewBackendFunc) {
	t.Run("RecordLast", func(t *testing.T) { testRecordLast(t, newBackend(t)) })
	t.Run("LastNotFound", func(t *testing.T) { testLastNotFound(t, newBackend(t)) })
	t.Run("LastPicksNewest", func(t *testing.T) { testLastPicksNewest(t, newBackend(t)) })
	t.Run("LastByDirection", func(t *testing.T) { testLastByDirection(t, newBackend(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newBackend(t)) })
	t.Run("ZeroLastWrite", func(t *testing.T) { testZeroLastWrite(t, newBackend(t)) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, newBackend(t)) })
}

func testRecordLast(t *testing.T, be ledger.Backend) {
	ctx := context.Background()
	want := Entry("docs/a.txt", 1)
	if err := be.Record(ctx, want); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if want.ID == 0 {
		t.Fatal("Record did not assign an ID")
	}

	got, err := be.Last(ctx, "docs/a.txt", "upload")
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if got.ID != want.ID || got.Key != want.Key || got.LocalPath != want.LocalPath {
		t.Errorf("identity = %d %q %q, want %d %q %q", got.ID, got.Key, got.LocalPath, want.ID, want.Key, want.LocalPath)
	}
	if got.Direction != want.Direction || got.Strategy != want.Strategy {
		t.Errorf("direction/strategy = %q/%q, want %q/%q", got.Direction, got.Strategy, want.Direction, want.Strategy)
	}
	if got.SizeBytes != want.SizeBytes || got.Blocks != want.Blocks {
		t.Errorf("size/blocks = %d/%d, want %d/%d", got.SizeBytes, got.Blocks, want.SizeBytes, want.Blocks)
	}
	if !got.LastWriteTime.Equal(want.LastWriteTime) {
		t.Errorf("LastWriteTime = %v, want %v", got.LastWriteTime, want.LastWriteTime)
	}
	if !got.CompletedAt.Equal(want.CompletedAt) {
		t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, want.CompletedAt)
	}
	if !got.Unchanged(want.SizeBytes, want.LastWriteTime) {
		t.Error("Unchanged = false for the recorded size and time")
	}
	if got.Unchanged(want.SizeBytes, want.LastWriteTime.Add(time.Second)) {
		t.Error("Unchanged = true after the file was touched")
	}
}

func testLastNotFound(t *testing.T, be ledger.Backend) {
	_, err := be.Last(context.Background(), "missing", "upload")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("Last = %v, want ErrNotFound", err)
	}
}

func testLastPicksNewest(t *testing.T, be ledger.Backend) {
	ctx := context.Background()
	for _, i := range []int{2, 5, 3} {
		if err := be.Record(ctx, Entry("k", i)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := be.Last(ctx, "k", "upload")
	if err != nil {
		t.Fatal(err)
	}
	if got.SizeBytes != 1005 {
		t.Fatalf("Last picked size %d, want the entry completed last (1005)", got.SizeBytes)
	}
}

func testLastByDirection(t *testing.T, be ledger.Backend) {
	ctx := context.Background()
	up := Entry("k", 1)
	down := Entry("k", 2)
	down.Direction = "download"
	for _, e := range []*ledger.Entry{up, down} {
		if err := be.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := be.Last(ctx, "k", "upload")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != up.ID {
		t.Fatalf("Last(upload) = entry %d, want %d", got.ID, up.ID)
	}
}

func testList(t *testing.T, be ledger.Backend) {
	ctx := context.Background()
	keys := []string{"a/1", "b/1", "a/2", "a/3", "b/2"}
	for i, k := range keys {
		if err := be.Record(ctx, Entry(k, i)); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name string
		opts *ledger.ListOptions
		want []string
	}{
		{"all", nil, []string{"b/2", "a/3", "a/2", "b/1", "a/1"}},
		{"prefix", &ledger.ListOptions{Prefix: "a/"}, []string{"a/3", "a/2", "a/1"}},
		{"limit", &ledger.ListOptions{Limit: 2}, []string{"b/2", "a/3"}},
		{"prefix and limit", &ledger.ListOptions{Prefix: "b/", Limit: 1}, []string{"b/2"}},
		{"no match", &ledger.ListOptions{Prefix: "c/"}, nil},
		{"other direction", &ledger.ListOptions{Direction: "download"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := be.List(ctx, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, e := range entries {
				got = append(got, e.Key)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Fatalf("keys = %v, want %v", got, tt.want)
			}
		})
	}
}

func testZeroLastWrite(t *testing.T, be ledger.Backend) {
	ctx := context.Background()
	e := Entry("z", 1)
	e.LastWriteTime = time.Time{}
	if err := be.Record(ctx, e); err != nil {
		t.Fatal(err)
	}
	got, err := be.Last(ctx, "z", "upload")
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastWriteTime.IsZero() {
		t.Fatalf("LastWriteTime = %v, want zero", got.LastWriteTime)
	}
}

func testClosed(t *testing.T, be ledger.Backend) {
	if err := be.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	ctx := context.Background()
	if err := be.Record(ctx, Entry("k", 1)); !errors.Is(err, ledger.ErrClosed) {
		t.Errorf("Record after close = %v, want ErrClosed", err)
	}
	if _, err := be.Last(ctx, "k", "upload"); !errors.Is(err, ledger.ErrClosed) {
		t.Errorf("Last after close = %v, want ErrClosed", err)
	}
	if _, err := be.List(ctx, nil); !errors.Is(err, ledger.ErrClosed) {
		t.Errorf("List after close = %v, want ErrClosed", err)
	}
}
