package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gezibash/blobsync/internal/ledger"
	"github.com/gezibash/blobsync/internal/storage"
)

func TestEmptyAddr(t *testing.T) {
	_, err := NewFactory(context.Background(), map[string]string{KeyAddr: ""})
	var cfgErr *storage.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != KeyAddr {
		t.Fatalf("got %v, want config error on %s", err, KeyAddr)
	}
}

func TestBadConfig(t *testing.T) {
	tests := []struct {
		field, value string
	}{
		{KeyDB, "one"},
		{KeyDB, "-1"},
		{KeyMaxRetries, "x"},
		{KeyDialTimeout, "soon"},
		{KeyReadTimeout, "later"},
		{KeyWriteTimeout, "never"},
		{KeyPoolSize, "big"},
	}
	for _, tt := range tests {
		t.Run(tt.field+"="+tt.value, func(t *testing.T) {
			cfg := Defaults()
			cfg[tt.field] = tt.value
			_, err := NewFactory(context.Background(), cfg)
			var cfgErr *storage.ConfigError
			if !errors.As(err, &cfgErr) || cfgErr.Field != tt.field {
				t.Fatalf("got %v, want config error on %s", err, tt.field)
			}
		})
	}
}

func TestKeyLayout(t *testing.T) {
	b := NewWithClient(nil, "bs:")
	tests := []struct{ got, want string }{
		{b.seqKey(), "bs:seq"},
		{b.byTimeKey(), "bs:bytime"},
		{b.entryKey(42), "bs:entry:42"},
		{b.lastKey("upload", "docs/a.txt"), "bs:last:upload:docs/a.txt"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestRecordEncoding(t *testing.T) {
	completed := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	in := &ledger.Entry{
		ID:          7,
		Key:         "docs/a.txt",
		LocalPath:   "/src/docs/a.txt",
		Direction:   "upload",
		Strategy:    "chunked",
		SizeBytes:   13,
		Blocks:      4,
		CompletedAt: completed,
	}
	data, err := json.Marshal(toRecord(in))
	if err != nil {
		t.Fatal(err)
	}
	out, err := decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if !out.LastWriteTime.IsZero() {
		t.Errorf("LastWriteTime = %v, want zero", out.LastWriteTime)
	}
	if !out.CompletedAt.Equal(completed) {
		t.Errorf("CompletedAt = %v, want %v", out.CompletedAt, completed)
	}
	out.CompletedAt, out.LastWriteTime = in.CompletedAt, in.LastWriteTime
	if *out != *in {
		t.Errorf("decoded %+v, want %+v", out, in)
	}

	if _, err := decode([]byte("{")); err == nil {
		t.Error("decode of truncated JSON succeeded")
	}
}

func TestNewerAndScore(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	a := &ledger.Entry{ID: 1, CompletedAt: t0.Add(time.Second)}
	b := &ledger.Entry{ID: 2, CompletedAt: t0}
	if !newer(a, b) || newer(b, a) {
		t.Error("later completion should win")
	}
	c := &ledger.Entry{ID: 3, CompletedAt: t0}
	if !newer(c, b) {
		t.Error("equal times should fall back to the higher id")
	}

	if score(time.Time{}) != 0 {
		t.Error("zero time should score 0")
	}
	if score(t0.Add(time.Microsecond)) <= score(t0) {
		t.Error("score should resolve microseconds")
	}
}
