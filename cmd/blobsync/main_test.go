package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gezibash/blobsync/internal/objectstore"
)

// testEnv is a config file pointing the fs store and the sqlite ledger at
// a temporary directory.
type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`store:
  backend: fs
  config:
    path: %s
ledger:
  backend: sqlite
  config:
    path: %s
transfer:
  max_block_size: "4"
  size_threshold: "12"
observability:
  log_level: error
`, filepath.Join(dir, "objects"), filepath.Join(dir, "ledger.db"))

	path := filepath.Join(dir, "blobsync.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return &testEnv{dir: dir, config: path}
}

func (e *testEnv) write(t *testing.T, rel string, size int) string {
	t.Helper()
	path := filepath.Join(e.dir, "src", filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	data := bytes.Repeat([]byte{byte(size)}, size)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// run executes blobsync with the env's config and returns stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--config", e.config, "--env-file", ""))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

// data decodes the data member of a JSON envelope into v.
func data(t *testing.T, out string, v any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("invalid JSON output %q: %v", out, err)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "a.txt", 5)
	big := env.write(t, "sub/big.bin", 30)
	src := filepath.Join(env.dir, "src")

	out, err := env.run(t, "upload", src, "-o", "json", "--progress", "plain")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	var rows []map[string]string
	data(t, out, &rows)
	if len(rows) != 2 {
		t.Fatalf("rows = %v", rows)
	}
	want := []struct{ key, strategy, blocks string }{
		{"a.txt", "simple", "0"},
		{"sub/big.bin", "chunked", "8"},
	}
	for i, w := range want {
		r := rows[i]
		if r["key"] != w.key || r["outcome"] != "transferred" || r["strategy"] != w.strategy || r["blocks"] != w.blocks {
			t.Errorf("row %d = %v, want %+v", i, r, w)
		}
	}

	out, err = env.run(t, "upload", src, "-o", "json", "--progress", "plain")
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	data(t, out, &rows)
	for _, r := range rows {
		if r["outcome"] != "skipped" {
			t.Errorf("%s: outcome %q, want skipped", r["key"], r["outcome"])
		}
	}

	dest := filepath.Join(env.dir, "out", "big.bin")
	out, err = env.run(t, "download", "sub/big.bin", dest, "-o", "json", "--progress", "plain")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	var kv map[string]any
	data(t, out, &kv)
	if kv["strategy"] != "chunked" || kv["size_bytes"] != float64(30) || kv["blocks"] != float64(8) {
		t.Errorf("download = %v", kv)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	wantData, _ := os.ReadFile(big)
	if !bytes.Equal(got, wantData) {
		t.Fatal("downloaded content differs")
	}

	out, err = env.run(t, "history", "-o", "json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var history []map[string]string
	data(t, out, &history)
	if len(history) != 3 {
		t.Fatalf("history = %v", history)
	}
	if history[0]["direction"] != "download" || history[0]["key"] != "sub/big.bin" {
		t.Errorf("newest entry = %v", history[0])
	}

	out, err = env.run(t, "history", "sub/", "--direction", "upload", "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	data(t, out, &history)
	if len(history) != 1 || history[0]["key"] != "sub/big.bin" {
		t.Errorf("filtered history = %v", history)
	}
}

func TestUploadForceAndWhere(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "keep.log", 20)
	env.write(t, "skip.txt", 20)
	src := filepath.Join(env.dir, "src")

	out, err := env.run(t, "upload", src, "--where", `ext == ".log"`, "--progress", "plain")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "1 transferred") || strings.Contains(out, "skip.txt") {
		t.Errorf("output:\n%s", out)
	}

	out, err = env.run(t, "upload", src, "--where", `ext == ".log"`, "--force", "-o", "json", "--progress", "plain")
	if err != nil {
		t.Fatal(err)
	}
	var rows []map[string]string
	data(t, out, &rows)
	if len(rows) != 1 || rows[0]["outcome"] != "transferred" {
		t.Errorf("forced rows = %v", rows)
	}
}

func TestUploadPrefix(t *testing.T) {
	env := newTestEnv(t)
	file := env.write(t, "notes.md", 3)

	if _, err := env.run(t, "upload", file, "--prefix", "backup/2026", "--progress", "plain"); err != nil {
		t.Fatal(err)
	}
	out, err := env.run(t, "stat", "backup/2026/notes.md", "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	var kv map[string]any
	data(t, out, &kv)
	if kv["size_bytes"] != float64(3) || kv["strategy"] != "simple" || kv["blocks"] != float64(1) {
		t.Errorf("stat = %v", kv)
	}
}

func TestStatChunked(t *testing.T) {
	env := newTestEnv(t)
	file := env.write(t, "big.bin", 13)
	if _, err := env.run(t, "upload", file, "--progress", "plain"); err != nil {
		t.Fatal(err)
	}

	out, err := env.run(t, "stat", "big.bin")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"chunked", "13 B", "Blocks:"} {
		if !strings.Contains(out, want) {
			t.Errorf("stat output missing %q:\n%s", want, out)
		}
	}
}

func TestStatMissing(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "stat", "nope")
	if !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("got %v, want not found", err)
	}
}

func TestUploadMissingRoot(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.run(t, "upload", filepath.Join(env.dir, "missing")); err == nil {
		t.Fatal("expected error")
	}
}

func TestUploadBadWhere(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "upload", env.dir, "--where", "size >")
	if err == nil || !strings.Contains(err.Error(), "--where") {
		t.Fatalf("got %v", err)
	}
}

func TestBadFlags(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		args []string
	}{
		{"output format", []string{"version", "-o", "xml"}},
		{"progress mode", []string{"upload", env.dir, "--progress", "fancy"}},
		{"history direction", []string{"history", "--direction", "sideways"}},
		{"block size", []string{"stat", "k", "--block-size", "lots"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.run(t, tt.args...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestBackends(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "backends", "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	var rows []map[string]string
	data(t, out, &rows)

	got := make(map[string]bool)
	for _, r := range rows {
		got[r["kind"]+"/"+r["name"]] = true
	}
	for _, want := range []string{
		"store/badger", "store/fs", "store/memory", "store/s3",
		"ledger/memory", "ledger/redis", "ledger/sqlite",
	} {
		if !got[want] {
			t.Errorf("backend %s not listed in %v", want, rows)
		}
	}
}

func TestFormatDefaults(t *testing.T) {
	got := formatDefaults(map[string]string{"path": "/x", "busy_timeout": "5000"})
	if got != "busy_timeout=5000 path=/x" {
		t.Errorf("formatDefaults = %q", got)
	}
	if formatDefaults(nil) != "" {
		t.Error("nil map not empty")
	}
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "version", "-o", "json")
	if err != nil {
		t.Fatal(err)
	}
	var kv map[string]string
	data(t, out, &kv)
	if kv["message"] != "blobsync dev" || kv["go"] == "" {
		t.Errorf("version = %v", kv)
	}
}
