package storage

import (
	"context"
	"errors"
	"testing"
)

type fakeBackend struct {
	config map[string]string
}

func newTestRegistry() *Registry[*fakeBackend] {
	r := NewRegistry[*fakeBackend]("test")
	r.Register("fake", func(_ context.Context, config map[string]string) (*fakeBackend, error) {
		return &fakeBackend{config: config}, nil
	}, func() map[string]string {
		return map[string]string{"path": "/default", "mode": "fast"}
	})
	r.Register("broken", func(context.Context, map[string]string) (*fakeBackend, error) {
		return nil, errors.New("cannot open")
	}, nil)
	return r
}

func TestRegistryOpenMergesDefaults(t *testing.T) {
	r := newTestRegistry()

	b, err := r.Open(context.Background(), "fake", map[string]string{"path": "/custom"})
	if err != nil {
		t.Fatal(err)
	}
	if b.config["path"] != "/custom" || b.config["mode"] != "fast" {
		t.Errorf("config = %v", b.config)
	}
}

func TestRegistryOpenErrors(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Open(context.Background(), "tape", nil)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Backend != "tape" {
		t.Fatalf("got %v, want ConfigError for tape", err)
	}

	if _, err := r.Open(context.Background(), "broken", nil); err == nil || err.Error() != "cannot open" {
		t.Fatalf("got %v, want factory error", err)
	}
}

func TestRegistryLookups(t *testing.T) {
	r := newTestRegistry()

	if got := r.Names(); len(got) != 2 || got[0] != "broken" || got[1] != "fake" {
		t.Errorf("Names() = %v", got)
	}
	if !r.Has("fake") || r.Has("tape") {
		t.Error("Has mismatch")
	}
	if r.Defaults("fake")["mode"] != "fast" {
		t.Error("defaults not returned")
	}
	if r.Defaults("broken") != nil || r.Defaults("tape") != nil {
		t.Error("want nil defaults")
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := newTestRegistry()
	defer func() {
		if got := recover(); got != `test backend "fake" already registered` {
			t.Fatalf("recover() = %v", got)
		}
	}()
	r.Register("fake", nil, nil)
}
