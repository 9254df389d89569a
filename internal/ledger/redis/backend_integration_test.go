//go:build integration

package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gezibash/blobsync/internal/ledger"
	"github.com/gezibash/blobsync/internal/ledger/ledgertest"
)

// redisAddr returns REDIS_ADDR when set, otherwise starts a container.
func redisAddr(t *testing.T) string {
	t.Helper()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}

	ctx := context.Background()
	container, err := testcontainers.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	testcontainers.CleanupContainer(t, container)

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatal(err)
	}
	return host + ":" + port.Port()
}

func TestConformance(t *testing.T) {
	addr := redisAddr(t)
	ledgertest.Run(t, func(t *testing.T) ledger.Backend {
		be, err := NewFactory(context.Background(), map[string]string{
			KeyAddr:      addr,
			KeyDB:        "15",
			KeyKeyPrefix: fmt.Sprintf("test-%d-", time.Now().UnixNano()),
		})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { be.Close() })
		return be
	})
}

func TestOutOfOrderRecord(t *testing.T) {
	addr := redisAddr(t)
	ctx := context.Background()
	be, err := NewFactory(ctx, map[string]string{
		KeyAddr:      addr,
		KeyDB:        "15",
		KeyKeyPrefix: fmt.Sprintf("ooo-%d-", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer be.Close()

	newerEntry := ledgertest.Entry("k", 9)
	olderEntry := ledgertest.Entry("k", 1)
	for _, e := range []*ledger.Entry{newerEntry, olderEntry} {
		if err := be.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := be.Last(ctx, "k", "upload")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != newerEntry.ID {
		t.Fatalf("Last = entry %d, want the later completion %d", got.ID, newerEntry.ID)
	}
}
