package health

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rotadominios/fleet-sync/internal/metrics"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "health-cache-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	cache, err := NewCache(filepath.Join(tempDir, "badger"), metrics.New(false))
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	domainID := uuid.New()

	tunnelOk := true
	snap := Snapshot{
		DNSOk:     true,
		TunnelOk:  &tunnelOk,
		Details:   map[string]string{"dns": "10.0.0.5"},
		CheckedAt: time.Now().Truncate(time.Second),
	}

	if err := cache.Put(domainID, snap); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, found, err := cache.Get(domainID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("expected snapshot to be found")
	}
	if got.DNSOk != snap.DNSOk || !got.CheckedAt.Equal(snap.CheckedAt) {
		t.Errorf("expected snapshot %+v but got %+v", snap, got)
	}
	if got.TunnelOk == nil || *got.TunnelOk != tunnelOk {
		t.Errorf("expected tunnelOk %v but got %v", tunnelOk, got.TunnelOk)
	}
	if !reflect.DeepEqual(got.Details, snap.Details) {
		t.Errorf("expected details %v but got %v", snap.Details, got.Details)
	}
}

func TestCacheMissingKey(t *testing.T) {
	cache := newTestCache(t)

	_, found, err := cache.Get(uuid.New())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Error("expected unknown domain to report not found")
	}
}

func TestCacheDelete(t *testing.T) {
	cache := newTestCache(t)
	domainID := uuid.New()

	if err := cache.Put(domainID, Snapshot{DNSOk: true, CheckedAt: time.Now()}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := cache.Delete(domainID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, found, err := cache.Get(domainID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Error("expected deleted snapshot to be gone")
	}
}
