package poolcache_test

import (
	"context"
	"testing"

	"github.com/hellmich/nscache-go/cachekey"
	"github.com/hellmich/nscache-go/cachekv/cachekvtest"
	"github.com/hellmich/nscache-go/config"
	"github.com/hellmich/nscache-go/poolcache"
	"github.com/hellmich/nscache-go/poolcache/poolcachetest"
)

func newShim(t *testing.T, cacheReads bool) (*poolcache.PoolManagerCacheShim, *poolcachetest.Delegate, *cachekvtest.Fake) {
	t.Helper()
	delegate := poolcachetest.New()
	cache := cachekvtest.New()
	cfg := config.DefaultConfig()
	cfg.MemcachedServers = []string{"127.0.0.1:6379"}
	cfg.CacheReadLocations = cacheReads
	return poolcache.New(delegate, cache, cfg, nil), delegate, cache
}

func TestPoolLifecyclePassThrough(t *testing.T) {
	ctx := context.Background()
	shim, _, _ := newShim(t, false)

	if err := shim.NewPool(ctx, poolcache.Pool{Name: "pool1", Type: "filesystem"}); err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if err := shim.NewPool(ctx, poolcache.Pool{Name: "pool1"}); err == nil {
		t.Fatalf("expected NewPool to reject a duplicate name")
	}

	p, err := shim.GetPool(ctx, "pool1")
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if p.Type != "filesystem" {
		t.Fatalf("Type = %q, want filesystem", p.Type)
	}

	if err := shim.UpdatePool(ctx, poolcache.Pool{Name: "pool1", Type: "tape"}); err != nil {
		t.Fatalf("UpdatePool: %v", err)
	}
	p, err = shim.GetPool(ctx, "pool1")
	if err != nil {
		t.Fatalf("GetPool after update: %v", err)
	}
	if p.Type != "tape" {
		t.Fatalf("Type after update = %q, want tape", p.Type)
	}

	pools, err := shim.GetPools(ctx, poolcache.AvailabilityAny)
	if err != nil {
		t.Fatalf("GetPools: %v", err)
	}
	if len(pools) != 1 {
		t.Fatalf("len(pools) = %d, want 1", len(pools))
	}

	if err := shim.DeletePool(ctx, "pool1"); err != nil {
		t.Fatalf("DeletePool: %v", err)
	}
	if _, err := shim.GetPool(ctx, "pool1"); err == nil {
		t.Fatalf("expected GetPool to fail after delete")
	}
}

// WhereToRead is pure pass-through when CacheReadLocations is unset
// (the default): every call reaches the delegate.
func TestWhereToReadUncachedByDefault(t *testing.T) {
	ctx := context.Background()
	shim, delegate, cache := newShim(t, false)
	delegate.Locations["/f"] = []poolcache.Location{{Protocol: "xroot", URL: "root://pool1/f?token=abc", RFN: "f"}}

	for i := 0; i < 3; i++ {
		locs, err := shim.WhereToRead(ctx, "/f")
		if err != nil {
			t.Fatalf("WhereToRead: %v", err)
		}
		if len(locs) != 1 || locs[0].URL != "root://pool1/f?token=abc" {
			t.Fatalf("locs = %+v, want one entry for /f", locs)
		}
	}
	if delegate.WhereToReadCalls != 3 {
		t.Fatalf("delegate.WhereToReadCalls = %d, want 3 (no caching)", delegate.WhereToReadCalls)
	}
	key := cachekey.Key(cachekey.SchemeHashed, cachekey.KindLocation, "/f")
	if cache.Contains(key) {
		t.Fatalf("expected no cache entry for /f when CacheReadLocations is unset")
	}
}

// WhereToRead is cached when CacheReadLocations is explicitly enabled:
// only the first call reaches the delegate.
func TestWhereToReadCachedWhenEnabled(t *testing.T) {
	ctx := context.Background()
	shim, delegate, _ := newShim(t, true)
	delegate.Locations["/f"] = []poolcache.Location{{Protocol: "xroot", URL: "root://pool1/f?token=abc", RFN: "f"}}

	for i := 0; i < 3; i++ {
		if _, err := shim.WhereToRead(ctx, "/f"); err != nil {
			t.Fatalf("WhereToRead: %v", err)
		}
	}
	if delegate.WhereToReadCalls != 1 {
		t.Fatalf("delegate.WhereToReadCalls = %d, want 1 (cached after first call)", delegate.WhereToReadCalls)
	}
}

// WhereToReadByInode caches under its own namespace, never aliasing the
// path-keyed form even for the same underlying file.
func TestWhereToReadByInodeSeparateNamespace(t *testing.T) {
	ctx := context.Background()
	shim, delegate, _ := newShim(t, true)
	delegate.Locations["/f"] = []poolcache.Location{{Protocol: "xroot", URL: "root://pool1/f", RFN: "f"}}
	delegate.InodeLocations[42] = []poolcache.Location{{Protocol: "xroot", URL: "root://pool1/by-ino/42", RFN: "f"}}

	pathLocs, err := shim.WhereToRead(ctx, "/f")
	if err != nil {
		t.Fatalf("WhereToRead: %v", err)
	}
	inoLocs, err := shim.WhereToReadByInode(ctx, 42)
	if err != nil {
		t.Fatalf("WhereToReadByInode: %v", err)
	}
	if pathLocs[0].URL == inoLocs[0].URL {
		t.Fatalf("path- and inode-keyed lookups returned the same location, expected distinct namespaces")
	}
	if delegate.WhereToReadCalls != 1 || delegate.WhereToReadByInodeCalls != 1 {
		t.Fatalf("expected exactly one delegate call per form, got %d/%d", delegate.WhereToReadCalls, delegate.WhereToReadByInodeCalls)
	}
}

func TestWhereToWriteAndCancelWritePassThrough(t *testing.T) {
	ctx := context.Background()
	shim, _, _ := newShim(t, false)

	locs, err := shim.WhereToWrite(ctx, "/new")
	if err != nil {
		t.Fatalf("WhereToWrite: %v", err)
	}
	if len(locs) != 1 {
		t.Fatalf("len(locs) = %d, want 1", len(locs))
	}
	if err := shim.CancelWrite(ctx, locs[0]); err != nil {
		t.Fatalf("CancelWrite: %v", err)
	}
}
