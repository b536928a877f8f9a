package catalog_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/hellmich/nscache-go/cachekey"
	"github.com/hellmich/nscache-go/cachekv/cachekvtest"
	"github.com/hellmich/nscache-go/catalog"
	"github.com/hellmich/nscache-go/catalog/catalogtest"
	"github.com/hellmich/nscache-go/config"
)

func newCatalog(t *testing.T, mode catalog.ResolutionMode) (*catalog.CachingCatalog, *catalogtest.Delegate, *cachekvtest.Fake) {
	t.Helper()
	delegate := catalogtest.New()
	cache := cachekvtest.New()
	cfg := config.DefaultConfig()
	cfg.MemcachedServers = []string{"127.0.0.1:6379"}
	cfg.SymLinkLimit = 3
	sec := catalog.SecurityContext{UID: 0, GID: 0}
	cc := catalog.New(delegate, cache, cfg, mode, sec, nil)
	return cc, delegate, cache
}

// S1: create then stat.
func TestCreateThenStat(t *testing.T) {
	ctx := context.Background()
	cc, delegate, cache := newCatalog(t, catalog.ResolutionPOSIX)

	if err := delegate.MkdirAll("/a/b", 0755); err != nil {
		t.Fatalf("seed MkdirAll: %v", err)
	}

	if err := cc.Create(ctx, "/a/b/c", 0644); err != nil {
		t.Fatalf("Create: %v", err)
	}

	st, err := cc.ExtendedStat(ctx, "/a/b/c", true)
	if err != nil {
		t.Fatalf("ExtendedStat: %v", err)
	}
	if st.Mode&07777 != 0644 {
		t.Fatalf("mode = %o, want 0644", st.Mode&07777)
	}
	if st.Size != 0 {
		t.Fatalf("size = %d, want 0", st.Size)
	}
	if st.Nlink != 1 {
		t.Fatalf("nlink = %d, want 1", st.Nlink)
	}

	statKey := cachekey.Key(cachekey.SchemeHashed, cachekey.KindStat, "/a/b/c")
	if !cache.Contains(statKey) {
		t.Fatalf("expected STAT(/a/b/c) to be cached after the read")
	}
	parentStatKey := cachekey.Key(cachekey.SchemeHashed, cachekey.KindStat, "/a/b")
	if !cache.Contains(parentStatKey) {
		t.Fatalf("expected STAT(/a/b) to be cached (fetched while resolving /a/b/c's parent)")
	}
	dirListKey := cachekey.Key(cachekey.SchemeHashed, cachekey.KindDirList, "/a/b")
	if cache.Contains(dirListKey) {
		t.Fatalf("expected DIR_LIST(/a/b) to be invalidated by create, found cached")
	}
}

// S3: rename across directories.
func TestRenameAcrossDirectories(t *testing.T) {
	ctx := context.Background()
	cc, delegate, cache := newCatalog(t, catalog.ResolutionPOSIX)

	mustMkdirAll(t, delegate, "/a")
	mustMkdirAll(t, delegate, "/b")
	if err := cc.Create(ctx, "/a/x", 0644); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := cc.ExtendedStat(ctx, "/a/x", true); err != nil {
		t.Fatalf("warm stat: %v", err)
	}
	if _, err := cc.GetReplicas(ctx, "/a/x"); err != nil {
		t.Fatalf("warm replica list: %v", err)
	}

	if err := cc.Rename(ctx, "/a/x", "/b/y"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	for _, k := range []string{
		cachekey.Key(cachekey.SchemeHashed, cachekey.KindStat, "/a/x"),
		cachekey.Key(cachekey.SchemeHashed, cachekey.KindDir, "/a"),
		cachekey.Key(cachekey.SchemeHashed, cachekey.KindDirList, "/a"),
		cachekey.Key(cachekey.SchemeHashed, cachekey.KindReplicaList, "/a/x"),
		cachekey.Key(cachekey.SchemeHashed, cachekey.KindStat, "/a"),
		cachekey.Key(cachekey.SchemeHashed, cachekey.KindStat, "/b"),
		cachekey.Key(cachekey.SchemeHashed, cachekey.KindDir, "/b"),
		cachekey.Key(cachekey.SchemeHashed, cachekey.KindDirList, "/b"),
	} {
		if cache.Contains(k) {
			t.Fatalf("expected key %s to be invalidated by rename, found cached", k)
		}
	}

	st, err := cc.ExtendedStat(ctx, "/b/y", true)
	if err != nil {
		t.Fatalf("stat /b/y: %v", err)
	}
	if st.Name != "y" {
		t.Fatalf("name = %q, want y", st.Name)
	}
}

// S4: symlink loop exceeds the configured hop bound.
func TestSymlinkLoopExceedsBound(t *testing.T) {
	ctx := context.Background()
	cc, delegate, _ := newCatalog(t, catalog.ResolutionPOSIX)

	if err := delegate.Symlink(ctx, "/l2", "/l1"); err != nil {
		t.Fatalf("seed symlink l1: %v", err)
	}
	if err := delegate.Symlink(ctx, "/l1", "/l2"); err != nil {
		t.Fatalf("seed symlink l2: %v", err)
	}

	_, err := cc.ExtendedStat(ctx, "/l1", true)
	if err == nil {
		t.Fatalf("expected a loop-exceeded error")
	}
	if catalog.CodeOf(err) != catalog.CodeLoopExceeded {
		t.Fatalf("code = %v, want CodeLoopExceeded", catalog.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "Symbolic links limit exceeded: > 3") {
		t.Fatalf("error message = %q, want the hop bound echoed", err.Error())
	}
}

// S5: checksum coherence between the legacy pair and the long-form
// xattr, in both directions.
func TestChecksumCoherence(t *testing.T) {
	ctx := context.Background()
	cc, delegate, _ := newCatalog(t, catalog.ResolutionPOSIX)
	mustMkdirAll(t, delegate, "/")
	if err := cc.Create(ctx, "/f", 0644); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := cc.SetChecksum(ctx, "/f", "AD", "0xdeadbeef"); err != nil {
		t.Fatalf("SetChecksum: %v", err)
	}
	st, err := cc.ExtendedStat(ctx, "/f", true)
	if err != nil {
		t.Fatalf("ExtendedStat: %v", err)
	}
	if st.CSumType != "AD" || st.CSumValue != "0xdeadbeef" {
		t.Fatalf("legacy pair = (%s,%s), want (AD,0xdeadbeef)", st.CSumType, st.CSumValue)
	}
	if st.Xattr["checksum.adler32"] != "0xdeadbeef" {
		t.Fatalf("xattr checksum.adler32 = %q, want 0xdeadbeef", st.Xattr["checksum.adler32"])
	}

	if err := cc.UpdateExtendedAttributes(ctx, "/f", map[string]string{"checksum.md5": "abc"}); err != nil {
		t.Fatalf("UpdateExtendedAttributes: %v", err)
	}
	st, err = cc.ExtendedStat(ctx, "/f", true)
	if err != nil {
		t.Fatalf("ExtendedStat after update: %v", err)
	}
	if st.Xattr["checksum.md5"] != "abc" {
		t.Fatalf("xattr checksum.md5 = %q, want abc", st.Xattr["checksum.md5"])
	}
	if st.CSumType != "MD" || st.CSumValue != "abc" {
		t.Fatalf("legacy pair after update = (%s,%s), want (MD,abc)", st.CSumType, st.CSumValue)
	}
}

// S6 / property 7: every operation still succeeds, reading through the
// delegate, when the cache backend is entirely down.
func TestCacheOfflineLiveness(t *testing.T) {
	ctx := context.Background()
	cc, delegate, cache := newCatalog(t, catalog.ResolutionPOSIX)
	mustMkdirAll(t, delegate, "/a")
	cache.Down = true

	if err := cc.Create(ctx, "/a/f", 0644); err != nil {
		t.Fatalf("Create with cache down: %v", err)
	}
	if _, err := cc.ExtendedStat(ctx, "/a/f", true); err != nil {
		t.Fatalf("ExtendedStat with cache down: %v", err)
	}
	cur, err := cc.OpenDir(ctx, "/a")
	if err != nil {
		t.Fatalf("OpenDir with cache down: %v", err)
	}
	for {
		st, err := cc.ReadDirx(ctx, cur)
		if err != nil {
			t.Fatalf("ReadDirx with cache down: %v", err)
		}
		if st == nil {
			break
		}
	}
	if err := cc.CloseDir(ctx, cur); err != nil {
		t.Fatalf("CloseDir with cache down: %v", err)
	}
	if err := cc.Unlink(ctx, "/a/f"); err != nil {
		t.Fatalf("Unlink with cache down: %v", err)
	}
	if err := cc.Rename(ctx, "/a", "/b"); err != nil {
		t.Fatalf("Rename with cache down: %v", err)
	}
}

// Property 1: a read immediately following a write through the same
// process observes the post-write state, even though the cached STAT
// entry was invalidated rather than updated in place.
func TestReadCoherenceAfterLocalWrite(t *testing.T) {
	ctx := context.Background()
	cc, delegate, _ := newCatalog(t, catalog.ResolutionPOSIX)
	mustMkdirAll(t, delegate, "/")
	if err := cc.Create(ctx, "/f", 0644); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := cc.ExtendedStat(ctx, "/f", true); err != nil {
		t.Fatalf("warm stat: %v", err)
	}
	if err := cc.SetMode(ctx, "/f", 0600); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	st, err := cc.ExtendedStat(ctx, "/f", true)
	if err != nil {
		t.Fatalf("ExtendedStat: %v", err)
	}
	if st.Mode&07777 != 0600 {
		t.Fatalf("mode = %o, want 0600 immediately after SetMode", st.Mode&07777)
	}
}

// S2 / property 2: exactly one of two concurrent openDir calls on the
// same directory, sharing the same cache and delegate, becomes the
// listing builder; both observe the same final set of names.
func TestDirectoryListingSingleBuilder(t *testing.T) {
	ctx := context.Background()
	delegate := catalogtest.New()
	mustMkdirAll(t, delegate, "/d")
	for _, name := range []string{"a", "b", "c"} {
		if err := delegate.Touch("/d/"+name, 0644); err != nil {
			t.Fatalf("seed /d/%s: %v", name, err)
		}
	}
	cache := cachekvtest.New()
	cfg := config.DefaultConfig()
	cfg.MemcachedServers = []string{"127.0.0.1:6379"}
	sec := catalog.SecurityContext{UID: 0}

	ccA := catalog.New(delegate, cache, cfg, catalog.ResolutionPOSIX, sec, nil)
	ccB := catalog.New(delegate, cache, cfg, catalog.ResolutionPOSIX, sec, nil)

	listAll := func(cc *catalog.CachingCatalog) []string {
		cur, err := cc.OpenDir(ctx, "/d")
		if err != nil {
			t.Fatalf("OpenDir: %v", err)
		}
		defer cc.CloseDir(ctx, cur)
		var names []string
		for {
			d, err := cc.ReadDir(ctx, cur)
			if err != nil {
				t.Fatalf("ReadDir: %v", err)
			}
			if d == nil {
				break
			}
			names = append(names, d.Name)
		}
		return names
	}

	var wg sync.WaitGroup
	var namesA, namesB []string
	wg.Add(2)
	go func() { defer wg.Done(); namesA = listAll(ccA) }()
	go func() { defer wg.Done(); namesB = listAll(ccB) }()
	wg.Wait()

	if len(namesA) != 3 || len(namesB) != 3 {
		t.Fatalf("got %d and %d names, want 3 and 3: %v / %v", len(namesA), len(namesB), namesA, namesB)
	}
	if strings.Join(namesA, ",") != strings.Join(namesB, ",") {
		t.Fatalf("the two cursors observed different names: %v / %v", namesA, namesB)
	}
	dirListKey := cachekey.Key(cachekey.SchemeHashed, cachekey.KindDirList, "/d")
	if !cache.Contains(dirListKey) {
		t.Fatalf("expected the builder to publish DIR_LIST(/d)")
	}
}

// Flat resolution must keep follow and no-follow stats of the same
// symlink apart: a cached no-follow stat must never be served to a
// followed lookup, and vice versa.
func TestFlatModeSymlinkFollowNamespaces(t *testing.T) {
	ctx := context.Background()
	cc, delegate, _ := newCatalog(t, catalog.ResolutionFlat)

	if err := delegate.Create(ctx, "/target", 0644); err != nil {
		t.Fatalf("seed /target: %v", err)
	}
	if err := delegate.Symlink(ctx, "/target", "/link"); err != nil {
		t.Fatalf("seed /link: %v", err)
	}

	// Warm both variants, then read both again from the cache.
	for i := 0; i < 2; i++ {
		linkSt, err := cc.ExtendedStat(ctx, "/link", false)
		if err != nil {
			t.Fatalf("no-follow stat: %v", err)
		}
		if !linkSt.IsSymlink() {
			t.Fatalf("no-follow stat returned mode %o, want a symlink", linkSt.Mode)
		}
		targetSt, err := cc.ExtendedStat(ctx, "/link", true)
		if err != nil {
			t.Fatalf("followed stat: %v", err)
		}
		if targetSt.IsSymlink() || targetSt.Name != "target" {
			t.Fatalf("followed stat returned %q (mode %o), want the target", targetSt.Name, targetSt.Mode)
		}
	}
}

// Invalidation fan-out for unlink: exactly the STAT, RPLI and parent
// directory-coordination keys disappear; an unrelated sibling's STAT
// entry survives.
func TestUnlinkInvalidationFanOut(t *testing.T) {
	ctx := context.Background()
	cc, delegate, cache := newCatalog(t, catalog.ResolutionPOSIX)
	mustMkdirAll(t, delegate, "/a")
	if err := cc.Create(ctx, "/a/f", 0644); err != nil {
		t.Fatalf("Create /a/f: %v", err)
	}
	if err := cc.Create(ctx, "/a/g", 0644); err != nil {
		t.Fatalf("Create /a/g: %v", err)
	}
	if _, err := cc.ExtendedStat(ctx, "/a/f", true); err != nil {
		t.Fatalf("warm stat /a/f: %v", err)
	}
	if _, err := cc.ExtendedStat(ctx, "/a/g", true); err != nil {
		t.Fatalf("warm stat /a/g: %v", err)
	}

	if err := cc.Unlink(ctx, "/a/f"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}

	for _, k := range []string{
		cachekey.Key(cachekey.SchemeHashed, cachekey.KindStat, "/a/f"),
		cachekey.Key(cachekey.SchemeHashed, cachekey.KindReplicaList, "/a/f"),
		cachekey.Key(cachekey.SchemeHashed, cachekey.KindStat, "/a"),
		cachekey.Key(cachekey.SchemeHashed, cachekey.KindDirList, "/a"),
		cachekey.Key(cachekey.SchemeHashed, cachekey.KindDir, "/a"),
	} {
		if cache.Contains(k) {
			t.Fatalf("expected key %s to be invalidated by unlink, found cached", k)
		}
	}
	siblingKey := cachekey.Key(cachekey.SchemeHashed, cachekey.KindStat, "/a/g")
	if !cache.Contains(siblingKey) {
		t.Fatalf("unlink of /a/f must not touch STAT(/a/g)")
	}
}

func mustMkdirAll(t *testing.T, d *catalogtest.Delegate, p string) {
	t.Helper()
	if err := d.MkdirAll(p, 0755); err != nil {
		t.Fatalf("MkdirAll(%s): %v", p, err)
	}
}
