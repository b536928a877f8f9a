package catalog

import (
	"context"
	"errors"

	"github.com/hellmich/nscache-go/cachekey"
	"github.com/hellmich/nscache-go/cachekv"
	"github.com/hellmich/nscache-go/codec"
)

// DirectoryCursor drives one openDir/readDirx.../closeDir sequence. It
// is the in-process counterpart to the cross-process DIR coordination
// token: at most one CachingCatalog in the whole deployment ever builds
// a given directory's listing at a time, but every process that opens
// that directory gets its own DirectoryCursor.
type DirectoryCursor struct {
	path  string
	state ListingState

	// names accumulates entries as they are read from the delegate when
	// this cursor won the builder election (state starts Missing); it is
	// published as the cache's DirectoryListing once the delegate stream
	// is exhausted.
	names []string
	size  int64 // running estimate of the published listing's encoded size

	// idx replays a cached Valid listing one name at a time.
	idx    int
	cached []string

	delegateHandle DelegateDirHandle
	isBuilder      bool
}

// openDirectory elects a builder (or a cached replayer) for path and
// returns the cursor driving it. c.delegate.OpenDir is called unless the
// listing is already Valid in the cache.
func (c *CachingCatalog) openDirectory(ctx context.Context, path string) (*DirectoryCursor, error) {
	dirListKey := cachekey.Key(c.scheme, cachekey.KindDirList, path)
	dirTokenKey := cachekey.Key(c.scheme, cachekey.KindDir, path)

	state := ListingMissing
	var cachedNames []string
	if raw, ok, err := cachekv.SafeGet(ctx, c.cache, dirListKey); err != nil {
		return nil, newErr("openDir", path, CodeCacheUnavailable, err)
	} else if ok {
		dl, derr := unmarshalDirListing(raw)
		if derr == nil {
			state = dl.State
			cachedNames = dl.Names
		}
	}

	cur := &DirectoryCursor{path: path}

	if state == ListingValid {
		cur.state = ListingValid
		cur.cached = cachedNames
		c.cursors.Store(cur, struct{}{})
		return cur, nil
	}

	// Not valid: try to become the builder via an atomic create-if-absent
	// on the coordination token. Winning means no one else is building
	// this listing right now.
	addErr := c.cache.Add(ctx, dirTokenKey, []byte("1"), c.ttl())
	switch {
	case addErr == nil:
		cur.state = ListingMissing
		cur.isBuilder = true
	case errors.Is(addErr, cachekv.ErrExists):
		cur.state = ListingInvalid
	default:
		// Cache unavailable: degrade to Invalid, a plain delegate-backed
		// read with no cache contribution, never a hard failure.
		cur.state = ListingInvalid
		c.logf("catalog: openDir %s: cache unavailable, reading through delegate: %v", path, addErr)
	}

	h, err := c.delegate.OpenDir(ctx, path)
	if err != nil {
		return nil, err
	}
	cur.delegateHandle = h
	c.cursors.Store(cur, struct{}{})
	return cur, nil
}

// closeDirectory closes cur, closing the delegate handle unless the
// listing was served entirely from a Valid cache entry.
func (c *CachingCatalog) closeDirectory(ctx context.Context, cur *DirectoryCursor) error {
	c.cursors.Delete(cur)
	if cur.delegateHandle == nil {
		return nil
	}
	return c.delegate.CloseDir(ctx, cur.delegateHandle)
}

// readDirectory advances cur by one entry. A nil ExtendedStat with a nil
// error signals end of directory; if cur was building the listing, the
// accumulated names are published as Valid at that point.
func (c *CachingCatalog) readDirectory(ctx context.Context, cur *DirectoryCursor) (*ExtendedStat, error) {
	switch cur.state {
	case ListingValid:
		return c.readFromCache(ctx, cur)
	case ListingInvalid:
		return c.delegate.ReadDirx(ctx, cur.delegateHandle)
	default: // ListingMissing: we are the builder
		return c.readAndAccumulate(ctx, cur)
	}
}

func (c *CachingCatalog) readAndAccumulate(ctx context.Context, cur *DirectoryCursor) (*ExtendedStat, error) {
	st, err := c.delegate.ReadDirx(ctx, cur.delegateHandle)
	if err != nil {
		return nil, err
	}
	if st == nil {
		c.publishListing(ctx, cur)
		return nil, nil
	}

	if encodedName, nerr := codec.MarshalString(st.Name); nerr == nil {
		cur.size += int64(len(encodedName))
	}
	if cur.size > c.cfg.EffectiveDirListingCeiling() {
		// Defensive drop: stop contributing to the cache for this
		// listing, but keep serving the delegate stream to the
		// caller uninterrupted.
		cur.state = ListingInvalid
		return st, nil
	}

	entry := st.Clone()
	if encoded, encErr := marshalStat(entry); encErr == nil {
		statKey := cachekey.Key(c.scheme, cachekey.KindStat, joinPath(cur.path, st.Name))
		_ = cachekv.SafeSet(ctx, c.cache, statKey, encoded, c.ttl())
	}
	cur.names = append(cur.names, st.Name)
	return st, nil
}

func (c *CachingCatalog) publishListing(ctx context.Context, cur *DirectoryCursor) {
	if !cur.isBuilder || cur.state != ListingMissing {
		return
	}
	dl := DirectoryListing{State: ListingValid, Names: cur.names}
	encoded, err := marshalDirListing(dl)
	if err != nil {
		return
	}
	dirListKey := cachekey.Key(c.scheme, cachekey.KindDirList, cur.path)
	_ = cachekv.SafeSet(ctx, c.cache, dirListKey, encoded, c.ttl())
	cur.state = ListingValid
}

func (c *CachingCatalog) readFromCache(ctx context.Context, cur *DirectoryCursor) (*ExtendedStat, error) {
	if cur.idx >= len(cur.cached) {
		return nil, nil
	}
	name := cur.cached[cur.idx]
	cur.idx++

	statKey := cachekey.Key(c.scheme, cachekey.KindStat, joinPath(cur.path, name))
	if raw, ok, err := cachekv.SafeGet(ctx, c.cache, statKey); err == nil && ok {
		if st, derr := unmarshalStat(raw); derr == nil {
			return &st, nil
		}
	}

	st, err := c.delegate.ExtendedStat(ctx, joinPath(cur.path, name), false)
	if err != nil {
		return nil, err
	}
	if encoded, encErr := marshalStat(st); encErr == nil {
		_ = cachekv.SafeSet(ctx, c.cache, statKey, encoded, c.ttl())
	}
	return &st, nil
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
