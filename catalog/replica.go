package catalog

import (
	"context"

	"github.com/hellmich/nscache-go/cachekey"
	"github.com/hellmich/nscache-go/cachekv"
	"github.com/hellmich/nscache-go/metrics"
)

// pathForInode resolves r.FileID to its canonical path via the
// delegate, for deriving an RPLI invalidation key. A failure here is
// logged and swallowed: the delegate write the caller is invalidating
// after has already succeeded, so a missing path for invalidation only
// costs a stale replica-list entry until its TTL elapses.
func (c *CachingCatalog) pathForInode(ctx context.Context, op string, ino uint64) (string, bool) {
	p, err := c.delegate.PathFromInode(ctx, ino)
	if err != nil {
		c.logf("catalog: %s: could not resolve path for inode %d, replica-list invalidation skipped: %v", op, ino, err)
		return "", false
	}
	return p, true
}

// AddReplica registers a new physical replica of a file.
func (c *CachingCatalog) AddReplica(ctx context.Context, r Replica) error {
	c.count(metrics.OpAddReplica)
	if err := c.delegate.AddReplica(ctx, r); err != nil {
		return wrapDelegateErr("addreplica", r.RFN, err)
	}
	c.invalidateReplica(ctx, r.RFN)
	if p, ok := c.pathForInode(ctx, "addreplica", r.FileID); ok {
		c.invalidateStat(ctx, p)
		c.invalidateReplicaList(ctx, p)
	}
	return nil
}

// DeleteReplica removes a physical replica.
func (c *CachingCatalog) DeleteReplica(ctx context.Context, r Replica) error {
	c.count(metrics.OpDeleteReplica)
	if err := c.delegate.DeleteReplica(ctx, r); err != nil {
		return wrapDelegateErr("deletereplica", r.RFN, err)
	}
	c.invalidateReplica(ctx, r.RFN)
	if p, ok := c.pathForInode(ctx, "deletereplica", r.FileID); ok {
		c.invalidateReplicaList(ctx, p)
	}
	return nil
}

// UpdateReplica persists changes to an existing replica record.
func (c *CachingCatalog) UpdateReplica(ctx context.Context, r Replica) error {
	c.count(metrics.OpUpdateReplica)
	if err := c.delegate.UpdateReplica(ctx, r); err != nil {
		return wrapDelegateErr("updatereplica", r.RFN, err)
	}
	c.invalidateReplica(ctx, r.RFN)
	if p, ok := c.pathForInode(ctx, "updatereplica", r.FileID); ok {
		c.invalidateReplicaList(ctx, p)
	}
	return nil
}

// GetReplicas returns every replica of the file at path. The cached
// list, when present, is always complete: a partial list is never
// cached (see DirectoryListing's analogous invariant).
func (c *CachingCatalog) GetReplicas(ctx context.Context, p string) ([]Replica, error) {
	c.count(metrics.OpGetReplicas)
	abs := c.normalize(p)
	st, err := c.ExtendedStat(ctx, abs, true)
	if err != nil {
		return nil, err
	}
	if !checkAccess(st, c.sec, AccessRead) {
		return nil, newErr("getreplicas", p, CodePermissionDenied, nil)
	}

	key := cachekey.Key(c.scheme, cachekey.KindReplicaList, abs)
	if raw, ok, err := cachekv.SafeGet(ctx, c.cache, key); err != nil {
		return nil, newErr("getreplicas", p, CodeCacheUnavailable, err)
	} else if ok {
		if rs, derr := unmarshalReplicaList(raw); derr == nil {
			return rs, nil
		}
	}

	replicas, err := c.delegate.GetReplicas(ctx, abs)
	if err != nil {
		return nil, wrapDelegateErr("getreplicas", p, err)
	}
	if encoded, encErr := marshalReplicaList(replicas); encErr == nil {
		_ = cachekv.SafeSet(ctx, c.cache, key, encoded, c.ttl())
	}
	return replicas, nil
}

// GetReplicaByRFN returns a single replica record by its RFN,
// read-through cached under the REPL kind.
func (c *CachingCatalog) GetReplicaByRFN(ctx context.Context, rfn string) (Replica, error) {
	c.count(metrics.OpGetReplicaByRFN)
	key := cachekey.Key(c.scheme, cachekey.KindReplica, rfn)
	if raw, ok, err := cachekv.SafeGet(ctx, c.cache, key); err != nil {
		return Replica{}, newErr("getreplicabyrfn", rfn, CodeCacheUnavailable, err)
	} else if ok {
		if r, derr := unmarshalReplica(raw); derr == nil {
			return r, nil
		}
	}
	r, err := c.delegate.GetReplicaByRFN(ctx, rfn)
	if err != nil {
		return Replica{}, wrapDelegateErr("getreplicabyrfn", rfn, err)
	}
	if encoded, encErr := marshalReplica(r); encErr == nil {
		_ = cachekv.SafeSet(ctx, c.cache, key, encoded, c.ttl())
	}
	return r, nil
}
