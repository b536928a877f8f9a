package catalog

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/hellmich/nscache-go/cachekey"
	"github.com/hellmich/nscache-go/cachekv"
	"github.com/hellmich/nscache-go/config"
	"github.com/hellmich/nscache-go/metrics"
)

// ResolutionMode selects how CachingCatalog walks a path to reach an
// ExtendedStat. It is fixed at construction time and cannot be changed
// afterwards; ExtendedStat checks it on each call to pick the POSIX
// walker or the flat lookup.
type ResolutionMode int

const (
	// ResolutionPOSIX walks every path component, checking permissions
	// and following symlinks (bounded by Config.SymLinkLimit) at each
	// hop, exactly as a POSIX filesystem would.
	ResolutionPOSIX ResolutionMode = iota
	// ResolutionFlat trusts the delegate to resolve the full path in one
	// call and skips the component walk and the permission checks along
	// the way; only the final entry's own permissions are still checked.
	ResolutionFlat
)

// Delegate is the backing, authoritative catalog this package decorates
// with a cache. It owns no cache keys itself; every method here is a
// direct, uncached call through to persistent storage.
type Delegate interface {
	ExtendedStat(ctx context.Context, path string, followSymlink bool) (ExtendedStat, error)
	ExtendedStatByRFN(ctx context.Context, rfn string) (ExtendedStat, error)
	AddReplica(ctx context.Context, r Replica) error
	DeleteReplica(ctx context.Context, r Replica) error
	GetReplicas(ctx context.Context, path string) ([]Replica, error)
	GetReplicaByRFN(ctx context.Context, rfn string) (Replica, error)
	UpdateReplica(ctx context.Context, r Replica) error
	AccessReplica(ctx context.Context, rfn string, mode AccessMode) (bool, error)

	// PathFromInode resolves the canonical path of a file given its
	// inode id, used to derive the RPLI invalidation key for replica
	// mutations that only carry a FileID, never a path.
	PathFromInode(ctx context.Context, ino uint64) (string, error)

	Symlink(ctx context.Context, target, linkPath string) error
	ReadLink(ctx context.Context, path string) (string, error)

	Unlink(ctx context.Context, path string) error
	Create(ctx context.Context, path string, mode uint32) error
	MakeDir(ctx context.Context, path string, mode uint32) error
	Rename(ctx context.Context, oldPath, newPath string) error
	RemoveDir(ctx context.Context, path string) error

	SetMode(ctx context.Context, path string, mode uint32) error
	SetOwner(ctx context.Context, path string, uid, gid uint32) error
	SetSize(ctx context.Context, path string, size int64) error
	SetChecksum(ctx context.Context, path string, csumType, csumValue string) error
	SetACL(ctx context.Context, path string, acl []ACLEntry) error
	Utime(ctx context.Context, path string, atime, mtime time.Time) error
	SetGUID(ctx context.Context, path string, guid string) error
	UpdateExtendedAttributes(ctx context.Context, path string, xattr map[string]string) error

	GetComment(ctx context.Context, path string) (string, error)
	SetComment(ctx context.Context, path string, comment string) error

	Umask(ctx context.Context, mask uint32) uint32

	OpenDir(ctx context.Context, path string) (DelegateDirHandle, error)
	CloseDir(ctx context.Context, h DelegateDirHandle) error
	ReadDirx(ctx context.Context, h DelegateDirHandle) (*ExtendedStat, error)

	ChangeDir(ctx context.Context, path string) error
}

// DelegateDirHandle is an opaque handle the delegate uses to track an
// open directory stream; this package never inspects it.
type DelegateDirHandle any

// CachingCatalog decorates a Delegate with a coherent cache: reads that
// can be served from the cache are, and every mutation invalidates
// exactly the keys that could now be stale. It owns no authoritative
// state; a cache outage degrades every read to a direct delegate call
// and never blocks a write.
type CachingCatalog struct {
	delegate Delegate
	cache    cachekv.Client
	scheme   cachekey.Scheme
	cfg      config.Config
	mode     ResolutionMode
	sec      SecurityContext
	counter  *metrics.FunctionCounter
	logger   *log.Logger

	cwd     string
	symLink int // hop bound carried from cfg.SymLinkLimit for quick access

	cursors *xsync.MapOf[*DirectoryCursor, struct{}]
}

// ResolutionModeFromConfig maps the MemcachedPOSIX knob to the
// ResolutionMode New expects.
func ResolutionModeFromConfig(cfg config.Config) ResolutionMode {
	if cfg.MemcachedPOSIX {
		return ResolutionPOSIX
	}
	return ResolutionFlat
}

// New builds a CachingCatalog decorating delegate with cache, under cfg.
// mode fixes the path-resolution strategy for the lifetime of the
// returned catalog. logger may be nil to disable logging entirely.
func New(delegate Delegate, cache cachekv.Client, cfg config.Config, mode ResolutionMode, sec SecurityContext, logger *log.Logger) *CachingCatalog {
	var counter *metrics.FunctionCounter
	if cfg.MemcachedFunctionCounter {
		counter = metrics.NewFunctionCounter(logger, cfg.MemcachedFunctionCounterLogFrequency)
	}
	return &CachingCatalog{
		delegate: delegate,
		cache:    cache,
		scheme:   cachekey.SchemeHashed,
		cfg:      cfg,
		mode:     mode,
		sec:      sec,
		counter:  counter,
		logger:   logger,
		cwd:      "/",
		symLink:  cfg.SymLinkLimit,
		cursors:  xsync.NewMapOf[*DirectoryCursor, struct{}](),
	}
}

func (c *CachingCatalog) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

func (c *CachingCatalog) count(op metrics.Op) {
	if c.counter != nil {
		c.counter.Incr(op)
	}
}

func (c *CachingCatalog) ttl() time.Duration {
	return c.cfg.MemcachedExpirationLimit
}

// normalize resolves path against cwd into an absolute, cleaned form.
// It never touches the cache or the delegate.
func (c *CachingCatalog) normalize(p string) string {
	return normalizePath(c.cwd, p)
}

// invalidate deletes one cache key. Failures are swallowed — the
// delegate has already been mutated by the time any invalidation runs,
// so the stale entry only costs its own TTL — but logged, since a
// persistently failing invalidation path is worth an operator's
// attention.
func (c *CachingCatalog) invalidate(ctx context.Context, key string) {
	if err := c.cache.Delete(ctx, key); err != nil {
		c.logf("catalog: invalidate %s: %v", key, err)
	}
}

// invalidateStat wipes both addressings of path's STAT entry: the plain
// key (the entry's own stat) and the flat-mode followed form.
func (c *CachingCatalog) invalidateStat(ctx context.Context, path string) {
	c.invalidate(ctx, cachekey.Key(c.scheme, cachekey.KindStat, path))
	c.invalidate(ctx, cachekey.Key(c.scheme, cachekey.KindStat, followedStatIdentifier(path)))
}

func (c *CachingCatalog) invalidateDirList(ctx context.Context, path string) {
	c.invalidate(ctx, cachekey.Key(c.scheme, cachekey.KindDirList, path))
}

func (c *CachingCatalog) invalidateDirToken(ctx context.Context, path string) {
	c.invalidate(ctx, cachekey.Key(c.scheme, cachekey.KindDir, path))
}

func (c *CachingCatalog) invalidateReplicaList(ctx context.Context, path string) {
	c.invalidate(ctx, cachekey.Key(c.scheme, cachekey.KindReplicaList, path))
}

func (c *CachingCatalog) invalidateReplica(ctx context.Context, rfn string) {
	c.invalidate(ctx, cachekey.Key(c.scheme, cachekey.KindReplica, rfn))
}

func (c *CachingCatalog) invalidateComment(ctx context.Context, path string) {
	c.invalidate(ctx, cachekey.Key(c.scheme, cachekey.KindComment, path))
}

func (c *CachingCatalog) invalidateSymlink(ctx context.Context, path string) {
	c.invalidate(ctx, cachekey.Key(c.scheme, cachekey.KindSymlink, path))
}

// invalidateDirEntry wipes all three directory-coordination keys (STAT,
// DIR_LIST, DIR token) for path, the set every mutation of a directory's
// own membership touches on that directory.
func (c *CachingCatalog) invalidateDirEntry(ctx context.Context, path string) {
	c.invalidateStat(ctx, path)
	c.invalidateDirList(ctx, path)
	c.invalidateDirToken(ctx, path)
}

// invalidateAncestors walks up to cfg.AncestorReportDepth parents of
// path, invalidating each one's STAT key. Zero depth (the default)
// disables this entirely; it only matters when the backing store
// propagates size accounting into ancestor directory stats.
func (c *CachingCatalog) invalidateAncestors(ctx context.Context, path string) {
	cur := path
	for i := 0; i < c.cfg.AncestorReportDepth; i++ {
		parent := parentOf(cur)
		if parent == cur {
			return
		}
		c.invalidateStat(ctx, parent)
		cur = parent
	}
}

// wrapDelegateErr propagates a delegate error unchanged if it already
// carries a Code (the delegate is expected to return *CatalogError for
// POSIX-style failures), and wraps anything else as CodeDelegateFailure.
func wrapDelegateErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CatalogError
	if errors.As(err, &ce) {
		return err
	}
	return newErr(op, path, CodeDelegateFailure, err)
}
