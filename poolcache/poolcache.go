// Package poolcache decorates a pool manager with the same cache-client
// and codec machinery catalog uses, caching only the one read worth it:
// WhereToRead. Every mutating call and every other read is pure
// pass-through, since pool metadata is low-rate and the delegate is
// already authoritative for it.
package poolcache

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/hellmich/nscache-go/cachekey"
	"github.com/hellmich/nscache-go/cachekv"
	"github.com/hellmich/nscache-go/catalog"
	"github.com/hellmich/nscache-go/codec"
	"github.com/hellmich/nscache-go/config"
	"github.com/hellmich/nscache-go/metrics"
)

// Availability filters which pools GetPools returns.
type Availability int

const (
	AvailabilityAny Availability = iota
	AvailabilityOnlyAvailable
)

// Pool is the metadata describing a storage pool.
type Pool struct {
	Name         string
	Type         string
	Availability Availability
	Extra        map[string]string
}

// Location is a single access point a client can use to read or write
// replica data: a protocol-qualified URL plus whatever extra parameters
// the protocol needs (often including a short-lived security token).
type Location struct {
	Protocol string
	URL      string
	RFN      string
	Extra    map[string]string
}

// Delegate is the backing, authoritative pool manager this package
// decorates. Every method is a direct, uncached call through to the
// pool manager implementation.
type Delegate interface {
	GetPools(ctx context.Context, availability Availability) ([]Pool, error)
	GetPool(ctx context.Context, name string) (Pool, error)
	NewPool(ctx context.Context, p Pool) error
	UpdatePool(ctx context.Context, p Pool) error
	DeletePool(ctx context.Context, name string) error

	WhereToRead(ctx context.Context, path string) ([]Location, error)
	WhereToReadByInode(ctx context.Context, ino uint64) ([]Location, error)
	WhereToWrite(ctx context.Context, path string) ([]Location, error)
	CancelWrite(ctx context.Context, loc Location) error
}

// PoolManagerCacheShim is the sibling decorator to catalog.CachingCatalog:
// same cache client and wire codec, a disjoint set of cached keys.
type PoolManagerCacheShim struct {
	delegate Delegate
	cache    cachekv.Client
	scheme   cachekey.Scheme
	cfg      config.Config
	counter  *metrics.FunctionCounter
	logger   *log.Logger
}

// New builds a PoolManagerCacheShim decorating delegate with cache, under
// cfg. logger may be nil to disable logging entirely.
func New(delegate Delegate, cache cachekv.Client, cfg config.Config, logger *log.Logger) *PoolManagerCacheShim {
	var counter *metrics.FunctionCounter
	if cfg.MemcachedFunctionCounter {
		counter = metrics.NewFunctionCounter(logger, cfg.MemcachedFunctionCounterLogFrequency)
	}
	return &PoolManagerCacheShim{
		delegate: delegate,
		cache:    cache,
		scheme:   cachekey.SchemeHashed,
		cfg:      cfg,
		counter:  counter,
		logger:   logger,
	}
}

func (s *PoolManagerCacheShim) count(op metrics.Op) {
	if s.counter != nil {
		s.counter.Incr(op)
	}
}

func (s *PoolManagerCacheShim) ttl() time.Duration {
	return s.cfg.MemcachedExpirationLimit
}

func wrapDelegateErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var ce *catalog.CatalogError
	if errors.As(err, &ce) {
		return err
	}
	return catalog.NewError(catalog.CodeDelegateFailure, op, path, err)
}

// GetPools returns every pool matching availability. Pure pass-through:
// pool listings are low-rate and not worth a staleness window.
func (s *PoolManagerCacheShim) GetPools(ctx context.Context, availability Availability) ([]Pool, error) {
	s.count(metrics.OpGetPools)
	pools, err := s.delegate.GetPools(ctx, availability)
	if err != nil {
		return nil, wrapDelegateErr("getpools", "", err)
	}
	return pools, nil
}

// GetPool returns the pool named name. Pure pass-through.
func (s *PoolManagerCacheShim) GetPool(ctx context.Context, name string) (Pool, error) {
	s.count(metrics.OpGetPool)
	p, err := s.delegate.GetPool(ctx, name)
	if err != nil {
		return Pool{}, wrapDelegateErr("getpool", name, err)
	}
	return p, nil
}

// NewPool registers a new pool. Pure pass-through.
func (s *PoolManagerCacheShim) NewPool(ctx context.Context, p Pool) error {
	s.count(metrics.OpNewPool)
	if err := s.delegate.NewPool(ctx, p); err != nil {
		return wrapDelegateErr("newpool", p.Name, err)
	}
	return nil
}

// UpdatePool updates an existing pool's metadata. Pure pass-through.
func (s *PoolManagerCacheShim) UpdatePool(ctx context.Context, p Pool) error {
	s.count(metrics.OpUpdatePool)
	if err := s.delegate.UpdatePool(ctx, p); err != nil {
		return wrapDelegateErr("updatepool", p.Name, err)
	}
	return nil
}

// DeletePool removes a pool. Pure pass-through.
func (s *PoolManagerCacheShim) DeletePool(ctx context.Context, name string) error {
	s.count(metrics.OpDeletePool)
	if err := s.delegate.DeletePool(ctx, name); err != nil {
		return wrapDelegateErr("deletepool", name, err)
	}
	return nil
}

// locationsCacheKey namespaces path- and inode-keyed WhereToRead entries
// under the same kind without colliding: no path may contain a NUL byte,
// so the inode form is prefixed with one.
func locationsCacheKey(scheme cachekey.Scheme, identifier string) string {
	return cachekey.Key(scheme, cachekey.KindLocation, identifier)
}

// WhereToRead returns the locations path's replicas can be read from.
// Cached only when cfg.CacheReadLocations is set: access URLs commonly
// embed short-lived security tokens, so the default posture is
// uncached.
func (s *PoolManagerCacheShim) WhereToRead(ctx context.Context, path string) ([]Location, error) {
	s.count(metrics.OpWhereToRead)
	if !s.cfg.CacheReadLocations {
		locs, err := s.delegate.WhereToRead(ctx, path)
		if err != nil {
			return nil, wrapDelegateErr("wheretoread", path, err)
		}
		return locs, nil
	}

	key := locationsCacheKey(s.scheme, path)
	if raw, ok, err := cachekv.SafeGet(ctx, s.cache, key); err != nil {
		return nil, catalog.NewError(catalog.CodeCacheUnavailable, "wheretoread", path, err)
	} else if ok {
		var locs []Location
		if derr := codec.Unmarshal(raw, &locs); derr == nil {
			return locs, nil
		}
	}

	locs, err := s.delegate.WhereToRead(ctx, path)
	if err != nil {
		return nil, wrapDelegateErr("wheretoread", path, err)
	}
	if encoded, encErr := codec.Marshal(locs); encErr == nil {
		_ = cachekv.SafeSet(ctx, s.cache, key, encoded, s.ttl())
	}
	return locs, nil
}

// WhereToReadByInode is the inode-keyed form of WhereToRead, cached under
// its own namespace of the PRLC kind so a path-keyed lookup and an
// inode-keyed lookup for the same file never alias each other.
func (s *PoolManagerCacheShim) WhereToReadByInode(ctx context.Context, ino uint64) ([]Location, error) {
	s.count(metrics.OpWhereToRead)
	identifier := inodeIdentifier(ino)
	if !s.cfg.CacheReadLocations {
		locs, err := s.delegate.WhereToReadByInode(ctx, ino)
		if err != nil {
			return nil, wrapDelegateErr("wheretoreadbyinode", identifier, err)
		}
		return locs, nil
	}

	key := locationsCacheKey(s.scheme, identifier)
	if raw, ok, err := cachekv.SafeGet(ctx, s.cache, key); err != nil {
		return nil, catalog.NewError(catalog.CodeCacheUnavailable, "wheretoreadbyinode", identifier, err)
	} else if ok {
		var locs []Location
		if derr := codec.Unmarshal(raw, &locs); derr == nil {
			return locs, nil
		}
	}

	locs, err := s.delegate.WhereToReadByInode(ctx, ino)
	if err != nil {
		return nil, wrapDelegateErr("wheretoreadbyinode", identifier, err)
	}
	if encoded, encErr := codec.Marshal(locs); encErr == nil {
		_ = cachekv.SafeSet(ctx, s.cache, key, encoded, s.ttl())
	}
	return locs, nil
}

// inodeIdentifier namespaces an inode-keyed lookup away from path-keyed
// ones; no path may contain a NUL byte, so this prefix can never collide
// with a real path.
func inodeIdentifier(ino uint64) string {
	return "\x00ino:" + strconv.FormatUint(ino, 10)
}

// WhereToWrite returns a location a new replica of path may be written
// to. Pure pass-through: write locations are single-use and never
// profitably cached.
func (s *PoolManagerCacheShim) WhereToWrite(ctx context.Context, path string) ([]Location, error) {
	s.count(metrics.OpWhereToWrite)
	locs, err := s.delegate.WhereToWrite(ctx, path)
	if err != nil {
		return nil, wrapDelegateErr("wheretowrite", path, err)
	}
	return locs, nil
}

// CancelWrite releases a location previously obtained from WhereToWrite
// that will not be used. Pure pass-through.
func (s *PoolManagerCacheShim) CancelWrite(ctx context.Context, loc Location) error {
	s.count(metrics.OpCancelWrite)
	if err := s.delegate.CancelWrite(ctx, loc); err != nil {
		return wrapDelegateErr("cancelwrite", loc.URL, err)
	}
	return nil
}
