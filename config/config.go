// Package config holds the tunables for the caching catalog: the
// distributed backend's connection parameters plus the catalog-level
// behavioral knobs (POSIX resolution, symlink hop bound, ancestor stat
// invalidation depth, directory-listing size ceiling).
package config

import (
	"fmt"
	"time"
)

// HashDistribution selects how keys are spread across backend servers.
type HashDistribution int

const (
	// DistributionDefault hashes keys onto servers with a standard modulo
	// distribution; adding or removing a server reshuffles most keys.
	DistributionDefault HashDistribution = iota
	// DistributionConsistent uses a consistent-hash ring so that adding
	// or removing a server only reshuffles a small fraction of keys.
	DistributionConsistent
)

// Protocol selects the wire protocol used to talk to the backend.
type Protocol int

const (
	ProtocolBinary Protocol = iota
	ProtocolASCII
)

const (
	// defaultExpiration is the MemcachedExpirationLimit DefaultConfig
	// sets. Validate rejects an out-of-range limit; it does not replace it
	// with this default.
	defaultExpiration = 60 * time.Second
	// maxExpirationLimit is the backend's own TTL ceiling.
	maxExpirationLimit = 60 * 60 * 24 * 30 * time.Second
)

// Config is the public, user-facing configuration surface, converted to
// the internal shapes each package needs at construction time.
type Config struct {
	// MemcachedServers lists the backend endpoints, "host:port" or
	// "host:port/weight".
	MemcachedServers []string

	// MemcachedExpirationLimit bounds how long a cache entry may live.
	// Must be positive and stay under 30 days, the backend's own ceiling;
	// Validate rejects any other value. DefaultConfig sets 60 seconds.
	MemcachedExpirationLimit time.Duration

	MemcachedProtocol         Protocol
	MemcachedHashDistribution HashDistribution

	// MemcachedPOSIX selects full POSIX path semantics (component walk,
	// permission bits checked at each level) versus a flat, trusted
	// lookup. It is read once, when the catalog is constructed (see
	// catalog.ResolutionModeFromConfig).
	MemcachedPOSIX bool

	// MemcachedPoolSize is the connection pool size used against the
	// backend.
	MemcachedPoolSize int

	MemcachedFunctionCounter             bool
	MemcachedFunctionCounterLogFrequency int

	// SymLinkLimit bounds the number of symlink hops a single resolution
	// may follow before returning CodeLoopExceeded.
	SymLinkLimit int

	// LocalCacheSize is the capacity, in entries, of the process-local
	// pre-cache tier sitting in front of the distributed backend. Zero
	// disables the local tier.
	LocalCacheSize int

	// AncestorReportDepth bounds how many ancestor directories have their
	// STAT cache entries invalidated when a size change propagates
	// upward. Zero (the default) disables ancestor invalidation entirely.
	AncestorReportDepth int

	// DirListingCeiling bounds the serialized size of a single cached
	// directory listing; a listing that would exceed this is dropped to
	// Invalid rather than truncated. Zero means DefaultDirListingCeiling.
	DirListingCeiling int64

	// CacheReadLocations enables caching of PoolManagerCacheShim.WhereToRead
	// results, keyed by path/inode. Disabled by default: access-URL based
	// replica locations commonly embed short-lived security tokens, so a
	// cached location can outlive its own validity.
	CacheReadLocations bool
}

// DefaultDirListingCeiling is the ceiling applied when Config.DirListingCeiling is zero.
const DefaultDirListingCeiling = 1 << 20 // 1 MiB

// DefaultConfig returns a Config populated with the defaults applied
// when a key is left unset.
func DefaultConfig() Config {
	return Config{
		MemcachedExpirationLimit:             defaultExpiration,
		MemcachedProtocol:                    ProtocolBinary,
		MemcachedHashDistribution:            DistributionDefault,
		MemcachedPOSIX:                       true,
		MemcachedPoolSize:                    1,
		MemcachedFunctionCounter:             false,
		MemcachedFunctionCounterLogFrequency: 0,
		SymLinkLimit:                         16,
		LocalCacheSize:                       0,
		AncestorReportDepth:                  0,
		DirListingCeiling:                    DefaultDirListingCeiling,
	}
}

// Validate reports the first configuration error found.
func (c Config) Validate() error {
	if len(c.MemcachedServers) == 0 {
		return fmt.Errorf("config: at least one memcached server is required")
	}
	if c.MemcachedExpirationLimit <= 0 {
		return fmt.Errorf("config: MemcachedExpirationLimit must be positive")
	}
	if c.MemcachedExpirationLimit >= maxExpirationLimit {
		return fmt.Errorf("config: MemcachedExpirationLimit exceeds the 30 day ceiling")
	}
	if c.MemcachedPoolSize <= 0 {
		return fmt.Errorf("config: MemcachedPoolSize must be positive")
	}
	if c.SymLinkLimit <= 0 {
		return fmt.Errorf("config: SymLinkLimit must be positive")
	}
	if c.LocalCacheSize < 0 {
		return fmt.Errorf("config: LocalCacheSize must not be negative")
	}
	if c.AncestorReportDepth < 0 {
		return fmt.Errorf("config: AncestorReportDepth must not be negative")
	}
	if c.DirListingCeiling < 0 {
		return fmt.Errorf("config: DirListingCeiling must not be negative")
	}
	switch c.MemcachedProtocol {
	case ProtocolBinary, ProtocolASCII:
	default:
		return fmt.Errorf("config: invalid MemcachedProtocol %d", c.MemcachedProtocol)
	}
	switch c.MemcachedHashDistribution {
	case DistributionDefault, DistributionConsistent:
	default:
		return fmt.Errorf("config: invalid MemcachedHashDistribution %d", c.MemcachedHashDistribution)
	}
	return nil
}

// EffectiveDirListingCeiling returns c.DirListingCeiling, or
// DefaultDirListingCeiling if it is unset.
func (c Config) EffectiveDirListingCeiling() int64 {
	if c.DirListingCeiling == 0 {
		return DefaultDirListingCeiling
	}
	return c.DirListingCeiling
}
