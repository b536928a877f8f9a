// Package cachekv provides the key/value client the caching catalog
// stores serialized entities behind: flat GET/SET plus an atomic
// create-if-absent ADD used for the directory-listing coordination
// token.
package cachekv

import (
	"context"
	"errors"
	"time"
)

// ErrCacheUnavailable wraps any error returned by the backend so callers
// can distinguish "the cache is down" from "the key legitimately isn't
// there" without inspecting backend-specific error types.
var ErrCacheUnavailable = errors.New("cachekv: backend unavailable")

// ErrNotFound is returned by Get (and the checked Add on conflict is
// ErrExists, not this) when the key does not exist.
var ErrNotFound = errors.New("cachekv: key not found")

// ErrExists is returned by Add when the key is already present.
var ErrExists = errors.New("cachekv: key already exists")

// Client is the contract the caching catalog programs against. Every
// method that talks to the network takes a context and returns a
// wrapped ErrCacheUnavailable on transport failure, never a panic.
type Client interface {
	// Get returns the raw bytes stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value at key with the given TTL (zero means the
	// backend's configured default).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Add stores value at key only if key does not already exist,
	// atomically. It is the cross-process mutual-exclusion primitive the
	// directory-listing builder election depends on; it is never an
	// in-process mutex.
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Append atomically appends value to whatever is already stored at
	// key, used to grow a directory listing entry by entry.
	Append(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// DeleteByPrefix removes every key starting with prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error
	// Increment atomically adds delta to the integer stored at key,
	// creating it at delta if absent, and returns the new value.
	Increment(ctx context.Context, key string, delta int64) (int64, error)
}

// SafeGet calls Get but swallows ErrCacheUnavailable, returning
// (nil, false, nil) instead: reads treat a cache outage as a plain miss
// rather than an error.
func SafeGet(ctx context.Context, c Client, key string) (value []byte, ok bool, err error) {
	v, err := c.Get(ctx, key)
	switch {
	case err == nil:
		return v, true, nil
	case errors.Is(err, ErrNotFound):
		return nil, false, nil
	case errors.Is(err, ErrCacheUnavailable):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// SafeSet calls Set but swallows ErrCacheUnavailable: a write that can't
// reach the cache is logged by the caller (catalog.CachingCatalog), not
// surfaced as an operation failure, since the delegate write already
// succeeded by the time invalidation runs.
func SafeSet(ctx context.Context, c Client, key string, value []byte, ttl time.Duration) error {
	if err := c.Set(ctx, key, value, ttl); err != nil && !errors.Is(err, ErrCacheUnavailable) {
		return err
	}
	return nil
}

// SafeDelete calls Delete but swallows ErrCacheUnavailable for the same
// reason as SafeSet.
func SafeDelete(ctx context.Context, c Client, key string) error {
	if err := c.Delete(ctx, key); err != nil && !errors.Is(err, ErrCacheUnavailable) {
		return err
	}
	return nil
}

// SafeDeleteByPrefix is the prefix analogue of SafeDelete.
func SafeDeleteByPrefix(ctx context.Context, c Client, prefix string) error {
	if err := c.DeleteByPrefix(ctx, prefix); err != nil && !errors.Is(err, ErrCacheUnavailable) {
		return err
	}
	return nil
}
