// Package cachekvtest provides an in-memory cachekv.Client for tests,
// including the ability to simulate a cache outage so callers can
// exercise the cache-offline-liveness property of the caching catalog.
package cachekvtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hellmich/nscache-go/cachekv"
)

// Fake is a goroutine-safe, in-memory cachekv.Client. Down, when set,
// makes every method return cachekv.ErrCacheUnavailable, regardless of
// the in-memory contents.
type Fake struct {
	mu   sync.Mutex
	data map[string][]byte
	ctr  map[string]int64
	Down bool

	// Calls counts invocations per method name, for assertions that an
	// operation did or did not touch the cache.
	Calls map[string]int
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{data: make(map[string][]byte), ctr: make(map[string]int64), Calls: make(map[string]int)}
}

func (f *Fake) count(method string) {
	f.Calls[method]++
}

func (f *Fake) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("Get")
	if f.Down {
		return nil, cachekv.ErrCacheUnavailable
	}
	v, ok := f.data[key]
	if !ok {
		return nil, cachekv.ErrNotFound
	}
	return v, nil
}

func (f *Fake) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("Set")
	if f.Down {
		return cachekv.ErrCacheUnavailable
	}
	f.data[key] = value
	return nil
}

func (f *Fake) Add(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("Add")
	if f.Down {
		return cachekv.ErrCacheUnavailable
	}
	if _, ok := f.data[key]; ok {
		return cachekv.ErrExists
	}
	f.data[key] = value
	return nil
}

func (f *Fake) Append(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("Append")
	if f.Down {
		return cachekv.ErrCacheUnavailable
	}
	f.data[key] = append(f.data[key], value...)
	return nil
}

func (f *Fake) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("Delete")
	if f.Down {
		return cachekv.ErrCacheUnavailable
	}
	delete(f.data, key)
	return nil
}

func (f *Fake) DeleteByPrefix(ctx context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("DeleteByPrefix")
	if f.Down {
		return cachekv.ErrCacheUnavailable
	}
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			delete(f.data, k)
		}
	}
	return nil
}

func (f *Fake) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("Increment")
	if f.Down {
		return 0, cachekv.ErrCacheUnavailable
	}
	f.ctr[key] += delta
	return f.ctr[key], nil
}

// Contains reports whether key is currently stored, bypassing Down.
func (f *Fake) Contains(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok
}

var _ cachekv.Client = (*Fake)(nil)
