package cachekv

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/viccon/sturdyc"
)

// localTier is a process-local pre-cache sitting in front of a
// distributed Client, backing the LocalCacheSize config knob: a
// sharded, capacity-bounded, TTL-evicted in-memory cache of raw bytes,
// scanned linearly for prefix deletes.
type localTier struct {
	client *sturdyc.Client[[]byte]
	ttl    time.Duration
	mu     sync.RWMutex
}

// newLocalTier builds a local pre-cache of the given entry capacity. A
// capacity of zero means "disabled"; callers check that before
// constructing one.
func newLocalTier(capacity int, ttl time.Duration) *localTier {
	const numShards = 32
	const evictionPercentage = 10
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &localTier{
		client: sturdyc.New[[]byte](capacity, numShards, ttl, evictionPercentage),
		ttl:    ttl,
	}
}

func (l *localTier) get(key string) ([]byte, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.client.Get(key)
}

func (l *localTier) set(key string, value []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.client.Set(key, value)
}

func (l *localTier) delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.client.Delete(key)
}

func (l *localTier) deleteByPrefix(prefix string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, key := range l.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			l.client.Delete(key)
		}
	}
}

// TieredClient layers a localTier read-through cache in front of a
// distributed Client. Reads check the local tier first; writes and
// deletes go to both, local first so a concurrent reader never observes
// a value the distributed backend has already invalidated. Only Get/Set
// results are cached locally: Add and Increment always go straight to
// the distributed backend since their atomicity guarantee cannot be
// satisfied locally in a multi-process deployment.
type TieredClient struct {
	local    *localTier
	upstream Client
}

// NewTieredClient wraps upstream with a local pre-cache of the given
// capacity and TTL. If capacity is zero, upstream is returned unwrapped:
// LocalCacheSize == 0 disables the local tier entirely.
func NewTieredClient(upstream Client, capacity int, ttl time.Duration) Client {
	if capacity <= 0 {
		return upstream
	}
	return &TieredClient{local: newLocalTier(capacity, ttl), upstream: upstream}
}

func (t *TieredClient) Get(ctx context.Context, key string) ([]byte, error) {
	if v, ok := t.local.get(key); ok {
		return v, nil
	}
	v, err := t.upstream.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	t.local.set(key, v)
	return v, nil
}

func (t *TieredClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	t.local.set(key, value)
	return t.upstream.Set(ctx, key, value, ttl)
}

func (t *TieredClient) Add(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return t.upstream.Add(ctx, key, value, ttl)
}

func (t *TieredClient) Append(ctx context.Context, key string, value []byte) error {
	t.local.delete(key)
	return t.upstream.Append(ctx, key, value)
}

func (t *TieredClient) Delete(ctx context.Context, key string) error {
	t.local.delete(key)
	return t.upstream.Delete(ctx, key)
}

func (t *TieredClient) DeleteByPrefix(ctx context.Context, prefix string) error {
	t.local.deleteByPrefix(prefix)
	return t.upstream.DeleteByPrefix(ctx, prefix)
}

func (t *TieredClient) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	t.local.delete(key)
	return t.upstream.Increment(ctx, key, delta)
}

var _ Client = (*TieredClient)(nil)
