package cachekv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hellmich/nscache-go/config"
)

// redisCmdable is the subset of *redis.Client and *redis.Ring this
// package uses, so a single implementation below serves both hash
// distribution modes.
type redisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
	Append(ctx context.Context, key, value string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Close() error
}

// RedisClient is the distributed-backend implementation of Client. A
// single *redis.Client gives the default (modulo) hash distribution, a
// *redis.Ring gives the consistent-hash distribution, matching
// MemcachedHashDistribution.
type RedisClient struct {
	rdb redisCmdable
}

// NewRedisClient builds a RedisClient from a Config, choosing between a
// single-endpoint client and a consistent-hash ring according to
// cfg.MemcachedHashDistribution, and sizing the connection pool from
// cfg.MemcachedPoolSize.
func NewRedisClient(cfg config.Config) (*RedisClient, error) {
	if len(cfg.MemcachedServers) == 0 {
		return nil, fmt.Errorf("cachekv: at least one server is required")
	}
	// A "/weight" suffix is accepted and dropped: neither backend mode
	// weights its servers.
	servers := make([]string, len(cfg.MemcachedServers))
	for i, s := range cfg.MemcachedServers {
		servers[i], _, _ = strings.Cut(s, "/")
	}

	switch cfg.MemcachedHashDistribution {
	case config.DistributionConsistent:
		addrs := make(map[string]string, len(servers))
		for i, s := range servers {
			addrs[fmt.Sprintf("shard%d", i)] = s
		}
		ring := redis.NewRing(&redis.RingOptions{
			Addrs:    addrs,
			PoolSize: cfg.MemcachedPoolSize,
		})
		return &RedisClient{rdb: ring}, nil
	default:
		rdb := redis.NewClient(&redis.Options{
			Addr:     servers[0],
			PoolSize: cfg.MemcachedPoolSize,
		})
		return &RedisClient{rdb: rdb}, nil
	}
}

// NewFromConfig builds the distributed client cfg describes and, when
// cfg.LocalCacheSize is positive, layers the process-local pre-cache
// tier in front of it.
func NewFromConfig(cfg config.Config) (Client, error) {
	rc, err := NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewTieredClient(rc, cfg.LocalCacheSize, cfg.MemcachedExpirationLimit), nil
}

// Close releases the underlying connection pool.
func (c *RedisClient) Close() error { return c.rdb.Close() }

func wrapTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
}

func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, wrapTransport(err)
	}
	return b, nil
}

func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapTransport(err)
	}
	return nil
}

func (c *RedisClient) Add(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return wrapTransport(err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (c *RedisClient) Append(ctx context.Context, key string, value []byte) error {
	if err := c.rdb.Append(ctx, key, string(value)).Err(); err != nil {
		return wrapTransport(err)
	}
	return nil
}

func (c *RedisClient) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return wrapTransport(err)
	}
	return nil
}

func (c *RedisClient) DeleteByPrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return wrapTransport(err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return wrapTransport(err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *RedisClient) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := c.rdb.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, wrapTransport(err)
	}
	return v, nil
}

var _ Client = (*RedisClient)(nil)
