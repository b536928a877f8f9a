package cachekv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisClient(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return &RedisClient{rdb: rdb}, mr
}

func TestRedisClient_SetGetRoundTrip(t *testing.T) {
	c, _ := newTestRedisClient(t)
	ctx := context.Background()

	if err := c.Set(ctx, "STAT:a", []byte("hello"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := c.Get(ctx, "STAT:a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestRedisClient_GetMissingReturnsErrNotFound(t *testing.T) {
	c, _ := newTestRedisClient(t)
	_, err := c.Get(context.Background(), "STAT:missing")
	if err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRedisClient_AddIsAtomicCreateIfAbsent(t *testing.T) {
	c, _ := newTestRedisClient(t)
	ctx := context.Background()

	if err := c.Add(ctx, "DIR:a", []byte("builder-1"), time.Minute); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := c.Add(ctx, "DIR:a", []byte("builder-2"), time.Minute); err != ErrExists {
		t.Fatalf("second Add: got %v, want ErrExists", err)
	}
	got, err := c.Get(ctx, "DIR:a")
	if err != nil || string(got) != "builder-1" {
		t.Fatalf("Add must not overwrite the winner: got %q, err %v", got, err)
	}
}

func TestRedisClient_DeleteByPrefix(t *testing.T) {
	c, _ := newTestRedisClient(t)
	ctx := context.Background()

	for _, k := range []string{"STAT:a", "STAT:b", "DIR:a"} {
		if err := c.Set(ctx, k, []byte("v"), time.Minute); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	if err := c.DeleteByPrefix(ctx, "STAT:"); err != nil {
		t.Fatalf("DeleteByPrefix: %v", err)
	}
	if _, err := c.Get(ctx, "STAT:a"); err != ErrNotFound {
		t.Fatalf("STAT:a should be gone, got err=%v", err)
	}
	if _, err := c.Get(ctx, "STAT:b"); err != ErrNotFound {
		t.Fatalf("STAT:b should be gone, got err=%v", err)
	}
	if _, err := c.Get(ctx, "DIR:a"); err != nil {
		t.Fatalf("DIR:a should survive a STAT: prefix delete, got err=%v", err)
	}
}

func TestRedisClient_Increment(t *testing.T) {
	c, _ := newTestRedisClient(t)
	ctx := context.Background()

	v, err := c.Increment(ctx, "CNT:open_dir", 1)
	if err != nil || v != 1 {
		t.Fatalf("first Increment: v=%d err=%v", v, err)
	}
	v, err = c.Increment(ctx, "CNT:open_dir", 4)
	if err != nil || v != 5 {
		t.Fatalf("second Increment: v=%d err=%v", v, err)
	}
}

func TestRedisClient_GetAfterServerCloseIsCacheUnavailable(t *testing.T) {
	c, mr := newTestRedisClient(t)
	mr.Close()

	_, err := c.Get(context.Background(), "STAT:a")
	if !errors.Is(err, ErrCacheUnavailable) {
		t.Fatalf("expected ErrCacheUnavailable once the backend is unreachable, got %v", err)
	}
}
