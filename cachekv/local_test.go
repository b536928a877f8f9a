package cachekv

import (
	"context"
	"testing"
	"time"
)

type recordingClient struct {
	gets int
	data map[string][]byte
}

func newRecordingClient() *recordingClient { return &recordingClient{data: map[string][]byte{}} }

func (r *recordingClient) Get(ctx context.Context, key string) ([]byte, error) {
	r.gets++
	v, ok := r.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}
func (r *recordingClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	r.data[key] = value
	return nil
}
func (r *recordingClient) Add(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if _, ok := r.data[key]; ok {
		return ErrExists
	}
	r.data[key] = value
	return nil
}
func (r *recordingClient) Append(ctx context.Context, key string, value []byte) error {
	r.data[key] = append(r.data[key], value...)
	return nil
}
func (r *recordingClient) Delete(ctx context.Context, key string) error {
	delete(r.data, key)
	return nil
}
func (r *recordingClient) DeleteByPrefix(ctx context.Context, prefix string) error {
	for k := range r.data {
		delete(r.data, k)
	}
	_ = prefix
	return nil
}
func (r *recordingClient) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return delta, nil
}

func TestTieredClient_ReadThroughHitsLocalOnSecondGet(t *testing.T) {
	upstream := newRecordingClient()
	ctx := context.Background()
	upstream.data["STAT:a"] = []byte("v")

	tc := NewTieredClient(upstream, 100, time.Minute)

	if _, err := tc.Get(ctx, "STAT:a"); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if _, err := tc.Get(ctx, "STAT:a"); err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if upstream.gets != 1 {
		t.Fatalf("expected exactly one upstream Get, got %d", upstream.gets)
	}
}

func TestTieredClient_DeleteInvalidatesLocalCopy(t *testing.T) {
	upstream := newRecordingClient()
	ctx := context.Background()
	tc := NewTieredClient(upstream, 100, time.Minute)

	if err := tc.Set(ctx, "STAT:a", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := tc.Delete(ctx, "STAT:a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := tc.Get(ctx, "STAT:a"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestNewTieredClient_ZeroCapacityReturnsUpstreamUnwrapped(t *testing.T) {
	upstream := newRecordingClient()
	got := NewTieredClient(upstream, 0, time.Minute)
	if got != Client(upstream) {
		t.Fatalf("a zero-capacity local tier must return upstream unwrapped")
	}
}
