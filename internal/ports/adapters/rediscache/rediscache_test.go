package rediscache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forPelevin/clipper/internal/ports"
)

type fakeKV struct {
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	b, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(b), nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value any, exp time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = value.([]byte)
	f.ttls[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func TestCache_RoundTrip(t *testing.T) {
	kv := &fakeKV{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
	c := New(kv, time.Hour)

	if _, err := c.Get(context.Background(), "videos/a.mp4"); !errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on miss, got %v", err)
	}
	if err := c.Put(context.Background(), "videos/a.mp4", []byte("[]")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if kv.ttls["clipper:moments:videos/a.mp4"] != time.Hour {
		t.Fatalf("expected ttl on the prefixed key, got %v", kv.ttls)
	}
	b, err := c.Get(context.Background(), "videos/a.mp4")
	if err != nil || string(b) != "[]" {
		t.Fatalf("unexpected get: %q %v", b, err)
	}
}

func TestCache_BackendErrors(t *testing.T) {
	c := New(&fakeKV{err: errors.New("connection refused")}, 0)
	if c.ttl != DefaultTTL {
		t.Fatalf("expected default ttl, got %v", c.ttl)
	}
	_, err := c.Get(context.Background(), "k")
	if err == nil || errors.Is(err, ports.ErrNotFound) {
		t.Fatalf("expected a backend error distinct from a miss, got %v", err)
	}
	if err := c.Put(context.Background(), "k", []byte("x")); err == nil {
		t.Fatal("expected put error")
	}
}
