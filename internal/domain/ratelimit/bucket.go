// Package ratelimit keeps text-generation traffic under a tokens-per-minute ceiling.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const minSleep = 50 * time.Millisecond

// Bucket is a token bucket refilled continuously at perMinute/60 tokens per
// second up to capacity. Acquire only ever delays; callers are admitted in no
// particular order.
type Bucket struct {
	perMinute float64
	capacity  float64

	mu     sync.Mutex
	tokens float64
	last   time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a full bucket. A non-positive capacity defaults to perMinute.
func New(perMinute, capacity int) *Bucket {
	if perMinute <= 0 {
		perMinute = 1
	}
	if capacity <= 0 {
		capacity = perMinute
	}
	b := &Bucket{
		perMinute: float64(perMinute),
		capacity:  float64(capacity),
		now:       time.Now,
		sleep:     sleepCtx,
	}
	b.tokens = b.capacity
	b.last = b.now()
	return b
}

// Acquire blocks until n tokens are available and debits them. Requests
// above capacity are clamped to capacity so they are eventually admitted.
func (b *Bucket) Acquire(ctx context.Context, n int) error {
	want := float64(max(n, 1))
	if want > b.capacity {
		want = b.capacity
	}
	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= want {
			b.tokens -= want
			b.mu.Unlock()
			return nil
		}
		wait := time.Duration((want - b.tokens) / b.ratePerSecond() * float64(time.Second))
		b.mu.Unlock()

		if wait < minSleep {
			wait = minSleep
		}
		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Available refills and reports the current token count.
func (b *Bucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

func (b *Bucket) ratePerSecond() float64 { return b.perMinute / 60 }

func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.ratePerSecond())
	}
	b.last = now
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
