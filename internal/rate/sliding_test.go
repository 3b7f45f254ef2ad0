package rate

import (
	"context"
	"testing"
	"time"
)

func TestSlidingWindowBudget(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	limiter := NewSlidingWindow(rdb, "tr", nil)

	for i := 0; i < 3; i++ {
		if !limiter.Allowed(ctx, "send:a@example.com", 3, time.Minute) {
			t.Fatalf("attempt %d unexpectedly rejected", i+1)
		}
	}
	if limiter.Allowed(ctx, "send:a@example.com", 3, time.Minute) {
		t.Fatal("4th attempt should be rejected")
	}
}

func TestSlidingWindowRejectionNotRecorded(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	limiter := NewSlidingWindow(rdb, "tr", nil)

	base := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return base }

	limiter.Allowed(ctx, "id", 1, time.Minute)
	limiter.Allowed(ctx, "id", 1, time.Minute)

	// One second past the first attempt's window the budget frees up,
	// which would not happen if the rejected attempt had been recorded.
	limiter.now = func() time.Time { return base.Add(time.Minute + time.Second) }
	if !limiter.Allowed(ctx, "id", 1, time.Minute) {
		t.Fatal("expected allowance once the recorded attempt aged out")
	}
}

func TestSlidingWindowSlides(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	limiter := NewSlidingWindow(rdb, "tr", nil)

	base := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return base }
	if !limiter.Allowed(ctx, "id", 2, time.Minute) {
		t.Fatal("first attempt rejected")
	}

	limiter.now = func() time.Time { return base.Add(30 * time.Second) }
	if !limiter.Allowed(ctx, "id", 2, time.Minute) {
		t.Fatal("second attempt rejected")
	}
	if limiter.Allowed(ctx, "id", 2, time.Minute) {
		t.Fatal("third attempt inside the window should be rejected")
	}

	// 61s after the first attempt it ages out, but the second is still
	// in the window, leaving room for exactly one.
	limiter.now = func() time.Time { return base.Add(61 * time.Second) }
	if !limiter.Allowed(ctx, "id", 2, time.Minute) {
		t.Fatal("expected one slot after the oldest attempt aged out")
	}
	if limiter.Allowed(ctx, "id", 2, time.Minute) {
		t.Fatal("window is full again")
	}
}

func TestSlidingWindowSubSecondWindow(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	limiter := NewSlidingWindow(rdb, "tr", nil)

	base := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return base }

	// Windows under a second round up to one second; with second
	// resolution a zero-length window would trim every recorded attempt
	// and never limit anything.
	for i := 0; i < 2; i++ {
		if !limiter.Allowed(ctx, "id", 2, 500*time.Millisecond) {
			t.Fatalf("attempt %d unexpectedly rejected", i+1)
		}
	}
	if limiter.Allowed(ctx, "id", 2, 500*time.Millisecond) {
		t.Fatal("expected rejection once the limit is spent")
	}
}

func TestSlidingWindowReset(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	limiter := NewSlidingWindow(rdb, "tr", nil)

	limiter.Allowed(ctx, "id", 1, time.Minute)
	if limiter.Allowed(ctx, "id", 1, time.Minute) {
		t.Fatal("expected rejection before reset")
	}

	if err := limiter.Reset(ctx, "id"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if !limiter.Allowed(ctx, "id", 1, time.Minute) {
		t.Fatal("expected allowance after reset")
	}
}

func TestSlidingWindowLocalFallback(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	limiter := NewSlidingWindow(rdb, "tr", nil)
	mr.Close()

	base := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return base }

	for i := 0; i < 2; i++ {
		if !limiter.Allowed(ctx, "id", 2, time.Minute) {
			t.Fatalf("fallback attempt %d unexpectedly rejected", i+1)
		}
	}
	if limiter.Allowed(ctx, "id", 2, time.Minute) {
		t.Fatal("fallback should enforce the limit in process")
	}

	// Entries age out of the local window too.
	limiter.now = func() time.Time { return base.Add(2 * time.Minute) }
	if !limiter.Allowed(ctx, "id", 2, time.Minute) {
		t.Fatal("expected local entries to age out")
	}
}

func TestSlidingWindowLocalSweep(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	limiter := NewSlidingWindow(rdb, "tr", nil)
	mr.Close()

	base := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return base }

	limiter.Allowed(ctx, "stale", 10, time.Second)

	// Push enough checks through to trigger a sweep after the stale
	// identifier's entries aged out.
	limiter.now = func() time.Time { return base.Add(time.Hour) }
	for i := 0; i < localSweepInterval+1; i++ {
		limiter.Allowed(ctx, "active", 1<<30, time.Minute)
	}

	limiter.mu.Lock()
	_, ok := limiter.local["stale"]
	limiter.mu.Unlock()
	if ok {
		t.Fatal("expected stale identifier to be swept from the fallback map")
	}
}
