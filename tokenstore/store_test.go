package tokenstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tidegate/authcore/token"
)

func newTestStore(t *testing.T, grace time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewStore(rdb, "tc", grace), mr
}

func futureMillis(d time.Duration) int64 {
	return time.Now().Add(d).UnixMilli()
}

func TestStoreAndVerify(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 30*time.Second)

	if err := store.Store(ctx, "tok-a", 1, token.KindAccess, futureMillis(time.Hour)); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	ok, err := store.Verify(ctx, "tok-a", 1, token.KindAccess)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Fatal("expected stored token to verify")
	}

	ok, err = store.Verify(ctx, "tok-other", 1, token.KindAccess)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatal("expected unknown token to fail verification")
	}
}

func TestVerifyIsolatedByKindAndIdentity(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 30*time.Second)

	if err := store.Store(ctx, "tok-r", 1, token.KindRefresh, futureMillis(time.Hour)); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if ok, _ := store.Verify(ctx, "tok-r", 1, token.KindAccess); ok {
		t.Fatal("refresh token must not verify as access")
	}
	if ok, _ := store.Verify(ctx, "tok-r", 2, token.KindRefresh); ok {
		t.Fatal("token must not verify for another identity")
	}
}

func TestVerifyEvictsExpiredEntry(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 30*time.Second)

	if err := store.Store(ctx, "tok-old", 7, token.KindAccess, time.Now().Add(-time.Minute).UnixMilli()); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	ok, err := store.Verify(ctx, "tok-old", 7, token.KindAccess)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatal("expected expired token to fail verification")
	}

	// The expired entry is removed, not just rejected.
	count, err := store.ActiveCount(ctx, 7, token.KindAccess)
	if err != nil {
		t.Fatalf("ActiveCount failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected expired entry to be evicted, set holds %d", count)
	}
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 30*time.Second)

	if err := store.Store(ctx, "tok-a", 1, token.KindAccess, futureMillis(time.Hour)); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	removed, err := store.Revoke(ctx, "tok-a", 1, token.KindAccess)
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if !removed {
		t.Fatal("expected revoke to report removal")
	}

	if ok, _ := store.Verify(ctx, "tok-a", 1, token.KindAccess); ok {
		t.Fatal("expected revoked token to fail verification")
	}

	removed, err = store.Revoke(ctx, "tok-a", 1, token.KindAccess)
	if err != nil {
		t.Fatalf("second Revoke failed: %v", err)
	}
	if removed {
		t.Fatal("expected second revoke to be a no-op")
	}
}

func TestRevokeAll(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 30*time.Second)

	tokens := []struct {
		str  string
		kind token.Kind
	}{
		{"a1", token.KindAccess},
		{"a2", token.KindAccess},
		{"r1", token.KindRefresh},
	}
	for _, tk := range tokens {
		if err := store.Store(ctx, tk.str, 5, tk.kind, futureMillis(time.Hour)); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}
	// Put one entry in the grace set through rotation.
	if _, err := store.RotateRefresh(ctx, "r1", "r2", 5, futureMillis(time.Hour)); err != nil {
		t.Fatalf("RotateRefresh failed: %v", err)
	}

	// Sets now hold: 2 access, 1 refresh (r2), 1 grace (r1).
	total, err := store.RevokeAll(ctx, 5)
	if err != nil {
		t.Fatalf("RevokeAll failed: %v", err)
	}
	if total != 4 {
		t.Fatalf("expected 4 revoked entries, got %d", total)
	}

	for _, tk := range tokens {
		if ok, _ := store.Verify(ctx, tk.str, 5, tk.kind); ok {
			t.Fatalf("token %q still verifies after RevokeAll", tk.str)
		}
	}
	if ok, _ := store.VerifyRefreshWithGrace(ctx, "r1", 5); ok {
		t.Fatal("grace entry still verifies after RevokeAll")
	}
}

func TestRotateRefreshMovesOldToGrace(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 30*time.Second)

	if err := store.Store(ctx, "r-old", 9, token.KindRefresh, futureMillis(time.Hour)); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	rotated, err := store.RotateRefresh(ctx, "r-old", "r-new", 9, futureMillis(time.Hour))
	if err != nil {
		t.Fatalf("RotateRefresh failed: %v", err)
	}
	if !rotated {
		t.Fatal("expected rotation to succeed")
	}

	// Old token is no longer current but still answers grace lookups.
	if ok, _ := store.Verify(ctx, "r-old", 9, token.KindRefresh); ok {
		t.Fatal("rotated-away token must not be current")
	}
	if ok, _ := store.VerifyRefreshWithGrace(ctx, "r-old", 9); !ok {
		t.Fatal("rotated-away token should verify via grace")
	}
	if ok, _ := store.VerifyRefreshWithGrace(ctx, "r-new", 9); !ok {
		t.Fatal("new token should be current")
	}
}

func TestRotateRefreshUnknownToken(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 30*time.Second)

	rotated, err := store.RotateRefresh(ctx, "never-stored", "r-new", 3, futureMillis(time.Hour))
	if err != nil {
		t.Fatalf("RotateRefresh failed: %v", err)
	}
	if rotated {
		t.Fatal("expected rotation of unknown token to fail")
	}
	if ok, _ := store.Verify(ctx, "r-new", 3, token.KindRefresh); ok {
		t.Fatal("failed rotation must not install the new token")
	}
}

func TestRotateRefreshGraceTokenCannotRotateAgain(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 30*time.Second)

	if err := store.Store(ctx, "r1", 4, token.KindRefresh, futureMillis(time.Hour)); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := store.RotateRefresh(ctx, "r1", "r2", 4, futureMillis(time.Hour)); err != nil {
		t.Fatalf("first rotation failed: %v", err)
	}

	// r1 sits in the grace set; presenting it for rotation must lose.
	rotated, err := store.RotateRefresh(ctx, "r1", "r3", 4, futureMillis(time.Hour))
	if err != nil {
		t.Fatalf("second rotation failed: %v", err)
	}
	if rotated {
		t.Fatal("grace-set token must not rotate again")
	}
	if ok, _ := store.Verify(ctx, "r2", 4, token.KindRefresh); !ok {
		t.Fatal("winner token lost its current status")
	}
}

func TestRotateRefreshConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 30*time.Second)

	if err := store.Store(ctx, "r-contended", 11, token.KindRefresh, futureMillis(time.Hour)); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	const workers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)

	wins := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		next := "r-next-" + string(rune('a'+i))
		go func(newToken string) {
			defer wg.Done()
			<-start
			rotated, err := store.RotateRefresh(ctx, "r-contended", newToken, 11, futureMillis(time.Hour))
			if err != nil {
				t.Errorf("RotateRefresh failed: %v", err)
				return
			}
			wins <- rotated
		}(next)
	}

	close(start)
	wg.Wait()
	close(wins)

	success := 0
	for won := range wins {
		if won {
			success++
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one rotation winner, got %d", success)
	}
}

func TestGraceEntryExpires(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, 2*time.Second)

	if err := store.Store(ctx, "r1", 6, token.KindRefresh, futureMillis(time.Hour)); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := store.RotateRefresh(ctx, "r1", "r2", 6, futureMillis(time.Hour)); err != nil {
		t.Fatalf("RotateRefresh failed: %v", err)
	}

	if ok, _ := store.VerifyRefreshWithGrace(ctx, "r1", 6); !ok {
		t.Fatal("expected grace entry to verify before expiry")
	}

	// The whole grace set carries a TTL; advancing past it drops r1.
	mr.FastForward(3 * time.Second)

	if ok, _ := store.VerifyRefreshWithGrace(ctx, "r1", 6); ok {
		t.Fatal("expected grace entry to expire")
	}
	if ok, _ := store.VerifyRefreshWithGrace(ctx, "r2", 6); !ok {
		t.Fatal("current token must survive grace expiry")
	}
}

func TestActiveCount(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 30*time.Second)

	for _, tok := range []string{"t1", "t2", "t3"} {
		if err := store.Store(ctx, tok, 8, token.KindAccess, futureMillis(time.Hour)); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	count, err := store.ActiveCount(ctx, 8, token.KindAccess)
	if err != nil {
		t.Fatalf("ActiveCount failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 active tokens, got %d", count)
	}
}

func TestStoreIdempotent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 30*time.Second)

	if err := store.Store(ctx, "t1", 2, token.KindAccess, futureMillis(time.Hour)); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := store.Store(ctx, "t1", 2, token.KindAccess, futureMillis(2*time.Hour)); err != nil {
		t.Fatalf("second Store failed: %v", err)
	}

	count, err := store.ActiveCount(ctx, 2, token.KindAccess)
	if err != nil {
		t.Fatalf("ActiveCount failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected re-store to keep one entry, got %d", count)
	}
}

func TestErrRedisUnavailableWrapped(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, 30*time.Second)
	mr.Close()

	err := store.Store(ctx, "t1", 2, token.KindAccess, futureMillis(time.Hour))
	if err == nil {
		t.Fatal("expected error after redis shutdown")
	}
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
