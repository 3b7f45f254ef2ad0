package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err, "miniredis run")
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewLedger(rdb, "tq", nil), mr
}

func TestCheckAndConsumeWithinLimit(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)
	subject := Identity(42)

	res, err := ledger.CheckAndConsume(ctx, subject, 10, 3)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(3), res.Used)
	assert.Equal(t, int64(7), res.Remaining)

	res, err = ledger.CheckAndConsume(ctx, subject, 10, 4)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(7), res.Used)
	assert.Equal(t, int64(3), res.Remaining)
}

func TestCheckAndConsumeDenialLeavesCountUntouched(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)
	subject := Identity(1)

	res, err := ledger.CheckAndConsume(ctx, subject, 5, 4)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	// 4 used, batch of 2 would overrun: denied without partial consumption.
	res, err = ledger.CheckAndConsume(ctx, subject, 5, 2)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(4), res.Used)
	assert.Equal(t, int64(0), res.Remaining)
	assert.Equal(t, int64(4), ledger.GetUsed(ctx, subject))

	// A batch of exactly the remainder still fits.
	res, err = ledger.CheckAndConsume(ctx, subject, 5, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(5), res.Used)
	assert.Equal(t, int64(0), res.Remaining)
}

func TestCheckAndConsumeCountdownToDenial(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)
	subject := Identity(2)

	for want := int64(4); want >= 0; want-- {
		res, err := ledger.CheckAndConsume(ctx, subject, 5, 1)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, want, res.Remaining)
	}

	res, err := ledger.CheckAndConsume(ctx, subject, 5, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(5), res.Used)
}

func TestCheckAndConsumeUnlimited(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)
	subject := Identity(3)

	res, err := ledger.CheckAndConsume(ctx, subject, Unlimited, 100)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(0), res.Used)
	assert.Equal(t, Unlimited, res.Remaining)

	// Unlimited subjects never touch the store.
	assert.Equal(t, int64(0), ledger.GetUsed(ctx, subject))
}

func TestCheckAndConsumeBatchLargerThanLimit(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)
	subject := Identity(4)

	res, err := ledger.CheckAndConsume(ctx, subject, 3, 5)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Used)
}

func TestCheckAndConsumeValidation(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)

	_, err := ledger.CheckAndConsume(ctx, Identity(1), 10, 0)
	assert.ErrorIs(t, err, ErrInvalidCount)

	_, err = ledger.CheckAndConsume(ctx, Identity(1), 10, MaxConsumeCount+1)
	assert.ErrorIs(t, err, ErrInvalidCount)

	_, err = ledger.CheckAndConsume(ctx, Device(""), 10, 1)
	assert.ErrorIs(t, err, ErrInvalidSubject)
}

func TestDailyRollover(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)
	subject := Identity(7)

	day := time.Date(2026, 3, 14, 23, 50, 0, 0, time.UTC)
	ledger.now = func() time.Time { return day }

	res, err := ledger.CheckAndConsume(ctx, subject, 5, 5)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = ledger.CheckAndConsume(ctx, subject, 5, 1)
	require.NoError(t, err)
	require.False(t, res.Allowed, "budget exhausted for the day")

	// Crossing midnight resets the bucket inside the next consume.
	ledger.now = func() time.Time { return day.Add(time.Hour) }

	res, err = ledger.CheckAndConsume(ctx, subject, 5, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.Used)
	assert.Equal(t, int64(4), res.Remaining)
}

func TestDeviceAndIdentityBucketsAreSeparate(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)

	res, err := ledger.CheckAndConsume(ctx, Device("dev-1"), 2, 2)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = ledger.CheckAndConsume(ctx, Identity(1), 2, 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "identity bucket unaffected by device consumption")
}

func TestFailOpenOnRedisFailure(t *testing.T) {
	ctx := context.Background()
	ledger, mr := newTestLedger(t)
	mr.Close()

	res, err := ledger.CheckAndConsume(ctx, Identity(9), 10, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(0), res.Used)
	assert.Equal(t, int64(10), res.Remaining)

	assert.Equal(t, int64(0), ledger.GetUsed(ctx, Identity(9)))
}

func TestGetUsedAbsentSubject(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newTestLedger(t)

	assert.Equal(t, int64(0), ledger.GetUsed(ctx, Identity(404)))
}
