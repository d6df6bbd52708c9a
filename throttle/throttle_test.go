package throttle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_AllowsBurstThenThrottles(t *testing.T) {
	// GIVEN: 1 request per second with a burst of 2
	// WHEN: A key sends three requests at the same instant
	// THEN: The third waits one second, other keys are unaffected

	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	m := NewMemory(1, 2, time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := m.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := m.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)

	d, err = m.Allow(ctx, "user:2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	now = now.Add(time.Second)
	d, err = m.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a rejected request does not consume a token")
}

func TestMemory_SweepDropsIdleKeys(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	m := NewMemory(1, 1, time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, _ = m.Allow(ctx, "user:1")
	now = now.Add(30 * time.Second)
	_, _ = m.Allow(ctx, "user:2")
	assert.Equal(t, 2, m.Len())

	now = now.Add(45 * time.Second)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
}

func TestMemory_CancelledContext(t *testing.T) {
	m := NewMemory(1, 1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Allow(ctx, "user:1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedis_FirstHitSetsWindow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := NewRedis(db, 2, time.Second)

	mock.ExpectIncr("loyalty:throttle:user:1").SetVal(1)
	mock.ExpectPExpire("loyalty:throttle:user:1", time.Second).SetVal(true)
	mock.ExpectIncr("loyalty:throttle:user:1").SetVal(2)

	for i := 0; i < 2; i++ {
		d, err := r.Allow(context.Background(), "user:1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_OverLimitReportsTTL(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := NewRedis(db, 2, time.Second)

	mock.ExpectIncr("loyalty:throttle:user:1").SetVal(3)
	mock.ExpectPTTL("loyalty:throttle:user:1").SetVal(400 * time.Millisecond)

	d, err := r.Allow(context.Background(), "user:1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 400*time.Millisecond, d.RetryAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_RestoresMissingExpiry(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := NewRedis(db, 1, time.Second)

	mock.ExpectIncr("loyalty:throttle:user:1").SetVal(5)
	mock.ExpectPTTL("loyalty:throttle:user:1").SetVal(-1)
	mock.ExpectPExpire("loyalty:throttle:user:1", time.Second).SetVal(true)

	d, err := r.Allow(context.Background(), "user:1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Second, d.RetryAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_Error(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := NewRedis(db, 1, time.Second)

	mock.ExpectIncr("loyalty:throttle:user:1").SetErr(errors.New("connection refused"))

	_, err := r.Allow(context.Background(), "user:1")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
