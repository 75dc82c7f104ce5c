package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// setupMiniredis 啟動一個in-memory redis，分散式鎖需要真的SET NX/EVAL語意
// cleanup必須在goleak檢查前執行，確保server的goroutine都已結束
func setupMiniredis(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	return client, func() {
		client.Close()
		server.Close()
	}
}

func TestLocker_Acquire(t *testing.T) {
	t.Run("acquire and release", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, cleanup := setupMiniredis(t)
		defer cleanup()

		locker := NewLocker(client, WithLockerPrefix("test:"))
		auctionID := uuid.New()

		release, err := locker.Acquire(context.Background(), auctionID)
		require.NoError(t, err)
		release()
		release() // Should be no-op

		// 釋放後可以再次取得
		release, err = locker.Acquire(context.Background(), auctionID)
		require.NoError(t, err)
		release()
	})

	t.Run("held lock blocks until context expires", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, cleanup := setupMiniredis(t)
		defer cleanup()

		locker := NewLocker(client,
			WithLockerPrefix("test:"),
			WithLockerMutexOptions(WithAutoRenewMutexRetryDelay(20*time.Millisecond)))
		auctionID := uuid.New()

		release, err := locker.Acquire(context.Background(), auctionID)
		require.NoError(t, err)
		defer release()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, err = locker.Acquire(ctx, auctionID)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("different auctions lock independently", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, cleanup := setupMiniredis(t)
		defer cleanup()

		locker := NewLocker(client, WithLockerPrefix("test:"))

		releaseFirst, err := locker.Acquire(context.Background(), uuid.New())
		require.NoError(t, err)
		defer releaseFirst()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		releaseSecond, err := locker.Acquire(ctx, uuid.New())
		require.NoError(t, err)
		releaseSecond()
	})

	t.Run("key uses the configured prefix", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, cleanup := setupMiniredis(t)
		defer cleanup()

		locker := NewLocker(client, WithLockerPrefix("mzadd:"))
		auctionID := uuid.New()

		release, err := locker.Acquire(context.Background(), auctionID)
		require.NoError(t, err)
		defer release()

		exists, err := client.Exists(context.Background(), "mzadd:auction:"+auctionID.String()+":lock").Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), exists)
	})
}
