package auction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mzadd/models"
)

func TestNewScheduler(t *testing.T) {
	store := newMemoryStore()
	locker := NewKeyedLocker()

	t.Run("valid configuration", func(t *testing.T) {
		scheduler, err := NewScheduler(store, locker)
		assert.NoError(t, err)
		assert.NotNil(t, scheduler)
	})

	t.Run("nil store", func(t *testing.T) {
		scheduler, err := NewScheduler(nil, locker)
		assert.Error(t, err)
		assert.Nil(t, scheduler)
	})

	t.Run("nil locker", func(t *testing.T) {
		scheduler, err := NewScheduler(store, nil)
		assert.Error(t, err)
		assert.Nil(t, scheduler)
	})
}

func TestScheduler_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	scheduler, err := NewScheduler(newMemoryStore(), NewKeyedLocker(),
		WithSchedulerSweepInterval(10*time.Millisecond))
	require.NoError(t, err)

	scheduler.Start()
	scheduler.Start() // Should be no-op
	time.Sleep(50 * time.Millisecond)
	scheduler.Close()
	scheduler.Close() // Should be no-op
}

func TestScheduler_AfterCommit(t *testing.T) {
	now := time.Now()
	ownerID := uuid.New()
	clock := func() time.Time { return now }

	t.Run("bid inside window extends end time", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		snap := activeSnapshot(ownerID, 100, now)
		snap.EndTime = now.Add(60 * time.Second)
		store := newMemoryStore(snap)
		broadcaster := &recordingBroadcaster{}
		scheduler, err := NewScheduler(store, NewKeyedLocker(),
			WithSchedulerBroadcaster(broadcaster),
			WithSchedulerExtensionWindow(300*time.Second),
			WithSchedulerClock(clock))
		require.NoError(t, err)

		scheduler.AfterCommit(context.Background(), snap)

		fresh, err := store.GetAuction(context.Background(), snap.ID)
		require.NoError(t, err)
		assert.True(t, fresh.EndTime.Equal(now.Add(300*time.Second)))
		assert.Equal(t, uint32(1), fresh.ExtensionCount)

		events := broadcaster.eventsOfType(EventAuctionExtended)
		require.Len(t, events, 1)
		require.NotNil(t, events[0].NewEndTime)
		assert.True(t, events[0].NewEndTime.Equal(now.Add(300*time.Second)))
		require.NotNil(t, events[0].ExtensionSeconds)
		assert.Equal(t, int64(300), *events[0].ExtensionSeconds)
	})

	t.Run("bid outside window does not extend", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		snap := activeSnapshot(ownerID, 100, now)
		snap.EndTime = now.Add(600 * time.Second)
		store := newMemoryStore(snap)
		broadcaster := &recordingBroadcaster{}
		scheduler, err := NewScheduler(store, NewKeyedLocker(),
			WithSchedulerBroadcaster(broadcaster),
			WithSchedulerExtensionWindow(300*time.Second),
			WithSchedulerClock(clock))
		require.NoError(t, err)

		scheduler.AfterCommit(context.Background(), snap)

		fresh, err := store.GetAuction(context.Background(), snap.ID)
		require.NoError(t, err)
		assert.True(t, fresh.EndTime.Equal(now.Add(600*time.Second)))
		assert.Equal(t, uint32(0), fresh.ExtensionCount)
		assert.Empty(t, broadcaster.eventsOfType(EventAuctionExtended))
	})

	t.Run("extension cap", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		snap := activeSnapshot(ownerID, 100, now)
		snap.EndTime = now.Add(60 * time.Second)
		snap.ExtensionCount = 2
		store := newMemoryStore(snap)
		scheduler, err := NewScheduler(store, NewKeyedLocker(),
			WithSchedulerExtensionWindow(300*time.Second),
			WithSchedulerMaxExtensions(2),
			WithSchedulerClock(clock))
		require.NoError(t, err)

		scheduler.AfterCommit(context.Background(), snap)

		fresh, err := store.GetAuction(context.Background(), snap.ID)
		require.NoError(t, err)
		assert.True(t, fresh.EndTime.Equal(now.Add(60*time.Second)))
		assert.Equal(t, uint32(2), fresh.ExtensionCount)
	})

	t.Run("terminal auction is ignored", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		snap := activeSnapshot(ownerID, 100, now)
		snap.Status = models.AuctionClosed
		store := newMemoryStore(snap)
		scheduler, err := NewScheduler(store, NewKeyedLocker(), WithSchedulerClock(clock))
		require.NoError(t, err)

		scheduler.AfterCommit(context.Background(), snap)

		fresh, err := store.GetAuction(context.Background(), snap.ID)
		require.NoError(t, err)
		assert.Equal(t, uint32(0), fresh.ExtensionCount)
	})
}

func TestScheduler_CloseAuction(t *testing.T) {
	now := time.Now()
	ownerID := uuid.New()

	t.Run("close with winner triggers settlement exactly once", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		winningBidID := uuid.New()
		snap := activeSnapshot(ownerID, 150, now)
		snap.WinningBidID = &winningBidID
		snap.TotalBids = 3
		store := newMemoryStore(snap)
		broadcaster := &recordingBroadcaster{}

		var mu sync.Mutex
		hookCalls := 0
		var hookWinner *uuid.UUID
		scheduler, err := NewScheduler(store, NewKeyedLocker(),
			WithSchedulerBroadcaster(broadcaster),
			WithSchedulerSettlementHook(func(ctx context.Context, auctionID uuid.UUID, winner *uuid.UUID) {
				mu.Lock()
				defer mu.Unlock()
				hookCalls++
				hookWinner = winner
			}))
		require.NoError(t, err)

		// 重複關閉是冪等的：狀態只轉移一次，結算hook只被呼叫一次
		require.NoError(t, scheduler.CloseAuction(context.Background(), snap.ID))
		require.NoError(t, scheduler.CloseAuction(context.Background(), snap.ID))

		fresh, err := store.GetAuction(context.Background(), snap.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AuctionClosed, fresh.Status)

		assert.Equal(t, 1, hookCalls)
		require.NotNil(t, hookWinner)
		assert.Equal(t, winningBidID, *hookWinner)

		events := broadcaster.eventsOfType(EventAuctionEnded)
		require.Len(t, events, 1)
		require.NotNil(t, events[0].FinalPrice)
		assert.True(t, events[0].FinalPrice.Equal(decimal.NewFromInt(150)))
		require.NotNil(t, events[0].WinnerID)
		assert.Equal(t, winningBidID, *events[0].WinnerID)
		require.NotNil(t, events[0].TotalBids)
		assert.Equal(t, uint32(3), *events[0].TotalBids)
	})

	t.Run("close without winner", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		snap := activeSnapshot(ownerID, 100, now)
		store := newMemoryStore(snap)
		broadcaster := &recordingBroadcaster{}

		var mu sync.Mutex
		var winners []*uuid.UUID
		scheduler, err := NewScheduler(store, NewKeyedLocker(),
			WithSchedulerBroadcaster(broadcaster),
			WithSchedulerSettlementHook(func(ctx context.Context, auctionID uuid.UUID, winner *uuid.UUID) {
				mu.Lock()
				defer mu.Unlock()
				winners = append(winners, winner)
			}))
		require.NoError(t, err)

		require.NoError(t, scheduler.CloseAuction(context.Background(), snap.ID))

		require.Len(t, winners, 1)
		assert.Nil(t, winners[0])

		events := broadcaster.eventsOfType(EventAuctionEnded)
		require.Len(t, events, 1)
		assert.Nil(t, events[0].WinnerID)
	})

	t.Run("unknown auction", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		scheduler, err := NewScheduler(newMemoryStore(), NewKeyedLocker())
		require.NoError(t, err)

		err = scheduler.CloseAuction(context.Background(), uuid.New())
		assert.ErrorIs(t, err, ErrAuctionNotFound)
	})
}

func TestScheduler_Cancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	now := time.Now()
	snap := activeSnapshot(uuid.New(), 100, now)
	store := newMemoryStore(snap)
	broadcaster := &recordingBroadcaster{}
	scheduler, err := NewScheduler(store, NewKeyedLocker(), WithSchedulerBroadcaster(broadcaster))
	require.NoError(t, err)

	require.NoError(t, scheduler.Cancel(context.Background(), snap.ID))
	require.NoError(t, scheduler.Cancel(context.Background(), snap.ID)) // Should be no-op

	fresh, err := store.GetAuction(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionCancelled, fresh.Status)
	assert.Len(t, broadcaster.eventsOfType(EventAuctionCancelled), 1)
}

func TestScheduler_Sweep(t *testing.T) {
	defer goleak.VerifyNone(t)
	now := time.Now()
	ownerID := uuid.New()

	// 一場到點的Scheduled拍賣和一場逾期的Active拍賣
	scheduled := activeSnapshot(ownerID, 100, now)
	scheduled.Status = models.AuctionScheduled
	scheduled.StartTime = now.Add(-time.Minute)
	overdue := activeSnapshot(ownerID, 200, now)
	overdue.EndTime = now.Add(-time.Minute)
	pending := activeSnapshot(ownerID, 300, now)
	pending.Status = models.AuctionScheduled
	pending.StartTime = now.Add(time.Hour)

	store := newMemoryStore(scheduled, overdue, pending)
	broadcaster := &recordingBroadcaster{}
	scheduler, err := NewScheduler(store, NewKeyedLocker(),
		WithSchedulerBroadcaster(broadcaster),
		WithSchedulerClock(func() time.Time { return now }))
	require.NoError(t, err)

	scheduler.Sweep(context.Background())

	fresh, err := store.GetAuction(context.Background(), scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionActive, fresh.Status)

	fresh, err = store.GetAuction(context.Background(), overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionClosed, fresh.Status)

	fresh, err = store.GetAuction(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionScheduled, fresh.Status)

	started := broadcaster.eventsOfType(EventAuctionStarted)
	require.Len(t, started, 1)
	assert.Equal(t, scheduled.ID, started[0].AuctionID)
	assert.Len(t, broadcaster.eventsOfType(EventAuctionEnded), 1)

	// 再掃一次是no-op
	scheduler.Sweep(context.Background())
	assert.Len(t, broadcaster.eventsOfType(EventAuctionStarted), 1)
	assert.Len(t, broadcaster.eventsOfType(EventAuctionEnded), 1)
}
