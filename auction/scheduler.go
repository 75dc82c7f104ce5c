package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// SettlementHook 在拍賣關閉時被呼叫恰好一次
// 有得標出價時winningBidID帶值，流標時為nil；
// 佣金計算等後續結算由外部協作者負責
type SettlementHook func(ctx context.Context, auctionID uuid.UUID, winningBidID *uuid.UUID)

type schedulerOptions struct {
	broadcaster     Broadcaster
	hook            SettlementHook
	extensionWindow time.Duration
	maxExtensions   uint32
	sweepInterval   time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

type SchedulerOption func(*schedulerOptions)

// WithSchedulerBroadcaster 設置事件廣播出口
func WithSchedulerBroadcaster(b Broadcaster) SchedulerOption {
	return func(o *schedulerOptions) {
		o.broadcaster = b
	}
}

// WithSchedulerSettlementHook 設置拍賣關閉時的結算回呼
func WithSchedulerSettlementHook(hook SettlementHook) SchedulerOption {
	return func(o *schedulerOptions) {
		o.hook = hook
	}
}

// WithSchedulerExtensionWindow 設置防狙擊延長窗口
func WithSchedulerExtensionWindow(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		o.extensionWindow = d
	}
}

// WithSchedulerMaxExtensions 設置單場拍賣的延長次數上限，0表示不設限
func WithSchedulerMaxExtensions(n uint32) SchedulerOption {
	return func(o *schedulerOptions) {
		o.maxExtensions = n
	}
}

// WithSchedulerSweepInterval 設置定期掃描的間隔
func WithSchedulerSweepInterval(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		o.sweepInterval = d
	}
}

// WithSchedulerLogger 設置日誌記錄器
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		o.logger = logger
	}
}

// WithSchedulerClock 設置時間來源，僅供測試使用
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(o *schedulerOptions) {
		o.now = now
	}
}

// Scheduler 驅動拍賣的生命週期狀態機：
// Scheduled --(start_time到)--> Active --(end_time過)--> Closed，
// Scheduled與Active可被取消（終態）
// 狀態轉移由兩條路徑觸發：定期掃描（接住完全沒有出價的拍賣），
// 以及每次成功commit後的伺機檢查（接住最後關頭的狙擊出價）
// 關閉是冪等的：對已Closed的拍賣重複評估是no-op
type Scheduler struct {
	store  Store
	locker Locker

	mu         sync.Mutex
	wg         sync.WaitGroup
	cancelFunc context.CancelFunc
	active     bool

	options schedulerOptions
}

// NewScheduler 建立生命週期排程器
func NewScheduler(store Store, locker Locker, opts ...SchedulerOption) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if locker == nil {
		return nil, errors.New("locker cannot be nil")
	}

	// 默認選項
	options := schedulerOptions{
		extensionWindow: 300 * time.Second,
		sweepInterval:   time.Second,
		logger:          slog.Default(),
		now:             time.Now,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}
	options.logger = options.logger.With(slog.String("caller", "Scheduler"))

	return &Scheduler{
		store:   store,
		locker:  locker,
		options: options,
	}, nil
}

// Start 啟動定期掃描
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return
	}
	s.active = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	s.options.logger.Info("starting lifecycle sweeper",
		slog.Duration("interval", s.options.sweepInterval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.options.logger.Info("lifecycle sweeper stopped")
		ticker := time.NewTicker(s.options.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Close 停止定期掃描
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	s.active = false
	s.cancelFunc()
	s.wg.Wait()
}

// Sweep 評估所有到期的狀態轉移
// 錯誤只記錄不中斷，單場拍賣的故障不影響其他拍賣
func (s *Scheduler) Sweep(ctx context.Context) {
	const op = "Scheduler.Sweep"
	now := s.options.now()

	due, err := s.store.ListDueActivations(ctx, now)
	if err != nil {
		s.options.logger.Error("Fail to list due activations", slog.String("op", op), slog.Any("error", err))
	}
	for _, auctionID := range due {
		if err := s.activate(ctx, auctionID); err != nil {
			s.options.logger.Error("Fail to activate auction",
				slog.String("op", op), slog.String("auctionID", auctionID.String()), slog.Any("error", err))
		}
	}

	due, err = s.store.ListDueClosures(ctx, now)
	if err != nil {
		s.options.logger.Error("Fail to list due closures", slog.String("op", op), slog.Any("error", err))
	}
	for _, auctionID := range due {
		if err := s.CloseAuction(ctx, auctionID); err != nil {
			s.options.logger.Error("Fail to close auction",
				slog.String("op", op), slog.String("auctionID", auctionID.String()), slog.Any("error", err))
		}
	}
}

// AfterCommit 在成功commit後評估防狙擊延長
// 拍賣仍為Active且剩餘時間小於延長窗口時，把結束時間推遲到now+window；
// 只要出價持續落在窗口內就會一再延長，除非設定了延長次數上限
func (s *Scheduler) AfterCommit(ctx context.Context, snap *Snapshot) {
	const op = "Scheduler.AfterCommit"
	if snap == nil || snap.Status.Terminal() {
		return
	}
	now := s.options.now()
	if snap.EndTime.Sub(now) >= s.options.extensionWindow {
		return
	}
	if s.options.maxExtensions > 0 && snap.ExtensionCount >= s.options.maxExtensions {
		s.options.logger.Info("Extension cap reached",
			slog.String("auctionID", snap.ID.String()),
			slog.Uint64("count", uint64(snap.ExtensionCount)))
		return
	}

	newEnd := now.Add(s.options.extensionWindow)
	fresh, extended, err := s.store.Extend(ctx, snap.ID, newEnd)
	if err != nil {
		s.options.logger.Error("Fail to extend auction",
			slog.String("op", op), slog.String("auctionID", snap.ID.String()), slog.Any("error", err))
		return
	}
	if !extended {
		return
	}

	s.options.logger.Info("Auction extended",
		slog.String("auctionID", snap.ID.String()),
		slog.Time("newEndTime", fresh.EndTime),
		slog.Uint64("extensionCount", uint64(fresh.ExtensionCount)))
	s.publish(fresh.ID, Event{
		Type:             EventAuctionExtended,
		AuctionID:        fresh.ID,
		NewEndTime:       lo.ToPtr(fresh.EndTime),
		ExtensionSeconds: lo.ToPtr(int64(s.options.extensionWindow.Seconds())),
	})
}

// CloseAuction 將拍賣轉為Closed並觸發結算
// 與commit共用同一把拍賣鎖，避免關閉和出價交錯；
// compare-and-update保證轉移只成功一次，結算hook因此恰好被呼叫一次
func (s *Scheduler) CloseAuction(ctx context.Context, auctionID uuid.UUID) error {
	const op = "Scheduler.CloseAuction"

	release, err := s.locker.Acquire(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("[%s] Fail to acquire auction lock, err=%w", op, err)
	}
	snap, changed, err := s.store.Close(ctx, auctionID)
	release()
	if err != nil {
		return fmt.Errorf("[%s] Fail to close auction, err=%w", op, err)
	}
	if !changed {
		return nil
	}

	var winnerID *uuid.UUID
	if snap.WinningBidID != nil {
		winnerID = snap.WinningBidID
	}
	s.options.logger.Info("Auction closed",
		slog.String("auctionID", auctionID.String()),
		slog.String("finalPrice", snap.CurrentPrice.String()),
		slog.Bool("hasWinner", winnerID != nil))

	s.publish(auctionID, Event{
		Type:       EventAuctionEnded,
		AuctionID:  auctionID,
		FinalPrice: lo.ToPtr(snap.CurrentPrice),
		WinnerID:   winnerID,
		TotalBids:  lo.ToPtr(snap.TotalBids),
	})
	if s.options.hook != nil {
		s.options.hook(ctx, auctionID, snap.WinningBidID)
	}
	return nil
}

// Cancel 取消一場尚未結束的拍賣
func (s *Scheduler) Cancel(ctx context.Context, auctionID uuid.UUID) error {
	const op = "Scheduler.Cancel"

	release, err := s.locker.Acquire(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("[%s] Fail to acquire auction lock, err=%w", op, err)
	}
	snap, changed, err := s.store.Cancel(ctx, auctionID)
	release()
	if err != nil {
		return fmt.Errorf("[%s] Fail to cancel auction, err=%w", op, err)
	}
	if !changed {
		return nil
	}

	s.options.logger.Info("Auction cancelled", slog.String("auctionID", auctionID.String()))
	s.publish(auctionID, Event{
		Type:      EventAuctionCancelled,
		AuctionID: snap.ID,
	})
	return nil
}

func (s *Scheduler) activate(ctx context.Context, auctionID uuid.UUID) error {
	snap, changed, err := s.store.Activate(ctx, auctionID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	s.options.logger.Info("Auction activated", slog.String("auctionID", auctionID.String()))
	s.publish(auctionID, Event{
		Type:      EventAuctionStarted,
		AuctionID: snap.ID,
	})
	return nil
}

func (s *Scheduler) publish(auctionID uuid.UUID, event Event) {
	if s.options.broadcaster == nil {
		return
	}
	if err := s.options.broadcaster.Publish(auctionID.String(), event); err != nil {
		s.options.logger.Warn("Fail to broadcast lifecycle event",
			slog.String("auctionID", auctionID.String()),
			slog.String("event", string(event.Type)),
			slog.Any("error", err))
	}
}
