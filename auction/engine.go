package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Bidder 是出價者的身份資訊，由連線層在認證後提供
type Bidder struct {
	ID       uuid.UUID
	Username string
}

// Lifecycle 是commit引擎對排程器的出口
// 成功commit後在臨界區外呼叫，讓排程器評估防狙擊延長
type Lifecycle interface {
	AfterCommit(ctx context.Context, snap *Snapshot)
}

type engineOptions struct {
	validator   Validator
	broadcaster Broadcaster
	lifecycle   Lifecycle
	lockWait    time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

type EngineOption func(*engineOptions)

// WithEngineValidator 設置出價驗證器
func WithEngineValidator(v Validator) EngineOption {
	return func(o *engineOptions) {
		o.validator = v
	}
}

// WithEngineBroadcaster 設置事件廣播出口
func WithEngineBroadcaster(b Broadcaster) EngineOption {
	return func(o *engineOptions) {
		o.broadcaster = b
	}
}

// WithEngineLifecycle 設置commit後的生命週期檢查
func WithEngineLifecycle(l Lifecycle) EngineOption {
	return func(o *engineOptions) {
		o.lifecycle = l
	}
}

// WithEngineLockWait 設置拍賣鎖的等待上限，超過即以Busy拒絕
func WithEngineLockWait(d time.Duration) EngineOption {
	return func(o *engineOptions) {
		o.lockWait = d
	}
}

// WithEngineLogger 設置日誌記錄器
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithEngineClock 設置時間來源，僅供測試使用
func WithEngineClock(now func() time.Time) EngineOption {
	return func(o *engineOptions) {
		o.now = now
	}
}

// Engine 序列化單一拍賣的read-validate-write-broadcast週期
// 保證同一個邏輯commit至多讓價格前進一次：取得以拍賣為範圍的互斥區段後，
// 以最新狀態重跑驗證，再把出價寫入與拍賣欄位更新當成一個原子單位交給store
// 廣播在釋放鎖之後才進行，避免fan-out的工作卡住後續的出價
type Engine struct {
	store   Store
	locker  Locker
	options engineOptions
}

// NewEngine 建立bid commit引擎
func NewEngine(store Store, locker Locker, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if locker == nil {
		return nil, errors.New("locker cannot be nil")
	}

	// 默認選項
	options := engineOptions{
		validator: NewValidator(DefaultMinIncrement),
		lockWait:  5 * time.Second,
		logger:    slog.Default(),
		now:       time.Now,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}
	options.logger = options.logger.With(slog.String("caller", "Engine"))

	return &Engine{
		store:   store,
		locker:  locker,
		options: options,
	}, nil
}

// Commit 處理一筆出價請求
// 回傳RejectError代表可回報給客戶端的拒絕，其餘錯誤為內部故障，
// 呼叫端應對客戶端隱藏細節；一旦原子更新開始就沒有取消窗口，
// 客戶端在commit途中斷線不會回滾已入庫的出價
func (e *Engine) Commit(ctx context.Context, bidder Bidder, auctionID uuid.UUID, amount decimal.Decimal) (*CommittedBid, error) {
	const op = "Engine.Commit"

	// 臨界區外的便宜預檢，攔下明顯不合法的出價
	snap, err := e.store.GetAuction(ctx, auctionID)
	if errors.Is(err, ErrAuctionNotFound) {
		return nil, Reject(ReasonNotFound, "auction not found")
	}
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load auction, err=%w", op, err)
	}
	if err := e.options.validator.Validate(snap, bidder.ID, amount, e.options.now()); err != nil {
		return nil, err
	}

	// 取得拍賣範圍的互斥區段，等待超過上限即回報Busy
	lockCtx, cancel := context.WithTimeout(ctx, e.options.lockWait)
	defer cancel()
	release, err := e.locker.Acquire(lockCtx, auctionID)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, Reject(ReasonBusy, "auction is busy, retry later")
	}
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to acquire auction lock, err=%w", op, err)
	}

	// 在交易內以最新快照重跑驗證，防止兩筆出價在取鎖前都通過預檢的競態
	committed, snap, err := e.store.CommitBid(ctx, auctionID, bidder.ID, amount, func(fresh *Snapshot) error {
		return e.options.validator.Validate(fresh, bidder.ID, amount, e.options.now())
	})
	// 鎖在廣播前釋放，縮短持鎖時間
	release()
	if err != nil {
		if reject, ok := AsReject(err); ok {
			return nil, reject
		}
		return nil, fmt.Errorf("[%s] Fail to commit bid, err=%w", op, err)
	}

	e.options.logger.Info("Bid committed",
		slog.String("auctionID", auctionID.String()),
		slog.String("bidder", bidder.Username),
		slog.String("amount", committed.Amount.String()))

	// 臨界區外：先讓排程器評估防狙擊延長，再廣播新出價
	if e.options.lifecycle != nil {
		e.options.lifecycle.AfterCommit(ctx, snap)
	}
	if e.options.broadcaster != nil {
		event := Event{
			Type:          EventNewBid,
			AuctionID:     auctionID,
			BidID:         lo.ToPtr(committed.BidID),
			Amount:        lo.ToPtr(committed.Amount),
			BidderName:    bidder.Username,
			Timestamp:     lo.ToPtr(committed.CreatedAt),
			TotalBids:     lo.ToPtr(snap.TotalBids),
			UniqueBidders: lo.ToPtr(snap.UniqueBidders),
		}
		if err := e.options.broadcaster.Publish(auctionID.String(), event); err != nil {
			e.options.logger.Warn("Fail to broadcast new bid",
				slog.String("auctionID", auctionID.String()),
				slog.Any("error", err))
		}
	}

	return committed, nil
}
