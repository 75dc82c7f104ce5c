package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"mzadd/models"
)

// SettlementTask 是拍賣關閉後交給結算worker的工作項
// 流標時WinningBidID為nil
type SettlementTask struct {
	AuctionID    uuid.UUID  `msgpack:"auction_id"`
	WinningBidID *uuid.UUID `msgpack:"winning_bid_id,omitempty"`
	ClosedAt     time.Time  `msgpack:"closed_at"`
}

// Settler 處理單一拍賣的結算
// 同一場拍賣的任務可能因為重試被投遞多次，實作必須是冪等的
type Settler interface {
	Settle(ctx context.Context, task SettlementTask) error
}

// defaultSettler 核對關閉後的拍賣狀態並記錄結算結果
// 金流、佣金等後續處理透過WithServerSettler替換成自己的實作
type defaultSettler struct {
	db     *gorm.DB
	logger *slog.Logger
}

func (s *defaultSettler) Settle(ctx context.Context, task SettlementTask) error {
	const op = "Settle"
	var record models.Auction
	if result := s.db.WithContext(ctx).Preload("WinningBid.Bidder").First(&record, "id = ?", task.AuctionID); result.Error != nil {
		return fmt.Errorf("[%s] Fail to find auction, err=%w", op, result.Error)
	}
	// 任務可能在關閉與投遞之間被重放，非Closed狀態代表亂序或重複，跳過即可
	if record.Status != models.AuctionClosed {
		s.logger.Warn("Skip settlement for non-closed auction",
			slog.String("auctionID", task.AuctionID.String()),
			slog.String("status", string(record.Status)))
		return nil
	}

	if task.WinningBidID == nil {
		s.logger.Info("Auction settled without winner",
			slog.String("auctionID", task.AuctionID.String()))
		return nil
	}
	if record.WinningBid == nil || record.WinningBid.ID != *task.WinningBidID {
		return fmt.Errorf("[%s] Winning bid mismatch, auctionID=%s", op, task.AuctionID)
	}
	s.logger.Info("Auction settled",
		slog.String("auctionID", task.AuctionID.String()),
		slog.String("winner", record.WinningBid.Bidder.Username),
		slog.String("finalPrice", record.WinningBid.Amount.String()))
	return nil
}
