// Package store 以gorm實作競標核心的持久層
// 拍賣列在每個交易內都以FOR UPDATE鎖住，讓commit之後的讀取
// 一定觀察到commit後的價格（current_price沒有stale-read窗口）
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mzadd/auction"
	"mzadd/models"
)

// Store 是auction.Store的gorm實作
type Store struct {
	db *gorm.DB
}

// NewStore 建立gorm持久層
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

// GetAuction 取得拍賣快照
func (s *Store) GetAuction(ctx context.Context, auctionID uuid.UUID) (*auction.Snapshot, error) {
	const op = "store.GetAuction"
	var record models.Auction
	if result := s.db.WithContext(ctx).Preload("Item").First(&record, "id = ?", auctionID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, auction.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("[%s] Fail to find auction, err=%w", op, result.Error)
	}
	return snapshotOf(&record, record.Item.OwnerID), nil
}

// GetAccount 取得使用者帳號狀態
func (s *Store) GetAccount(ctx context.Context, userID uuid.UUID) (*auction.Account, error) {
	const op = "store.GetAccount"
	var record models.User
	if result := s.db.WithContext(ctx).First(&record, "id = ?", userID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, auction.ErrUserNotFound
		}
		return nil, fmt.Errorf("[%s] Fail to find user, err=%w", op, result.Error)
	}
	return &auction.Account{
		ID:       record.ID,
		Username: record.Username,
		Role:     string(record.Role),
		Active:   record.Active,
	}, nil
}

// CommitBid 在單一交易內完成出價寫入
// 先以列鎖取得最新快照交給validate，驗證失敗或任何寫入失敗都會整筆回滾，
// 出價紀錄、目前價格、得標出價與統計欄位因此永遠一起改變
func (s *Store) CommitBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount decimal.Decimal, validate func(*auction.Snapshot) error) (*auction.CommittedBid, *auction.Snapshot, error) {
	const op = "store.CommitBid"
	var committed *auction.CommittedBid
	var snap *auction.Snapshot

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, ownerID, err := lockAuction(tx, auctionID)
		if err != nil {
			return err
		}
		if err := validate(snapshotOf(record, ownerID)); err != nil {
			return err
		}

		// 此競標者是否首次對這場拍賣出價
		var prior int64
		if result := tx.Model(&models.Bid{}).Where("auction_id = ? AND bidder_id = ?", auctionID, bidderID).Count(&prior); result.Error != nil {
			return fmt.Errorf("[%s] Fail to count prior bids, err=%w", op, result.Error)
		}

		bid := models.Bid{
			Amount:    amount,
			BidderID:  bidderID,
			AuctionID: auctionID,
			Valid:     true,
		}
		if result := tx.Create(&bid); result.Error != nil {
			return fmt.Errorf("[%s] Fail to create bid, err=%w", op, result.Error)
		}

		record.CurrentPrice = amount
		record.WinningBidID = &bid.ID
		record.TotalBids++
		if prior == 0 {
			record.UniqueBidders++
		}
		if result := tx.Save(record); result.Error != nil {
			return fmt.Errorf("[%s] Fail to update auction, err=%w", op, result.Error)
		}

		committed = &auction.CommittedBid{
			BidID:     bid.ID,
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    amount,
			CreatedAt: bid.CreatedAt,
		}
		snap = snapshotOf(record, ownerID)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return committed, snap, nil
}

// Extend 延後拍賣結束時間
// 僅在拍賣仍為Active且newEnd晚於現有EndTime時生效
func (s *Store) Extend(ctx context.Context, auctionID uuid.UUID, newEnd time.Time) (*auction.Snapshot, bool, error) {
	const op = "store.Extend"
	var snap *auction.Snapshot
	extended := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, ownerID, err := lockAuction(tx, auctionID)
		if err != nil {
			return err
		}
		if record.Status == models.AuctionActive && newEnd.After(record.EndTime) {
			record.EndTime = newEnd
			record.ExtensionCount++
			if result := tx.Save(record); result.Error != nil {
				return fmt.Errorf("[%s] Fail to update auction, err=%w", op, result.Error)
			}
			extended = true
		}
		snap = snapshotOf(record, ownerID)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return snap, extended, nil
}

// Activate 以compare-and-update將拍賣從Scheduled轉為Active
// 同一交易內把商品標記為拍賣中
func (s *Store) Activate(ctx context.Context, auctionID uuid.UUID) (*auction.Snapshot, bool, error) {
	const op = "store.Activate"
	var snap *auction.Snapshot
	changed := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, ownerID, err := lockAuction(tx, auctionID)
		if err != nil {
			return err
		}
		if record.Status == models.AuctionScheduled {
			record.Status = models.AuctionActive
			if result := tx.Save(record); result.Error != nil {
				return fmt.Errorf("[%s] Fail to update auction, err=%w", op, result.Error)
			}
			if result := tx.Model(&models.Item{}).Where("id = ?", record.ItemID).Update("status", models.ItemActive); result.Error != nil {
				return fmt.Errorf("[%s] Fail to update item, err=%w", op, result.Error)
			}
			changed = true
		}
		snap = snapshotOf(record, ownerID)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return snap, changed, nil
}

// Close 以compare-and-update將拍賣從Active轉為Closed
// 同一交易內標記商品：有得標出價則已售出，否則流標
// 狀態已是終態時不做任何事，保證結算只會被觸發一次
func (s *Store) Close(ctx context.Context, auctionID uuid.UUID) (*auction.Snapshot, bool, error) {
	const op = "store.Close"
	var snap *auction.Snapshot
	changed := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, ownerID, err := lockAuction(tx, auctionID)
		if err != nil {
			return err
		}
		if record.Status == models.AuctionActive {
			record.Status = models.AuctionClosed
			if result := tx.Save(record); result.Error != nil {
				return fmt.Errorf("[%s] Fail to update auction, err=%w", op, result.Error)
			}
			itemStatus := models.ItemExpired
			if record.WinningBidID != nil {
				itemStatus = models.ItemSold
			}
			if result := tx.Model(&models.Item{}).Where("id = ?", record.ItemID).Update("status", itemStatus); result.Error != nil {
				return fmt.Errorf("[%s] Fail to update item, err=%w", op, result.Error)
			}
			changed = true
		}
		snap = snapshotOf(record, ownerID)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return snap, changed, nil
}

// Cancel 將Scheduled或Active的拍賣轉為Cancelled
func (s *Store) Cancel(ctx context.Context, auctionID uuid.UUID) (*auction.Snapshot, bool, error) {
	const op = "store.Cancel"
	var snap *auction.Snapshot
	changed := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, ownerID, err := lockAuction(tx, auctionID)
		if err != nil {
			return err
		}
		if !record.Status.Terminal() {
			record.Status = models.AuctionCancelled
			if result := tx.Save(record); result.Error != nil {
				return fmt.Errorf("[%s] Fail to update auction, err=%w", op, result.Error)
			}
			changed = true
		}
		snap = snapshotOf(record, ownerID)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return snap, changed, nil
}

// ListDueActivations 列出start_time已到的Scheduled拍賣
func (s *Store) ListDueActivations(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	const op = "store.ListDueActivations"
	var ids []uuid.UUID
	result := s.db.WithContext(ctx).Model(&models.Auction{}).
		Where("status = ? AND start_time <= ?", models.AuctionScheduled, now).
		Pluck("id", &ids)
	if result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list auctions, err=%w", op, result.Error)
	}
	return ids, nil
}

// ListDueClosures 列出end_time已過的Active拍賣
func (s *Store) ListDueClosures(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	const op = "store.ListDueClosures"
	var ids []uuid.UUID
	result := s.db.WithContext(ctx).Model(&models.Auction{}).
		Where("status = ? AND end_time <= ?", models.AuctionActive, now).
		Pluck("id", &ids)
	if result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list auctions, err=%w", op, result.Error)
	}
	return ids, nil
}

// lockAuction 以FOR UPDATE鎖住拍賣列並取得商品擁有者
func lockAuction(tx *gorm.DB, auctionID uuid.UUID) (*models.Auction, uuid.UUID, error) {
	const op = "store.lockAuction"
	var record models.Auction
	if result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&record, "id = ?", auctionID); result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, uuid.Nil, auction.ErrAuctionNotFound
		}
		return nil, uuid.Nil, fmt.Errorf("[%s] Fail to find auction, err=%w", op, result.Error)
	}
	var item models.Item
	if result := tx.First(&item, "id = ?", record.ItemID); result.Error != nil {
		return nil, uuid.Nil, fmt.Errorf("[%s] Fail to find item, err=%w", op, result.Error)
	}
	return &record, item.OwnerID, nil
}

func snapshotOf(record *models.Auction, ownerID uuid.UUID) *auction.Snapshot {
	return &auction.Snapshot{
		ID:             record.ID,
		ItemID:         record.ItemID,
		OwnerID:        ownerID,
		StartTime:      record.StartTime,
		EndTime:        record.EndTime,
		CurrentPrice:   record.CurrentPrice,
		Status:         record.Status,
		WinningBidID:   record.WinningBidID,
		TotalBids:      record.TotalBids,
		UniqueBidders:  record.UniqueBidders,
		ExtensionCount: record.ExtensionCount,
	}
}
