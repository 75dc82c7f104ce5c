package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AuctionStatus 代表拍賣的生命週期狀態
// 狀態轉移是單向的：Scheduled -> Active -> Closed，
// Scheduled 和 Active 可以被取消 (Cancelled)，終態不可回退
type AuctionStatus string

const (
	AuctionScheduled AuctionStatus = "scheduled"
	AuctionActive    AuctionStatus = "active"
	AuctionClosed    AuctionStatus = "closed"
	AuctionCancelled AuctionStatus = "cancelled"
)

// Terminal 回報此狀態是否為終態
func (s AuctionStatus) Terminal() bool {
	return s == AuctionClosed || s == AuctionCancelled
}

// Auction 代表一場針對單一商品的限時拍賣
// CurrentPrice 與 WinningBidID 只會在同一次原子更新中一起改變，
// 而且 CurrentPrice 在拍賣進行期間只增不減
type Auction struct {
	gorm.Model

	ID             uuid.UUID       `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	ItemID         uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex;<-:create"`
	StartTime      time.Time       `gorm:"type:timestamp with time zone;not null"`
	EndTime        time.Time       `gorm:"type:timestamp with time zone;not null"`
	CurrentPrice   decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Status         AuctionStatus   `gorm:"type:varchar(16);not null;default:'scheduled'"`
	WinningBidID   *uuid.UUID      `gorm:"type:uuid"`
	TotalBids      uint32          `gorm:"type:integer;not null;default:0"`
	UniqueBidders  uint32          `gorm:"type:integer;not null;default:0"`
	ExtensionCount uint32          `gorm:"type:integer;not null;default:0"`

	// 外鍵關聯
	Item       Item
	WinningBid *Bid `gorm:"foreignKey:WinningBidID"`
	BidRecords []Bid
}
