package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Bid 代表拍賣商品的出價紀錄
// 紀錄是append-only的：一旦寫入就不會被修改或刪除，被拒絕的出價不會入庫
type Bid struct {
	gorm.Model

	ID        uuid.UUID       `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	Amount    decimal.Decimal `gorm:"type:numeric(12,2);not null;<-:create"`
	BidderID  uuid.UUID       `gorm:"type:uuid;not null;<-:create"`
	AuctionID uuid.UUID       `gorm:"type:uuid;not null;index;<-:create"`
	Valid     bool            `gorm:"type:boolean;not null;default:true"`

	// 外鍵關聯
	Bidder  User `gorm:"foreignKey:BidderID"`
	Auction Auction
}
