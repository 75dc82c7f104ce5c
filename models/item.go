package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ItemStatus 代表商品的銷售狀態
// 拍賣結算時會將商品標記為已售出或流標
type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemActive  ItemStatus = "active"
	ItemSold    ItemStatus = "sold"
	ItemExpired ItemStatus = "expired"
)

// Item 代表拍賣系統中的商品
// 商品本身的CRUD由外部服務負責，競標核心只會讀取擁有者並在結算時更新狀態
type Item struct {
	gorm.Model

	ID          uuid.UUID       `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	OwnerID     uuid.UUID       `gorm:"type:uuid;not null;<-:create"`
	Name        string          `gorm:"type:varchar(255);not null"`
	Description string          `gorm:"type:text;not null"`
	StartPrice  decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Status      ItemStatus      `gorm:"type:varchar(16);not null;default:'pending'"`

	// 外鍵關聯
	Owner User `gorm:"foreignKey:OwnerID"`
}
