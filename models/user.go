package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserRole 代表使用者在平台上的角色
type UserRole string

const (
	RoleBidder   UserRole = "bidder"
	RoleMerchant UserRole = "merchant"
	RoleAdmin    UserRole = "admin"
)

// User 代表拍賣系統中的使用者
// 包含基本的使用者資訊，如使用者名稱、角色與帳號狀態
type User struct {
	gorm.Model

	ID       uuid.UUID `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	Username string    `gorm:"type:varchar(255);not null;<-:create"`
	Role     UserRole  `gorm:"type:varchar(16);not null;default:'bidder'"`
	Active   bool      `gorm:"type:boolean;not null;default:true"`
}
