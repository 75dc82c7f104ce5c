package auction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mzadd/models"
)

// Snapshot 是拍賣狀態在某個時間點的唯讀快照
// 驗證、廣播和排程決策都以快照為輸入，不直接操作gorm模型
type Snapshot struct {
	ID             uuid.UUID
	ItemID         uuid.UUID
	OwnerID        uuid.UUID
	StartTime      time.Time
	EndTime        time.Time
	CurrentPrice   decimal.Decimal
	Status         models.AuctionStatus
	WinningBidID   *uuid.UUID
	TotalBids      uint32
	UniqueBidders  uint32
	ExtensionCount uint32
}

// Account 是使用者帳號在認證當下的狀態
// token只證明身份，帳號是否仍然有效以store為準
type Account struct {
	ID       uuid.UUID
	Username string
	Role     string
	Active   bool
}

// CommittedBid 是一筆成功入庫的出價
type CommittedBid struct {
	BidID     uuid.UUID
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// Store 是競標核心對持久層的唯一依賴
// 拍賣與出價紀錄由持久層擁有，核心只在commit期間取得短暫的獨占存取
type Store interface {
	// GetAuction 取得拍賣快照，查無此拍賣時回傳ErrAuctionNotFound
	GetAuction(ctx context.Context, auctionID uuid.UUID) (*Snapshot, error)

	// GetAccount 取得使用者帳號狀態，查無此人時回傳ErrUserNotFound
	GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error)

	// CommitBid 在單一交易內完成出價寫入：
	// 以列鎖讀取最新快照交給validate，驗證通過則新增Bid並更新
	// CurrentPrice、WinningBidID、TotalBids、UniqueBidders（僅在該
	// 競標者首次出價時遞增），任何一步失敗整筆回滾
	CommitBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount decimal.Decimal, validate func(*Snapshot) error) (*CommittedBid, *Snapshot, error)

	// Extend 延後拍賣結束時間並遞增ExtensionCount
	// 僅在拍賣仍為Active且newEnd晚於現有EndTime時生效，否則回傳目前快照且extended為false
	Extend(ctx context.Context, auctionID uuid.UUID, newEnd time.Time) (snap *Snapshot, extended bool, err error)

	// Activate 以compare-and-update將拍賣從Scheduled轉為Active
	// 狀態已不是Scheduled時不做任何事並回傳changed為false
	Activate(ctx context.Context, auctionID uuid.UUID) (snap *Snapshot, changed bool, err error)

	// Close 以compare-and-update將拍賣從Active轉為Closed，並在同一交易內
	// 標記商品狀態：有得標出價時標記為已售出，否則標記為流標
	// 重複呼叫是no-op（changed為false），保證結算只會被觸發一次
	Close(ctx context.Context, auctionID uuid.UUID) (snap *Snapshot, changed bool, err error)

	// Cancel 將Scheduled或Active的拍賣轉為Cancelled（終態）
	Cancel(ctx context.Context, auctionID uuid.UUID) (snap *Snapshot, changed bool, err error)

	// ListDueActivations 列出start_time已到的Scheduled拍賣
	ListDueActivations(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	// ListDueClosures 列出end_time已過的Active拍賣
	ListDueClosures(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}
