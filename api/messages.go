package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mzadd/auction"
)

// 客戶端可以送出的訊息種類
const (
	MsgAuthenticate     = "authenticate"
	MsgJoinAuction      = "join_auction"
	MsgLeaveAuction     = "leave_auction"
	MsgPlaceBid         = "place_bid"
	MsgGetAuctionStatus = "get_auction_status"
)

// ClientMessage 是客戶端送進即時通道的訊息封包
// 所有訊息共用同一個封包，依Type取用對應的欄位
type ClientMessage struct {
	Type      string           `json:"type"`
	Token     string           `json:"token,omitempty"`
	AuctionID uuid.UUID        `json:"auction_id,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
}

// ConnectionStatus 在連線建立時送出
type ConnectionStatus struct {
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// AuthSuccess 在認證成功時送出
type AuthSuccess struct {
	Type     string    `json:"type"`
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
}

// AuthError 在認證失敗時送出，連線必須重新認證才能繼續操作
type AuthError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorMessage 是一般性的請求錯誤
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AuctionView 是回傳給客戶端的拍賣狀態
type AuctionView struct {
	ID             uuid.UUID       `json:"id"`
	ItemID         uuid.UUID       `json:"item_id"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        time.Time       `json:"end_time"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	Status         string          `json:"status"`
	WinningBidID   *uuid.UUID      `json:"winning_bid_id,omitempty"`
	TotalBids      uint32          `json:"total_bids"`
	UniqueBidders  uint32          `json:"unique_bidders"`
	ExtensionCount uint32          `json:"extension_count"`
}

// AuctionJoined 在成功加入拍賣房間時送出，附上目前狀態讓客戶端同步
type AuctionJoined struct {
	Type              string      `json:"type"`
	AuctionID         uuid.UUID   `json:"auction_id"`
	Auction           AuctionView `json:"auction"`
	ParticipantsCount int         `json:"participants_count"`
}

// AuctionStatus 回應get_auction_status
type AuctionStatus struct {
	Type      string      `json:"type"`
	AuctionID uuid.UUID   `json:"auction_id"`
	Auction   AuctionView `json:"auction"`
}

// BidConfirmation 在出價成功入庫時送給出價者本人
type BidConfirmation struct {
	Type      string          `json:"type"`
	BidID     uuid.UUID       `json:"bid_id"`
	Amount    decimal.Decimal `json:"amount"`
	AuctionID uuid.UUID       `json:"auction_id"`
}

// BidError 在出價被拒絕時送給出價者本人
type BidError struct {
	Type    string         `json:"type"`
	Reason  auction.Reason `json:"reason"`
	Message string         `json:"message"`
}

func viewOf(snap *auction.Snapshot) AuctionView {
	return AuctionView{
		ID:             snap.ID,
		ItemID:         snap.ItemID,
		StartTime:      snap.StartTime,
		EndTime:        snap.EndTime,
		CurrentPrice:   snap.CurrentPrice,
		Status:         string(snap.Status),
		WinningBidID:   snap.WinningBidID,
		TotalBids:      snap.TotalBids,
		UniqueBidders:  snap.UniqueBidders,
		ExtensionCount: snap.ExtensionCount,
	}
}
