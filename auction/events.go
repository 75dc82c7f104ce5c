package auction

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType 標示廣播事件的種類
type EventType string

const (
	EventNewBid            EventType = "new_bid"
	EventAuctionStarted    EventType = "auction_started"
	EventAuctionExtended   EventType = "auction_extended"
	EventAuctionEnded      EventType = "auction_ended"
	EventAuctionCancelled  EventType = "auction_cancelled"
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
)

// Event 代表發送給拍賣房間所有訂閱者的狀態變更事件
// 同一個結構涵蓋所有事件種類，未使用的欄位會在序列化時省略
// 單一拍賣內的事件依發布順序送達每個訂閱者；不同拍賣之間沒有順序保證
type Event struct {
	Type      EventType `json:"type" msgpack:"type"`
	AuctionID uuid.UUID `json:"auction_id" msgpack:"auction_id"`

	// new_bid
	BidID         *uuid.UUID       `json:"bid_id,omitempty" msgpack:"bid_id,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty" msgpack:"amount,omitempty"`
	BidderName    string           `json:"bidder_name,omitempty" msgpack:"bidder_name,omitempty"`
	Timestamp     *time.Time       `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
	TotalBids     *uint32          `json:"total_bids,omitempty" msgpack:"total_bids,omitempty"`
	UniqueBidders *uint32          `json:"unique_bidders,omitempty" msgpack:"unique_bidders,omitempty"`

	// auction_extended
	NewEndTime       *time.Time `json:"new_end_time,omitempty" msgpack:"new_end_time,omitempty"`
	ExtensionSeconds *int64     `json:"extension_seconds,omitempty" msgpack:"extension_seconds,omitempty"`

	// auction_ended
	FinalPrice *decimal.Decimal `json:"final_price,omitempty" msgpack:"final_price,omitempty"`
	WinnerID   *uuid.UUID       `json:"winner_id,omitempty" msgpack:"winner_id,omitempty"`

	// participant_joined / participant_left
	Username          string `json:"username,omitempty" msgpack:"username,omitempty"`
	ParticipantsCount *int   `json:"participants_count,omitempty" msgpack:"participants_count,omitempty"`
}

// Broadcaster 是拍賣房間的事件出口
// Publish為best-effort：沒有投遞保證也不做重放，掉線的客戶端
// 重連後應以get_auction_status重新同步狀態
type Broadcaster interface {
	Publish(channelName string, event Event) error
}
