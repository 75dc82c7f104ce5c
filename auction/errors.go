package auction

import (
	"errors"
	"fmt"
)

// Reason 標示出價被拒絕的原因分類
// 對應到回傳給客戶端的 bid_error reason 欄位
type Reason string

const (
	ReasonNotFound      Reason = "not_found"
	ReasonNotActive     Reason = "auction_not_active"
	ReasonSelfBid       Reason = "self_bid_forbidden"
	ReasonInvalidAmount Reason = "invalid_amount"
	ReasonBidTooLow     Reason = "bid_too_low"
	ReasonBusy          Reason = "busy"
)

var (
	// ErrAuctionNotFound 表示store中查無此拍賣
	ErrAuctionNotFound = errors.New("auction not found")
	// ErrUserNotFound 表示store中查無此使用者
	ErrUserNotFound = errors.New("user not found")
	// ErrSchedulerClosed 表示scheduler已停止，不再接受新的工作
	ErrSchedulerClosed = errors.New("scheduler is closed")
)

// RejectError 代表一次可回報給客戶端的拒絕
// 驗證失敗和鎖等待超時都屬於這一類；store故障則以一般error回傳並對客戶端隱藏細節
type RejectError struct {
	Reason  Reason
	Message string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("bid rejected (%s): %s", e.Reason, e.Message)
}

// Reject 建立一個帶原因分類的拒絕
func Reject(reason Reason, format string, args ...any) *RejectError {
	return &RejectError{
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
	}
}

// AsReject 判斷err是否為RejectError，是則回傳
func AsReject(err error) (*RejectError, bool) {
	var reject *RejectError
	if errors.As(err, &reject) {
		return reject, true
	}
	return nil, false
}
