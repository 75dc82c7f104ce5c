package auction

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mzadd/models"
)

// DefaultMinIncrement 是未設定時的最低加價幅度
var DefaultMinIncrement = decimal.NewFromInt(5)

// Validator 依序檢查一筆候選出價是否合法
// 純函數、無副作用，可以在臨界區內外重複呼叫：
// commit前當作便宜的預檢，取得拍賣鎖後再以最新快照重跑一次
type Validator struct {
	MinIncrement decimal.Decimal
}

// NewValidator 建立出價驗證器，increment不是正數時採用預設值
func NewValidator(increment decimal.Decimal) Validator {
	if !increment.IsPositive() {
		increment = DefaultMinIncrement
	}
	return Validator{MinIncrement: increment}
}

// Validate 檢查候選出價，第一個不通過的規則決定拒絕原因：
//  1. 拍賣存在（snap為nil視為不存在）
//  2. 拍賣為Active且now落在[StartTime, EndTime)
//  3. 競標者不是商品擁有者
//  4. 金額為正數
//  5. 金額不低於目前價格加上最低加價幅度
func (v Validator) Validate(snap *Snapshot, bidderID uuid.UUID, amount decimal.Decimal, now time.Time) error {
	if snap == nil {
		return Reject(ReasonNotFound, "auction not found")
	}
	if snap.Status != models.AuctionActive || now.Before(snap.StartTime) || !now.Before(snap.EndTime) {
		return Reject(ReasonNotActive, "auction is not active")
	}
	if bidderID == snap.OwnerID {
		return Reject(ReasonSelfBid, "cannot bid on your own item")
	}
	if !amount.IsPositive() {
		return Reject(ReasonInvalidAmount, "bid amount must be positive")
	}
	minBid := snap.CurrentPrice.Add(v.MinIncrement)
	if amount.LessThan(minBid) {
		return Reject(ReasonBidTooLow, "minimum bid is %s", minBid.String())
	}
	return nil
}
