package ws

import (
	"sync"
)

// Presence 追蹤哪些連線加入了哪些拍賣房間
// 同時維護正向（連線→拍賣）與反向（拍賣→連線）索引，兩者在同一把鎖下更新，
// 保證任何時刻兩個索引互相一致；成員關係不落地，隨連線消失
type Presence struct {
	mu        sync.RWMutex
	byConn    map[string]map[string]struct{} // 連線ID -> 已加入的拍賣ID集合
	byAuction map[string]map[string]struct{} // 拍賣ID -> 連線ID集合
}

// NewPresence 建立房間成員表
func NewPresence() *Presence {
	return &Presence{
		byConn:    make(map[string]map[string]struct{}),
		byAuction: make(map[string]map[string]struct{}),
	}
}

// Join 將連線加入拍賣房間
// 回傳加入後的參與人數，以及此連線是否原本就在房間內（重複加入是no-op）
func (p *Presence) Join(connID, auctionID string) (count int, already bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns, ok := p.byAuction[auctionID]
	if !ok {
		conns = make(map[string]struct{})
		p.byAuction[auctionID] = conns
	}
	if _, already = conns[connID]; !already {
		conns[connID] = struct{}{}

		auctions, ok := p.byConn[connID]
		if !ok {
			auctions = make(map[string]struct{})
			p.byConn[connID] = auctions
		}
		auctions[auctionID] = struct{}{}
	}
	return len(conns), already
}

// Leave 將連線移出拍賣房間
// 回傳移出後的參與人數，以及連線先前是否真的在房間內；重複呼叫是安全的
func (p *Presence) Leave(connID, auctionID string) (count int, left bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leaveLocked(connID, auctionID)
}

// DisconnectAll 將連線移出它加入過的每一個拍賣房間
// 回傳離開的拍賣ID與對應的剩餘人數；重複呼叫是安全的no-op
func (p *Presence) DisconnectAll(connID string) map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	remaining := make(map[string]int)
	for auctionID := range p.byConn[connID] {
		if count, left := p.leaveLocked(connID, auctionID); left {
			remaining[auctionID] = count
		}
	}
	return remaining
}

// Count 回報拍賣房間目前的參與人數
func (p *Presence) Count(auctionID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byAuction[auctionID])
}

// Joined 回報連線是否在指定的拍賣房間內
func (p *Presence) Joined(connID, auctionID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byConn[connID][auctionID]
	return ok
}

func (p *Presence) leaveLocked(connID, auctionID string) (count int, left bool) {
	conns, ok := p.byAuction[auctionID]
	if !ok {
		return 0, false
	}
	if _, left = conns[connID]; left {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(p.byAuction, auctionID)
		}

		auctions := p.byConn[connID]
		delete(auctions, auctionID)
		if len(auctions) == 0 {
			delete(p.byConn, connID)
		}
	}
	return len(conns), left
}
