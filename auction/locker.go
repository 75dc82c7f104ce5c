package auction

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Locker 提供以拍賣為範圍的互斥區段
// 鎖的粒度是單一拍賣，不同拍賣的commit必須能完全平行進行
// Acquire在ctx結束前取不到鎖時回傳ctx的錯誤，成功時回傳釋放函數
type Locker interface {
	Acquire(ctx context.Context, auctionID uuid.UUID) (release func(), err error)
}

// KeyedLocker 是單一行程內的拍賣鎖表
// 每個拍賣對應一個容量為1的token channel，沒有等待者時隨即回收，
// 多實例部署請改用adapters/redis的分散式鎖
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*keyedLock
}

type keyedLock struct {
	token chan struct{}
	refs  int
}

// NewKeyedLocker 建立行程內的拍賣鎖表
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{
		locks: make(map[uuid.UUID]*keyedLock),
	}
}

// Acquire 取得指定拍賣的互斥區段
func (l *KeyedLocker) Acquire(ctx context.Context, auctionID uuid.UUID) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[auctionID]
	if !ok {
		entry = &keyedLock{token: make(chan struct{}, 1)}
		l.locks[auctionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.token <- struct{}{}:
		var once sync.Once
		release := func() {
			once.Do(func() {
				<-entry.token
				l.put(auctionID, entry)
			})
		}
		return release, nil
	case <-ctx.Done():
		l.put(auctionID, entry)
		return nil, ctx.Err()
	}
}

func (l *KeyedLocker) put(auctionID uuid.UUID, entry *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, auctionID)
	}
}
