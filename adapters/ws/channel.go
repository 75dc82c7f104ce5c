package ws

import (
	"sync"
)

// 訂閱通道的緩衝大小
// 廣播是best-effort：訂閱者來不及消化時事件會被丟棄，
// 客戶端重連後應以get_auction_status重新同步
const subscriberBuffer = 16

// Channel 管理單一拍賣房間的所有訂閱者，
// 並將狀態變更事件廣播給所有訂閱者
type Channel[T any] struct {
	subscribers map[<-chan T]chan<- T
	mu          sync.RWMutex
}

// NewChannel 建立一個新的拍賣房間頻道
func NewChannel[T any]() IChannel[T] {
	return &Channel[T]{
		subscribers: make(map[<-chan T]chan<- T),
	}
}

// Subscribe 建立一個新的chan T，將其加入subscribers，並回傳唯讀通道給呼叫者
func (c *Channel[T]) Subscribe() <-chan T {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan T, subscriberBuffer)
	c.subscribers[ch] = ch
	return ch
}

// Unsubscribe 從subscribers中移除指定的通道，並關閉該通道
func (c *Channel[T]) Unsubscribe(ch <-chan T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if writeCh, exists := c.subscribers[ch]; exists {
		delete(c.subscribers, ch)
		close(writeCh)
	}
}

// UnsubscribeAll 關閉所有訂閱者的通道並清空訂閱清單
func (c *Channel[T]) UnsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, writeCh := range c.subscribers {
		close(writeCh)
	}
	clear(c.subscribers)
}

// Broadcast 將事件廣播給所有仍在訂閱清單中的通道
// 同一個訂閱者收到的事件順序與發布順序一致；
// 通道已滿的訂閱者會錯過這個事件（不阻塞其他訂閱者）
func (c *Channel[T]) Broadcast(message T) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, writeCh := range c.subscribers {
		select {
		case writeCh <- message:
		default:
		}
	}
}

// Len 回報目前的訂閱者數量
func (c *Channel[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers)
}

// IsIdle 判斷subscribers是否為空
func (c *Channel[T]) IsIdle() bool {
	return c.Len() == 0
}
