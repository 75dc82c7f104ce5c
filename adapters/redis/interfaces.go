// Package redis 提供競標服務的redis基礎設施：
// 事件stream的發布與回流（跨實例共享同一份事件順序）、
// 結算任務的consumer group佇列，以及以拍賣為範圍的分散式鎖
package redis

import (
	"context"
	"errors"
)

var (
	// ErrStreamClosed 表示stream adapter已關閉，不再接受新訊息
	ErrStreamClosed = errors.New("stream adapter is closed")
)

// IProducer 是訊息進入redis stream的入口
// 拍賣事件與結算任務都經由它寫入stream
type IProducer[T any] interface {
	Start()
	Publish(data T) error
	Close()
}

// IConsumer 把stream尾端的訊息轉成本地channel
// 房間管理員靠它把其他實例發布的事件回流到本地訂閱者
type IConsumer[T any] interface {
	Start()
	Subscribe() <-chan T
	Close()
}

// IGroupConsumer 以consumer group讀取stream
// 每筆訊息都要由worker以Done或Fail逐一確認
type IGroupConsumer[T any] interface {
	Start() error
	Subscribe() <-chan *Message[T]
	Close() error
}

// IAutoRenewMutex 是自動續期分散式鎖的操作介面
// Lock回傳的context在鎖失效時被取消，持有者必須停止依賴鎖的工作
type IAutoRenewMutex interface {
	Lock(ctx context.Context) (context.Context, error)
	Unlock() (bool, error)
	Valid() bool
}
