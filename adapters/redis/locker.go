package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type lockerOptions struct {
	logger *slog.Logger
	prefix string
	mutex  []AutoRenewMutexOption
}

type LockerOption func(*lockerOptions)

// WithLockerLogger 設置日誌記錄器
func WithLockerLogger(logger *slog.Logger) LockerOption {
	return func(o *lockerOptions) {
		o.logger = logger
	}
}

// WithLockerPrefix 設置鎖鍵的前綴
func WithLockerPrefix(prefix string) LockerOption {
	return func(o *lockerOptions) {
		o.prefix = prefix
	}
}

// WithLockerMutexOptions 設置底層AutoRenewMutex的選項
func WithLockerMutexOptions(opts ...AutoRenewMutexOption) LockerOption {
	return func(o *lockerOptions) {
		o.mutex = opts
	}
}

// Locker 以redis分散式鎖提供以拍賣為範圍的互斥區段
// 鎖的粒度是單一拍賣：不同拍賣的commit完全平行，
// 同一場拍賣的commit則跨服務實例被序列化
type Locker struct {
	client  *redis.Client
	options lockerOptions
}

// NewLocker 建立redis拍賣鎖
func NewLocker(client *redis.Client, opts ...LockerOption) *Locker {
	// 默認選項
	options := lockerOptions{
		logger: slog.Default(),
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}
	options.logger = options.logger.With(slog.String("caller", "Locker"))

	return &Locker{
		client:  client,
		options: options,
	}
}

// Acquire 取得指定拍賣的互斥區段
// ctx結束前取不到鎖時回傳ctx的錯誤；成功時回傳釋放函數，重複釋放是no-op
func (l *Locker) Acquire(ctx context.Context, auctionID uuid.UUID) (func(), error) {
	key := fmt.Sprintf("%sauction:%s:lock", l.options.prefix, auctionID)
	mutex := NewAutoRenewMutex(l.client, key, l.options.mutex...)
	if _, err := mutex.Lock(ctx); err != nil {
		return nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			if _, err := mutex.Unlock(); err != nil {
				l.options.logger.Warn("Fail to release auction lock",
					slog.String("key", key),
					slog.Any("error", err))
			}
		})
	}
	return release, nil
}
