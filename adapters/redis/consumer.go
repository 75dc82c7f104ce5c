package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type consumerOptions struct {
	logger       *slog.Logger
	bufferSize   int
	blockTimeout time.Duration
}

type ConsumerOption func(*consumerOptions)

// WithConsumerLogger 設置日誌記錄器
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(o *consumerOptions) {
		o.logger = logger
	}
}

// WithConsumerBufferSize 設置下游channel的緩衝大小
func WithConsumerBufferSize(size int) ConsumerOption {
	return func(o *consumerOptions) {
		o.bufferSize = size
	}
}

// WithConsumerBlockTimeout 設置阻塞讀取的超時時間
func WithConsumerBlockTimeout(d time.Duration) ConsumerOption {
	return func(o *consumerOptions) {
		o.blockTimeout = d
	}
}

// Consumer 從stream尾端讀取訊息並送往下游channel
// 游標從啟動當下的"$"開始，歷史訊息不重放：房間訂閱者要的是
// 「接下來發生什麼」，落後的客戶端由應用層以拍賣快照重新同步
type Consumer[T any] struct {
	client     *redis.Client
	stream     string
	cursor     string
	out        chan T
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	options    consumerOptions
}

// NewConsumer 建立stream尾端讀取器
func NewConsumer[T any](client *redis.Client, stream string, opts ...ConsumerOption) (IConsumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	// 默認選項
	options := consumerOptions{
		logger:       slog.Default(),
		bufferSize:   100,
		blockTimeout: time.Second,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Consumer[T]{
		client:  client,
		stream:  stream,
		cursor:  "$",
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "Consumer"), slog.String("stream", stream)),
		options: options,
	}, nil
}

// Start 啟動讀取goroutine，重複呼叫是no-op
func (c *Consumer[T]) Start() {
	if !c.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.out = make(chan T, c.options.bufferSize)
	c.closed = false
	c.cancelFunc = cancel
	c.logger.Info("Start stream consumer")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.logger.Info("Stream consumer stopped")
		defer close(c.out)

		for {
			select {
			case <-ctx.Done():
				return
			default:
				entry, err := c.nextEntry(ctx)
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					c.logger.Error("Fail to read stream", slog.Any("error", err))
					continue
				}

				data, err := decodeStreamEntry[T](entry.Values)
				if err != nil {
					// 解不開的訊息跳過，別讓一筆壞資料卡住整條stream
					c.logger.Error("Fail to decode message",
						slog.String("messageId", entry.ID),
						slog.Any("error", err))
					continue
				}

				select {
				case <-ctx.Done():
					return
				case c.out <- data:
					c.logger.Debug("Message delivered", slog.String("messageId", entry.ID))
				}
			}
		}
	}()
}

// nextEntry 讀取游標之後的下一筆訊息，沒有新訊息時回傳redis.Nil
func (c *Consumer[T]) nextEntry(ctx context.Context) (redis.XMessage, error) {
	streams, err := c.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{c.stream, c.cursor},
		Count:   1,
		Block:   c.options.blockTimeout,
	}).Result()
	if err != nil {
		return redis.XMessage{}, err
	}

	if len(streams) > 0 && len(streams[0].Messages) > 0 {
		entry := streams[0].Messages[0]
		c.cursor = entry.ID
		return entry, nil
	}
	return redis.XMessage{}, redis.Nil
}

// Subscribe 取得下游channel，Close後channel會被關閉
func (c *Consumer[T]) Subscribe() <-chan T {
	return c.out
}

// Close 停止讀取，重複呼叫是no-op
func (c *Consumer[T]) Close() {
	if c.closed {
		return
	}
	c.logger.Info("Closing stream consumer")
	c.closed = true
	c.cancelFunc()
	c.wg.Wait()
	c.logger.Info("Stream consumer closed")
}
