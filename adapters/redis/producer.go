package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"
)

type producerOptions struct {
	logger     *slog.Logger
	bufferSize int
}

type ProducerOption func(*producerOptions)

// WithProducerLogger 設置日誌記錄器
func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(o *producerOptions) {
		o.logger = logger
	}
}

// WithProducerBufferSize 設置無界緩衝的初始容量
func WithProducerBufferSize(size int) ProducerOption {
	return func(o *producerOptions) {
		o.bufferSize = size
	}
}

// Producer 把訊息寫入redis stream
// Publish只做編碼後排進無界緩衝，實際寫入由背景goroutine完成：
// 發布端（commit引擎、排程器的結算hook）不會被redis的延遲卡住
type Producer[T any] struct {
	client     *redis.Client
	stream     string
	queue      *chanx.UnboundedChan[map[string]any]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	options    producerOptions
}

// NewProducer 建立stream寫入端
func NewProducer[T any](client *redis.Client, stream string, opts ...ProducerOption) (*Producer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	// 默認選項
	options := producerOptions{
		logger:     slog.Default(),
		bufferSize: 100,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Producer[T]{
		client:  client,
		stream:  stream,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "Producer"), slog.String("stream", stream)),
		options: options,
	}, nil
}

// Start 啟動背景寫入goroutine，重複呼叫是no-op
func (p *Producer[T]) Start() {
	if !p.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.queue = chanx.NewUnboundedChan[map[string]any](ctx, p.options.bufferSize)
	p.cancelFunc = cancel
	p.closed = false
	p.logger.Info("Start stream producer")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.logger.Info("Stream producer stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case entry := <-p.queue.Out:
				id, err := p.client.XAdd(ctx, &redis.XAddArgs{
					Stream: p.stream,
					Values: entry,
				}).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					// 寫入失敗的訊息直接丟棄，廣播是best-effort
					p.logger.Error("Fail to append to stream", slog.Any("error", err))
					continue
				}
				p.logger.Debug("Message appended", slog.String("messageId", id))
			}
		}
	}()
}

// Publish 編碼訊息並排進寫入佇列
func (p *Producer[T]) Publish(data T) error {
	const op = "Producer.Publish"
	if p.closed {
		return ErrStreamClosed
	}

	entry, err := encodeStreamEntry(data)
	if err != nil {
		return fmt.Errorf("[%s] Fail to encode payload, err=%w", op, err)
	}

	p.queue.In <- entry
	return nil
}

// Close 停止背景寫入，佇列中尚未寫出的訊息不保證送達
func (p *Producer[T]) Close() {
	if p.closed {
		return
	}
	p.logger.Info("Closing stream producer")
	p.closed = true
	p.cancelFunc()
	p.wg.Wait()
	p.logger.Info("Stream producer closed")
}
