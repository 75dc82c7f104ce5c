package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message 把stream訊息連同確認所需的資料一起交給worker
// worker處理完成呼叫Done，處理失敗呼叫Fail把訊息改送dead-letter
type Message[T any] struct {
	Data T

	client *redis.Client
	acked  bool
	id     string
	stream string
	group  string
	values map[string]any
}

// Done 向stream確認訊息已處理完成，重複呼叫是no-op
func (m *Message[T]) Done(ctx context.Context) error {
	const op = "Message.Done"
	if m.acked {
		return nil
	}
	if err := m.client.XAck(ctx, m.stream, m.group, m.id).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to ack message, err=%w", op, err)
	}
	m.acked = true
	return nil
}

// Fail 把訊息連同失敗原因改送dead-letter，之後一樣向stream確認
// 結算失敗的拍賣因此不會卡住佇列，留在dead-letter等待人工介入
func (m *Message[T]) Fail(ctx context.Context, cause error) error {
	const op = "Message.Fail"
	if m.acked {
		return nil
	}

	m.values["error"] = cause.Error()
	if err := m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream + ":dead-letter",
		Values: m.values,
	}).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to move message to dead letter stream, err=%w", op, err)
	}
	if err := m.client.XAck(ctx, m.stream, m.group, m.id).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to ack failed message, err=%w", op, err)
	}
	m.acked = true
	return nil
}

type groupConsumerOptions struct {
	logger       *slog.Logger
	bufferSize   int
	blockTimeout time.Duration
	mutex        IAutoRenewMutex
}

type GroupConsumerOption func(*groupConsumerOptions)

// WithGroupConsumerLogger 設置日誌記錄器
func WithGroupConsumerLogger(logger *slog.Logger) GroupConsumerOption {
	return func(o *groupConsumerOptions) {
		o.logger = logger
	}
}

// WithGroupConsumerBufferSize 設置下游channel的緩衝大小
func WithGroupConsumerBufferSize(size int) GroupConsumerOption {
	return func(o *groupConsumerOptions) {
		o.bufferSize = size
	}
}

// WithGroupConsumerBlockTimeout 設置阻塞讀取的超時時間
func WithGroupConsumerBlockTimeout(d time.Duration) GroupConsumerOption {
	return func(o *groupConsumerOptions) {
		o.blockTimeout = d
	}
}

// WithGroupConsumerMutex 注入active worker選舉用的鎖（測試用）
func WithGroupConsumerMutex(mutex IAutoRenewMutex) GroupConsumerOption {
	return func(o *groupConsumerOptions) {
		o.mutex = mutex
	}
}

// GroupConsumer 以consumer group消費stream，並保證整個群組同一時間
// 只有一個活躍的worker在處理訊息
// 結算任務要求處理順序與stream順序一致，因此每一輪都先以分散式鎖
// 選出active worker；接手的worker先重放自己名下的pending訊息，
// 前一任倒在半路的任務必須先被送完，新訊息才會繼續
type GroupConsumer[T any] struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	out        chan *Message[T]
	mutex      IAutoRenewMutex
	replay     []string
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	options    groupConsumerOptions
}

// NewGroupConsumer 建立consumer group讀取器
func NewGroupConsumer[T any](
	client *redis.Client,
	stream, group, consumer string,
	opts ...GroupConsumerOption,
) (IGroupConsumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" || group == "" || consumer == "" {
		return nil, errors.New("stream, group and consumer cannot be empty")
	}

	// 默認選項
	options := groupConsumerOptions{
		logger:       slog.Default(),
		bufferSize:   1,
		blockTimeout: time.Second,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	gc := &GroupConsumer[T]{
		logger:   options.logger.With(slog.String("caller", "GroupConsumer"), slog.String("stream", stream), slog.String("group", group), slog.String("consumer", consumer)),
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		closed:   true,
		options:  options,
	}

	gc.mutex = options.mutex
	if gc.mutex == nil {
		gc.mutex = NewAutoRenewMutex(client, fmt.Sprintf("lock:%s:%s", stream, group))
	}

	return gc, nil
}

// Start 啟動worker選舉與消費迴圈，重複呼叫是no-op
func (s *GroupConsumer[T]) Start() error {
	if !s.closed {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.out = make(chan *Message[T], s.options.bufferSize)
	s.cancelFunc = cancel
	s.closed = false
	s.logger.Info("Start group consumer")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("Group consumer stopped")
		defer close(s.out)
		defer s.mutex.Unlock()

		for {
			// Lock只會在取到鎖或ctx結束時返回；取到鎖就是群組唯一的active worker
			lockCtx, err := s.mutex.Lock(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.logger.Error("Give up acquiring worker lock", slog.Any("error", err))
				}
				return
			}
			if err := s.drain(lockCtx); err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return
				}
				// 鎖被取消（續期失敗）或redis異常，回去重新競爭active worker
				s.logger.Error("Active worker interrupted, rejoining election", slog.Any("error", err))
				continue
			}
		}
	}()

	return nil
}

// Subscribe 取得下游channel，Close後channel會被關閉
func (s *GroupConsumer[T]) Subscribe() <-chan *Message[T] {
	return s.out
}

// Close 停止消費，重複呼叫是no-op
func (s *GroupConsumer[T]) Close() error {
	if s.closed {
		return nil
	}
	s.logger.Info("Closing group consumer")
	s.closed = true
	s.cancelFunc()
	s.wg.Wait()
	s.logger.Info("Group consumer closed")
	return nil
}

// drain 以active worker的身份處理訊息，直到ctx結束或redis異常
func (s *GroupConsumer[T]) drain(ctx context.Context) error {
	if err := s.loadReplayQueue(ctx); err != nil {
		return err
	}
	for {
		entry, err := s.nextEntry(ctx)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				return err
			}
			// 一般是與redis之間的暫時性通訊異常，重試即可
			s.logger.Error("Fail to read stream", slog.Any("error", err))
			continue
		}

		data, err := decodeStreamEntry[T](entry.Values)
		if err != nil {
			// 解碼失敗不會因重試而好轉，直接改送dead-letter讓佇列前進
			s.logger.Error("Fail to decode message",
				slog.String("messageId", entry.ID),
				slog.Any("error", err))
			if dlqErr := s.quarantine(ctx, entry); dlqErr != nil {
				// 訊息以pending狀態留在stream，下一任active worker重放時優先處理
				s.logger.Error("Fail to move message to dead letter",
					slog.String("messageId", entry.ID),
					slog.Any("error", dlqErr))
				return dlqErr
			}
			continue
		}

		msg := &Message[T]{
			Data:   data,
			id:     entry.ID,
			stream: s.stream,
			group:  s.group,
			client: s.client,
			values: entry.Values,
		}
		select {
		case <-ctx.Done():
			// 尚未交付的訊息保持pending，之後重放
			return context.Canceled
		case s.out <- msg:
		}
	}
}

// loadReplayQueue 收集自己名下所有pending訊息的ID
func (s *GroupConsumer[T]) loadReplayQueue(ctx context.Context) error {
	const op = "GroupConsumer.loadReplayQueue"
	const pageSize = 100
	s.replay = s.replay[:0]
	lastID := "-"

	for {
		pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: s.stream,
			Group:  s.group,
			Start:  lastID,
			End:    "+",
			Count:  pageSize,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return fmt.Errorf("[%s] Fail to list pending messages, err=%w", op, err)
		}
		if len(pending) == 0 {
			break
		}

		for _, p := range pending {
			s.replay = append(s.replay, p.ID)
		}
		lastID = pending[len(pending)-1].ID

		if len(pending) < pageSize {
			break
		}
	}

	s.logger.Info("Pending messages queued for replay", slog.Int("count", len(s.replay)))
	return nil
}

// nextEntry 優先重放pending訊息，重放完畢才讀新訊息
func (s *GroupConsumer[T]) nextEntry(ctx context.Context) (redis.XMessage, error) {
	var entry redis.XMessage
	var err error

	if len(s.replay) > 0 {
		var entries []redis.XMessage
		entries, err = s.client.XRangeN(ctx, s.stream, s.replay[0], s.replay[0], 1).Result()
		s.replay = s.replay[1:]
		if len(entries) > 0 {
			entry = entries[0]
		}
	} else {
		var streams []redis.XStream
		streams, err = s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.stream, ">"},
			Count:    1,
			Block:    s.options.blockTimeout,
		}).Result()
		if len(streams) > 0 && len(streams[0].Messages) > 0 {
			entry = streams[0].Messages[0]
		}
	}

	return entry, err
}

// quarantine 把解不開的訊息改送dead-letter並確認原訊息
func (s *GroupConsumer[T]) quarantine(ctx context.Context, entry redis.XMessage) error {
	const op = "GroupConsumer.quarantine"
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream + ":dead-letter",
		Values: entry.Values,
	}).Err(); err != nil {
		return fmt.Errorf("[%s] Fail to append to dead letter stream, err=%w", op, err)
	}
	return s.client.XAck(ctx, s.stream, s.group, entry.ID).Err()
}
