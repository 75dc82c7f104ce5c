package ws

import (
	"context"
	"log/slog"
	"sync"
)

type managerOptions[T any] struct {
	logger     *slog.Logger
	subscriber ISubscriber[T]
	publisher  IPublisher[T]
}

type ManagerOption[T any] func(*managerOptions[T])

// WithManagerLogger 設置日誌記錄器
func WithManagerLogger[T any](logger *slog.Logger) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.logger = logger
	}
}

// WithManagerSubscriber 設置跨節點事件的入口
// 設定後，其他服務實例發布的事件也會被廣播到本地房間
func WithManagerSubscriber[T any](subscriber ISubscriber[T]) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.subscriber = subscriber
	}
}

// WithManagerPublisher 設置跨節點事件的出口
// 設定後，Publish會先走stream再經由subscriber回流到本地，
// 讓多個服務實例共享同一份事件順序
func WithManagerPublisher[T any](publisher IPublisher[T]) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.publisher = publisher
	}
}

// roomManager 管理多個拍賣房間的訂閱與發布
// 房間成員關係只存在於行程內，隨連線消失；
// 跨節點的事件廣播透過可選的stream publisher/subscriber協同運作
type roomManager[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex   // 保護 active 和 channels 的讀寫
	wg     sync.WaitGroup // 用於等待所有 goroutine 完成
	active bool           // 標記 manager 是否正在運作中

	channels map[string]IChannel[T] // 儲存所有活躍的房間

	options managerOptions[T]
}

// NewRoomManager 建立一個新的拍賣房間管理員
func NewRoomManager[T any](opts ...ManagerOption[T]) IRoomManager[T] {
	// 默認選項
	options := managerOptions[T]{
		logger: slog.Default(),
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}
	options.logger = options.logger.With(slog.String("caller", "RoomManager"))

	ctx, cancel := context.WithCancel(context.Background())
	return &roomManager[T]{
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[string]IChannel[T]),
		options:  options,
		active:   true,
	}
}

// Start 啟動房間管理員，開始處理事件的接收與廣播
func (rm *roomManager[T]) Start() {
	if rm.options.subscriber == nil {
		return
	}
	rm.options.subscriber.Start()

	// 啟動事件轉發的goroutine
	rm.wg.Add(1)
	go func() {
		defer rm.wg.Done()
		for msg := range rm.options.subscriber.Subscribe() {
			rm.dispatch(msg.Channel, msg.Message)
		}
	}()
}

// Done 停止房間管理員的運作
func (rm *roomManager[T]) Done() {
	rm.mu.Lock()
	if !rm.active {
		rm.mu.Unlock()
		return
	}
	rm.active = false
	rm.cancel()
	rm.mu.Unlock()

	// 停止stream訂閱並等轉發goroutine把在途事件送完
	// 這段不能持鎖：dispatch要取得讀鎖才能把事件送進房間
	if rm.options.subscriber != nil {
		rm.options.subscriber.Close()
	}
	rm.wg.Wait()

	rm.mu.Lock()
	defer rm.mu.Unlock()
	for _, channel := range rm.channels {
		channel.UnsubscribeAll()
	}
	clear(rm.channels)
}

// Subscribe 訂閱指定的拍賣房間
func (rm *roomManager[T]) Subscribe(channelName string) (<-chan T, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.active {
		return nil, context.Canceled
	}

	c, ok := rm.channels[channelName]
	if !ok {
		c = NewChannel[T]()
		rm.channels[channelName] = c
	}
	return c.Subscribe(), nil
}

// Publish 發布事件到指定的拍賣房間
// 設定了publisher時事件會先進stream，經subscriber回流後才廣播到本地，
// 確保多實例間的每個訂閱者看到同一份事件順序
func (rm *roomManager[T]) Publish(channelName string, data T) error {
	rm.mu.RLock()
	if !rm.active {
		rm.mu.RUnlock()
		return context.Canceled
	}
	publisher := rm.options.publisher
	rm.mu.RUnlock()

	if publisher != nil {
		return publisher.Publish(PublishRequest[T]{
			Channel: channelName,
			Message: data,
		})
	}
	rm.dispatch(channelName, data)
	return nil
}

// Unsubscribe 取消訂閱指定的拍賣房間
func (rm *roomManager[T]) Unsubscribe(channelName string, ch <-chan T) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	c, ok := rm.channels[channelName]
	if !ok {
		return
	}

	c.Unsubscribe(ch)
	if c.IsIdle() {
		delete(rm.channels, channelName)
	}
}

// Count 回報指定拍賣房間目前的訂閱者數量
func (rm *roomManager[T]) Count(channelName string) int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	c, ok := rm.channels[channelName]
	if !ok {
		return 0
	}
	return c.Len()
}

func (rm *roomManager[T]) dispatch(channelName string, data T) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	if channel, ok := rm.channels[channelName]; ok {
		channel.Broadcast(data)
	}
}
