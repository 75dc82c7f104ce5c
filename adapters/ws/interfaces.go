package ws

// PublishRequest 表示一個發布請求，包含頻道名稱（拍賣ID）和事件內容
type PublishRequest[T any] struct {
	Channel string `json:"channel" msgpack:"channel"`
	Message T      `json:"message" msgpack:"message"`
}

// IChannel 定義了單一拍賣房間的fan-out介面
type IChannel[T any] interface {
	// Subscribe 建立一個新的訂閱並返回接收事件的通道
	Subscribe() <-chan T
	// Unsubscribe 取消指定通道的訂閱
	Unsubscribe(ch <-chan T)
	// UnsubscribeAll 取消所有訂閱
	UnsubscribeAll()
	// Broadcast 將事件廣播給所有訂閱者（best-effort）
	Broadcast(message T)
	// Len 回報目前的訂閱者數量
	Len() int
	// IsIdle 檢查是否沒有訂閱者
	IsIdle() bool
}

// ISubscriber 是跨節點事件的入口，由redis stream consumer實作
type ISubscriber[T any] interface {
	Start()
	Subscribe() <-chan PublishRequest[T]
	Close()
}

// IPublisher 是跨節點事件的出口，由redis stream producer實作
type IPublisher[T any] interface {
	Start()
	Publish(data PublishRequest[T]) error
	Close()
}

// IRoomManager 定義了拍賣房間管理員的介面
type IRoomManager[T any] interface {
	// Start 啟動RoomManager，開始處理事件的接收與廣播。
	// 應在呼叫其他方法前先呼叫此方法。
	Start()
	// Done 停止RoomManager，釋放所有資源。
	Done()
	// Subscribe 訂閱指定拍賣房間，返回一個新的事件通道。
	Subscribe(channelName string) (<-chan T, error)
	// Publish 將事件推送到指定拍賣房間。
	Publish(channelName string, data T) error
	// Unsubscribe 取消訂閱指定拍賣房間。
	Unsubscribe(channelName string, ch <-chan T)
	// Count 回報指定拍賣房間目前的訂閱者數量。
	Count(channelName string) int
}
