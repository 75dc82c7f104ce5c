package ws

import (
	"io"
	"log"
	"log/slog"
	"sync"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type TestEvent struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

// loopbackBridge 模擬stream橋接：發布的請求原封不動回流到subscriber
type loopbackBridge struct {
	mu     sync.Mutex
	ch     chan PublishRequest[TestEvent]
	closed bool
}

func newLoopbackBridge() *loopbackBridge {
	return &loopbackBridge{
		ch: make(chan PublishRequest[TestEvent], 16),
	}
}

func (b *loopbackBridge) Start() {}

func (b *loopbackBridge) Subscribe() <-chan PublishRequest[TestEvent] {
	return b.ch
}

func (b *loopbackBridge) Publish(data PublishRequest[TestEvent]) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.ch <- data
	return nil
}

func (b *loopbackBridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}
