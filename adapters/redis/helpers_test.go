package redis

import (
	"context"
	"io"
	"log"
	"log/slog"
	"sync"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newMockedClient(t *testing.T) (*redis.Client, redismock.ClientMock, func()) {
	client, mock := redismock.NewClientMock()
	return client, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		client.Close()
	}
}

// settlementOrder 是結算任務形狀的測試payload
type settlementOrder struct {
	AuctionID  string `msgpack:"auction_id"`
	FinalPrice string `msgpack:"final_price"`
}

// roomEvent 是廣播事件形狀的測試payload
type roomEvent struct {
	Room string `msgpack:"room"`
	Kind string `msgpack:"kind"`
	Seq  int64  `msgpack:"seq"`
}

// stubMutex 是可控制的IAutoRenewMutex，把group consumer的選舉行為與redis隔離
type stubMutex struct {
	mu      sync.Mutex
	lockErr error
	locks   int
	unlocks int
	cancel  context.CancelFunc
}

func (m *stubMutex) Lock(ctx context.Context) (context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockErr != nil {
		return nil, m.lockErr
	}
	m.locks++
	lockCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	return lockCtx, nil
}

func (m *stubMutex) Unlock() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlocks++
	if m.cancel != nil {
		m.cancel()
	}
	return true, nil
}

func (m *stubMutex) Valid() bool {
	return true
}

func (m *stubMutex) lockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks
}
