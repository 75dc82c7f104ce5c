package auction

import (
	"context"
	"io"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mzadd/models"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// memoryStore 是測試用的in-memory Store實作
// 以單一mutex模擬資料庫交易的序列化效果
type memoryStore struct {
	mu      sync.Mutex
	snaps   map[uuid.UUID]*Snapshot
	bids    []CommittedBid
	bidders map[uuid.UUID]map[uuid.UUID]struct{}
}

func newMemoryStore(snaps ...*Snapshot) *memoryStore {
	s := &memoryStore{
		snaps:   make(map[uuid.UUID]*Snapshot),
		bidders: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
	for _, snap := range snaps {
		copied := *snap
		s.snaps[snap.ID] = &copied
	}
	return s
}

// 引擎與排程器的測試不經過認證流程
func (s *memoryStore) GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error) {
	return nil, ErrUserNotFound
}

func (s *memoryStore) GetAuction(ctx context.Context, auctionID uuid.UUID) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[auctionID]
	if !ok {
		return nil, ErrAuctionNotFound
	}
	copied := *snap
	return &copied, nil
}

func (s *memoryStore) CommitBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount decimal.Decimal, validate func(*Snapshot) error) (*CommittedBid, *Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[auctionID]
	if !ok {
		return nil, nil, ErrAuctionNotFound
	}
	fresh := *snap
	if err := validate(&fresh); err != nil {
		return nil, nil, err
	}

	bid := CommittedBid{
		BidID:     uuid.New(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: time.Now(),
	}
	s.bids = append(s.bids, bid)

	snap.CurrentPrice = amount
	snap.WinningBidID = &bid.BidID
	snap.TotalBids++
	set, ok := s.bidders[auctionID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		s.bidders[auctionID] = set
	}
	if _, seen := set[bidderID]; !seen {
		set[bidderID] = struct{}{}
		snap.UniqueBidders++
	}

	copied := *snap
	return &bid, &copied, nil
}

func (s *memoryStore) Extend(ctx context.Context, auctionID uuid.UUID, newEnd time.Time) (*Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[auctionID]
	if !ok {
		return nil, false, ErrAuctionNotFound
	}
	extended := false
	if snap.Status == models.AuctionActive && newEnd.After(snap.EndTime) {
		snap.EndTime = newEnd
		snap.ExtensionCount++
		extended = true
	}
	copied := *snap
	return &copied, extended, nil
}

func (s *memoryStore) Activate(ctx context.Context, auctionID uuid.UUID) (*Snapshot, bool, error) {
	return s.transition(auctionID, func(snap *Snapshot) bool {
		if snap.Status != models.AuctionScheduled {
			return false
		}
		snap.Status = models.AuctionActive
		return true
	})
}

func (s *memoryStore) Close(ctx context.Context, auctionID uuid.UUID) (*Snapshot, bool, error) {
	return s.transition(auctionID, func(snap *Snapshot) bool {
		if snap.Status != models.AuctionActive {
			return false
		}
		snap.Status = models.AuctionClosed
		return true
	})
}

func (s *memoryStore) Cancel(ctx context.Context, auctionID uuid.UUID) (*Snapshot, bool, error) {
	return s.transition(auctionID, func(snap *Snapshot) bool {
		if snap.Status.Terminal() {
			return false
		}
		snap.Status = models.AuctionCancelled
		return true
	})
}

func (s *memoryStore) ListDueActivations(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, snap := range s.snaps {
		if snap.Status == models.AuctionScheduled && !snap.StartTime.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memoryStore) ListDueClosures(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, snap := range s.snaps {
		if snap.Status == models.AuctionActive && !snap.EndTime.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memoryStore) transition(auctionID uuid.UUID, apply func(*Snapshot) bool) (*Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[auctionID]
	if !ok {
		return nil, false, ErrAuctionNotFound
	}
	changed := apply(snap)
	copied := *snap
	return &copied, changed, nil
}

func (s *memoryStore) committedBids() []CommittedBid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CommittedBid(nil), s.bids...)
}

// recordingBroadcaster 收集所有發布的事件
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []Event
}

func (b *recordingBroadcaster) Publish(channelName string, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBroadcaster) eventsOfType(eventType EventType) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var matched []Event
	for _, event := range b.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// activeSnapshot 建立一場進行中的拍賣快照
func activeSnapshot(ownerID uuid.UUID, price int64, now time.Time) *Snapshot {
	return &Snapshot{
		ID:           uuid.New(),
		ItemID:       uuid.New(),
		OwnerID:      ownerID,
		StartTime:    now.Add(-time.Hour),
		EndTime:      now.Add(time.Hour),
		CurrentPrice: decimal.NewFromInt(price),
		Status:       models.AuctionActive,
	}
}
