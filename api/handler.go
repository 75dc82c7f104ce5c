package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"mzadd/auction"
)

const (
	// 單一客戶端訊息的大小上限
	wsReadLimit = 4 << 10
	// 每個連線的送出緩衝，寫滿時直接丟棄事件
	wsSendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 跨域控制交給前面的反向代理
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient 是單一websocket連線的狀態
// user與subs只被讀取迴圈這一個goroutine操作，不需要額外同步
type wsClient struct {
	id   string
	conn *websocket.Conn
	out  chan any
	user *auction.Bidder
	subs map[string]<-chan auction.Event
	wg   sync.WaitGroup
}

// send 把訊息排進送出緩衝
// 緩衝滿代表客戶端跟不上，直接丟棄，客戶端應以get_auction_status重新同步
func (c *wsClient) send(v any) {
	select {
	case c.out <- v:
	default:
	}
}

// Handle realtime bidding connections
// (GET /ws)
func (impl *ServerImpl) HandleWS(c *gin.Context) {
	const op = "HandleWS"
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("Fail to upgrade connection", slog.String("op", op), slog.Any("error", err))
		return
	}
	conn.SetReadLimit(wsReadLimit)

	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		out:  make(chan any, wsSendBuffer),
		subs: make(map[string]<-chan auction.Event),
	}
	slog.Debug("Client connected", slog.String("sessionID", client.id))

	// 寫出goroutine：所有送往客戶端的訊息都經過out，
	// 讓websocket的單一寫入者限制自然成立
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range client.out {
			if err := conn.WriteJSON(msg); err != nil {
				// 繼續清空緩衝，避免卡住斷線流程
				slog.Debug("Fail to write message", slog.String("sessionID", client.id), slog.Any("error", err))
			}
		}
	}()

	client.send(ConnectionStatus{
		Type:      "connection_status",
		Status:    "connected",
		SessionID: client.id,
		Timestamp: time.Now(),
	})

	// 讀取迴圈：連線上的請求逐一處理，直到客戶端斷線
	ctx := c.Request.Context()
	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Client read error", slog.String("sessionID", client.id), slog.Any("error", err))
			}
			break
		}
		impl.handleMessage(ctx, client, msg)
	}

	impl.disconnect(client)
	<-writerDone
	conn.Close()
	slog.Debug("Client disconnected", slog.String("sessionID", client.id))
}

// disconnect 把連線移出所有房間並結束相關goroutine
// 順序是固定的：先更新成員表並廣播離開，再取消訂閱讓轉送goroutine結束，
// 最後關閉out讓寫出goroutine清空緩衝後退出
func (impl *ServerImpl) disconnect(client *wsClient) {
	remaining := impl.presence.DisconnectAll(client.id)
	for room, count := range remaining {
		impl.publishPresence(room, auction.EventParticipantLeft, client, count)
	}
	for room, ch := range client.subs {
		impl.rooms.Unsubscribe(room, ch)
	}
	client.wg.Wait()
	close(client.out)
}

func (impl *ServerImpl) handleMessage(ctx context.Context, client *wsClient, msg ClientMessage) {
	switch msg.Type {
	case MsgAuthenticate:
		impl.handleAuthenticate(ctx, client, msg.Token)
	case MsgJoinAuction:
		impl.handleJoin(ctx, client, msg.AuctionID)
	case MsgLeaveAuction:
		impl.handleLeave(client, msg.AuctionID)
	case MsgPlaceBid:
		impl.handleBid(ctx, client, msg)
	case MsgGetAuctionStatus:
		impl.handleStatus(ctx, client, msg.AuctionID)
	default:
		client.send(ErrorMessage{Type: "error", Message: "unknown message type"})
	}
}

func (impl *ServerImpl) handleAuthenticate(ctx context.Context, client *wsClient, tokenString string) {
	const op = "HandleAuthenticate"
	token, err := ParseAndValidateJWT(tokenString, impl.config.Auth.PublicKey)
	if errors.Is(err, ErrTokenExpired) {
		client.send(AuthError{Type: "auth_error", Message: "token expired"})
		return
	}
	if err != nil {
		slog.Debug("Fail to parse and validate JWT", slog.String("op", op), slog.Any("error", err))
		client.send(AuthError{Type: "auth_error", Message: "invalid token"})
		return
	}
	userID, err := uuid.Parse(token.Subject)
	if err != nil {
		slog.Debug("Invalid token subject", slog.String("op", op), slog.Any("error", err))
		client.send(AuthError{Type: "auth_error", Message: "invalid token"})
		return
	}

	// token只證明簽發當下的身份，帳號是否還有效以store為準：
	// 被停用的帳號拿著尚未過期的token也不能進場
	account, err := impl.store.GetAccount(ctx, userID)
	if errors.Is(err, auction.ErrUserNotFound) {
		client.send(AuthError{Type: "auth_error", Message: "invalid token"})
		return
	}
	if err != nil {
		slog.Error("Fail to load account", slog.String("op", op), slog.Any("error", err))
		client.send(AuthError{Type: "auth_error", Message: "authentication unavailable"})
		return
	}
	if !account.Active {
		client.send(AuthError{Type: "auth_error", Message: "account disabled"})
		return
	}

	client.user = &auction.Bidder{ID: account.ID, Username: account.Username}
	client.send(AuthSuccess{
		Type:     "auth_success",
		UserID:   account.ID,
		Username: account.Username,
		Role:     account.Role,
	})
}

func (impl *ServerImpl) handleJoin(ctx context.Context, client *wsClient, auctionID uuid.UUID) {
	const op = "HandleJoin"
	if client.user == nil {
		client.send(ErrorMessage{Type: "error", Message: "authentication required"})
		return
	}
	snap, err := impl.store.GetAuction(ctx, auctionID)
	if errors.Is(err, auction.ErrAuctionNotFound) {
		client.send(ErrorMessage{Type: "error", Message: "auction not found"})
		return
	}
	if err != nil {
		slog.Error("Fail to load auction", slog.String("op", op), slog.Any("error", err))
		client.send(ErrorMessage{Type: "error", Message: "internal error"})
		return
	}

	room := auctionID.String()
	count, already := impl.presence.Join(client.id, room)
	if !already {
		// 先向既有成員廣播再訂閱，加入者不會收到自己的participant_joined
		impl.publishPresence(room, auction.EventParticipantJoined, client, count)
		ch, err := impl.rooms.Subscribe(room)
		if err != nil {
			if remaining, left := impl.presence.Leave(client.id, room); left {
				impl.publishPresence(room, auction.EventParticipantLeft, client, remaining)
			}
			slog.Error("Fail to subscribe room", slog.String("op", op), slog.Any("error", err))
			client.send(ErrorMessage{Type: "error", Message: "internal error"})
			return
		}
		client.subs[room] = ch
		client.wg.Add(1)
		go func() {
			defer client.wg.Done()
			for event := range ch {
				client.send(event)
			}
		}()
	}

	// 重複加入是no-op，但一樣回傳最新狀態讓客戶端重新同步
	client.send(AuctionJoined{
		Type:              "auction_joined",
		AuctionID:         auctionID,
		Auction:           viewOf(snap),
		ParticipantsCount: count,
	})
}

func (impl *ServerImpl) handleLeave(client *wsClient, auctionID uuid.UUID) {
	room := auctionID.String()
	count, left := impl.presence.Leave(client.id, room)
	if !left {
		return
	}
	if ch, ok := client.subs[room]; ok {
		impl.rooms.Unsubscribe(room, ch)
		delete(client.subs, room)
	}
	impl.publishPresence(room, auction.EventParticipantLeft, client, count)
}

func (impl *ServerImpl) handleBid(ctx context.Context, client *wsClient, msg ClientMessage) {
	const op = "HandleBid"
	if client.user == nil {
		client.send(ErrorMessage{Type: "error", Message: "authentication required"})
		return
	}
	if msg.Amount == nil {
		client.send(BidError{Type: "bid_error", Reason: auction.ReasonInvalidAmount, Message: "amount is required"})
		return
	}

	committed, err := impl.engine.Commit(ctx, *client.user, msg.AuctionID, *msg.Amount)
	if err != nil {
		if reject, ok := auction.AsReject(err); ok {
			client.send(BidError{Type: "bid_error", Reason: reject.Reason, Message: reject.Message})
			return
		}
		// 內部故障不對客戶端洩漏細節
		slog.Error("Fail to commit bid", slog.String("op", op), slog.Any("error", err))
		client.send(ErrorMessage{Type: "error", Message: "internal error"})
		return
	}

	client.send(BidConfirmation{
		Type:      "bid_confirmation",
		BidID:     committed.BidID,
		Amount:    committed.Amount,
		AuctionID: committed.AuctionID,
	})
}

func (impl *ServerImpl) handleStatus(ctx context.Context, client *wsClient, auctionID uuid.UUID) {
	const op = "HandleStatus"
	snap, err := impl.store.GetAuction(ctx, auctionID)
	if errors.Is(err, auction.ErrAuctionNotFound) {
		client.send(ErrorMessage{Type: "error", Message: "auction not found"})
		return
	}
	if err != nil {
		slog.Error("Fail to load auction", slog.String("op", op), slog.Any("error", err))
		client.send(ErrorMessage{Type: "error", Message: "internal error"})
		return
	}
	client.send(AuctionStatus{
		Type:      "auction_status",
		AuctionID: auctionID,
		Auction:   viewOf(snap),
	})
}

// publishPresence 廣播成員加入或離開的事件
func (impl *ServerImpl) publishPresence(room string, eventType auction.EventType, client *wsClient, count int) {
	auctionID, err := uuid.Parse(room)
	if err != nil {
		return
	}
	username := ""
	if client.user != nil {
		username = client.user.Username
	}
	event := auction.Event{
		Type:              eventType,
		AuctionID:         auctionID,
		Username:          username,
		ParticipantsCount: lo.ToPtr(count),
	}
	if err := impl.rooms.Publish(room, event); err != nil {
		slog.Warn("Fail to broadcast presence event",
			slog.String("auctionID", room),
			slog.String("event", string(eventType)),
			slog.Any("error", err))
	}
}
