package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	redisAdapter "mzadd/adapters/redis"
	storeAdapter "mzadd/adapters/store"
	"mzadd/adapters/ws"
	"mzadd/auction"
)

type serverOptions struct {
	settler Settler
}

type ServerOption func(*serverOptions)

// WithServerSettler 替換拍賣關閉後的結算實作
func WithServerSettler(settler Settler) ServerOption {
	return func(o *serverOptions) {
		o.settler = settler
	}
}

// ServerImpl 是即時競標服務的組裝點
// 出價經由websocket進入engine，事件經由redis stream回流到所有實例的房間，
// 拍賣關閉後的結算任務交給consumer group裡恰好一個worker處理
type ServerImpl struct {
	rooms    ws.IRoomManager[auction.Event]
	presence *ws.Presence
	store    auction.Store
	engine   *auction.Engine
	schedule *auction.Scheduler

	eventProducer      redisAdapter.IProducer[ws.PublishRequest[auction.Event]]
	settlementProducer redisAdapter.IProducer[SettlementTask]
	settlementConsumer redisAdapter.IGroupConsumer[SettlementTask]
	settler            Settler

	redisClient *redis.Client
	db          *gorm.DB
	wg          sync.WaitGroup
	cancelFunc  context.CancelFunc

	config ServerConfig
}

func NewServer(config ServerConfig, opts ...ServerOption) (*ServerImpl, error) {
	const op = "NewServer"

	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	// 初始化資料庫連線
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: config.DB.Schema + ".",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	store, err := storeAdapter.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create store, err=%w", op, err)
	}

	// 初始化Redis連線
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	// 初始化拍賣事件的stream橋接：本地發布的事件先進stream，
	// 經consumer回流後才廣播，讓所有實例的訂閱者看到同一份事件順序
	eventProducer, err := redisAdapter.NewProducer[ws.PublishRequest[auction.Event]](redisClient, config.Redis.StreamKeys.BidEvents,
		redisAdapter.WithProducerLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create event producer, err=%w", op, err)
	}
	eventConsumer, err := redisAdapter.NewConsumer[ws.PublishRequest[auction.Event]](redisClient, config.Redis.StreamKeys.BidEvents,
		redisAdapter.WithConsumerLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create event consumer, err=%w", op, err)
	}
	rooms := ws.NewRoomManager[auction.Event](
		ws.WithManagerLogger[auction.Event](slog.Default()),
		ws.WithManagerPublisher[auction.Event](eventProducer),
		ws.WithManagerSubscriber[auction.Event](eventConsumer),
	)

	// 初始化拍賣鎖：同一場拍賣的commit與關閉跨實例被序列化
	locker := redisAdapter.NewLocker(redisClient, redisAdapter.WithLockerPrefix(config.Redis.KeyPrefix))

	// 初始化結算任務的stream與worker
	settlementProducer, err := redisAdapter.NewProducer[SettlementTask](redisClient, config.Redis.StreamKeys.Settlements,
		redisAdapter.WithProducerLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create settlement producer, err=%w", op, err)
	}
	settlementConsumer, err := redisAdapter.NewGroupConsumer[SettlementTask](
		redisClient,
		config.Redis.StreamKeys.Settlements,
		config.Redis.ConsumerGroup,
		config.ID,
		redisAdapter.WithGroupConsumerLogger(slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create settlement consumer, err=%w", op, err)
	}

	// 初始化生命週期排程器與commit引擎
	scheduler, err := auction.NewScheduler(store, locker,
		auction.WithSchedulerBroadcaster(rooms),
		auction.WithSchedulerExtensionWindow(config.Auction.ExtensionWindow),
		auction.WithSchedulerMaxExtensions(config.Auction.MaxExtensions),
		auction.WithSchedulerSweepInterval(config.Auction.SweepInterval),
		auction.WithSchedulerSettlementHook(func(ctx context.Context, auctionID uuid.UUID, winningBidID *uuid.UUID) {
			task := SettlementTask{
				AuctionID:    auctionID,
				WinningBidID: winningBidID,
				ClosedAt:     time.Now(),
			}
			if err := settlementProducer.Publish(task); err != nil {
				slog.Error("Fail to enqueue settlement task",
					slog.String("auctionID", auctionID.String()),
					slog.Any("error", err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create scheduler, err=%w", op, err)
	}
	engine, err := auction.NewEngine(store, locker,
		auction.WithEngineValidator(auction.NewValidator(decimal.NewFromInt(config.Auction.MinIncrement))),
		auction.WithEngineBroadcaster(rooms),
		auction.WithEngineLifecycle(scheduler),
		auction.WithEngineLockWait(config.Auction.LockWaitTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create engine, err=%w", op, err)
	}

	settler := options.settler
	if settler == nil {
		settler = &defaultSettler{
			db:     db,
			logger: slog.Default().With(slog.String("caller", "Settler")),
		}
	}

	return &ServerImpl{
		rooms:              rooms,
		presence:           ws.NewPresence(),
		store:              store,
		engine:             engine,
		schedule:           scheduler,
		eventProducer:      eventProducer,
		settlementProducer: settlementProducer,
		settlementConsumer: settlementConsumer,
		settler:            settler,
		redisClient:        redisClient,
		db:                 db,
		config:             config,
	}, nil
}

func (impl *ServerImpl) Start() {
	// 啟動事件橋接與房間管理員
	impl.eventProducer.Start()
	impl.rooms.Start()
	// 啟動結算stream
	impl.settlementProducer.Start()
	impl.settlementConsumer.Start()
	// 啟動生命週期排程器
	impl.schedule.Start()
	// 啟動一個worker處理拍賣關閉後的結算任務
	ctx, cancel := context.WithCancel(context.Background())
	impl.cancelFunc = cancel
	slog.Info("Start settlement worker")
	impl.wg.Add(1)
	go func() {
		logger := slog.Default().With(slog.String("caller", "SettlementWorker"))
		defer impl.wg.Done()
		defer slog.Info("Settlement worker stopped")
		ch := impl.settlementConsumer.Subscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				logger.Debug("Receive settlement task", slog.String("auctionID", msg.Data.AuctionID.String()))
				if handleErr := impl.settler.Settle(ctx, msg.Data); handleErr != nil {
					logger.Error("Fail to settle auction", slog.Any("error", handleErr))
					if err := msg.Fail(ctx, handleErr); err != nil {
						logger.Error("Fail to fail message", slog.Any("error", err))
					}
					continue
				}
				if err := msg.Done(ctx); err != nil {
					logger.Error("Settle success but fail to done message", slog.Any("error", err))
					if err := msg.Fail(ctx, err); err != nil {
						logger.Error("Settle success but fail to fail message", slog.Any("error", err))
					}
					continue
				}
				logger.Debug("Settlement success")
			}
		}
	}()
}

func (impl *ServerImpl) Close() {
	// 關閉排程器，停止觸發新的狀態轉移
	impl.schedule.Close()
	// 關閉結算worker
	impl.settlementConsumer.Close()
	impl.cancelFunc()
	impl.wg.Wait()
	impl.settlementProducer.Close()
	// 關閉房間管理員與事件橋接
	impl.rooms.Done()
	impl.eventProducer.Close()
	// 關閉Redis連線
	impl.redisClient.Close()
}

// RegisterRoutes 註冊即時通道的路由
func (impl *ServerImpl) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws", impl.HandleWS)
}
