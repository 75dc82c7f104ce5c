package api

import (
	"crypto/ed25519"
	"time"
)

type ServerConfig struct {
	// ID 是服務實例的識別名稱，作為consumer group內的consumer名稱
	ID string

	Auth    AuthConfig
	DB      DBConfig
	Redis   RedisConfig
	Auction AuctionConfig
}

type AuthConfig struct {
	// PublicKey 用於驗證外部認證服務簽發的存取token
	PublicKey ed25519.PublicKey
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix 是所有redis key的前綴（鎖、快取共用）
	KeyPrefix string
	// ConsumerGroup 是結算worker所屬的consumer group名稱
	ConsumerGroup string

	StreamKeys RedisStreamKeys
}

type RedisStreamKeys struct {
	// BidEvents 是跨實例廣播拍賣事件用的stream
	BidEvents string
	// Settlements 是拍賣關閉後交給結算worker的stream
	Settlements string
}

type AuctionConfig struct {
	// MinIncrement 是最低加價幅度
	MinIncrement int64
	// ExtensionWindow 是防狙擊延長窗口
	ExtensionWindow time.Duration
	// MaxExtensions 是單場拍賣的延長次數上限，0表示不設限
	MaxExtensions uint32
	// LockWaitTimeout 是取得拍賣鎖的等待上限，超過即以Busy拒絕
	LockWaitTimeout time.Duration
	// SweepInterval 是生命週期掃描的間隔
	SweepInterval time.Duration
}
