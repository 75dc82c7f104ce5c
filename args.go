package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mzadd/api"
)

func ParseArgs() Args {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")
	pflag.String("server-id", "mzadd-0", "")

	// auth config
	pflag.String("auth-public-key", "", "base64 encoded ed25519 public key")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "", "")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "mzadd:", "")
	pflag.String("redis-consumer-group", "mzadd-settlement", "")

	// redis stream keys
	pflag.String("redis-stream-key-for-events", "mzadd-shared-event-stream", "")
	pflag.String("redis-stream-key-for-settlements", "mzadd-settlement-stream", "")

	// auction config
	pflag.Int64("auction-min-increment", 5, "")
	pflag.Duration("auction-extension-window", 300*time.Second, "")
	pflag.Uint32("auction-max-extensions", 0, "0 means unlimited")
	pflag.Duration("auction-lock-wait-timeout", 5*time.Second, "")
	pflag.Duration("auction-sweep-interval", time.Second, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("MZADD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// initial arguments
	return Args{
		ServerURL: viper.GetString("server-url"),
		ServerConfig: api.ServerConfig{
			ID: viper.GetString("server-id"),
			Auth: api.AuthConfig{
				PublicKey: parsePublicKey(viper.GetString("auth-public-key")),
			},
			DB: api.DBConfig{
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
			},
			Redis: api.RedisConfig{
				Addr:          viper.GetString("redis-addr"),
				Password:      viper.GetString("redis-password"),
				DB:            viper.GetInt("redis-db"),
				KeyPrefix:     viper.GetString("redis-key-prefix"),
				ConsumerGroup: viper.GetString("redis-consumer-group"),
				StreamKeys: api.RedisStreamKeys{
					BidEvents:   viper.GetString("redis-stream-key-for-events"),
					Settlements: viper.GetString("redis-stream-key-for-settlements"),
				},
			},
			Auction: api.AuctionConfig{
				MinIncrement:    viper.GetInt64("auction-min-increment"),
				ExtensionWindow: viper.GetDuration("auction-extension-window"),
				MaxExtensions:   viper.GetUint32("auction-max-extensions"),
				LockWaitTimeout: viper.GetDuration("auction-lock-wait-timeout"),
				SweepInterval:   viper.GetDuration("auction-sweep-interval"),
			},
		},
	}
}

// parsePublicKey 解析base64編碼的ed25519公鑰，失敗時回傳nil交給Validate攔下
func parsePublicKey(encoded string) ed25519.PublicKey {
	if encoded == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil
	}
	return ed25519.PublicKey(raw)
}

type Args struct {
	ServerURL    string
	ServerConfig api.ServerConfig
}

func (args Args) Validate() bool {
	return args.ServerURL != "" &&
		args.ServerConfig.ID != "" &&
		args.ServerConfig.Auth.PublicKey != nil &&
		args.ServerConfig.DB.Host != "" &&
		args.ServerConfig.Redis.Addr != ""
}
