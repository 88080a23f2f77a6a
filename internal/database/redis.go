package database

import (
	"context"
	"log"
	"net"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

type redisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (c redisConfig) addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func getRedisConfig() redisConfig {
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	return redisConfig{
		Host:     viper.GetString("redis.host"),
		Port:     viper.GetString("redis.port"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	}
}

// InitRedis connects to Redis and returns nil when it is unreachable.
// Callers treat a nil client as "no Redis": idempotency keys, the token
// blacklist, payment requests and the payout queue all have a degraded
// path that skips the cache.
func InitRedis() *redis.Client {
	cfg := getRedisConfig()

	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("[REDIS] connection to %s failed, continuing without Redis: %v", cfg.addr(), err)
		rdb.Close()
		return nil
	}

	log.Printf("[REDIS] connected to %s", cfg.addr())
	return rdb
}
