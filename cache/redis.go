package cache

import (
	"context"
	"fmt"
	"time"

	"labelpanel/config"

	"github.com/go-redis/redis/v8"
	"github.com/zeebo/errs"
)

// Error is the error class of the cache package.
var Error = errs.Class("cache")

// RedisClient 是全局Redis客户端
var RedisClient *redis.Client

// ConnectRedis 初始化Redis连接
func ConnectRedis(cfg *config.Config) error {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return Error.New("failed to connect to Redis at %s: %v", client.Options().Addr, err)
	}

	RedisClient = client
	return nil
}

// CloseRedis 关闭Redis连接
func CloseRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}

const probeKey = "labelpanel:probe"

// Probe 测试Redis连接和基本读写操作
func Probe(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return Error.New("Redis client not initialized")
	}

	const want = "Redis connection successful!"
	if err := client.Set(ctx, probeKey, want, time.Minute).Err(); err != nil {
		return Error.Wrap(err)
	}

	val, err := client.Get(ctx, probeKey).Result()
	if err != nil {
		return Error.Wrap(err)
	}
	if val != want {
		return Error.New("unexpected value from Redis: got %s", val)
	}

	return Error.Wrap(client.Del(ctx, probeKey).Err())
}
