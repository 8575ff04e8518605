package initial

import (
	"context"
	"fmt"
	"time"

	"DeskRelay/internal/config"
	"DeskRelay/pkg/zlog"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient 连接 Redis 并 Ping 校验
func NewRedisClient(ctx context.Context, conf config.RedisConfig) (*goredis.Client, error) {
	host := conf.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := conf.Port
	if port == 0 {
		port = 6379
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	zlog.Info("redis connecting", zap.String("addr", addr))

	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     conf.Password,
		DB:           conf.DB,
		PoolSize:     conf.PoolSize,
		MinIdleConns: conf.MinIdleConns,
	})

	// 测试连接
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	zlog.Info("redis connected", zap.String("addr", addr))
	return client, nil
}
