package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/langchou/chargegazer/internal/models"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// NewRedisClient 创建 redis 客户端并用 PING 校验连接
func NewRedisClient(addr, password string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis: addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return client, nil
}

// FleetCache 车队汇总缓存，按窗口长度分键
type FleetCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewFleetCache 创建车队汇总缓存
func NewFleetCache(client redis.Cmdable, ttl time.Duration) *FleetCache {
	return &FleetCache{client: client, ttl: ttl}
}

// Key 缓存键
func Key(window time.Duration) string {
	return fmt.Sprintf("fleet:summary:%d", int64(window/time.Second))
}

// Get 读取缓存；未命中时返回 (nil, false, nil)
func (c *FleetCache) Get(ctx context.Context, window time.Duration) (*models.FleetSummary, bool, error) {
	raw, err := c.client.Get(ctx, Key(window)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get fleet summary: %w", err)
	}

	var summary models.FleetSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, false, fmt.Errorf("decode fleet summary: %w", err)
	}
	return &summary, true, nil
}

// Set 写入缓存
func (c *FleetCache) Set(ctx context.Context, window time.Duration, summary *models.FleetSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode fleet summary: %w", err)
	}
	if err := c.client.Set(ctx, Key(window), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set fleet summary: %w", err)
	}
	return nil
}
