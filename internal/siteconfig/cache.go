package siteconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultCacheKey = "siteconfig:public"
	allGroupsField  = "*"
)

// RedisCache stores public maps as fields of one Redis hash so a single DEL drops them all.
type RedisCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisCache returns a cache whose entries expire after ttl (no expiry when ttl <= 0).
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, key: defaultCacheKey, ttl: ttl}
}

// Connect dials addr and pings it before returning the client.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("siteconfig: redis ping: %w", err)
	}
	return client, nil
}

func (c *RedisCache) PublicMap(ctx context.Context, group string) (map[string]string, bool, error) {
	raw, err := c.client.HGet(ctx, c.key, field(group)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	values := map[string]string{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, false, fmt.Errorf("decode cached map: %w", err)
	}
	return values, true, nil
}

func (c *RedisCache) StorePublicMap(ctx context.Context, group string, values map[string]string) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.key, field(group), raw)
	if c.ttl > 0 {
		pipe.Expire(ctx, c.key, c.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}

func field(group string) string {
	if group == "" {
		return allGroupsField
	}
	return "group:" + group
}
