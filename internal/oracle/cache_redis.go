package oracle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces travel-time keys.
const DefaultRedisPrefix = "traveltime:"

const unreachableValue = "u"

// RedisCache is a Cache shared by every replica of the service.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache connects to url (redis://...) and checks the connection.
func NewRedisCache(url string) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisCacheFromClient(rdb, DefaultRedisPrefix), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(rdb *redis.Client, prefix string) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) (TravelTime, bool, error) {
	v, err := c.rdb.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return Unreachable, false, nil
	}
	if err != nil {
		return Unreachable, false, fmt.Errorf("redis get failed: %w", err)
	}
	if v == unreachableValue {
		return Unreachable, true, nil
	}
	s, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return Unreachable, false, fmt.Errorf("decode cached travel time %q: %w", v, err)
	}
	return Seconds(s), true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, tt TravelTime) error {
	v := unreachableValue
	if tt.Reachable {
		v = strconv.FormatFloat(tt.Seconds, 'f', -1, 64)
	}
	if err := c.rdb.Set(ctx, c.prefix+key, v, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Clear deletes every key under the cache prefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, c.prefix+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis delete failed: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan failed: %w", err)
	}
	if len(batch) > 0 {
		if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis delete failed: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (c *RedisCache) Close() error { return c.rdb.Close() }
