package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/scraperwall/ipwatch/data"
)

// RedisStore keeps all visits in a single Redis hash. HINCRBY makes every
// increment atomic, even across several ipwatch processes
type RedisStore struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

// NewRedisStore connects to the Redis server at redisURL
func NewRedisStore(ctx context.Context, redisURL, key string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	// counting must keep working while the process drains on shutdown
	return &RedisStore{
		client: client,
		key:    key,
		ctx:    context.WithoutCancel(ctx),
	}, nil
}

// Get returns all visits in the hash
func (rs *RedisStore) Get() (map[string]data.Visit, error) {
	all, err := rs.client.HGetAll(rs.ctx, rs.key).Result()
	if err != nil {
		return nil, err
	}

	res := make(map[string]data.Visit, len(all))
	for ip, raw := range all {
		count, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("visit count for %s: %w", ip, err)
		}
		res[ip] = data.Visit{Count: count}
	}

	return res, nil
}

// Increment adds one visit for ip
func (rs *RedisStore) Increment(ip string) (int, error) {
	count, err := rs.client.HIncrBy(rs.ctx, rs.key, ip, 1).Result()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// Count returns the number of IPs in the hash
func (rs *RedisStore) Count() (int, error) {
	n, err := rs.client.HLen(rs.ctx, rs.key).Result()
	return int(n), err
}

// Close closes the connection pool
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
