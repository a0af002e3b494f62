/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calleridentity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/tejzpr/webphone-go-sdk/calling"
)

// ErrCacheMiss is returned by a KV when the key is absent.
var ErrCacheMiss = errors.New("calleridentity: cache miss")

// KV is the cache behind CachedResolver.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisKV adapts a Redis client to KV.
type RedisKV struct {
	rdb redis.Cmdable
}

// NewRedisKV wraps rdb.
func NewRedisKV(rdb redis.Cmdable) *RedisKV {
	return &RedisKV{rdb: rdb}
}

// Get implements KV.
func (k *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := k.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

// Set implements KV.
func (k *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return k.rdb.Set(ctx, key, value, ttl).Err()
}

// RedisConfig controls the Redis client used for the lookup cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	PingTimeout  time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 10
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis creates a Redis client and checks it with PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// CachedResolver answers repeat lookups from a KV. Matches are kept for
// HitTTL and misses for MissTTL. Cache failures fall through to the
// wrapped resolver.
type CachedResolver struct {
	next   Resolver
	kv     KV
	config *Config
	logger zerolog.Logger
}

// NewCachedResolver wraps next with kv.
func NewCachedResolver(next Resolver, kv KV, config *Config) *CachedResolver {
	cfg := normalizeConfig(config)
	return &CachedResolver{
		next:   next,
		kv:     kv,
		config: cfg,
		logger: cfg.logger("calleridentity"),
	}
}

// Key returns the cache key for number, or "" when it has no digits.
func (c *CachedResolver) Key(number string) string {
	n := Normalize(number, c.config.Region)
	if n == "" {
		return ""
	}
	return c.config.KeyPrefix + n
}

// Resolve implements Resolver.
func (c *CachedResolver) Resolve(ctx context.Context, number string) calling.CallerInfo {
	key := c.Key(number)
	if key == "" {
		return calling.CallerInfo{}
	}

	if b, err := c.kv.Get(ctx, key); err == nil {
		var info calling.CallerInfo
		if err := json.Unmarshal(b, &info); err == nil {
			return info
		}
		c.logger.Warn().Str("key", key).Msg("discarding corrupt cache entry")
	} else if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn().Err(err).Msg("cache read failed")
	}

	info := c.next.Resolve(ctx, number)

	ttl := c.config.MissTTL
	if info.Found {
		ttl = c.config.HitTTL
	}
	b, err := json.Marshal(info)
	if err != nil {
		return info
	}
	if err := c.kv.Set(ctx, key, b, ttl); err != nil {
		c.logger.Warn().Err(err).Msg("cache write failed")
	}
	return info
}
