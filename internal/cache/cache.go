// Package cache provides the key-value store behind the extraction cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Client is a byte-oriented key-value store.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value; a zero ttl keeps it until deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Ping(ctx context.Context) error
	Close() error
}

// RedisConfig describes the Redis connection. URL, when set, takes
// precedence over Addr/Password/DB.
type RedisConfig struct {
	URL      string
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

func (cfg RedisConfig) options() (*redis.Options, error) {
	if cfg.URL == "" {
		return &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB, PoolSize: cfg.PoolSize}, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	return opts, nil
}

// NewRedisConn opens a connection and fails fast if the server is not
// answering.
func NewRedisConn(cfg RedisConfig) (*redis.Client, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// RedisClient is a Client whose keys all live under one prefix.
type RedisClient struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisClient(cfg RedisConfig) (*RedisClient, error) {
	rdb, err := NewRedisConn(cfg)
	if err != nil {
		return nil, err
	}
	return WrapRedis(rdb, cfg.Prefix), nil
}

// WrapRedis builds a cache over an existing connection so the cache and the
// job store can share one pool.
func WrapRedis(rdb *redis.Client, prefix string) *RedisClient {
	if prefix == "" {
		prefix = "te:"
	}
	return &RedisClient{rdb: rdb, prefix: prefix}
}

func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return wrapRedis("set", c.rdb.Set(ctx, c.prefix+key, value, ttl).Err())
}

func (c *RedisClient) Delete(ctx context.Context, key string) error {
	return wrapRedis("del", c.rdb.Del(ctx, c.prefix+key).Err())
}

// DeleteByPrefix scans for matching keys and removes them in batches.
func (c *RedisClient) DeleteByPrefix(ctx context.Context, prefix string) error {
	const batch = 100

	iter := c.rdb.Scan(ctx, 0, c.prefix+prefix+"*", batch).Iterator()
	keys := make([]string, 0, batch)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == batch {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return wrapRedis("del", err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return wrapRedis("scan", err)
	}
	if len(keys) > 0 {
		return wrapRedis("del", c.rdb.Del(ctx, keys...).Err())
	}
	return nil
}

func (c *RedisClient) Ping(ctx context.Context) error {
	return wrapRedis("ping", c.rdb.Ping(ctx).Err())
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}

func wrapRedis(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("redis %s: %w", op, err)
}

// MemoryClient is an in-process Client bounded to maxSize entries. When
// full it drops the entry that expires soonest; entries without a TTL go
// last.
type MemoryClient struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	maxSize int

	done      chan struct{}
	closeOnce sync.Once
}

type memEntry struct {
	value    []byte
	deadline time.Time // zero: no expiry
}

func (e memEntry) liveAt(now time.Time) bool {
	return e.deadline.IsZero() || !now.After(e.deadline)
}

func NewMemoryClient(maxSize int) *MemoryClient {
	if maxSize <= 0 {
		maxSize = 10000
	}
	c := &MemoryClient{
		entries: make(map[string]memEntry),
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweepLoop(time.Minute)
	return c
}

func (c *MemoryClient) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || !e.liveAt(time.Now()) {
		return nil, ErrCacheMiss
	}
	return e.value, nil
}

func (c *MemoryClient) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.deadline = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.maxSize {
		delete(c.entries, c.victim())
	}
	c.entries[key] = e
	return nil
}

func (c *MemoryClient) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *MemoryClient) DeleteByPrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *MemoryClient) Ping(context.Context) error { return nil }

// Close stops the background sweep. The entries stay readable.
func (c *MemoryClient) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// victim picks the key to evict. Caller holds mu.
func (c *MemoryClient) victim() string {
	var key string
	var soonest time.Time
	for k, e := range c.entries {
		switch {
		case key == "":
			key, soonest = k, e.deadline
		case e.deadline.IsZero():
		case soonest.IsZero() || e.deadline.Before(soonest):
			key, soonest = k, e.deadline
		}
	}
	return key
}

func (c *MemoryClient) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for k, e := range c.entries {
				if !e.liveAt(now) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}

// CacheKey joins key parts with ':'.
func CacheKey(parts ...string) string {
	return strings.Join(parts, ":")
}
