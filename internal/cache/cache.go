// Package cache provides a byte-oriented TTL cache used for metric
// bundle responses: an in-process store by default, Redis when an
// address is configured.
package cache

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Cache stores opaque payloads with a per-key TTL.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte, ttl time.Duration)
	Delete(key string)
}

type memory struct {
	mu    sync.Mutex
	m     map[string]entry
	nowFn func() time.Time
}

type entry struct {
	b   []byte
	exp time.Time
}

// NewMemory returns the in-process cache.
func NewMemory() Cache {
	return &memory{m: make(map[string]entry), nowFn: time.Now}
}

func (c *memory) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && c.nowFn().After(e.exp) {
		delete(c.m, key)
		return nil, false
	}
	return e.b, true
}

func (c *memory) Set(key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{b: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = c.nowFn().Add(ttl)
	}
	c.m[key] = e
}

func (c *memory) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

type redisCache struct {
	r *redis.Client
}

// New selects the Redis adapter when addr is non-empty, the memory
// cache otherwise.
func New(addr string, db int) Cache {
	if addr == "" {
		return NewMemory()
	}
	return &redisCache{r: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

// Redis calls are bounded so a slow cache never stalls a query path.
const redisTimeout = 500 * time.Millisecond

func (r *redisCache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	v, err := r.r.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *redisCache) Set(key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	_ = r.r.Set(ctx, key, val, ttl).Err()
}

func (r *redisCache) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	_ = r.r.Del(ctx, key).Err()
}
