// Package cache keeps encoded extraction results and API responses, either in
// process or in Redis so they outlive a single run.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrMiss is returned by Get for an absent or expired key
var ErrMiss = errors.New("cache: miss")

// Cache stores opaque payloads under scoped keys
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value. A zero ttl uses the cache's default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Invalidate drops every key of scope and reports how many went.
	Invalidate(ctx context.Context, scope string) (int, error)
	Close() error
}

// KeyPrefix namespaces every key this module writes
const KeyPrefix = "otkg:"

// Key scopes
const (
	ScopeExtract = "extract"
	ScopeAPI     = "api"
)

func scopePrefix(scope string) string {
	return KeyPrefix + scope + ":"
}

// ExtractKey identifies the extraction result of one input file under one
// adapter spec. A change to the file's size or modification time, or to the
// spec, yields a different key.
func ExtractKey(kind, specDigest, path string, size int64, modTime time.Time) string {
	h := sha256.Sum256([]byte(path + "|" + strconv.FormatInt(size, 10) + "|" + strconv.FormatInt(modTime.UnixNano(), 10)))
	return scopePrefix(ScopeExtract) + kind + ":" + specDigest + ":" + hex.EncodeToString(h[:])[:24]
}

// APIKey identifies a cached API response by request URI
func APIKey(requestURI string) string {
	return scopePrefix(ScopeAPI) + requestURI
}

type entry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is a size-bounded LRU. The LRU evicts at the default TTL and
// entries stored with a shorter ttl expire on read.
type MemoryCache struct {
	lru *lru.LRU[string, entry]
	ttl time.Duration
	now func() time.Time
}

// NewMemoryCache creates an in-process cache holding at most size entries
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		lru: lru.NewLRU[string, entry](size, nil, ttl),
		ttl: ttl,
		now: time.Now,
	}
}

// Get returns the value under key, or ErrMiss when absent or expired
func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		m.lru.Remove(key)
		return nil, ErrMiss
	}
	return e.value, nil
}

// Set stores value under key, evicting the least recently used entry when full
func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 && (m.ttl <= 0 || ttl < m.ttl) {
		e.expires = m.now().Add(ttl)
	}
	m.lru.Add(key, e)
	return nil
}

// Invalidate removes every key of scope
func (m *MemoryCache) Invalidate(_ context.Context, scope string) (int, error) {
	prefix := scopePrefix(scope)
	n := 0
	for _, key := range m.lru.Keys() {
		if strings.HasPrefix(key, prefix) && m.lru.Remove(key) {
			n++
		}
	}
	return n, nil
}

// Len is the number of entries held, expired ones included until evicted
func (m *MemoryCache) Len() int {
	return m.lru.Len()
}

// Close empties the cache
func (m *MemoryCache) Close() error {
	m.lru.Purge()
	return nil
}

// RedisCache keeps entries in Redis, where later runs and otkg-serve
// instances can reuse them.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to host:port and pings it
func NewRedisCache(host string, port int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(host, strconv.Itoa(port)),
		PoolSize:     4,
		MinIdleConns: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", client.Options().Addr, err)
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

// Get returns the value under key, or ErrMiss when Redis has none
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return val, err
}

// Set stores value with ttl, or with the cache default when ttl is zero
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.ttl
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Invalidate walks the scope with SCAN so large keyspaces are not blocked
func (r *RedisCache) Invalidate(ctx context.Context, scope string) (int, error) {
	iter := r.client.Scan(ctx, 0, scopePrefix(scope)+"*", 200).Iterator()
	batch := make([]string, 0, 200)
	n := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		removed, err := r.client.Unlink(ctx, batch...).Result()
		n += int(removed)
		batch = batch[:0]
		return err
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return n, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return n, err
	}
	return n, flush()
}

// Close closes the Redis connection pool
func (r *RedisCache) Close() error {
	return r.client.Close()
}
