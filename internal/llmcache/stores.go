package llmcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dshills/goconvo-mcp/internal/storage"
	"github.com/dshills/goconvo-mcp/pkg/types"
)

// DefaultRedisPrefix namespaces cache values in a shared redis database
const DefaultRedisPrefix = "llmcache:"

// Store is the persistent tier. The method set matches the archive storage
// interface, so *storage.SQLiteStorage is a Store as-is; RedisStore adapts
// the same shape onto redis.
type Store interface {
	GetLLMEntry(ctx context.Context, key string) (*storage.LLMEntry, error)
	PutLLMEntry(ctx context.Context, entry *storage.LLMEntry) error
	CountLLMEntries(ctx context.Context) (int, error)
	ClearLLMCache(ctx context.Context) error
}

// RedisStore keeps responses as JSON values under prefixed keys, optionally
// expiring them
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects using a redis URL
// (redis://[user:password@]host:port/db). TTL zero keeps entries forever.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w: %v", types.ErrConfiguration, err)
	}
	return &RedisStore{
		client: redis.NewClient(opts),
		prefix: DefaultRedisPrefix,
		ttl:    ttl,
	}, nil
}

// GetLLMEntry reads and decodes one cached response. A value that fails to
// decode is a corruption, not a miss, so callers can count it.
func (r *RedisStore) GetLLMEntry(ctx context.Context, key string) (*storage.LLMEntry, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry storage.LLMEntry
	if err := json.Unmarshal(val, &entry); err != nil {
		return nil, fmt.Errorf("decode cached response %s: %w", key, types.ErrCacheCorruption)
	}
	return &entry, nil
}

// PutLLMEntry writes one response, overwriting any previous value
func (r *RedisStore) PutLLMEntry(ctx context.Context, entry *storage.LLMEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cached response: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+entry.Key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// CountLLMEntries scans the prefix and counts matching keys
func (r *RedisStore) CountLLMEntries(ctx context.Context) (int, error) {
	count := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	return count, nil
}

// ClearLLMCache deletes every key under the prefix
func (r *RedisStore) ClearLLMCache(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close shuts the client down
func (r *RedisStore) Close() error {
	return r.client.Close()
}
