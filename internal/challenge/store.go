// Package challenge 实现质询令牌的签发与一次性校验
package challenge

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store 质询令牌存储接口
// Take 必须原子地取出并删除令牌，保证单次使用语义
type Store interface {
	Put(ctx context.Context, id, secret string, ttl time.Duration) error
	Take(ctx context.Context, id string) (string, bool, error)
}

// memoryEntry 内存存储条目
type memoryEntry struct {
	secret    string
	expiresAt time.Time
}

// MemoryStore 进程内令牌存储，单实例部署的默认选择
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore 创建内存令牌存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Put 写入令牌
func (s *MemoryStore) Put(_ context.Context, id, secret string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 顺带清理已过期条目，避免 map 无界增长
	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}

	s.entries[id] = memoryEntry{secret: secret, expiresAt: now.Add(ttl)}
	return nil
}

// Take 取出并删除令牌，过期或不存在返回 false
func (s *MemoryStore) Take(_ context.Context, id string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return "", false, nil
	}
	delete(s.entries, id)

	if s.now().After(e.expiresAt) {
		return "", false, nil
	}
	return e.secret, true, nil
}

// RedisStore 基于 Redis 的令牌存储，多实例部署时共享质询状态
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 创建 Redis 令牌存储
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "cybear:challenge:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Put 写入令牌，过期交给 Redis TTL
func (s *RedisStore) Put(ctx context.Context, id, secret string, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+id, secret, ttl).Err()
}

// Take 原子取出并删除令牌
func (s *RedisStore) Take(ctx context.Context, id string) (string, bool, error) {
	secret, err := s.client.GetDel(ctx, s.prefix+id).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return secret, true, nil
}
