package rules

import (
	"context"
	"sync"
	"time"

	"github.com/CyBearCare/cybear-go/pkg/domain"
)

// Loader 规则加载接口，由存储层实现
type Loader interface {
	ListEnabled(ctx context.Context) ([]*domain.Rule, error)
}

// Cache 带 TTL 的规则缓存
// 失效后在下一次 Load 时惰性刷新，而非立即重新加载
type Cache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	rules     []*domain.Rule
	expiresAt time.Time
	valid     bool
}

// CacheOptions 缓存配置选项
type CacheOptions struct {
	// TTL 缓存存活时间，<=0 时使用 1 小时
	TTL time.Duration
	// Now 时钟注入点，测试用，缺省为 time.Now
	Now func() time.Time
}

// NewCache 创建规则缓存
func NewCache(loader Loader, opts CacheOptions) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		loader: loader,
		ttl:    opts.TTL,
		now:    opts.Now,
	}
}

// Load 返回当前有效规则集（已按优先级与严重级别排序）
// 缓存命中时不触达存储层；空规则集是合法结果
func (c *Cache) Load(ctx context.Context) ([]*domain.Rule, error) {
	c.mu.RLock()
	if c.valid && c.now().Before(c.expiresAt) {
		rules := c.rules
		c.mu.RUnlock()
		return rules, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// 双重检查：等锁期间其他请求可能已完成刷新
	if c.valid && c.now().Before(c.expiresAt) {
		return c.rules, nil
	}

	rules, err := c.loader.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	c.rules = rules
	c.expiresAt = c.now().Add(c.ttl)
	c.valid = true
	return rules, nil
}

// Invalidate 使缓存立即失效
// 规则同步提交后必须同步调用，避免最长一个 TTL 的陈旧窗口
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}
