// Package ratelimit 实现按客户端 IP 的固定窗口限流
package ratelimit

import (
	"sync"
	"time"
)

// Limiter 固定窗口限流器
// 窗口按分钟对齐，窗口切换即重新计数
type Limiter struct {
	limit int
	now   func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	start time.Time
	count int
}

// Options 限流配置选项
type Options struct {
	// RequestsPerMinute 每分钟允许的请求数，<=0 时使用 60
	RequestsPerMinute int
	// Now 时钟注入点，测试用
	Now func() time.Time
}

// New 创建限流器
func New(opts Options) *Limiter {
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 60
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Limiter{
		limit:   opts.RequestsPerMinute,
		now:     opts.Now,
		windows: make(map[string]*window),
	}
}

// Allow 判断该 IP 的本次请求是否放行，并返回窗口内剩余额度
func (l *Limiter) Allow(ip string) (bool, int) {
	minute := l.now().Truncate(time.Minute)

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[ip]
	if !ok || w.start.Before(minute) {
		// 顺带回收过期窗口，限制 map 规模
		if len(l.windows) > 4096 {
			for k, old := range l.windows {
				if old.start.Before(minute) {
					delete(l.windows, k)
				}
			}
		}
		w = &window{start: minute}
		l.windows[ip] = w
	}

	if w.count >= l.limit {
		return false, 0
	}
	w.count++
	return true, l.limit - w.count
}
