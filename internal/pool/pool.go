// Package pool 提供审计落盘使用的异步工作池
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CyBearCare/cybear-go/internal/logger"
)

// Pool 异步工作池
// 请求路径把落盘任务丢进队列即返回；队列满时丢弃任务并计数，
// 防护层的持久化压力绝不反压到业务请求
type Pool struct {
	workers     int
	queue       chan func()
	queueCap    int
	log         logger.Logger
	totalSubmit int64
	totalDrop   int64
	mu          sync.Mutex
	stopMonitor chan struct{}
}

// New 创建工作池实例
// workers: 并发协程数；queueCap: 队列容量，<=0 时默认为 workers * 16
func New(workers int, queueCap int) *Pool {
	if workers <= 0 {
		return &Pool{}
	}
	if queueCap <= 0 {
		queueCap = workers * 16
	}
	return &Pool{
		workers:  workers,
		queue:    make(chan func(), queueCap),
		queueCap: queueCap,
	}
}

// SetLogger 设置日志记录器
func (p *Pool) SetLogger(l logger.Logger) {
	p.log = l
}

// Start 启动 worker 协程群与状态监控
func (p *Pool) Start(ctx context.Context) {
	if p.queue == nil {
		return
	}
	for i := 0; i < p.workers; i++ {
		go p.worker(ctx)
	}
	p.stopMonitor = make(chan struct{})
	go p.monitor(ctx)
}

// Stop 停止监控协程
func (p *Pool) Stop() {
	if p.stopMonitor != nil {
		close(p.stopMonitor)
	}
}

// monitor 定期输出队列水位与丢弃率
func (p *Pool) monitor(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopMonitor:
			return
		case <-ticker.C:
			qLen, qCap, submit, drop := p.Stats()
			if p.log != nil && submit > 0 {
				usage := float64(qLen) / float64(qCap) * 100
				dropRate := float64(drop) / float64(submit) * 100
				p.log.Info("审计工作池状态", "queueLen", qLen, "queueCap", qCap, "usage", fmt.Sprintf("%.1f%%", usage), "totalSubmit", submit, "totalDrop", drop, "dropRate", fmt.Sprintf("%.2f%%", dropRate))
			}
		}
	}
}

// worker 从队列取任务执行
func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-p.queue:
			if fn != nil {
				fn()
			}
		}
	}
}

// Submit 提交任务
// 未启用并发限制时直接起协程执行；队列已满时丢弃并返回 false
func (p *Pool) Submit(fn func()) bool {
	if p.queue == nil {
		go fn()
		return true
	}
	p.mu.Lock()
	p.totalSubmit++
	p.mu.Unlock()
	select {
	case p.queue <- fn:
		return true
	default:
		p.mu.Lock()
		p.totalDrop++
		drop := p.totalDrop
		submit := p.totalSubmit
		p.mu.Unlock()
		if p.log != nil {
			p.log.Warn("审计工作池队列已满，任务被丢弃", "queueCap", p.queueCap, "totalSubmit", submit, "totalDrop", drop)
		}
		return false
	}
}

// Stats 返回工作池统计信息
func (p *Pool) Stats() (queueLen, queueCap, totalSubmit, totalDrop int64) {
	if p.queue == nil {
		return 0, 0, 0, 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.queue)), int64(p.queueCap), p.totalSubmit, p.totalDrop
}

// IsEnabled 是否启用了并发限制
func (p *Pool) IsEnabled() bool {
	return p.queue != nil
}
