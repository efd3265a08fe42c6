// Package agent 组装防护代理的全部组件
package agent

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CyBearCare/cybear-go/internal/audit"
	"github.com/CyBearCare/cybear-go/internal/challenge"
	"github.com/CyBearCare/cybear-go/internal/collect"
	"github.com/CyBearCare/cybear-go/internal/httpapi"
	"github.com/CyBearCare/cybear-go/internal/logger"
	"github.com/CyBearCare/cybear-go/internal/pool"
	"github.com/CyBearCare/cybear-go/internal/ratelimit"
	"github.com/CyBearCare/cybear-go/internal/remote"
	"github.com/CyBearCare/cybear-go/internal/rules"
	"github.com/CyBearCare/cybear-go/internal/storage/db"
	"github.com/CyBearCare/cybear-go/internal/storage/model"
	"github.com/CyBearCare/cybear-go/internal/storage/repo"
	"github.com/CyBearCare/cybear-go/internal/transmit"
	"github.com/CyBearCare/cybear-go/internal/waf"
	"github.com/CyBearCare/cybear-go/pkg/config"
	"github.com/CyBearCare/cybear-go/pkg/domain"
)

// Agent 防护代理
// 请求路径上只做分析与落盘，规则同步、数据上报、清理全部由后台调度承担
type Agent struct {
	cfg *config.Config
	log logger.Logger

	engine     *waf.Engine
	challenges *challenge.Manager
	auditor    *audit.Auditor
	limiter    *ratelimit.Limiter

	syncer    *rules.Syncer
	pipeline  *transmit.Pipeline
	collector *collect.Manager
	events    *repo.EventRepo
	writers   *pool.Pool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 按配置组装代理
func New(cfg *config.Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Writers: cfg.Log.Writer,
	})

	gdb, err := db.New(db.Options{
		FullPath: cfg.Sqlite.Path,
		Prefix:   cfg.Sqlite.Prefix,
	})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb, model.All()...); err != nil {
		return nil, err
	}

	ruleRepo := repo.NewRuleRepo(gdb)
	eventRepo := repo.NewEventRepo(gdb)
	settingsRepo := repo.NewSettingsRepo(gdb)

	cache := rules.NewCache(ruleRepo, rules.CacheOptions{TTL: cfg.WAF.CacheTTL})
	engine := waf.NewEngine(cache, rules.NewEvaluator(log), ruleRepo, waf.Options{
		Enabled: cfg.WAF.Enabled,
		Mode:    domain.EnforcementMode(cfg.WAF.Mode),
	}, log)

	var tokenStore challenge.Store
	if cfg.Redis.Addr != "" {
		tokenStore = challenge.NewRedisStore(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), "")
	} else {
		tokenStore = challenge.NewMemoryStore()
	}

	client, err := remote.New(remote.Options{
		Endpoint:      cfg.API.Endpoint,
		APIKey:        cfg.API.Key,
		Timeout:       cfg.API.Timeout,
		RetryAttempts: cfg.API.RetryAttempts,
		RetryDelay:    cfg.API.RetryDelay,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}
	activator := remote.NewActivator(client, cfg.AppURL, cfg.AppID, log)

	auditor := audit.New(eventRepo, audit.Options{
		AppID:         cfg.AppID,
		LogRequests:   cfg.Audit.LogRequests && cfg.Audit.Enabled,
		ExcludedPaths: cfg.Audit.ExcludedPaths,
	}, log)

	// 审计落盘走异步工作池，请求路径不等数据库
	writers := pool.New(4, 0)
	writers.SetLogger(log)
	auditor.SetSubmitter(writers.Submit)

	a := &Agent{
		cfg:        cfg,
		log:        log,
		engine:     engine,
		challenges: challenge.NewManager(tokenStore, cfg.WAF.ChallengeTTL, log),
		auditor:    auditor,
		syncer:     rules.NewSyncer(client, ruleRepo, settingsRepo, cache, log),
		pipeline: transmit.New(activator, client, eventRepo, transmit.Options{
			AppID:     cfg.AppID,
			BatchSize: cfg.Collectors.BatchSize,
		}, log),
		collector: collect.NewManager(eventRepo, nil, log),
		events:    eventRepo,
		writers:   writers,
	}

	if cfg.RateLimit.Enabled {
		a.limiter = ratelimit.New(ratelimit.Options{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute})
	}

	return a, nil
}

// Start 启动后台调度
func (a *Agent) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.writers.Start(ctx)

	a.schedule(ctx, "rule_sync", a.cfg.WAF.SyncInterval, func(ctx context.Context) {
		if _, err := a.syncer.Sync(ctx); err != nil {
			a.log.Warn("规则同步失败", "error", err.Error())
		}
	})
	a.schedule(ctx, "transmit", a.cfg.Collectors.SendInterval, func(ctx context.Context) {
		if _, err := a.pipeline.Flush(ctx); err != nil {
			a.log.Warn("数据上报失败", "error", err.Error())
		}
	})
	a.schedule(ctx, "collect", a.cfg.Collectors.CollectInterval, func(ctx context.Context) {
		a.collector.Run(ctx)
	})
	a.schedule(ctx, "cleanup", a.cfg.Collectors.CleanupInterval, func(ctx context.Context) {
		n, err := a.events.CleanupTransmitted(ctx, a.cfg.Database.RetentionDays)
		if err != nil {
			a.log.Warn("事件清理失败", "error", err.Error())
			return
		}
		if n > 0 {
			a.log.Info("清理已传输事件", "deleted", n)
		}
	})

	a.log.Info("防护代理已启动", "app_id", a.cfg.AppID, "mode", a.cfg.WAF.Mode)
}

// Stop 停止后台调度并等待在途任务完成
func (a *Agent) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.writers.Stop()
	a.wg.Wait()
}

// Engine 返回分类引擎，供运行时调整开关与模式
func (a *Agent) Engine() *waf.Engine { return a.engine }

// AdminHandler 返回本地管理接口，调用方自行决定监听地址
func (a *Agent) AdminHandler() http.Handler { return httpapi.NewServer(a) }

// 以下方法实现本地管理接口依赖的能力

// WafEnabled 返回引擎启用状态
func (a *Agent) WafEnabled() bool { return a.engine.Enabled() }

// WafMode 返回当前执法模式
func (a *Agent) WafMode() string { return string(a.engine.Mode()) }

// SetWafEnabled 调整引擎启用状态
func (a *Agent) SetWafEnabled(enabled bool) { a.engine.SetEnabled(enabled) }

// SetWafMode 调整执法模式
func (a *Agent) SetWafMode(mode string) error {
	m := domain.EnforcementMode(mode)
	if m != domain.ModeEnforce && m != domain.ModeMonitor {
		return fmt.Errorf("未知执法模式: %s", mode)
	}
	a.engine.SetMode(m)
	a.log.Info("执法模式已调整", "mode", mode)
	return nil
}

// UntransmittedCounts 返回三张事件表的未传输数量
func (a *Agent) UntransmittedCounts(ctx context.Context) (audit, blocked, collected int64, err error) {
	return a.events.UntransmittedCounts(ctx)
}

// SyncRules 立即执行一次规则同步
func (a *Agent) SyncRules(ctx context.Context) (int, error) { return a.syncer.Sync(ctx) }

// FlushEvents 立即执行一次数据上报
func (a *Agent) FlushEvents(ctx context.Context) (collectedBatches, auditBatches, blockedBatches, failedBatches int, err error) {
	stats, err := a.pipeline.Flush(ctx)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return stats.CollectedBatches, stats.AuditBatches, stats.BlockedBatches, stats.FailedBatches, nil
}

// RunCollectors 立即执行一轮采集
func (a *Agent) RunCollectors(ctx context.Context) int { return a.collector.Run(ctx) }

// schedule 以固定间隔驱动后台任务，间隔 <=0 时不启动
func (a *Agent) schedule(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		a.log.Debug("后台任务已调度", "task", name, "interval", interval.String())
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}
