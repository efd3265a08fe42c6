// Package waf 实现请求分类引擎
package waf

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/CyBearCare/cybear-go/internal/logger"
	"github.com/CyBearCare/cybear-go/internal/rules"
	"github.com/CyBearCare/cybear-go/pkg/domain"
)

// TriggerRecorder 规则命中计数接口，由存储层实现
// 实现必须使用相对增量，并发命中不丢计数
type TriggerRecorder interface {
	IncrementTrigger(ctx context.Context, ruleID string) error
}

// Engine 请求分类引擎
// 对调用方的契约：Analyze 永不失败——内部任何故障都降级为放行结果，
// 坏掉的 WAF 绝不能把受保护的应用一起拖垮
type Engine struct {
	cache     *rules.Cache
	evaluator *rules.Evaluator
	triggers  TriggerRecorder
	log       logger.Logger

	enabled atomic.Bool
	mode    atomic.Value // domain.EnforcementMode
}

// Options 引擎配置选项
type Options struct {
	// Enabled 是否启用分析
	Enabled bool
	// Mode 执法模式: enforce / monitor
	Mode domain.EnforcementMode
}

// NewEngine 创建分类引擎
func NewEngine(cache *rules.Cache, evaluator *rules.Evaluator, triggers TriggerRecorder, opts Options, l logger.Logger) *Engine {
	if l == nil {
		l = logger.Nop()
	}
	if opts.Mode == "" {
		opts.Mode = domain.ModeMonitor
	}

	e := &Engine{
		cache:     cache,
		evaluator: evaluator,
		triggers:  triggers,
		log:       l,
	}
	e.enabled.Store(opts.Enabled)
	e.mode.Store(opts.Mode)
	return e
}

// SetEnabled 更新启用状态，下一次 Analyze 生效
func (e *Engine) SetEnabled(enabled bool) { e.enabled.Store(enabled) }

// SetMode 更新执法模式，下一次 Analyze 生效
func (e *Engine) SetMode(mode domain.EnforcementMode) { e.mode.Store(mode) }

// Enabled 返回当前启用状态
func (e *Engine) Enabled() bool { return e.enabled.Load() }

// Mode 返回当前执法模式
func (e *Engine) Mode() domain.EnforcementMode {
	return e.mode.Load().(domain.EnforcementMode)
}

// Analyze 对请求快照执行规则分析
// 引擎禁用时直接放行且无任何副作用；内部故障时放行并记录诊断
func (e *Engine) Analyze(ctx context.Context, snap *domain.RequestSnapshot) (result *domain.AnalysisResult) {
	result = &domain.AnalysisResult{
		Action:       domain.ActionAllow,
		MatchedRules: []domain.RuleMatch{},
	}

	if !e.enabled.Load() {
		return result
	}

	// 失败开放：任何未预期的内部故障都不得拦住请求
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("分析引擎内部故障，请求放行",
				"panic", r, "url", snap.URL, "ip", snap.IP, "method", snap.Method)
			result = &domain.AnalysisResult{
				Action:       domain.ActionAllow,
				MatchedRules: []domain.RuleMatch{},
			}
		}
	}()

	start := time.Now()

	ruleSet, err := e.cache.Load(ctx)
	if err != nil {
		e.log.Err(err, "规则加载失败，请求放行", "url", snap.URL)
		return result
	}

	// rules_evaluated 约定为本次加载的规则总数，而非短路前实际检查的条数
	result.RulesEvaluated = len(ruleSet)

	for _, rule := range ruleSet {
		if !e.evaluator.Evaluate(&rule.Conditions, snap) {
			continue
		}

		result.MatchedRules = append(result.MatchedRules, domain.RuleMatch{
			RuleID:   rule.RuleID,
			Name:     rule.Name,
			Severity: rule.Severity,
			Category: rule.Category,
		})
		result.RiskScore += rule.Severity.Weight()

		e.log.Info("规则命中",
			"rule_id", rule.RuleID, "name", rule.Name,
			"action", string(rule.Action), "path", snap.Path)

		if rule.Action != domain.ActionMonitor {
			result.Action = rule.Action
			result.RuleID = rule.RuleID
			result.ActionParams = rule.ActionParams

			// 命中计数是针对持久状态的可观测副作用，失败不影响分析结论
			if e.triggers != nil {
				if err := e.triggers.IncrementTrigger(ctx, rule.RuleID); err != nil {
					e.log.Warn("更新规则命中计数失败", "rule_id", rule.RuleID, "error", err.Error())
				}
			}

			// 首个非 monitor 命中即定案，后续规则不再评估
			break
		}
	}

	result.ProcessingTime = time.Since(start)

	// monitor 模式全局降级：只改执行动作，保留原始动作供观测，
	// 不影响 matched_rules、risk_score 与命中计数
	if e.Mode() == domain.ModeMonitor && result.Action != domain.ActionAllow {
		result.OriginalAction = result.Action
		result.Action = domain.ActionAllow
	}

	return result
}
