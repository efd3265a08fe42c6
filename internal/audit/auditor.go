// Package audit 实现请求与安全事件的本地审计记录
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CyBearCare/cybear-go/internal/logger"
	"github.com/CyBearCare/cybear-go/internal/rules"
	"github.com/CyBearCare/cybear-go/internal/storage/model"
	"github.com/CyBearCare/cybear-go/internal/storage/repo"
	"github.com/CyBearCare/cybear-go/pkg/domain"
)

// 事件类型
const (
	EventHTTPRequest   = "http_request"
	EventWafAnalysis   = "waf_analysis"
	EventSecurityEvent = "security_event"
)

// Options 审计配置选项
type Options struct {
	// AppID 应用标识
	AppID string
	// LogRequests 是否记录普通 HTTP 请求（安全事件与拦截始终记录）
	LogRequests bool
	// ExcludedPaths 跳过审计的路径前缀
	ExcludedPaths []string
}

// Auditor 审计记录器
// 所有写入都先脱敏再落盘：凭据头剔除、敏感负载键打码、会话 ID 哈希化
type Auditor struct {
	events *repo.EventRepo
	opts   Options
	log    logger.Logger
	submit func(fn func()) bool
}

// New 创建审计记录器
func New(events *repo.EventRepo, opts Options, l logger.Logger) *Auditor {
	if l == nil {
		l = logger.Nop()
	}
	return &Auditor{events: events, opts: opts, log: l}
}

// SetSubmitter 设置异步提交入口（通常为工作池的 Submit）
// 设置后落盘任务离开请求路径执行；未设置时同步写入
func (a *Auditor) SetSubmitter(submit func(fn func()) bool) {
	a.submit = submit
}

// dispatch 将落盘任务交给工作池，队列满时回退为同步写入
func (a *Auditor) dispatch(ctx context.Context, fn func(ctx context.Context)) {
	if a.submit == nil {
		fn(ctx)
		return
	}
	// 任务可能在响应返回后才执行，剥离请求的取消信号
	detached := context.WithoutCancel(ctx)
	if !a.submit(func() { fn(detached) }) {
		fn(ctx)
	}
}

// excluded 判断路径是否在审计排除名单内
func (a *Auditor) excluded(path string) bool {
	for _, p := range a.opts.ExcludedPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// LogRequest 记录一次 HTTP 请求
func (a *Auditor) LogRequest(ctx context.Context, snap *domain.RequestSnapshot, responseCode int, took time.Duration) {
	if !a.opts.LogRequests || a.excluded(snap.Path) {
		return
	}
	rec := a.baseRecord(EventHTTPRequest, snap)
	rec.ResponseCode = responseCode
	rec.ProcessingMS = float64(took.Microseconds()) / 1000
	a.append(ctx, rec)
}

// LogAnalysis 记录一次产生命中的 WAF 分析结论
func (a *Auditor) LogAnalysis(ctx context.Context, snap *domain.RequestSnapshot, result *domain.AnalysisResult) {
	if len(result.MatchedRules) == 0 {
		return
	}

	rec := a.baseRecord(EventWafAnalysis, snap)
	payload, _ := json.Marshal(map[string]any{
		"action":          result.Action,
		"original_action": result.OriginalAction,
		"matched_rules":   result.MatchedRules,
		"risk_score":      result.RiskScore,
		"rules_evaluated": result.RulesEvaluated,
		"incident_id":     result.IncidentID,
	})
	rec.PayloadJSON = string(payload)
	rec.ProcessingMS = float64(result.ProcessingTime.Microseconds()) / 1000
	a.append(ctx, rec)
}

// LogSecurityEvent 记录一条自定义安全事件
func (a *Auditor) LogSecurityEvent(ctx context.Context, snap *domain.RequestSnapshot, eventType string, details map[string]any) {
	rec := a.baseRecord(EventSecurityEvent, snap)
	if eventType != "" {
		rec.EventType = eventType
	}
	if len(details) > 0 {
		payload, _ := json.Marshal(details)
		rec.PayloadJSON = rules.RedactJSON(string(payload))
	}
	a.append(ctx, rec)
}

// LogBlocked 将拦截写入拦截请求表，返回事件编号
// 调用方已持有编号时沿用，保证分析结论与拦截记录指向同一事件
func (a *Auditor) LogBlocked(ctx context.Context, snap *domain.RequestSnapshot, result *domain.AnalysisResult, reason string) string {
	incidentID := result.IncidentID
	if incidentID == "" {
		incidentID = uuid.NewString()
	}

	headers, _ := json.Marshal(rules.SanitizeHeaders(snap.Headers))
	payload, _ := json.Marshal(snap.Inputs)

	rec := &model.BlockedRequestRecord{
		IPAddress:   snap.IP,
		UserAgent:   snap.UserAgent,
		URL:         snap.URL,
		Method:      snap.Method,
		HeadersJSON: string(headers),
		PayloadJSON: rules.RedactJSON(string(payload)),
		WafRuleID:   result.RuleID,
		Reason:      reason,
		IncidentID:  incidentID,
		SessionID:   hashSession(snap.SessionID),
		UserID:      snap.UserID,
		BlockedAt:   time.Now(),
	}
	a.dispatch(ctx, func(ctx context.Context) {
		if err := a.events.AppendBlocked(ctx, rec); err != nil {
			a.log.Err(err, "写入拦截记录失败", "incident_id", incidentID)
		}
	})
	return incidentID
}

// baseRecord 构造脱敏后的审计记录骨架
func (a *Auditor) baseRecord(eventType string, snap *domain.RequestSnapshot) *model.AuditLogRecord {
	headers, _ := json.Marshal(rules.SanitizeHeaders(snap.Headers))
	payload, _ := json.Marshal(snap.Inputs)

	return &model.AuditLogRecord{
		AppID:       a.opts.AppID,
		EventType:   eventType,
		UserID:      snap.UserID,
		SessionID:   hashSession(snap.SessionID),
		IPAddress:   snap.IP,
		UserAgent:   snap.UserAgent,
		URL:         snap.URL,
		Method:      snap.Method,
		HeadersJSON: string(headers),
		PayloadJSON: rules.RedactJSON(string(payload)),
		OccurredAt:  time.Now(),
	}
}

func (a *Auditor) append(ctx context.Context, rec *model.AuditLogRecord) {
	a.dispatch(ctx, func(ctx context.Context) {
		if err := a.events.AppendAudit(ctx, rec); err != nil {
			a.log.Err(err, "写入审计日志失败", "event_type", rec.EventType)
		}
	})
}

// hashSession 会话 ID 只保留 SHA-256 前 16 字节的十六进制，原值不落盘
func hashSession(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:16])
}
