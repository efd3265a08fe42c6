// Package domain 定义安全引擎的核心领域类型
package domain

import "time"

// Action 规则动作
type Action string

const (
	ActionAllow     Action = "allow"     // 放行请求
	ActionBlock     Action = "block"     // 拦截请求
	ActionMonitor   Action = "monitor"   // 仅记录，不影响请求
	ActionChallenge Action = "challenge" // 质询验证
	ActionRedirect  Action = "redirect"  // 重定向
)

// EnforcementMode 全局执法模式
type EnforcementMode string

const (
	ModeEnforce EnforcementMode = "enforce" // 实际执行拦截动作
	ModeMonitor EnforcementMode = "monitor" // 仅记录本应执行的动作
)

// Severity 规则严重级别（序数类型，既用于排序也用于风险评分）
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight 返回严重级别对应的风险权重
func (s Severity) Weight() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 3
	case SeverityHigh:
		return 7
	case SeverityCritical:
		return 10
	default:
		// 未知级别按最低权重处理
		return 1
	}
}

// Field 请求快照字段词汇表（封闭枚举，未知字段回落到命名输入）
type Field string

const (
	FieldIP          Field = "ip"
	FieldUserAgent   Field = "user_agent"
	FieldURL         Field = "url"
	FieldPath        Field = "path"
	FieldMethod      Field = "method"
	FieldQueryString Field = "query_string"
	FieldPostData    Field = "post_data"
	FieldHeaders     Field = "headers"
	FieldReferer     Field = "referer"
	FieldHost        Field = "host"
)

// 条件叶子操作符
const (
	OpEquals        = "equals"
	OpNotEquals     = "not_equals"
	OpContains      = "contains"
	OpNotContains   = "not_contains"
	OpStartsWith    = "starts_with"
	OpEndsWith      = "ends_with"
	OpRegex         = "regex"
	OpIPInRange     = "ip_in_range"
	OpLengthGreater = "length_greater"
	OpLengthLess    = "length_less"
)

// Condition 条件树节点
// 组合节点: {operator: and|or, rules: [...]}；叶子节点: {field, operator, value}
// 两种节点共用 operator 字段，依据 rules 是否为空区分
type Condition struct {
	Operator string      `json:"operator,omitempty"`
	Rules    []Condition `json:"rules,omitempty"`
	Field    string      `json:"field,omitempty"`
	Value    any         `json:"value,omitempty"`
}

// IsLeaf 判断是否为叶子节点
func (c *Condition) IsLeaf() bool { return len(c.Rules) == 0 }

// Rule WAF 规则（由远端平台下发，本地持久化）
type Rule struct {
	RuleID        string         `json:"rule_id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Category      string         `json:"category"`
	Severity      Severity       `json:"severity"`
	Conditions    Condition      `json:"conditions"`
	Action        Action         `json:"action"`
	ActionParams  map[string]any `json:"action_params,omitempty"`
	Enabled       bool           `json:"enabled"`
	Priority      int            `json:"priority"`
	Source        string         `json:"source,omitempty"`
	TriggerCount  int64          `json:"trigger_count"`
	LastTriggered *time.Time     `json:"last_triggered,omitempty"`
}

// RuleMatch 单条命中规则摘要
type RuleMatch struct {
	RuleID   string   `json:"rule_id"`
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	Category string   `json:"category"`
}

// AnalysisResult 单次请求的分析结论
type AnalysisResult struct {
	Action         Action         `json:"action"`
	OriginalAction Action         `json:"original_action,omitempty"` // monitor 模式降级前的原始动作
	MatchedRules   []RuleMatch    `json:"matched_rules"`
	RiskScore      int            `json:"risk_score"`
	RulesEvaluated int            `json:"rules_evaluated"`
	ProcessingTime time.Duration  `json:"processing_time"`
	RuleID         string         `json:"rule_id,omitempty"`
	ActionParams   map[string]any `json:"action_params,omitempty"`
	IncidentID     string         `json:"incident_id,omitempty"`
}

// RequestSnapshot 请求快照，分析的唯一输入
type RequestSnapshot struct {
	Method      string            `json:"method"`
	URL         string            `json:"url"`
	Path        string            `json:"path"`
	IP          string            `json:"ip"`
	UserAgent   string            `json:"user_agent"`
	Host        string            `json:"host"`
	Referer     string            `json:"referer"`
	QueryString string            `json:"query_string"`
	Headers     map[string]string `json:"headers"`
	Inputs      map[string]any    `json:"inputs"` // 查询参数与表单/JSON 提交字段的合并视图
	SessionID   string            `json:"session_id,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
}
