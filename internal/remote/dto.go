package remote

import "encoding/json"

// RuleDTO 远端下发的规则数据
// conditions 可能是 JSON 对象或再编码一层的 JSON 字符串，同步时统一解析
type RuleDTO struct {
	RuleID       string          `json:"rule_id" validate:"required"`
	Name         string          `json:"name" validate:"required"`
	Description  string          `json:"description,omitempty"`
	Category     string          `json:"category" validate:"required"`
	Severity     string          `json:"severity" validate:"required,oneof=low medium high critical"`
	Conditions   json.RawMessage `json:"conditions" validate:"required"`
	Action       string          `json:"action" validate:"required,oneof=block monitor challenge redirect"`
	ActionParams map[string]any  `json:"action_params,omitempty"`
	Enabled      *bool           `json:"enabled,omitempty"`
	Priority     *int            `json:"priority,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

// syncResponse 规则同步响应，规则列表可能出现在 data.rules 或顶层 rules
type syncResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Rules []RuleDTO `json:"rules"`
	} `json:"data"`
	Rules []RuleDTO `json:"rules"`
}

// AuditLogDTO 审计日志上报数据
type AuditLogDTO struct {
	AppID      string          `json:"app_id"`
	EventType  string          `json:"event_type"`
	UserID     string          `json:"user_id,omitempty"`
	IPAddress  string          `json:"ip_address"`
	UserAgent  string          `json:"user_agent"`
	URL        string          `json:"url"`
	Method     string          `json:"method"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt string          `json:"occurred_at"`
}

// BlockedRequestDTO 拦截请求上报数据
type BlockedRequestDTO struct {
	IPAddress  string          `json:"ip_address"`
	UserAgent  string          `json:"user_agent"`
	URL        string          `json:"url"`
	Method     string          `json:"method"`
	Headers    json.RawMessage `json:"headers,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Reason     string          `json:"reason"`
	WafRuleID  string          `json:"waf_rule_id,omitempty"`
	IncidentID string          `json:"incident_id"`
	SessionID  string          `json:"session_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	BlockedAt  string          `json:"blocked_at"`
}

// CollectPayload 采集数据上报负载
type CollectPayload struct {
	Type                string                     `json:"type"`
	ApplicationID       string                     `json:"application_id"`
	CollectionTimestamp string                     `json:"collection_timestamp"`
	Collectors          map[string]json.RawMessage `json:"collectors"`
}

// ActivateRequest 激活握手请求
type ActivateRequest struct {
	AppURL       string `json:"app_url"`
	AppName      string `json:"app_name"`
	AgentVersion string `json:"agent_version"`
	GoVersion    string `json:"go_version"`
}

// ActivateData 激活握手响应数据
type ActivateData struct {
	IsActivated      bool   `json:"is_activated"`
	NextStep         string `json:"next_step,omitempty"`
	VerificationHash string `json:"verification_hash,omitempty"`
	VerificationURL  string `json:"verification_url,omitempty"`
}

// apiResponse 通用响应包装
type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// verifyData 授权校验响应数据
type verifyData struct {
	IsVerified bool `json:"is_verified"`
}
