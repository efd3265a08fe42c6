// Package model 定义持久化记录结构
package model

import "time"

// WafRuleRecord WAF 规则表记录
type WafRuleRecord struct {
	ID               uint       `gorm:"primaryKey"`
	RuleID           string     `gorm:"uniqueIndex;size:64"`
	Name             string     `gorm:"size:255"`
	Description      string     `gorm:"type:text"`
	Category         string     `gorm:"size:64;index"`
	Severity         string     `gorm:"size:16"`
	ConditionsJSON   string     `gorm:"column:conditions;type:text"`
	Action           string     `gorm:"size:32"`
	ActionParamsJSON string     `gorm:"column:action_params;type:text"`
	Enabled          bool       `gorm:"index"`
	Priority         int        `gorm:"index"`
	Source           string     `gorm:"size:64"`
	TriggerCount     int64
	LastTriggered    *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AuditLogRecord 审计日志表记录
type AuditLogRecord struct {
	ID            uint       `gorm:"primaryKey"`
	AppID         string     `gorm:"size:128"`
	EventType     string     `gorm:"size:64;index"`
	UserID        string     `gorm:"size:64"`
	SessionID     string     `gorm:"size:64"` // 已哈希，不存原始会话 ID
	IPAddress     string     `gorm:"size:64"`
	UserAgent     string     `gorm:"size:512"`
	URL           string     `gorm:"size:2048"`
	Method        string     `gorm:"size:16"`
	HeadersJSON   string     `gorm:"column:headers;type:text"`
	PayloadJSON   string     `gorm:"column:payload;type:text"`
	ResponseCode  int
	ProcessingMS  float64
	OccurredAt    time.Time  `gorm:"index"`
	Transmitted   bool       `gorm:"index"`
	TransmittedAt *time.Time
}

// BlockedRequestRecord 拦截请求表记录
type BlockedRequestRecord struct {
	ID            uint       `gorm:"primaryKey"`
	IPAddress     string     `gorm:"size:64;index"`
	UserAgent     string     `gorm:"size:512"`
	URL           string     `gorm:"size:2048"`
	Method        string     `gorm:"size:16"`
	HeadersJSON   string     `gorm:"column:headers;type:text"`
	PayloadJSON   string     `gorm:"column:payload;type:text"`
	WafRuleID     string     `gorm:"size:64;index"`
	Reason        string     `gorm:"size:255"`
	IncidentID    string     `gorm:"size:64;uniqueIndex"`
	SessionID     string     `gorm:"size:64"`
	UserID        string     `gorm:"size:64"`
	BlockedAt     time.Time  `gorm:"index"`
	Transmitted   bool       `gorm:"index"`
	TransmittedAt *time.Time
}

// CollectedDataRecord 采集数据表记录
type CollectedDataRecord struct {
	ID             uint       `gorm:"primaryKey"`
	CollectionType string     `gorm:"size:64;index"`
	DataSource     string     `gorm:"size:64"`
	DataJSON       string     `gorm:"column:collected_data;type:text"`
	Checksum       string     `gorm:"size:64;index"` // 规范化负载的 SHA-256，用于去重
	CollectedAt    time.Time  `gorm:"index"`
	Transmitted    bool       `gorm:"index"`
	TransmittedAt  *time.Time
}

// SettingRecord 代理内部键值设置（最近同步时间、激活状态等）
type SettingRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Key       string `gorm:"uniqueIndex;size:64"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

// All 返回需要迁移的全部模型
func All() []any {
	return []any{
		&WafRuleRecord{},
		&AuditLogRecord{},
		&BlockedRequestRecord{},
		&CollectedDataRecord{},
		&SettingRecord{},
	}
}
