package repo

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/CyBearCare/cybear-go/internal/storage/model"
	"github.com/CyBearCare/cybear-go/pkg/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RuleRepo WAF 规则仓库
type RuleRepo struct {
	BaseRepository[model.WafRuleRecord]
}

// NewRuleRepo 创建规则仓库实例
func NewRuleRepo(db *gorm.DB) *RuleRepo {
	return &RuleRepo{BaseRepository: *NewBaseRepository[model.WafRuleRecord](db)}
}

// ListEnabled 查询所有启用规则，按优先级降序、严重级别权重降序排列
// 同优先级同级别时保持稳定的插入顺序；空规则集不视为错误
func (r *RuleRepo) ListEnabled(ctx context.Context) ([]*domain.Rule, error) {
	records, err := r.FindAll(ctx,
		FilterFunc(func(db *gorm.DB) *gorm.DB { return db.Where("enabled = ?", true) }),
		nil,
		Orders{{Field: "id", Sort: "ASC"}},
	)
	if err != nil {
		return nil, err
	}

	rules := make([]*domain.Rule, 0, len(records))
	for _, rec := range records {
		rules = append(rules, toDomainRule(rec))
	}

	// 严重级别是字符串序数，无法直接在 SQL 中按权重排序，在内存中稳定排序
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].Severity.Weight() > rules[j].Severity.Weight()
	})

	return rules, nil
}

// UpsertBatch 按 rule_id 批量插入或更新规则，返回处理条数
// 不覆盖本地的 trigger_count 与 last_triggered
func (r *RuleRepo) UpsertBatch(ctx context.Context, rules []domain.Rule) (int, error) {
	if len(rules) == 0 {
		return 0, nil
	}

	now := time.Now()
	records := make([]*model.WafRuleRecord, 0, len(rules))
	for i := range rules {
		records = append(records, toRecord(&rules[i], now))
	}

	err := r.Db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "rule_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "description", "category", "severity", "conditions",
			"action", "action_params", "enabled", "priority", "source", "updated_at",
		}),
	}).Create(&records).Error
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// IncrementTrigger 原子递增规则命中计数并更新最近命中时间
// 使用相对增量而非读取-回写，并发命中同一规则时不丢失计数
func (r *RuleRepo) IncrementTrigger(ctx context.Context, ruleID string) error {
	now := time.Now()
	return r.Db.WithContext(ctx).
		Model(&model.WafRuleRecord{}).
		Where("rule_id = ?", ruleID).
		Updates(map[string]any{
			"trigger_count":  gorm.Expr("trigger_count + ?", 1),
			"last_triggered": now,
		}).Error
}

// FindByRuleID 按规则标识查询
func (r *RuleRepo) FindByRuleID(ctx context.Context, ruleID string) (*domain.Rule, error) {
	var rec model.WafRuleRecord
	err := r.Db.WithContext(ctx).Where("rule_id = ?", ruleID).First(&rec).Error
	if err != nil {
		return nil, err
	}
	return toDomainRule(&rec), nil
}

// toDomainRule 持久化记录转领域规则
// 条件 JSON 非法时保留空条件树，评估时按不匹配处理
func toDomainRule(rec *model.WafRuleRecord) *domain.Rule {
	rule := &domain.Rule{
		RuleID:        rec.RuleID,
		Name:          rec.Name,
		Description:   rec.Description,
		Category:      rec.Category,
		Severity:      domain.Severity(rec.Severity),
		Action:        domain.Action(rec.Action),
		Enabled:       rec.Enabled,
		Priority:      rec.Priority,
		Source:        rec.Source,
		TriggerCount:  rec.TriggerCount,
		LastTriggered: rec.LastTriggered,
	}
	if rec.ConditionsJSON != "" {
		_ = json.Unmarshal([]byte(rec.ConditionsJSON), &rule.Conditions)
	}
	if rec.ActionParamsJSON != "" {
		_ = json.Unmarshal([]byte(rec.ActionParamsJSON), &rule.ActionParams)
	}
	return rule
}

// toRecord 领域规则转持久化记录
func toRecord(rule *domain.Rule, now time.Time) *model.WafRuleRecord {
	conditionsJSON, _ := json.Marshal(rule.Conditions)
	paramsJSON, _ := json.Marshal(rule.ActionParams)

	return &model.WafRuleRecord{
		RuleID:           rule.RuleID,
		Name:             rule.Name,
		Description:      rule.Description,
		Category:         rule.Category,
		Severity:         string(rule.Severity),
		ConditionsJSON:   string(conditionsJSON),
		Action:           string(rule.Action),
		ActionParamsJSON: string(paramsJSON),
		Enabled:          rule.Enabled,
		Priority:         rule.Priority,
		Source:           rule.Source,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
