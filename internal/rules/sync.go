package rules

import (
	"context"
	"encoding/json"
	"time"

	"github.com/CyBearCare/cybear-go/internal/logger"
	"github.com/CyBearCare/cybear-go/internal/remote"
	"github.com/CyBearCare/cybear-go/internal/storage/repo"
	"github.com/CyBearCare/cybear-go/pkg/domain"

	"github.com/go-playground/validator/v10"
)

// RuleSource 规则拉取接口，由远端客户端实现
type RuleSource interface {
	SyncRules(ctx context.Context, since string) ([]remote.RuleDTO, error)
}

// Upserter 规则写入接口，由存储层实现
type Upserter interface {
	UpsertBatch(ctx context.Context, rules []domain.Rule) (int, error)
}

// Syncer 规则同步器
// 先持久化新规则集，提交成功后再同步失效缓存，
// 避免缓存已空而旧规则尚在的窗口
type Syncer struct {
	source   RuleSource
	store    Upserter
	settings *repo.SettingsRepo
	cache    *Cache
	validate *validator.Validate
	log      logger.Logger
}

// NewSyncer 创建规则同步器
func NewSyncer(source RuleSource, store Upserter, settings *repo.SettingsRepo, cache *Cache, l logger.Logger) *Syncer {
	if l == nil {
		l = logger.Nop()
	}
	return &Syncer{
		source:   source,
		store:    store,
		settings: settings,
		cache:    cache,
		validate: validator.New(),
		log:      l,
	}
}

// Sync 执行一次增量规则同步，返回写入条数
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	since, err := s.settings.Get(ctx, repo.SettingLastRuleSync)
	if err != nil {
		return 0, err
	}

	dtos, err := s.source.SyncRules(ctx, since)
	if err != nil {
		return 0, err
	}
	if len(dtos) == 0 {
		s.log.Debug("规则同步无更新", "since", since)
		return 0, nil
	}

	rules := make([]domain.Rule, 0, len(dtos))
	for i := range dtos {
		rule, err := s.toDomain(&dtos[i])
		if err != nil {
			// 跳过非法规则，不中断整批同步
			s.log.Warn("丢弃非法规则", "rule_id", dtos[i].RuleID, "error", err.Error())
			continue
		}
		rules = append(rules, *rule)
	}

	count, err := s.store.UpsertBatch(ctx, rules)
	if err != nil {
		return 0, err
	}

	if err := s.settings.Set(ctx, repo.SettingLastRuleSync, time.Now().UTC().Format(time.RFC3339)); err != nil {
		s.log.Warn("记录同步时间失败", "error", err.Error())
	}

	// 新规则集已落盘，失效缓存让下一次加载取到新集
	s.cache.Invalidate()

	s.log.Info("规则同步完成", "synced", count, "received", len(dtos))
	return count, nil
}

// toDomain 校验并转换远端规则
func (s *Syncer) toDomain(dto *remote.RuleDTO) (*domain.Rule, error) {
	if err := s.validate.Struct(dto); err != nil {
		return nil, err
	}

	// conditions 可能被再编码为 JSON 字符串
	raw := dto.Conditions
	var asString string
	if json.Unmarshal(raw, &asString) == nil {
		raw = []byte(asString)
	}

	var cond domain.Condition
	if err := json.Unmarshal(raw, &cond); err != nil {
		return nil, err
	}

	enabled := true
	if dto.Enabled != nil {
		enabled = *dto.Enabled
	}
	priority := 100
	if dto.Priority != nil {
		priority = *dto.Priority
	}

	return &domain.Rule{
		RuleID:       dto.RuleID,
		Name:         dto.Name,
		Description:  dto.Description,
		Category:     dto.Category,
		Severity:     domain.Severity(dto.Severity),
		Conditions:   cond,
		Action:       domain.Action(dto.Action),
		ActionParams: dto.ActionParams,
		Enabled:      enabled,
		Priority:     priority,
		Source:       "cybear",
	}, nil
}
