package repo

import (
	"context"
	"errors"
	"time"

	"github.com/CyBearCare/cybear-go/internal/storage/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 代理内部设置键
const (
	SettingLastRuleSync = "last_rule_sync" // 最近一次规则同步时间 (RFC3339)
	SettingActivated    = "activated"      // 远端激活状态
)

// SettingsRepo 键值设置仓库
type SettingsRepo struct {
	BaseRepository[model.SettingRecord]
}

// NewSettingsRepo 创建设置仓库实例
func NewSettingsRepo(db *gorm.DB) *SettingsRepo {
	return &SettingsRepo{BaseRepository: *NewBaseRepository[model.SettingRecord](db)}
}

// Get 读取设置值，不存在时返回空串
func (r *SettingsRepo) Get(ctx context.Context, key string) (string, error) {
	var rec model.SettingRecord
	err := r.Db.WithContext(ctx).Where("key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return rec.Value, nil
}

// Set 写入设置值，存在时覆盖
func (r *SettingsRepo) Set(ctx context.Context, key, value string) error {
	rec := &model.SettingRecord{Key: key, Value: value, UpdatedAt: time.Now()}
	return r.Db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(rec).Error
}
