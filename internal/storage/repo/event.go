package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/CyBearCare/cybear-go/internal/storage/model"

	"gorm.io/gorm"
)

// EventRepo 事件缓冲仓库，管理审计日志、拦截记录与采集数据三张事件表
// 每条事件只会被原子地标记一次 transmitted，绝不回退
type EventRepo struct {
	db        *gorm.DB
	audit     BaseRepository[model.AuditLogRecord]
	blocked   BaseRepository[model.BlockedRequestRecord]
	collected BaseRepository[model.CollectedDataRecord]
}

// NewEventRepo 创建事件缓冲仓库实例
func NewEventRepo(db *gorm.DB) *EventRepo {
	return &EventRepo{
		db:        db,
		audit:     *NewBaseRepository[model.AuditLogRecord](db),
		blocked:   *NewBaseRepository[model.BlockedRequestRecord](db),
		collected: *NewBaseRepository[model.CollectedDataRecord](db),
	}
}

// Checksum 计算负载规范化 JSON 的 SHA-256 十六进制摘要
func Checksum(payload any) string {
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// AppendAudit 追加一条审计日志
func (r *EventRepo) AppendAudit(ctx context.Context, rec *model.AuditLogRecord) error {
	return r.audit.Create(ctx, rec)
}

// AppendBlocked 追加一条拦截记录
func (r *EventRepo) AppendBlocked(ctx context.Context, rec *model.BlockedRequestRecord) error {
	return r.blocked.Create(ctx, rec)
}

// AppendCollected 追加一条采集数据，自动计算校验和
// 返回是否与最近一条同类型记录内容重复（重复存储不是错误，去重只是优化）
func (r *EventRepo) AppendCollected(ctx context.Context, collectionType, source string, payload any) (bool, error) {
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	var last model.CollectedDataRecord
	err := r.db.WithContext(ctx).
		Where("collection_type = ?", collectionType).
		Order("collected_at DESC").
		First(&last).Error
	duplicate := err == nil && last.Checksum == checksum

	rec := &model.CollectedDataRecord{
		CollectionType: collectionType,
		DataSource:     source,
		DataJSON:       string(data),
		Checksum:       checksum,
		CollectedAt:    time.Now(),
	}
	if err := r.collected.Create(ctx, rec); err != nil {
		return duplicate, err
	}
	return duplicate, nil
}

// ListUntransmittedAudit 查询未传输审计日志，最旧优先
func (r *EventRepo) ListUntransmittedAudit(ctx context.Context, limit int) ([]*model.AuditLogRecord, error) {
	return r.audit.FindAll(ctx, untransmitted(), &Pagination{Limit: limit}, Orders{{Field: "occurred_at", Sort: "ASC"}})
}

// ListUntransmittedBlocked 查询未传输拦截记录，最旧优先
func (r *EventRepo) ListUntransmittedBlocked(ctx context.Context, limit int) ([]*model.BlockedRequestRecord, error) {
	return r.blocked.FindAll(ctx, untransmitted(), &Pagination{Limit: limit}, Orders{{Field: "blocked_at", Sort: "ASC"}})
}

// ListUntransmittedCollected 查询全部未传输采集数据，最旧优先
func (r *EventRepo) ListUntransmittedCollected(ctx context.Context) ([]*model.CollectedDataRecord, error) {
	return r.collected.FindAll(ctx, untransmitted(), nil, Orders{{Field: "collected_at", Sort: "ASC"}})
}

// MarkAuditTransmitted 标记审计日志为已传输，幂等
func (r *EventRepo) MarkAuditTransmitted(ctx context.Context, ids []uint) error {
	return r.markTransmitted(ctx, &model.AuditLogRecord{}, ids)
}

// MarkBlockedTransmitted 标记拦截记录为已传输，幂等
func (r *EventRepo) MarkBlockedTransmitted(ctx context.Context, ids []uint) error {
	return r.markTransmitted(ctx, &model.BlockedRequestRecord{}, ids)
}

// MarkCollectedTransmitted 标记采集数据为已传输，幂等
func (r *EventRepo) MarkCollectedTransmitted(ctx context.Context, ids []uint) error {
	return r.markTransmitted(ctx, &model.CollectedDataRecord{}, ids)
}

// markTransmitted 单条 UPDATE 完成整批标记，只触碰尚未传输的行
func (r *EventRepo) markTransmitted(ctx context.Context, m any, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(m).
		Where("id IN ? AND transmitted = ?", ids, false).
		Updates(map[string]any{
			"transmitted":    true,
			"transmitted_at": now,
		}).Error
}

// CleanupTransmitted 删除超出保留期的已传输事件，返回删除总数
func (r *EventRepo) CleanupTransmitted(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	var total int64
	n, err := r.audit.Delete(ctx, transmittedBefore("occurred_at", cutoff))
	total += n
	if err != nil {
		return total, err
	}
	n, err = r.blocked.Delete(ctx, transmittedBefore("blocked_at", cutoff))
	total += n
	if err != nil {
		return total, err
	}
	n, err = r.collected.Delete(ctx, transmittedBefore("collected_at", cutoff))
	total += n
	return total, err
}

// UntransmittedCounts 返回三张事件表的未传输数量，用于运行状态上报
func (r *EventRepo) UntransmittedCounts(ctx context.Context) (audit, blocked, collected int64, err error) {
	if audit, err = r.audit.Count(ctx, untransmitted()); err != nil {
		return
	}
	if blocked, err = r.blocked.Count(ctx, untransmitted()); err != nil {
		return
	}
	collected, err = r.collected.Count(ctx, untransmitted())
	return
}

func untransmitted() Filter {
	return FilterFunc(func(db *gorm.DB) *gorm.DB { return db.Where("transmitted = ?", false) })
}

func transmittedBefore(column string, cutoff time.Time) Filter {
	return FilterFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where("transmitted = ? AND "+column+" < ?", true, cutoff)
	})
}
