// Package transmit 实现本地事件缓冲到平台的可靠传输管道
package transmit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CyBearCare/cybear-go/internal/logger"
	"github.com/CyBearCare/cybear-go/internal/remote"
	"github.com/CyBearCare/cybear-go/internal/storage/model"
	"github.com/CyBearCare/cybear-go/internal/storage/repo"
)

// Authorizer 发送前的授权守卫
type Authorizer interface {
	EnsureAuthorized(ctx context.Context) error
}

// Sender 平台上报接口，由远端客户端实现
type Sender interface {
	SendCollectedData(ctx context.Context, payload *remote.CollectPayload) error
	SendAuditLogs(ctx context.Context, logs []remote.AuditLogDTO) error
	SendBlockedRequests(ctx context.Context, blocked []remote.BlockedRequestDTO) error
}

// Options 管道配置选项
type Options struct {
	// AppID 应用标识，随采集负载上报
	AppID string
	// BatchSize 审计与拦截记录的批大小，<=0 时使用 100
	BatchSize int
}

// Stats 一次冲刷的结果统计
type Stats struct {
	CollectedBatches int // 成功上报的采集分钟组数
	AuditBatches     int // 成功上报的审计批数
	BlockedBatches   int // 成功上报的拦截批数
	FailedBatches    int // 发送失败、留待下次重试的批数
}

// Pipeline 传输管道
// 交付语义为至少一次：先发送、平台确认后才标记，
// 标记失败最多导致重复上报，由平台侧幂等去重兜底
type Pipeline struct {
	auth   Authorizer
	sender Sender
	events *repo.EventRepo
	appID  string
	batch  int
	log    logger.Logger
}

// New 创建传输管道
func New(auth Authorizer, sender Sender, events *repo.EventRepo, opts Options, l logger.Logger) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if l == nil {
		l = logger.Nop()
	}
	return &Pipeline{
		auth:   auth,
		sender: sender,
		events: events,
		appID:  opts.AppID,
		batch:  opts.BatchSize,
		log:    l,
	}
}

// Flush 冲刷全部未传输事件
// 授权失败时整体中止；授权通过后各批独立发送，单批失败不影响其余批次
func (p *Pipeline) Flush(ctx context.Context) (*Stats, error) {
	if err := p.auth.EnsureAuthorized(ctx); err != nil {
		return nil, fmt.Errorf("传输中止，平台授权未通过: %w", err)
	}

	stats := &Stats{}
	p.flushCollected(ctx, stats)
	p.flushAudit(ctx, stats)
	p.flushBlocked(ctx, stats)

	if stats.CollectedBatches+stats.AuditBatches+stats.BlockedBatches+stats.FailedBatches > 0 {
		p.log.Info("传输冲刷完成",
			"collected", stats.CollectedBatches, "audit", stats.AuditBatches,
			"blocked", stats.BlockedBatches, "failed", stats.FailedBatches)
	}
	return stats, nil
}

// flushCollected 按采集分钟分组上报采集数据
// 同一分钟内采集的各类数据合并为一个负载，保持平台侧的采集快照完整
func (p *Pipeline) flushCollected(ctx context.Context, stats *Stats) {
	records, err := p.events.ListUntransmittedCollected(ctx)
	if err != nil {
		p.log.Err(err, "读取未传输采集数据失败")
		return
	}
	if len(records) == 0 {
		return
	}

	// 记录已按采集时间升序排好，按分钟切组后组间仍保持最旧优先
	type group struct {
		minute  time.Time
		records []*model.CollectedDataRecord
	}
	var groups []*group
	index := make(map[time.Time]*group)
	for _, rec := range records {
		minute := rec.CollectedAt.Truncate(time.Minute)
		g, ok := index[minute]
		if !ok {
			g = &group{minute: minute}
			index[minute] = g
			groups = append(groups, g)
		}
		g.records = append(g.records, rec)
	}

	for _, g := range groups {
		collectors := make(map[string]json.RawMessage, len(g.records))
		ids := make([]uint, 0, len(g.records))
		for _, rec := range g.records {
			collectors[rec.CollectionType] = json.RawMessage(rec.DataJSON)
			ids = append(ids, rec.ID)
		}

		payload := &remote.CollectPayload{
			Type:                "scheduled",
			ApplicationID:       p.appID,
			CollectionTimestamp: g.minute.UTC().Format(time.RFC3339),
			Collectors:          collectors,
		}

		if err := p.sender.SendCollectedData(ctx, payload); err != nil {
			stats.FailedBatches++
			p.log.Warn("采集数据上报失败，留待下次冲刷",
				"minute", g.minute.Format(time.RFC3339), "records", len(ids), "error", err.Error())
			continue
		}
		if err := p.events.MarkCollectedTransmitted(ctx, ids); err != nil {
			p.log.Err(err, "标记采集数据已传输失败", "records", len(ids))
		}
		stats.CollectedBatches++
	}
}

// flushAudit 分批上报审计日志，最旧优先
func (p *Pipeline) flushAudit(ctx context.Context, stats *Stats) {
	for {
		records, err := p.events.ListUntransmittedAudit(ctx, p.batch)
		if err != nil {
			p.log.Err(err, "读取未传输审计日志失败")
			return
		}
		if len(records) == 0 {
			return
		}

		dtos := make([]remote.AuditLogDTO, 0, len(records))
		ids := make([]uint, 0, len(records))
		for _, rec := range records {
			dtos = append(dtos, remote.AuditLogDTO{
				AppID:      rec.AppID,
				EventType:  rec.EventType,
				UserID:     rec.UserID,
				IPAddress:  rec.IPAddress,
				UserAgent:  rec.UserAgent,
				URL:        rec.URL,
				Method:     rec.Method,
				Payload:    rawOrNil(rec.PayloadJSON),
				OccurredAt: rec.OccurredAt.UTC().Format(time.RFC3339),
			})
			ids = append(ids, rec.ID)
		}

		if err := p.sender.SendAuditLogs(ctx, dtos); err != nil {
			// 未标记的记录下次冲刷会再次取到，这里直接终止本类循环
			stats.FailedBatches++
			p.log.Warn("审计日志批次上报失败", "records", len(ids), "error", err.Error())
			return
		}
		if err := p.events.MarkAuditTransmitted(ctx, ids); err != nil {
			p.log.Err(err, "标记审计日志已传输失败", "records", len(ids))
			return
		}
		stats.AuditBatches++

		if len(records) < p.batch {
			return
		}
	}
}

// flushBlocked 分批上报拦截记录，最旧优先
func (p *Pipeline) flushBlocked(ctx context.Context, stats *Stats) {
	for {
		records, err := p.events.ListUntransmittedBlocked(ctx, p.batch)
		if err != nil {
			p.log.Err(err, "读取未传输拦截记录失败")
			return
		}
		if len(records) == 0 {
			return
		}

		dtos := make([]remote.BlockedRequestDTO, 0, len(records))
		ids := make([]uint, 0, len(records))
		for _, rec := range records {
			dtos = append(dtos, remote.BlockedRequestDTO{
				IPAddress:  rec.IPAddress,
				UserAgent:  rec.UserAgent,
				URL:        rec.URL,
				Method:     rec.Method,
				Headers:    rawOrNil(rec.HeadersJSON),
				Payload:    rawOrNil(rec.PayloadJSON),
				Reason:     rec.Reason,
				WafRuleID:  rec.WafRuleID,
				IncidentID: rec.IncidentID,
				SessionID:  rec.SessionID,
				UserID:     rec.UserID,
				BlockedAt:  rec.BlockedAt.UTC().Format(time.RFC3339),
			})
			ids = append(ids, rec.ID)
		}

		if err := p.sender.SendBlockedRequests(ctx, dtos); err != nil {
			stats.FailedBatches++
			p.log.Warn("拦截记录批次上报失败", "records", len(ids), "error", err.Error())
			return
		}
		if err := p.events.MarkBlockedTransmitted(ctx, ids); err != nil {
			p.log.Err(err, "标记拦截记录已传输失败", "records", len(ids))
			return
		}
		stats.BlockedBatches++

		if len(records) < p.batch {
			return
		}
	}
}

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}
