package transmit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CyBearCare/cybear-go/internal/remote"
	"github.com/CyBearCare/cybear-go/internal/storage/db"
	"github.com/CyBearCare/cybear-go/internal/storage/model"
	"github.com/CyBearCare/cybear-go/internal/storage/repo"
	"github.com/CyBearCare/cybear-go/internal/transmit"

	"gorm.io/gorm"
)

type fakeAuth struct {
	err error
}

func (f *fakeAuth) EnsureAuthorized(context.Context) error { return f.err }

// fakeSender 记录上报调用，可对指定批次注入失败
type fakeSender struct {
	collected   []*remote.CollectPayload
	auditCalls  [][]remote.AuditLogDTO
	blockCalls  [][]remote.BlockedRequestDTO
	failAudit   int // 第 N 次审计批失败（从 1 起），0 表示不失败
	failCollect bool
}

func (f *fakeSender) SendCollectedData(_ context.Context, p *remote.CollectPayload) error {
	if f.failCollect {
		return errors.New("platform 503")
	}
	f.collected = append(f.collected, p)
	return nil
}

func (f *fakeSender) SendAuditLogs(_ context.Context, logs []remote.AuditLogDTO) error {
	if f.failAudit > 0 && len(f.auditCalls)+1 == f.failAudit {
		return errors.New("platform 503")
	}
	f.auditCalls = append(f.auditCalls, logs)
	return nil
}

func (f *fakeSender) SendBlockedRequests(_ context.Context, b []remote.BlockedRequestDTO) error {
	f.blockCalls = append(f.blockCalls, b)
	return nil
}

func newEvents(t *testing.T) (*repo.EventRepo, *gorm.DB) {
	t.Helper()
	gdb, err := db.New(db.Options{FullPath: ":memory:", Prefix: "cybear_"})
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}
	if err := db.Migrate(gdb, model.All()...); err != nil {
		t.Fatalf("迁移失败: %v", err)
	}
	return repo.NewEventRepo(gdb), gdb
}

// TestFlush_AuthFailureAborts 验证授权失败时整体中止、不触达平台
func TestFlush_AuthFailureAborts(t *testing.T) {
	events, _ := newEvents(t)
	ctx := context.Background()
	if err := events.AppendAudit(ctx, &model.AuditLogRecord{EventType: "http_request", OccurredAt: time.Now()}); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	sender := &fakeSender{}
	p := transmit.New(&fakeAuth{err: errors.New("not activated")}, sender, events, transmit.Options{}, nil)

	if _, err := p.Flush(ctx); err == nil {
		t.Fatal("授权失败应返回错误")
	}
	if len(sender.auditCalls) != 0 {
		t.Error("授权失败时不应上报任何数据")
	}

	left, _ := events.ListUntransmittedAudit(ctx, 10)
	if len(left) != 1 {
		t.Error("授权失败时事件应原样保留")
	}
}

// TestFlush_AuditBatching 验证审计日志按批大小切分、最旧优先
func TestFlush_AuditBatching(t *testing.T) {
	events, _ := newEvents(t)
	ctx := context.Background()

	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := events.AppendAudit(ctx, &model.AuditLogRecord{
			EventType:  "http_request",
			URL:        "http://a/" + string(rune('0'+i)),
			OccurredAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("写入失败: %v", err)
		}
	}

	sender := &fakeSender{}
	p := transmit.New(&fakeAuth{}, sender, events, transmit.Options{BatchSize: 2}, nil)

	stats, err := p.Flush(ctx)
	if err != nil {
		t.Fatalf("冲刷失败: %v", err)
	}
	if stats.AuditBatches != 3 {
		t.Errorf("5 条按批 2 应为 3 批, 实际 %d", stats.AuditBatches)
	}
	if len(sender.auditCalls) != 3 {
		t.Fatalf("期望 3 次上报, 实际 %d", len(sender.auditCalls))
	}
	if sender.auditCalls[0][0].URL != "http://a/0" {
		t.Error("应最旧优先上报")
	}

	left, _ := events.ListUntransmittedAudit(ctx, 10)
	if len(left) != 0 {
		t.Errorf("全部批次成功后不应有剩余, 实际 %d", len(left))
	}
}

// TestFlush_FailedBatchLeavesRecords 验证失败批次的记录留待下次冲刷
func TestFlush_FailedBatchLeavesRecords(t *testing.T) {
	events, _ := newEvents(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 4; i++ {
		err := events.AppendAudit(ctx, &model.AuditLogRecord{
			EventType:  "http_request",
			OccurredAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("写入失败: %v", err)
		}
	}

	// 首批失败
	sender := &fakeSender{failAudit: 1}
	p := transmit.New(&fakeAuth{}, sender, events, transmit.Options{BatchSize: 2}, nil)

	stats, err := p.Flush(ctx)
	if err != nil {
		t.Fatalf("冲刷不应整体失败: %v", err)
	}
	if stats.FailedBatches != 1 {
		t.Errorf("期望 1 个失败批, 实际 %d", stats.FailedBatches)
	}

	left, _ := events.ListUntransmittedAudit(ctx, 10)
	if len(left) != 4 {
		t.Errorf("失败批次的记录应全部保留, 实际剩余 %d", len(left))
	}

	// 平台恢复后重试成功
	sender.failAudit = 0
	stats, err = p.Flush(ctx)
	if err != nil {
		t.Fatalf("二次冲刷失败: %v", err)
	}
	if stats.AuditBatches != 2 {
		t.Errorf("恢复后应补发 2 批, 实际 %d", stats.AuditBatches)
	}
	left, _ = events.ListUntransmittedAudit(ctx, 10)
	if len(left) != 0 {
		t.Errorf("补发后不应有剩余, 实际 %d", len(left))
	}
}

// TestFlush_CollectedGroupedByMinute 验证采集数据按采集分钟合并上报
func TestFlush_CollectedGroupedByMinute(t *testing.T) {
	events, gdb := newEvents(t)
	ctx := context.Background()

	minute1 := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	minute2 := minute1.Add(time.Minute)

	// 直接落盘以控制采集时间
	records := []*model.CollectedDataRecord{
		{CollectionType: "runtime", DataJSON: `{"cpus":8}`, CollectedAt: minute1.Add(5 * time.Second)},
		{CollectionType: "environment", DataJSON: `{"os":"linux"}`, CollectedAt: minute1.Add(20 * time.Second)},
		{CollectionType: "runtime", DataJSON: `{"cpus":8}`, CollectedAt: minute2.Add(3 * time.Second)},
	}
	for _, rec := range records {
		if err := gdb.Create(rec).Error; err != nil {
			t.Fatalf("写入失败: %v", err)
		}
	}

	sender := &fakeSender{}
	p := transmit.New(&fakeAuth{}, sender, events, transmit.Options{AppID: "app-1"}, nil)

	stats, err := p.Flush(ctx)
	if err != nil {
		t.Fatalf("冲刷失败: %v", err)
	}
	if stats.CollectedBatches != 2 {
		t.Fatalf("两个分钟组应各上报一次, 实际 %d", stats.CollectedBatches)
	}

	first := sender.collected[0]
	if first.ApplicationID != "app-1" {
		t.Errorf("应用标识错误: %s", first.ApplicationID)
	}
	if first.CollectionTimestamp != minute1.Format(time.RFC3339) {
		t.Errorf("首组时间戳应为分钟边界, 实际 %s", first.CollectionTimestamp)
	}
	if len(first.Collectors) != 2 {
		t.Errorf("首组应合并 2 个采集器, 实际 %d", len(first.Collectors))
	}
	if len(sender.collected[1].Collectors) != 1 {
		t.Errorf("次组应只有 1 个采集器, 实际 %d", len(sender.collected[1].Collectors))
	}

	left, _ := events.ListUntransmittedCollected(ctx)
	if len(left) != 0 {
		t.Errorf("成功后不应有剩余, 实际 %d", len(left))
	}
}

// TestFlush_CollectFailureKeepsGroup 验证采集组上报失败时记录保留
func TestFlush_CollectFailureKeepsGroup(t *testing.T) {
	events, _ := newEvents(t)
	ctx := context.Background()
	if _, err := events.AppendCollected(ctx, "runtime", "agent", map[string]any{"cpus": 8}); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	sender := &fakeSender{failCollect: true}
	p := transmit.New(&fakeAuth{}, sender, events, transmit.Options{}, nil)

	stats, err := p.Flush(ctx)
	if err != nil {
		t.Fatalf("冲刷不应整体失败: %v", err)
	}
	if stats.FailedBatches != 1 {
		t.Errorf("期望 1 个失败批, 实际 %d", stats.FailedBatches)
	}
	left, _ := events.ListUntransmittedCollected(ctx)
	if len(left) != 1 {
		t.Error("失败组的记录应保留")
	}
}
