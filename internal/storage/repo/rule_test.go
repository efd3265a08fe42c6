package repo_test

import (
	"context"
	"testing"

	"github.com/CyBearCare/cybear-go/internal/storage/db"
	"github.com/CyBearCare/cybear-go/internal/storage/model"
	"github.com/CyBearCare/cybear-go/internal/storage/repo"
	"github.com/CyBearCare/cybear-go/pkg/domain"

	"gorm.io/gorm"
)

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.New(db.Options{FullPath: ":memory:", Prefix: "cybear_"})
	if err != nil {
		t.Fatalf("打开内存数据库失败: %v", err)
	}
	if err := db.Migrate(gdb, model.All()...); err != nil {
		t.Fatalf("迁移失败: %v", err)
	}
	return gdb
}

func sampleRule(id string, priority int, severity domain.Severity) domain.Rule {
	return domain.Rule{
		RuleID:   id,
		Name:     "规则 " + id,
		Category: "test",
		Severity: severity,
		Action:   domain.ActionBlock,
		Enabled:  true,
		Priority: priority,
		Conditions: domain.Condition{
			Field: "path", Operator: domain.OpContains, Value: "/x",
		},
	}
}

// TestRuleRepo_ListEnabledOrdering 验证优先级降序、同优先级按严重级别权重降序
func TestRuleRepo_ListEnabledOrdering(t *testing.T) {
	r := repo.NewRuleRepo(newDB(t))
	ctx := context.Background()

	rules := []domain.Rule{
		sampleRule("low-prio", 10, domain.SeverityCritical),
		sampleRule("high-prio-medium", 100, domain.SeverityMedium),
		sampleRule("high-prio-critical", 100, domain.SeverityCritical),
		sampleRule("disabled", 200, domain.SeverityCritical),
	}
	rules[3].Enabled = false

	if _, err := r.UpsertBatch(ctx, rules); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	got, err := r.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}

	want := []string{"high-prio-critical", "high-prio-medium", "low-prio"}
	if len(got) != len(want) {
		t.Fatalf("期望 %d 条, 实际 %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].RuleID != id {
			t.Errorf("位置 %d 期望 %s, 实际 %s", i, id, got[i].RuleID)
		}
	}
}

// TestRuleRepo_ListEnabledStableOnFullTie 验证同优先级同严重级别时保持插入顺序
func TestRuleRepo_ListEnabledStableOnFullTie(t *testing.T) {
	r := repo.NewRuleRepo(newDB(t))
	ctx := context.Background()

	rules := []domain.Rule{
		sampleRule("tie-first", 100, domain.SeverityHigh),
		sampleRule("tie-second", 100, domain.SeverityHigh),
		sampleRule("tie-third", 100, domain.SeverityHigh),
	}
	if _, err := r.UpsertBatch(ctx, rules); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	got, err := r.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}

	want := []string{"tie-first", "tie-second", "tie-third"}
	if len(got) != len(want) {
		t.Fatalf("期望 %d 条, 实际 %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].RuleID != id {
			t.Errorf("完全打平时位置 %d 期望 %s, 实际 %s", i, id, got[i].RuleID)
		}
	}
}

// TestRuleRepo_UpsertPreservesTriggerCount 验证更新规则不覆盖本地命中计数
func TestRuleRepo_UpsertPreservesTriggerCount(t *testing.T) {
	r := repo.NewRuleRepo(newDB(t))
	ctx := context.Background()

	rule := sampleRule("r1", 100, domain.SeverityHigh)
	if _, err := r.UpsertBatch(ctx, []domain.Rule{rule}); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := r.IncrementTrigger(ctx, "r1"); err != nil {
			t.Fatalf("递增失败: %v", err)
		}
	}

	rule.Name = "更新后的名字"
	if _, err := r.UpsertBatch(ctx, []domain.Rule{rule}); err != nil {
		t.Fatalf("更新失败: %v", err)
	}

	got, err := r.FindByRuleID(ctx, "r1")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if got.Name != "更新后的名字" {
		t.Errorf("名字应已更新, 实际 %q", got.Name)
	}
	if got.TriggerCount != 3 {
		t.Errorf("命中计数应保留为 3, 实际 %d", got.TriggerCount)
	}
	if got.LastTriggered == nil {
		t.Error("最近命中时间应保留")
	}
}

// TestRuleRepo_IncrementTrigger 验证相对增量递增
func TestRuleRepo_IncrementTrigger(t *testing.T) {
	r := repo.NewRuleRepo(newDB(t))
	ctx := context.Background()

	if _, err := r.UpsertBatch(ctx, []domain.Rule{sampleRule("r1", 100, domain.SeverityLow)}); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := r.IncrementTrigger(ctx, "r1"); err != nil {
			t.Fatalf("递增失败: %v", err)
		}
	}

	got, err := r.FindByRuleID(ctx, "r1")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if got.TriggerCount != 5 {
		t.Errorf("期望计数 5, 实际 %d", got.TriggerCount)
	}
}

// TestRuleRepo_MalformedConditions 验证条件 JSON 非法时保留空条件树
func TestRuleRepo_MalformedConditions(t *testing.T) {
	gdb := newDB(t)
	r := repo.NewRuleRepo(gdb)
	ctx := context.Background()

	rec := &model.WafRuleRecord{
		RuleID:         "broken",
		Name:           "坏规则",
		Severity:       "high",
		ConditionsJSON: `{not json`,
		Action:         "block",
		Enabled:        true,
	}
	if err := gdb.Create(rec).Error; err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	got, err := r.FindByRuleID(ctx, "broken")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if !got.Conditions.IsLeaf() || got.Conditions.Field != "" {
		t.Errorf("非法条件应退化为空条件树: %+v", got.Conditions)
	}
}
