package challenge

import (
	"context"
	"strings"
	"testing"
	"time"
)

// TestManager_IssueAndValidate 验证签发的令牌一次有效
func TestManager_IssueAndValidate(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Minute, nil)
	ctx := context.Background()

	token, err := m.Issue(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("签发失败: %v", err)
	}
	if !strings.Contains(token, ".") {
		t.Fatalf("令牌格式应为 id.secret: %q", token)
	}

	if !m.Validate(ctx, token) {
		t.Error("首次校验应通过")
	}
	if m.Validate(ctx, token) {
		t.Error("令牌应一次性使用，重放必须失败")
	}
}

// TestManager_ValidateRejectsGarbage 验证畸形与伪造令牌被拒绝
func TestManager_ValidateRejectsGarbage(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Minute, nil)
	ctx := context.Background()

	token, err := m.Issue(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("签发失败: %v", err)
	}
	id, _, _ := strings.Cut(token, ".")

	tests := []struct {
		name  string
		token string
	}{
		{"空令牌", ""},
		{"无分隔符", "abcdef"},
		{"空 secret", id + "."},
		{"伪造 secret", id + ".deadbeef"},
		{"未知 id", "ghost." + strings.Repeat("a", 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if m.Validate(ctx, tt.token) {
				t.Error("应拒绝")
			}
		})
	}
}

// TestManager_TokensAreUnique 验证令牌不可预测且互不相同
func TestManager_TokensAreUnique(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Minute, nil)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		token, err := m.Issue(ctx, "1.2.3.4")
		if err != nil {
			t.Fatalf("签发失败: %v", err)
		}
		if seen[token] {
			t.Fatal("令牌重复")
		}
		seen[token] = true
	}
}

// TestMemoryStore_Expiry 验证过期令牌取出时判定失效
func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	ctx := context.Background()
	if err := s.Put(ctx, "id1", "secret1", 5*time.Minute); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	now = now.Add(5*time.Minute + time.Second)
	if _, found, _ := s.Take(ctx, "id1"); found {
		t.Error("过期令牌不应取出")
	}
}

// TestMemoryStore_PutCleansExpired 验证写入时顺带回收过期条目
func TestMemoryStore_PutCleansExpired(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	ctx := context.Background()
	_ = s.Put(ctx, "old", "x", time.Minute)

	now = now.Add(2 * time.Minute)
	_ = s.Put(ctx, "new", "y", time.Minute)

	s.mu.Lock()
	_, oldExists := s.entries["old"]
	s.mu.Unlock()
	if oldExists {
		t.Error("过期条目应在写入时回收")
	}
}
