package rules_test

import (
	"encoding/json"
	"testing"

	"github.com/CyBearCare/cybear-go/internal/rules"
	"github.com/CyBearCare/cybear-go/pkg/domain"
)

func snapshot() *domain.RequestSnapshot {
	return &domain.RequestSnapshot{
		Method:      "POST",
		URL:         "http://example.com/login?next=/admin",
		Path:        "/login",
		IP:          "10.1.2.3",
		UserAgent:   "sqlmap/1.7",
		Host:        "example.com",
		Referer:     "http://evil.test/",
		QueryString: "next=/admin",
		Headers:     map[string]string{"X-Custom": "abc", "Authorization": "Bearer xyz"},
		Inputs:      map[string]any{"username": "admin' OR 1=1--", "password": "hunter2"},
	}
}

// TestEvaluate_LeafOperators 验证各叶子操作符的匹配语义
func TestEvaluate_LeafOperators(t *testing.T) {
	e := rules.NewEvaluator(nil)
	snap := snapshot()

	tests := []struct {
		name string
		cond domain.Condition
		want bool
	}{
		{"equals 命中", domain.Condition{Field: "method", Operator: domain.OpEquals, Value: "POST"}, true},
		{"equals 不命中", domain.Condition{Field: "method", Operator: domain.OpEquals, Value: "GET"}, false},
		{"not_equals", domain.Condition{Field: "method", Operator: domain.OpNotEquals, Value: "GET"}, true},
		{"contains", domain.Condition{Field: "user_agent", Operator: domain.OpContains, Value: "sqlmap"}, true},
		{"not_contains", domain.Condition{Field: "user_agent", Operator: domain.OpNotContains, Value: "curl"}, true},
		{"starts_with", domain.Condition{Field: "path", Operator: domain.OpStartsWith, Value: "/log"}, true},
		{"ends_with", domain.Condition{Field: "path", Operator: domain.OpEndsWith, Value: "in"}, true},
		{"regex 大小写不敏感", domain.Condition{Field: "user_agent", Operator: domain.OpRegex, Value: "SQLMAP"}, true},
		{"regex 不命中", domain.Condition{Field: "path", Operator: domain.OpRegex, Value: `^/api/`}, false},
		{"ip_in_range CIDR 命中", domain.Condition{Field: "ip", Operator: domain.OpIPInRange, Value: "10.1.0.0/16"}, true},
		{"ip_in_range CIDR 不命中", domain.Condition{Field: "ip", Operator: domain.OpIPInRange, Value: "192.168.0.0/16"}, false},
		{"ip_in_range 精确地址", domain.Condition{Field: "ip", Operator: domain.OpIPInRange, Value: "10.1.2.3"}, true},
		{"length_greater", domain.Condition{Field: "query_string", Operator: domain.OpLengthGreater, Value: 5}, true},
		{"length_greater 数字字符串", domain.Condition{Field: "query_string", Operator: domain.OpLengthGreater, Value: "5"}, true},
		{"length_less", domain.Condition{Field: "method", Operator: domain.OpLengthLess, Value: 10}, true},
		{"未知操作符", domain.Condition{Field: "method", Operator: "fuzzy", Value: "POST"}, false},
		{"未知字段回落命名输入", domain.Condition{Field: "username", Operator: domain.OpContains, Value: "OR 1=1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Evaluate(&tt.cond, snap); got != tt.want {
				t.Errorf("期望 %v, 实际 %v", tt.want, got)
			}
		})
	}
}

// TestEvaluate_Combinators 验证组合节点的逻辑语义
func TestEvaluate_Combinators(t *testing.T) {
	e := rules.NewEvaluator(nil)
	snap := snapshot()

	hit := domain.Condition{Field: "method", Operator: domain.OpEquals, Value: "POST"}
	miss := domain.Condition{Field: "method", Operator: domain.OpEquals, Value: "GET"}

	tests := []struct {
		name string
		cond domain.Condition
		want bool
	}{
		{"and 全命中", domain.Condition{Operator: "and", Rules: []domain.Condition{hit, hit}}, true},
		{"and 含不命中", domain.Condition{Operator: "and", Rules: []domain.Condition{hit, miss}}, false},
		{"or 任一命中", domain.Condition{Operator: "or", Rules: []domain.Condition{miss, hit}}, true},
		{"or 全不命中", domain.Condition{Operator: "or", Rules: []domain.Condition{miss, miss}}, false},
		{"空组合节点视为畸形", domain.Condition{Operator: "and"}, false},
		{"嵌套组合", domain.Condition{Operator: "or", Rules: []domain.Condition{
			{Operator: "and", Rules: []domain.Condition{hit, miss}},
			{Operator: "and", Rules: []domain.Condition{hit, hit}},
		}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Evaluate(&tt.cond, snap); got != tt.want {
				t.Errorf("期望 %v, 实际 %v", tt.want, got)
			}
		})
	}
}

// TestEvaluate_JSONConditionTree 验证平台下发格式的条件树能正确解析并评估
func TestEvaluate_JSONConditionTree(t *testing.T) {
	raw := `{
		"operator": "or",
		"rules": [
			{"field": "path", "operator": "starts_with", "value": "/wp-admin"},
			{"field": "user_agent", "operator": "contains", "value": "sqlmap"}
		]
	}`

	var cond domain.Condition
	if err := json.Unmarshal([]byte(raw), &cond); err != nil {
		t.Fatalf("条件树解析失败: %v", err)
	}

	e := rules.NewEvaluator(nil)
	if !e.Evaluate(&cond, snapshot()) {
		t.Error("user_agent 含 sqlmap 的请求应命中 or 条件树")
	}

	clean := snapshot()
	clean.UserAgent = "Mozilla/5.0"
	if e.Evaluate(&cond, clean) {
		t.Error("干净请求不应命中")
	}
}

// TestEvaluate_MalformedInput 验证畸形输入一律按不命中处理
func TestEvaluate_MalformedInput(t *testing.T) {
	e := rules.NewEvaluator(nil)
	snap := snapshot()

	tests := []struct {
		name string
		cond *domain.Condition
	}{
		{"nil 条件", nil},
		{"空叶子", &domain.Condition{}},
		{"缺字段", &domain.Condition{Operator: domain.OpEquals, Value: "x"}},
		{"缺操作符", &domain.Condition{Field: "method", Value: "x"}},
		{"嵌套量词正则被拒绝", &domain.Condition{Field: "path", Operator: domain.OpRegex, Value: "(a+)+$"}},
		{"非法正则", &domain.Condition{Field: "path", Operator: domain.OpRegex, Value: "(["}},
		{"非法 CIDR", &domain.Condition{Field: "ip", Operator: domain.OpIPInRange, Value: "not-a-range"}},
		{"length 值非数字", &domain.Condition{Field: "path", Operator: domain.OpLengthGreater, Value: "abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if e.Evaluate(tt.cond, snap) {
				t.Error("畸形输入不应命中")
			}
		})
	}
}

// TestFieldValue_PostDataRedaction 验证提交字段序列化时敏感键被打码
func TestFieldValue_PostDataRedaction(t *testing.T) {
	snap := snapshot()
	got := rules.FieldValue(snap, "post_data")

	var parsed map[string]any
	if err := json.Unmarshal([]byte(got), &parsed); err != nil {
		t.Fatalf("post_data 不是合法 JSON: %v", err)
	}
	if parsed["password"] != "[REDACTED]" {
		t.Errorf("password 应被打码, 实际为 %v", parsed["password"])
	}
	if parsed["username"] != "admin' OR 1=1--" {
		t.Errorf("普通字段不应被改动, 实际为 %v", parsed["username"])
	}
}

// TestFieldValue_HeadersSanitized 验证请求头序列化时凭据头被剔除
func TestFieldValue_HeadersSanitized(t *testing.T) {
	snap := snapshot()
	got := rules.FieldValue(snap, "headers")

	var parsed map[string]string
	if err := json.Unmarshal([]byte(got), &parsed); err != nil {
		t.Fatalf("headers 不是合法 JSON: %v", err)
	}
	if _, ok := parsed["Authorization"]; ok {
		t.Error("Authorization 头不应出现在序列化结果中")
	}
	if parsed["X-Custom"] != "abc" {
		t.Errorf("普通头应保留, 实际为 %v", parsed["X-Custom"])
	}
}

// TestRedactJSON_Nested 验证嵌套对象中的敏感键也会被打码
func TestRedactJSON_Nested(t *testing.T) {
	in := `{"user":{"name":"a","api_key":"k"},"list":[{"token":"t"}]}`
	out := rules.RedactJSON(in)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("打码结果不是合法 JSON: %v", err)
	}
	user := parsed["user"].(map[string]any)
	if user["api_key"] != "[REDACTED]" {
		t.Errorf("嵌套 api_key 应被打码, 实际为 %v", user["api_key"])
	}
	item := parsed["list"].([]any)[0].(map[string]any)
	if item["token"] != "[REDACTED]" {
		t.Errorf("数组内 token 应被打码, 实际为 %v", item["token"])
	}
}
