package remote_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CyBearCare/cybear-go/internal/remote"
	"github.com/CyBearCare/cybear-go/pkg/errx"
)

func newClient(t *testing.T, endpoint string) *remote.Client {
	t.Helper()
	c, err := remote.New(remote.Options{
		Endpoint:      endpoint,
		APIKey:        "key-123",
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		AllowHTTP:     true,
	})
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}
	return c
}

// TestNew_RequiresHTTPS 验证默认拒绝明文端点
func TestNew_RequiresHTTPS(t *testing.T) {
	_, err := remote.New(remote.Options{Endpoint: "http://api.example.com", APIKey: "k"})
	if !errx.Is(err, errx.CodeInsecureEndpoint) {
		t.Errorf("期望 INSECURE_ENDPOINT, 实际 %v", err)
	}

	if _, err := remote.New(remote.Options{Endpoint: "https://api.example.com", APIKey: "k"}); err != nil {
		t.Errorf("HTTPS 端点不应报错: %v", err)
	}
}

// TestClient_Headers 验证每个请求携带认证与标识头
func TestClient_Headers(t *testing.T) {
	var gotKey, gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Cybear-API-Key")
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	if gotKey != "key-123" {
		t.Errorf("API 密钥头错误: %q", gotKey)
	}
	if gotUA != "Cybear-Go/"+remote.Version {
		t.Errorf("User-Agent 错误: %q", gotUA)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept 头错误: %q", gotAccept)
	}
}

// TestClient_RetryOn5xx 验证 5xx 消耗重试预算并指数退避后成功
func TestClient_RetryOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("第三次尝试应成功: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("期望 3 次调用, 实际 %d", got)
	}
}

// TestClient_RetryBudgetExhausted 验证预算耗尽后返回 REMOTE_UNAVAILABLE
func TestClient_RetryBudgetExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	err := c.Health(context.Background())
	if !errx.Is(err, errx.CodeRemoteUnavailable) {
		t.Errorf("期望 REMOTE_UNAVAILABLE, 实际 %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("重试预算为 3, 实际调用 %d 次", got)
	}
}

// TestClient_NoRetryOn4xx 验证 4xx 不消耗重试预算
func TestClient_NoRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	err := c.Health(context.Background())
	if !errx.Is(err, errx.CodeClientError) {
		t.Errorf("期望 CLIENT_ERROR, 实际 %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("4xx 不应重试, 实际调用 %d 次", got)
	}
}

// TestClient_AuthError 验证 401/403 映射为 NOT_AUTHORIZED 且不重试
func TestClient_AuthError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	err := c.Health(context.Background())
	if !errx.Is(err, errx.CodeNotAuthorized) {
		t.Errorf("期望 NOT_AUTHORIZED, 实际 %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("授权失败不应重试, 实际调用 %d 次", got)
	}
}

// TestClient_SyncRules 验证两种响应形态的规则列表解析
func TestClient_SyncRules(t *testing.T) {
	rule := map[string]any{
		"rule_id": "r1", "name": "n", "category": "c",
		"severity": "high", "action": "block",
		"conditions": map[string]any{"field": "path", "operator": "contains", "value": "/x"},
	}

	tests := []struct {
		name string
		body map[string]any
	}{
		{"data.rules 形态", map[string]any{"success": true, "data": map[string]any{"rules": []any{rule}}}},
		{"顶层 rules 形态", map[string]any{"success": true, "rules": []any{rule}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotSince string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotSince = r.URL.Query().Get("since")
				_ = json.NewEncoder(w).Encode(tt.body)
			}))
			defer srv.Close()

			c := newClient(t, srv.URL)
			rules, err := c.SyncRules(context.Background(), "2026-01-01T00:00:00Z")
			if err != nil {
				t.Fatalf("同步失败: %v", err)
			}
			if len(rules) != 1 || rules[0].RuleID != "r1" {
				t.Errorf("规则解析错误: %+v", rules)
			}
			if gotSince != "2026-01-01T00:00:00Z" {
				t.Errorf("since 参数错误: %q", gotSince)
			}
		})
	}
}

// TestClient_InitOrActivate 验证激活握手的版本补齐与响应解析
func TestClient_InitOrActivate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req remote.ActivateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.AgentVersion == "" || req.GoVersion == "" {
			t.Error("版本字段应自动补齐")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"is_activated": false, "next_step": "verify"},
		})
	}))
	defer srv.Close()

	c := newClient(t, srv.URL)
	data, err := c.InitOrActivate(context.Background(), &remote.ActivateRequest{AppURL: "https://app.test"})
	if err != nil {
		t.Fatalf("握手失败: %v", err)
	}
	if data.IsActivated || data.NextStep != "verify" {
		t.Errorf("响应解析错误: %+v", data)
	}
}
