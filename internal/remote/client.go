// Package remote 实现与 Cybear 平台的 HTTPS 通信
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/CyBearCare/cybear-go/internal/logger"
	"github.com/CyBearCare/cybear-go/pkg/errx"
)

// Version 代理版本，随 User-Agent 与激活握手上报
const Version = "1.0.0"

// Options 客户端配置选项
type Options struct {
	// Endpoint 平台 API 端点，必须为 HTTPS
	Endpoint string
	// APIKey 平台分配的 API 密钥
	APIKey string
	// Timeout 单次请求超时，<=0 时使用 30s
	Timeout time.Duration
	// RetryAttempts 重试预算，<=0 时使用 3
	RetryAttempts int
	// RetryDelay 首次重试延迟，之后指数递增，<=0 时使用 1s
	RetryDelay time.Duration
	// AllowHTTP 允许明文 HTTP 端点，仅用于测试
	AllowHTTP bool
	// Logger 日志组件
	Logger logger.Logger
}

// Client 平台 API 客户端
// 连接失败与 5xx 按预算重试并指数退避；4xx 不重试
type Client struct {
	endpoint string
	apiKey   string
	attempts int
	delay    time.Duration
	http     *http.Client
	log      logger.Logger
}

// New 创建平台 API 客户端
func New(opts Options) (*Client, error) {
	endpoint := strings.TrimRight(opts.Endpoint, "/")
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errx.Wrap(errx.CodeNotConfigured, err, "API 端点非法")
	}
	if u.Scheme != "https" && !opts.AllowHTTP {
		return nil, errx.New(errx.CodeInsecureEndpoint, fmt.Sprintf("API 端点必须使用 HTTPS: %s", endpoint))
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	return &Client{
		endpoint: endpoint,
		apiKey:   opts.APIKey,
		attempts: opts.RetryAttempts,
		delay:    opts.RetryDelay,
		http: &http.Client{
			Timeout: opts.Timeout,
			// 禁止跨协议降级的重定向
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("redirect limit reached")
				}
				if req.URL.Scheme == "http" && via[0].URL.Scheme == "https" {
					return errors.New("refusing redirect from https to http")
				}
				return nil
			},
		},
		log: opts.Logger,
	}, nil
}

// IsConfigured 判断端点与密钥是否均已配置
func (c *Client) IsConfigured() bool {
	return c.endpoint != "" && c.apiKey != ""
}

// Health 连通性探测
func (c *Client) Health(ctx context.Context) error {
	var resp apiResponse
	return c.request(ctx, http.MethodGet, "/api/agent/health", nil, nil, &resp)
}

// SyncRules 增量拉取规则，since 为空时全量拉取
func (c *Client) SyncRules(ctx context.Context, since string) ([]RuleDTO, error) {
	query := url.Values{}
	if since != "" {
		query.Set("since", since)
	}

	var resp syncResponse
	if err := c.request(ctx, http.MethodGet, "/api/agent/rules/sync", query, nil, &resp); err != nil {
		return nil, err
	}

	// 规则列表可能在 data.rules 或顶层 rules
	if len(resp.Data.Rules) > 0 {
		return resp.Data.Rules, nil
	}
	return resp.Rules, nil
}

// SendCollectedData 上报一次采集负载
func (c *Client) SendCollectedData(ctx context.Context, payload *CollectPayload) error {
	var resp apiResponse
	return c.request(ctx, http.MethodPost, "/api/agent/data/collect", nil, payload, &resp)
}

// SendAuditLogs 批量上报审计日志
func (c *Client) SendAuditLogs(ctx context.Context, logs []AuditLogDTO) error {
	var resp apiResponse
	body := map[string]any{"logs": logs}
	return c.request(ctx, http.MethodPost, "/api/agent/audit/submit", nil, body, &resp)
}

// SendBlockedRequests 批量上报拦截记录
func (c *Client) SendBlockedRequests(ctx context.Context, blocked []BlockedRequestDTO) error {
	var resp apiResponse
	body := map[string]any{"blocked_requests": blocked}
	return c.request(ctx, http.MethodPost, "/api/agent/blocked/submit", nil, body, &resp)
}

// InitOrActivate 发起初始化/激活握手
func (c *Client) InitOrActivate(ctx context.Context, req *ActivateRequest) (*ActivateData, error) {
	if req.AgentVersion == "" {
		req.AgentVersion = Version
	}
	if req.GoVersion == "" {
		req.GoVersion = runtime.Version()
	}

	var resp apiResponse
	if err := c.request(ctx, http.MethodPost, "/api/agent/init-or-activate", nil, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errx.New(errx.CodeNotAuthorized, "激活握手被拒绝: "+resp.Message)
	}

	var data ActivateData
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return nil, errx.Wrap(errx.CodeRemoteUnavailable, err, "激活响应解析失败")
		}
	}
	return &data, nil
}

// Verify 提交域名验证
func (c *Client) Verify(ctx context.Context, appURL string) error {
	var resp apiResponse
	body := map[string]any{"app_url": appURL}
	if err := c.request(ctx, http.MethodPost, "/api/agent/verify", nil, body, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return errx.New(errx.CodeNotAuthorized, "域名验证失败: "+resp.Message)
	}
	return nil
}

// VerifyAuth 查询当前密钥的授权状态
func (c *Client) VerifyAuth(ctx context.Context) (bool, error) {
	var resp apiResponse
	if err := c.request(ctx, http.MethodGet, "/api/agent/auth/verify", nil, nil, &resp); err != nil {
		return false, err
	}
	if !resp.Success {
		return false, nil
	}
	var data verifyData
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return false, nil
		}
	}
	return data.IsVerified, nil
}

// request 执行一次带重试预算的 API 请求
func (c *Client) request(ctx context.Context, method, path string, query url.Values, body, out any) error {
	fullURL := c.endpoint + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	var lastErr error
	delay := c.delay

	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// 指数退避
			delay *= 2
		}

		err := c.doOnce(ctx, method, fullURL, bodyBytes, out)
		if err == nil {
			if attempt > 1 {
				c.log.Debug("API 请求重试成功", "method", method, "path", path, "attempt", attempt)
			}
			return nil
		}

		// 4xx 类错误不消耗重试预算
		if errx.Is(err, errx.CodeClientError) || errx.Is(err, errx.CodeNotAuthorized) {
			return err
		}
		lastErr = err
		c.log.Warn("API 请求失败，准备重试", "method", method, "path", path, "attempt", attempt, "error", err.Error())
	}

	return errx.Wrap(errx.CodeRemoteUnavailable, lastErr,
		fmt.Sprintf("%d 次尝试后仍无法访问平台 API", c.attempts))
}

func (c *Client) doOnce(ctx context.Context, method, fullURL string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Cybear-Go/"+Version)
	req.Header.Set("X-Cybear-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errx.New(errx.CodeNotAuthorized,
			fmt.Sprintf("平台拒绝访问 (HTTP %d)，请检查 API 密钥与激活状态", resp.StatusCode))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return errx.New(errx.CodeClientError, fmt.Sprintf("平台返回客户端错误 (HTTP %d)", resp.StatusCode))
	case resp.StatusCode >= 500:
		return fmt.Errorf("平台返回服务端错误 (HTTP %d)", resp.StatusCode)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("响应解析失败: %w", err)
		}
	}
	return nil
}
