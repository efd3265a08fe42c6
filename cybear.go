// Package cybear 是防护代理的对外入口
// 典型用法：加载配置、创建代理、把 Middleware 挂到 HTTP 处理链上，
// 随后 Start 启动后台的规则同步与数据上报
package cybear

import (
	"context"
	"net/http"

	"github.com/CyBearCare/cybear-go/internal/agent"
	"github.com/CyBearCare/cybear-go/pkg/config"
)

// Agent 防护代理
type Agent struct {
	inner *agent.Agent
}

// New 按配置创建代理
func New(cfg *config.Config) (*Agent, error) {
	inner, err := agent.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Agent{inner: inner}, nil
}

// NewFromFile 从 yaml 配置文件创建代理
func NewFromFile(path string) (*Agent, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// Start 启动后台调度（规则同步、数据上报、采集、清理）
func (a *Agent) Start() { a.inner.Start() }

// Stop 停止后台调度并等待在途任务完成
func (a *Agent) Stop() { a.inner.Stop() }

// Middleware 返回请求防护中间件
func (a *Agent) Middleware(next http.Handler) http.Handler { return a.inner.Middleware(next) }

// AdminHandler 返回本地管理接口，只应绑定回环地址
func (a *Agent) AdminHandler() http.Handler { return a.inner.AdminHandler() }

// SyncRules 立即执行一次规则同步，返回写入条数
func (a *Agent) SyncRules(ctx context.Context) (int, error) { return a.inner.SyncRules(ctx) }

// Flush 立即执行一次数据上报
func (a *Agent) Flush(ctx context.Context) error {
	_, _, _, _, err := a.inner.FlushEvents(ctx)
	return err
}

// Collect 立即执行一轮环境数据采集
func (a *Agent) Collect(ctx context.Context) int { return a.inner.RunCollectors(ctx) }
