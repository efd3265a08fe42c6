package remote

import (
	"context"
	"sync"
	"time"

	"github.com/CyBearCare/cybear-go/internal/logger"
	"github.com/CyBearCare/cybear-go/pkg/errx"
)

// authCacheTTL 授权状态缓存时间，减少对平台的探测请求
const authCacheTTL = 5 * time.Minute

// Activator 激活与授权守卫
// 传输管道每次发送前都要经过它，未授权时先走激活握手
type Activator struct {
	client  *Client
	appURL  string
	appName string
	log     logger.Logger

	mu           sync.Mutex
	verifiedTill time.Time
	now          func() time.Time
}

// NewActivator 创建激活守卫
func NewActivator(client *Client, appURL, appName string, l logger.Logger) *Activator {
	if l == nil {
		l = logger.Nop()
	}
	return &Activator{
		client:  client,
		appURL:  appURL,
		appName: appName,
		log:     l,
		now:     time.Now,
	}
}

// EnsureAuthorized 确认当前代理已获平台授权
// 未授权时自动执行激活握手；握手失败返回带明确指引的错误
func (a *Activator) EnsureAuthorized(ctx context.Context) error {
	if !a.client.IsConfigured() {
		return errx.New(errx.CodeNotConfigured, "API 端点或密钥未配置，无法向平台发送数据")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.now().Before(a.verifiedTill) {
		return nil
	}

	verified, err := a.client.VerifyAuth(ctx)
	if err != nil {
		return err
	}
	if verified {
		a.verifiedTill = a.now().Add(authCacheTTL)
		return nil
	}

	a.log.Info("代理尚未激活，尝试自动激活", "app", a.appName)
	if err := a.autoActivate(ctx); err != nil {
		return err
	}

	a.verifiedTill = a.now().Add(authCacheTTL)
	return nil
}

// autoActivate 执行初始化/激活握手
func (a *Activator) autoActivate(ctx context.Context) error {
	data, err := a.client.InitOrActivate(ctx, &ActivateRequest{
		AppURL:  a.appURL,
		AppName: a.appName,
	})
	if err != nil {
		return err
	}

	if data.IsActivated {
		a.log.Info("代理已在平台激活", "app", a.appName)
		return nil
	}

	if data.NextStep == "verify" {
		if err := a.client.Verify(ctx, a.appURL); err != nil {
			return err
		}
		a.log.Info("域名验证完成", "app", a.appName)
		return nil
	}

	return errx.New(errx.CodeNotAuthorized, "激活握手返回未知状态，请在平台控制台检查应用配置")
}
