package challenge

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CyBearCare/cybear-go/internal/logger"
)

// DefaultTTL 令牌默认有效期
const DefaultTTL = 5 * time.Minute

// Manager 质询令牌管理器
// 令牌格式为 "id.secret"：id 用于存储寻址，secret 以恒定时间比较校验，
// 校验一次即作废
type Manager struct {
	store Store
	ttl   time.Duration
	log   logger.Logger
}

// NewManager 创建令牌管理器
func NewManager(store Store, ttl time.Duration, l logger.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if l == nil {
		l = logger.Nop()
	}
	return &Manager{store: store, ttl: ttl, log: l}
}

// Issue 为指定客户端签发质询令牌
func (m *Manager) Issue(ctx context.Context, ip string) (string, error) {
	id := uuid.NewString()

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	secret := hex.EncodeToString(buf)

	if err := m.store.Put(ctx, id, secret, m.ttl); err != nil {
		return "", err
	}

	m.log.Debug("签发质询令牌", "id", id, "ip", ip, "ttl", m.ttl.String())
	return id + "." + secret, nil
}

// Validate 校验令牌；通过一次后立即作废，过期或重放均返回 false
func (m *Manager) Validate(ctx context.Context, token string) bool {
	id, secret, ok := strings.Cut(token, ".")
	if !ok || id == "" || secret == "" {
		return false
	}

	stored, found, err := m.store.Take(ctx, id)
	if err != nil {
		m.log.Warn("质询令牌存储读取失败", "error", err.Error())
		return false
	}
	if !found {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(stored), []byte(secret)) == 1
}
