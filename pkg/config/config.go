// Package config 定义代理的配置文件结构
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	AppID string `yaml:"app_id" validate:"required"`
	// AppURL 受保护应用自身的对外地址，用于平台侧的域名验证
	AppURL string `yaml:"app_url" validate:"omitempty,url"`

	API struct {
		Endpoint      string        `yaml:"endpoint" validate:"required,url"`
		Key           string        `yaml:"key"`
		Timeout       time.Duration `yaml:"timeout"`
		RetryAttempts int           `yaml:"retry_attempts" validate:"gte=1,lte=10"`
		RetryDelay    time.Duration `yaml:"retry_delay"`
	} `yaml:"api"`

	WAF struct {
		Enabled      bool          `yaml:"enabled"`
		Mode         string        `yaml:"mode" validate:"oneof=enforce monitor"`
		CacheTTL     time.Duration `yaml:"cache_ttl"`
		ChallengeTTL time.Duration `yaml:"challenge_ttl"`
		SyncInterval time.Duration `yaml:"sync_interval"`
	} `yaml:"waf"`

	Audit struct {
		Enabled       bool     `yaml:"enabled"`
		LogRequests   bool     `yaml:"log_requests"`
		ExcludedPaths []string `yaml:"excluded_paths"`
		RetentionDays int      `yaml:"retention_days"`
	} `yaml:"audit"`

	Collectors struct {
		BatchSize       int           `yaml:"batch_size" validate:"gte=1"`
		SendInterval    time.Duration `yaml:"send_interval"`
		CollectInterval time.Duration `yaml:"collect_interval"`
		CleanupInterval time.Duration `yaml:"cleanup_interval"`
	} `yaml:"collectors"`

	RateLimit struct {
		Enabled           bool `yaml:"enabled"`
		RequestsPerMinute int  `yaml:"requests_per_minute"`
	} `yaml:"rate_limit"`

	Sqlite struct {
		Path   string `yaml:"path"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Redis struct {
		Addr     string `yaml:"addr"` // 为空时使用内存质询令牌存储
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
	} `yaml:"log"`

	Database struct {
		RetentionDays int `yaml:"retention_days"`
	} `yaml:"database"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	cfg := &Config{AppID: "cybear-app", AppURL: "http://localhost"}

	cfg.API.Endpoint = "https://api.cybear.care"
	cfg.API.Timeout = 30 * time.Second
	cfg.API.RetryAttempts = 3
	cfg.API.RetryDelay = time.Second

	cfg.WAF.Enabled = true
	cfg.WAF.Mode = "monitor"
	cfg.WAF.CacheTTL = time.Hour
	cfg.WAF.ChallengeTTL = 5 * time.Minute
	cfg.WAF.SyncInterval = time.Hour

	cfg.Audit.Enabled = true
	cfg.Audit.LogRequests = true
	cfg.Audit.RetentionDays = 90

	cfg.Collectors.BatchSize = 100
	cfg.Collectors.SendInterval = 15 * time.Minute
	cfg.Collectors.CollectInterval = time.Hour
	cfg.Collectors.CleanupInterval = 24 * time.Hour

	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerMinute = 60

	cfg.Sqlite.Path = "cybear.db"
	cfg.Sqlite.Prefix = "cybear_"

	cfg.Log.Level = "info"
	cfg.Log.Writer = []string{"console"}

	cfg.Database.RetentionDays = 30

	return cfg
}

// Load 从 yaml 文件加载配置，文件中省略的字段保留默认值
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
