// Package db 负责数据库连接的创建与迁移
package db

import (
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Options 数据库配置选项
type Options struct {
	// FullPath 数据库文件完整路径，":memory:" 表示内存数据库
	FullPath string
	// Prefix 表前缀
	Prefix string
	// Logger GORM 日志实现
	Logger logger.Interface
}

// New 创建并初始化数据库连接
func New(opts Options) (*gorm.DB, error) {
	if opts.FullPath != ":memory:" {
		// 确保数据库目录存在
		if err := os.MkdirAll(filepath.Dir(opts.FullPath), 0o755); err != nil {
			return nil, err
		}
	}

	gdb, err := gorm.Open(sqlite.Open(opts.FullPath), &gorm.Config{
		Logger: opts.Logger,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   opts.Prefix,
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, err
	}

	// SQLite 下主要用于控制并发
	sqlDB, err := gdb.DB()
	if err == nil {
		sqlDB.SetMaxIdleConns(4)
		sqlDB.SetMaxOpenConns(16)
	}

	return gdb, nil
}

// Migrate 执行数据库自动迁移
func Migrate(gdb *gorm.DB, models ...any) error {
	return gdb.AutoMigrate(models...)
}
