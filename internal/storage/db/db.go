package db

import (
	"os"
	"path/filepath"

	"tabkeeper/internal/logger"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// MemoryName 内存数据库名称，主要用于测试
const MemoryName = ":memory:"

// Options 数据库配置选项
type Options struct {
	// Name 数据库文件名，位于应用数据目录下
	Name string
	// FullPath 数据库完整路径，非空时优先于 Name
	FullPath string
	// Prefix 表前缀
	Prefix string
	// Logger GORM 日志实现
	Logger glog.Interface
}

// New 创建并初始化数据库连接
func New(opts Options) (*gorm.DB, error) {
	dsn, err := resolveDSN(opts)
	if err != nil {
		return nil, err
	}

	gl := opts.Logger
	if gl == nil {
		gl = glog.Discard
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gl,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   opts.Prefix,
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err == nil {
		if dsn == MemoryName {
			// 每个连接都是独立的内存库，只能保留一个连接
			sqlDB.SetMaxOpenConns(1)
		} else {
			sqlDB.SetMaxIdleConns(2)
			sqlDB.SetMaxOpenConns(4)
		}
	}

	return db, nil
}

// Migrate 执行数据库自动迁移
func Migrate(db *gorm.DB, models ...any) error {
	return db.AutoMigrate(models...)
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// resolveDSN 计算数据源，并确保文件所在目录存在
func resolveDSN(opts Options) (string, error) {
	if opts.FullPath == MemoryName || (opts.FullPath == "" && opts.Name == MemoryName) {
		return MemoryName, nil
	}

	path := opts.FullPath
	if path == "" {
		var err error
		if path, err = GetDefaultPath(opts.Name); err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// GetDefaultPath 获取平台相关的默认数据库文件路径
func GetDefaultPath(dbName string) (string, error) {
	dir, err := logger.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, dbName), nil
}
