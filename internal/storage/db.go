// Package storage 站点记录持久化（GORM + 纯 Go SQLite）
package storage

import (
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	ilog "webclip/internal/logger"
	"webclip/internal/storage/model"
)

// Open 打开数据库并迁移表结构
func Open(dsn, prefix string, l ilog.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("storage: empty dsn")
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         NewGormLogger(l).LogMode(logger.Warn),
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("打开数据库 %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(&model.SiteRecord{}); err != nil {
		return nil, fmt.Errorf("迁移表结构: %w", err)
	}
	return db, nil
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
