// Package database 负责初始化数据库连接。
package database

import (
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"edu-smart-go/pkg/log"
)

var DB *gorm.DB

// InitPostgres 初始化 Postgres 数据库连接，并确保 pgvector 扩展可用。
func InitPostgres(dsn string) {
	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		// 可以在这里添加 GORM 的配置
	})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	// 配置连接池
	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}

	sqlDB.SetMaxIdleConns(10)           // 设置空闲连接池中连接的最大数量
	sqlDB.SetMaxOpenConns(100)          // 设置打开数据库连接的最大数量
	sqlDB.SetConnMaxLifetime(time.Hour) // 设置了连接可复用的最大时间

	// 相似度检索依赖 pgvector 的 <=> 距离运算符
	if err := DB.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		log.Fatal("failed to create pgvector extension", err)
	}

	log.Info("Postgres database connected successfully")
}
