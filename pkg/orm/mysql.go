package orm

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"custodex.com/pkg/metrics"
)

type Config struct {
	DSN         string // 连接字符串
	MaxIdle     int    // 最大空闲连接
	MaxOpen     int    // 最大打开连接
	MaxLifetime int    // 连接存活秒数
	LogSQL      bool   // 开发环境打印 SQL
}

// NewMySQL 初始化 GORM
// DSN 先过一遍驱动解析：强制 parseTime，避免 DATETIME 扫描成 []byte
func NewMySQL(ctx context.Context, c *Config) (*gorm.DB, error) {
	dsnCfg, err := mysqldrv.ParseDSN(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	dsnCfg.ParseTime = true
	if dsnCfg.Loc == nil {
		dsnCfg.Loc = time.UTC
	}

	level := logger.Warn
	if c.LogSQL {
		level = logger.Info
	}
	db, err := gorm.Open(mysql.Open(dsnCfg.FormatDSN()), &gorm.Config{
		// 写操作自己显式开事务
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(level),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 关键配置：连接池优化
	sqlDB.SetMaxIdleConns(c.MaxIdle)
	sqlDB.SetMaxOpenConns(c.MaxOpen)
	sqlDB.SetConnMaxLifetime(time.Duration(c.MaxLifetime) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

// WatchPoolStats 定时把连接池状态写到 prometheus，ctx 取消后退出
func WatchPoolStats(ctx context.Context, db *sql.DB, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()

	var lastWait int64
	var lastWaitDur time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := db.Stats()
			// Stats 里是累计值，counter 只加增量
			metrics.ObservePool("mysql", st.OpenConnections, st.Idle, st.InUse,
				st.WaitCount-lastWait, (st.WaitDuration - lastWaitDur).Seconds())
			lastWait, lastWaitDur = st.WaitCount, st.WaitDuration
		}
	}
}
