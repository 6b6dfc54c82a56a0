package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"custodex.com/internal/ledger/app"
	"custodex.com/internal/ledger/config"
	pkgconfig "custodex.com/pkg/config"
	"custodex.com/pkg/logger"
)

func main() {
	name := flag.String("c", "ledger-service", "配置名(./config/{name}.yaml) 或 yaml 文件路径")
	flag.Parse()

	// 收到 SIGINT/SIGTERM 时取消，触发优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 热更新只影响日志级别，其他配置以启动时为准
	live := &config.Cfg{}
	if _, err := pkgconfig.LoadAndWatch(*name, live, func() {
		if live.LogLevel != "" {
			logger.SetLevel(live.LogLevel)
		}
	}); err != nil {
		panic(fmt.Sprintf("加载配置出错 %+v", err))
	}
	cfg := *live
	cfg.Defaults()

	logger.Init(cfg.Name, cfg.LogLevel)
	defer logger.Sync()
	logger.Info(ctx, "服务开始启动",
		zap.String("storage", cfg.Storage),
		zap.String("cache", cfg.Cache),
		zap.String("settlement", cfg.Settlement.Kind),
		zap.String("auth", cfg.Auth.Mode),
	)

	a, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Fatal(ctx, "build ledger service failed", zap.Error(err))
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Close(c)
	}()

	if err := a.Run(ctx); err != nil {
		logger.Error(ctx, "ledger service stopped with error", zap.Error(err))
		return
	}
	logger.Info(ctx, "service stopped")
}
