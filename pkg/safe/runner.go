package safe

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"custodex.com/pkg/logger"
)

// Go 安全启动协程
func Go(fn func()) {
	go func() {
		defer recovered(context.Background(), "")
		fn()
	}()
}

// GoCtx 安全启动携带 context 的协程，panic 日志里保留 request_id
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer recovered(ctx, "")
		fn(ctx)
	}()
}

// Loop 常驻后台任务：fn 正常返回即退出，panic 后等 backoff 再拉起，直到 ctx 取消
func Loop(ctx context.Context, name string, backoff time.Duration, fn func(ctx context.Context)) {
	if backoff <= 0 {
		backoff = time.Second
	}
	go func() {
		for {
			if !runOnce(ctx, name, fn) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
				logger.Warn(ctx, "♻️ restarting background worker", zap.String("worker", name))
			}
		}
	}()
}

// runOnce 返回 true 表示 fn 发生了 panic
func runOnce(ctx context.Context, name string, fn func(ctx context.Context)) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			report(ctx, name, r)
			panicked = true
		}
	}()
	fn(ctx)
	return false
}

func recovered(ctx context.Context, name string) {
	if r := recover(); r != nil {
		report(ctx, name, r)
	}
}

func report(ctx context.Context, name string, r any) {
	stack := string(debug.Stack())
	// logger 未初始化时直接打到标准输出
	if logger.Log == nil {
		fmt.Printf("🚨 GOROUTINE PANIC [%s]: %v\nStack: %s\n", name, r, stack)
		return
	}
	logger.Error(ctx, "🚨 GOROUTINE PANIC RECOVERED",
		zap.String("worker", name),
		zap.Any("panic", r),
		zap.String("stack", stack),
	)
}
