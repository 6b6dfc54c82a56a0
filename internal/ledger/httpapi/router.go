package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"custodex.com/internal/ledger/auth"
	"custodex.com/internal/ledger/service"
	"custodex.com/pkg/common"
	"custodex.com/pkg/middleware"
	"custodex.com/pkg/ratelimit"
)

type Options struct {
	Name         string
	Service      *service.Service
	Resolver     auth.Resolver
	Limiter      *ratelimit.Store // nil 不限流
	AllowOrigins []string
	// Prometheus 挂 /metrics；同一进程只能开一次
	Prometheus bool
	// Ready /healthz 检查依赖（db 等），nil 只报存活
	Ready func(ctx context.Context) error
}

func NewRouter(opts Options) *gin.Engine {
	r := gin.New()
	r.ContextWithFallback = true
	if opts.Prometheus {
		p := ginprom.NewPrometheus("custodex")
		p.Use(r)
	}

	mw := []gin.HandlerFunc{
		middleware.ReqId(),
		middleware.Recover(),
		otelgin.Middleware(opts.Name),
		corsMiddleware(opts.AllowOrigins),
	}
	if opts.Limiter != nil {
		mw = append(mw, middleware.RateLimit(opts.Name, opts.Limiter))
	}
	r.Use(mw...)

	h := &handler{svc: opts.Service}
	r.GET("/healthz", healthz(opts.Ready))

	api := r.Group("/api", authenticate(opts.Resolver))
	api.GET("/ledger/identity", h.identity)

	portfolio := api.Group("/portfolio")
	{
		portfolio.GET("/assets", h.supportedAssets)

		signed := portfolio.Group("", requireCaller())
		signed.GET("/balances/:owner", h.allBalances)
		signed.GET("/balances/:owner/:asset", h.balance)
		signed.GET("/transactions/:owner", h.transactions)
		signed.GET("/operations/:handle", h.operation)

		admin := func(op string) gin.HandlerFunc { return requireAdmin(opts.Service, op) }
		signed.POST("/deposit", admin("DepositBatch"), h.deposit)
		signed.POST("/deposit-native", admin("DepositNative"), h.depositNative)
		signed.POST("/withdraw", admin("Withdraw"), h.withdraw)
		signed.POST("/withdraw-native", admin("WithdrawNative"), h.withdrawNative)
		signed.POST("/transfer", admin("Transfer"), h.transfer)
		signed.POST("/assets", admin("AddSupportedAsset"), h.addAsset)
	}
	return r
}

func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:           addr,
		Handler:        h,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return cors.Default()
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", auth.HeaderCaller, common.HeaderRequestID},
		ExposeHeaders:    []string{common.HeaderRequestID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func healthz(ready func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
