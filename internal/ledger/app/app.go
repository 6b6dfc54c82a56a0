package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"custodex.com/internal/ledger/assetmeta"
	"custodex.com/internal/ledger/auth"
	"custodex.com/internal/ledger/config"
	"custodex.com/internal/ledger/domain"
	"custodex.com/internal/ledger/events"
	"custodex.com/internal/ledger/httpapi"
	"custodex.com/internal/ledger/service"
	"custodex.com/internal/ledger/settlement"
	"custodex.com/internal/ledger/settlement/ethereum"
	"custodex.com/internal/ledger/store/gormstore"
	"custodex.com/internal/ledger/store/memstore"
	"custodex.com/internal/ledger/txlog"
	"custodex.com/pkg/hdwallet"
	"custodex.com/pkg/logger"
	"custodex.com/pkg/metrics"
	"custodex.com/pkg/orm"
	"custodex.com/pkg/ratelimit"
	"custodex.com/pkg/safe"
	"custodex.com/pkg/trace"
	"custodex.com/pkg/xredis"
)

var registerOnce sync.Once

// App 组装好的账本服务：所有依赖在 Build 里一次性构造，Run 只负责跑
type App struct {
	cfg config.Cfg

	db      *gorm.DB
	rdb     *redis.Client
	broker  events.Broker
	outbox  *txlog.Outbox
	limiter *ratelimit.Store

	Service    *service.Service
	relay      *txlog.Relay
	reconciler *service.Reconciler
	server     *http.Server
	guard      *settlement.Guard

	closers []func(context.Context) error
}

// Build 按配置选择存储 / 缓存 / 消息 / 结算实现
func Build(ctx context.Context, cfg config.Cfg) (*App, error) {
	cfg.Defaults()
	registerOnce.Do(metrics.MustRegister)
	a := &App{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close(context.Background())
		}
	}()

	if cfg.OTel.Enabled {
		shutdown, err := trace.InitTrace(cfg.Name, cfg.OTel.Addr)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		a.onClose(shutdown)
	}

	balances, records, assets, err := a.buildStorage(ctx)
	if err != nil {
		return nil, err
	}

	var metaCache assetmeta.Cache
	var lock service.Locker
	if cfg.Cache == "redis" {
		rdb, err := xredis.NewRedis(ctx, &xredis.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Auth,
			DB:           cfg.Redis.Database,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
		a.onClose(func(context.Context) error { return rdb.Close() })
		metaCache = assetmeta.NewRedisCache(rdb, "ledger:asset")
		lock = xredis.NewLeaderLock(rdb, cfg.Redis.LeaderKey)
	} else {
		metaCache = assetmeta.NewMemCache()
	}

	if cfg.Nats.URL != "" {
		nb, err := events.NewNatsBroker(cfg.Nats.URL)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.broker = nb
	} else {
		a.broker = events.NewMemBroker()
	}
	a.onClose(func(context.Context) error { return a.broker.Close() })

	outbox, err := txlog.OpenOutbox(cfg.Outbox.Dir)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	a.outbox = outbox
	a.onClose(func(context.Context) error { return outbox.Close() })

	ledger := txlog.New(records,
		txlog.WithOutbox(outbox),
		txlog.WithPublisher(events.NewPublisher(a.broker)),
		txlog.WithRetries(cfg.Outbox.InsertRetries, 50*time.Millisecond),
	)
	a.relay = txlog.NewRelay(outbox, records)

	inner, err := buildAdapter(ctx, cfg.Settlement)
	if err != nil {
		return nil, err
	}
	breakers := ratelimit.NewManager(ratelimit.Rule{
		TripConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		Timeout:                 cfg.Breaker.OpenTimeout,
	}, nil)
	adapter := settlement.NewGuard(inner, breakers, cfg.Settlement.CallTimeout)
	a.guard = adapter

	a.Service = service.New(service.Deps{
		Balances: balances,
		Assets:   assets,
		Ledger:   ledger,
		Adapter:  adapter,
		Gate:     auth.NewGate(adapter),
		Meta:     assetmeta.NewProvider(adapter, metaCache, cfg.Redis.MetaTTL),
	})

	if cfg.Reconciler.Enabled {
		a.reconciler = service.NewReconciler(ledger, adapter, lock, service.ReconcilerConfig{
			Interval:       cfg.Reconciler.Interval,
			LocalGrace:     cfg.Reconciler.LocalGrace,
			PendingTimeout: cfg.Reconciler.PendingTimeout,
			BatchSize:      cfg.Reconciler.BatchSize,
			Lease:          cfg.Reconciler.LeaderLease,
		})
	}

	resolver, err := buildResolver(cfg.Auth)
	if err != nil {
		return nil, err
	}
	a.limiter = ratelimit.NewStore(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst, 10*time.Minute)
	router := httpapi.NewRouter(httpapi.Options{
		Name:         cfg.Name,
		Service:      a.Service,
		Resolver:     resolver,
		Limiter:      a.limiter,
		AllowOrigins: cfg.HTTP.AllowOrigins,
		Prometheus:   true,
		Ready:        a.ready,
	})
	a.server = httpapi.NewServer(cfg.HTTP.Addr, router)

	ok = true
	return a, nil
}

func (a *App) buildStorage(ctx context.Context) (domain.BalanceStore, domain.RecordRepo, domain.AssetRegistry, error) {
	switch a.cfg.Storage {
	case "memory":
		logger.Warn(ctx, "⚠️ using in-memory storage, balances are lost on restart")
		return memstore.NewBalances(), memstore.NewRecords(), memstore.NewAssets(), nil
	case "mysql":
		db, err := orm.NewMySQL(ctx, &orm.Config{
			DSN:         a.cfg.Db.SourceName,
			MaxIdle:     a.cfg.Db.MaxIdleConns,
			MaxOpen:     a.cfg.Db.MaxOpenConns,
			MaxLifetime: a.cfg.Db.ConnMaxLifetimeMinutes * 60,
			LogSQL:      a.cfg.Db.LogSQL,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		a.db = db
		a.onClose(func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
		repo := gormstore.New(db)
		if a.cfg.Db.AutoMigrate {
			if err := repo.AutoMigrate(); err != nil {
				return nil, nil, nil, fmt.Errorf("auto migrate: %w", err)
			}
		}
		return repo.Balances(), repo.Records(), repo.Assets(), nil
	}
	return nil, nil, nil, fmt.Errorf("unknown storage %q", a.cfg.Storage)
}

func buildAdapter(ctx context.Context, c config.Settlement) (domain.SettlementAdapter, error) {
	native := domain.AssetInfo{Symbol: c.NativeSymbol, Decimals: c.NativeDecimals}
	switch c.Kind {
	case "simulated":
		if !domain.ValidAddress(domain.NormalizeOwner(c.Admin)) {
			return nil, fmt.Errorf("settlement.admin must be an address for the simulated adapter")
		}
		return settlement.NewSimulated(c.Admin, native), nil
	case "ethereum":
		key := c.SignerKey
		if key == "" && c.SignerMnemonic != "" {
			derived, err := hdwallet.SignerKey(c.SignerMnemonic, c.SignerIndex)
			if err != nil {
				return nil, fmt.Errorf("derive signer key: %w", err)
			}
			key = derived
		}
		return ethereum.Dial(ctx, ethereum.Config{
			RPCURL:         c.RPCURL,
			Contract:       c.Contract,
			SignerKey:      key,
			Confirmations:  c.Confirmations,
			NativeSymbol:   c.NativeSymbol,
			NativeDecimals: c.NativeDecimals,
		})
	}
	return nil, fmt.Errorf("unknown settlement kind %q", c.Kind)
}

func buildResolver(c config.Auth) (auth.Resolver, error) {
	switch c.Mode {
	case "jwt":
		return auth.NewJWTResolver(c.JWTSecret, c.Issuer)
	case "header":
		return auth.HeaderResolver{}, nil
	}
	return nil, fmt.Errorf("unknown auth mode %q", c.Mode)
}

func (a *App) ready(ctx context.Context) error {
	if err := a.guard.Healthy(); err != nil {
		return err
	}
	if a.db != nil {
		sqlDB, err := a.db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("mysql: %w", err)
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Run 阻塞直到 ctx 取消或 http 退出
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	a.limiter.StartJanitor(gctx, time.Minute)

	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			safe.GoCtx(gctx, func(ctx context.Context) { orm.WatchPoolStats(ctx, sqlDB, 5*time.Second) })
		}
	}
	if a.rdb != nil {
		safe.GoCtx(gctx, func(ctx context.Context) { xredis.WatchPoolStats(ctx, a.rdb, 5*time.Second) })
	}
	safe.Loop(gctx, "outbox-relay", time.Second, func(ctx context.Context) { a.relay.Run(ctx, a.cfg.Outbox.RelayInterval) })
	if a.reconciler != nil {
		safe.Loop(gctx, "reconciler", time.Second, a.reconciler.Run)
	}

	g.Go(func() error {
		logger.Info(gctx, "🚀 ledger http listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close 逆序释放资源
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logger.Warn(ctx, "close resource failed", zap.Error(err))
		}
	}
	a.closers = nil
}
