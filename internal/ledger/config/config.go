package config

import "time"

type Cfg struct {
	Name       string     `yaml:"name" mapstructure:"name"`
	LogLevel   string     `yaml:"log_level" mapstructure:"log_level"`
	HTTP       HTTP       `yaml:"http" mapstructure:"http"`
	Storage    string     `yaml:"storage" mapstructure:"storage"` // memory | mysql
	Db         DBConfig   `yaml:"db" mapstructure:"db"`
	Cache      string     `yaml:"cache" mapstructure:"cache"` // memory | redis
	Redis      Redis      `yaml:"redis" mapstructure:"redis"`
	Settlement Settlement `yaml:"settlement" mapstructure:"settlement"`
	Auth       Auth       `yaml:"auth" mapstructure:"auth"`
	Outbox     Outbox     `yaml:"outbox" mapstructure:"outbox"`
	Reconciler Reconciler `yaml:"reconciler" mapstructure:"reconciler"`
	Breaker    Breaker    `yaml:"breaker" mapstructure:"breaker"`
	RateLimit  RateLimit  `yaml:"rate_limit" mapstructure:"rate_limit"`
	Nats       Nats       `yaml:"nats" mapstructure:"nats"`
	OTel       OTel       `yaml:"otel" mapstructure:"otel"`
}

type HTTP struct {
	Addr         string   `yaml:"addr" mapstructure:"addr"`
	AllowOrigins []string `yaml:"allow_origins" mapstructure:"allow_origins"`
}

type DBConfig struct {
	SourceName             string `yaml:"source_name" mapstructure:"source_name"`
	MaxOpenConns           int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes" mapstructure:"conn_max_lifetime_minutes"`
	AutoMigrate            bool   `yaml:"auto_migrate" mapstructure:"auto_migrate"`
	LogSQL                 bool   `yaml:"log_sql" mapstructure:"log_sql"`
}

type Redis struct {
	Addr         string        `yaml:"addr" mapstructure:"addr"`
	Database     int           `yaml:"db" mapstructure:"db"`
	Auth         string        `yaml:"auth" mapstructure:"auth"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	MetaTTL      time.Duration `yaml:"meta_ttl" mapstructure:"meta_ttl"`
	LeaderKey    string        `yaml:"leader_key" mapstructure:"leader_key"`
}

// Settlement 结算层：simulated 用于本地/测试，ethereum 对接托管合约
type Settlement struct {
	Kind      string `yaml:"kind" mapstructure:"kind"`
	RPCURL    string `yaml:"rpc_url" mapstructure:"rpc_url"`
	Contract  string `yaml:"contract" mapstructure:"contract"`
	SignerKey string `yaml:"signer_key" mapstructure:"signer_key"`
	// signer_key 为空时从助记词派生 m/44'/60'/0'/0/{signer_index}
	SignerMnemonic string        `yaml:"signer_mnemonic" mapstructure:"signer_mnemonic"`
	SignerIndex    uint32        `yaml:"signer_index" mapstructure:"signer_index"`
	Confirmations  int64         `yaml:"confirmations" mapstructure:"confirmations"`
	CallTimeout    time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
	NativeSymbol   string        `yaml:"native_symbol" mapstructure:"native_symbol"`
	NativeDecimals int32         `yaml:"native_decimals" mapstructure:"native_decimals"`
	// simulated 专用
	Admin string `yaml:"admin" mapstructure:"admin"`
}

type Auth struct {
	Mode      string `yaml:"mode" mapstructure:"mode"` // jwt | header
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	Issuer    string `yaml:"issuer" mapstructure:"issuer"`
}

type Outbox struct {
	Dir           string        `yaml:"dir" mapstructure:"dir"`
	RelayInterval time.Duration `yaml:"relay_interval" mapstructure:"relay_interval"`
	InsertRetries int           `yaml:"insert_retries" mapstructure:"insert_retries"`
}

type Reconciler struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval   time.Duration `yaml:"interval" mapstructure:"interval"`
	LocalGrace time.Duration `yaml:"local_grace" mapstructure:"local_grace"`
	// PendingTimeout 已提交但一直没进块的 handle 判失败
	PendingTimeout time.Duration `yaml:"pending_timeout" mapstructure:"pending_timeout"`
	BatchSize      int           `yaml:"batch_size" mapstructure:"batch_size"`
	LeaderLease    time.Duration `yaml:"leader_lease" mapstructure:"leader_lease"`
}

type Breaker struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" mapstructure:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout" mapstructure:"open_timeout"`
}

type RateLimit struct {
	RPS   float64 `yaml:"rps" mapstructure:"rps"`
	Burst int     `yaml:"burst" mapstructure:"burst"`
}

type Nats struct {
	URL string `yaml:"url" mapstructure:"url"` // 为空时使用进程内 broker
}

type OTel struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr"`
}

// Defaults 补齐未配置的字段
func (c *Cfg) Defaults() {
	if c.Name == "" {
		c.Name = "ledger-service"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Storage == "" {
		c.Storage = "memory"
	}
	if c.Cache == "" {
		c.Cache = "memory"
	}
	if c.Redis.MetaTTL <= 0 {
		c.Redis.MetaTTL = time.Hour
	}
	if c.Redis.LeaderKey == "" {
		c.Redis.LeaderKey = "ledger:reconciler:leader"
	}
	if c.Settlement.Kind == "" {
		c.Settlement.Kind = "simulated"
	}
	if c.Settlement.Confirmations <= 0 {
		c.Settlement.Confirmations = 12
	}
	if c.Settlement.CallTimeout <= 0 {
		c.Settlement.CallTimeout = 10 * time.Second
	}
	if c.Settlement.NativeSymbol == "" {
		c.Settlement.NativeSymbol = "ETH"
	}
	if c.Settlement.NativeDecimals <= 0 {
		c.Settlement.NativeDecimals = 18
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = "jwt"
	}
	if c.Outbox.Dir == "" {
		c.Outbox.Dir = "data/outbox"
	}
	if c.Outbox.RelayInterval <= 0 {
		c.Outbox.RelayInterval = 5 * time.Second
	}
	if c.Outbox.InsertRetries <= 0 {
		c.Outbox.InsertRetries = 3
	}
	if c.Reconciler.Interval <= 0 {
		c.Reconciler.Interval = 15 * time.Second
	}
	if c.Reconciler.LocalGrace <= 0 {
		c.Reconciler.LocalGrace = 10 * time.Minute
	}
	if c.Reconciler.PendingTimeout <= 0 {
		c.Reconciler.PendingTimeout = time.Hour
	}
	if c.Reconciler.BatchSize <= 0 {
		c.Reconciler.BatchSize = 200
	}
	if c.Reconciler.LeaderLease <= 0 {
		c.Reconciler.LeaderLease = 3 * c.Reconciler.Interval
	}
	if c.Breaker.ConsecutiveFailures == 0 {
		c.Breaker.ConsecutiveFailures = 5
	}
	if c.Breaker.OpenTimeout <= 0 {
		c.Breaker.OpenTimeout = 30 * time.Second
	}
	if c.RateLimit.RPS <= 0 {
		c.RateLimit.RPS = 50
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 100
	}
}
