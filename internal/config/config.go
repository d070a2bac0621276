// Package config defines the predsync configuration and its validation.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then overridden by PREDSYNC_* environment variables.
type Config struct {
	Ledger    LedgerConfig    `toml:"ledger"`
	Cache     CacheConfig     `toml:"cache"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
	LogFormat string          `toml:"log_format"`
}

// LedgerConfig points at the prediction contract and the operator key that
// signs relayed writes.
type LedgerConfig struct {
	RPCURL           string   `toml:"rpc_url"`
	ContractAddress  string   `toml:"contract_address"`
	ChainID          int64    `toml:"chain_id"` // 0 asks the node
	GasLimit         uint64   `toml:"gas_limit"`
	ReadRPS          float64  `toml:"read_rps"`
	ReadBurst        int      `toml:"read_burst"`
	PollInterval     duration `toml:"poll_interval"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	Backend string `toml:"backend"` // "redis" or "memory"
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	DialTimeout duration `toml:"dial_timeout"`
	TLSEnabled  bool     `toml:"tls_enabled"`
}

// PostgresConfig holds the audit database connection. The audit log is
// optional; when disabled the engine runs without one.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// ReconcileConfig tunes the reconciliation engine.
type ReconcileConfig struct {
	GracePeriod       duration `toml:"grace_period"`
	MaxAttempts       int      `toml:"max_attempts"`
	RetryDelay        duration `toml:"retry_delay"`
	ConfirmTimeout    duration `toml:"confirm_timeout"`
	ResyncInterval    duration `toml:"resync_interval"`
	ResyncConcurrency int      `toml:"resync_concurrency"`
	ResyncLockTTL     duration `toml:"resync_lock_ttl"`
	DedupTTL          duration `toml:"dedup_ttl"`
	HandledRetention  duration `toml:"handled_retention"`
	PruneInterval     duration `toml:"prune_interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
	Metrics         bool     `toml:"metrics"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Bus               bool     `toml:"bus"` // publish notifications to WebSocket clients
}

// duration wraps time.Duration so TOML strings such as "5s" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config usable against a local node and Redis.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			RPCURL:       "http://127.0.0.1:8545",
			GasLimit:     300_000,
			ReadRPS:      20,
			ReadBurst:    40,
			PollInterval: duration{3 * time.Second},
		},
		Cache: CacheConfig{Backend: "redis"},
		Redis: RedisConfig{
			Addr:        "127.0.0.1:6379",
			PoolSize:    20,
			MaxRetries:  3,
			DialTimeout: duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "127.0.0.1",
			Port:          5432,
			Database:      "predsync",
			User:          "predsync",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Reconcile: ReconcileConfig{
			GracePeriod:       duration{5 * time.Second},
			MaxAttempts:       3,
			RetryDelay:        duration{2 * time.Second},
			ConfirmTimeout:    duration{2 * time.Minute},
			ResyncInterval:    duration{5 * time.Minute},
			ResyncConcurrency: 8,
			ResyncLockTTL:     duration{5 * time.Minute},
			DedupTTL:          duration{5 * time.Minute},
			HandledRetention:  duration{time.Hour},
			PruneInterval:     duration{time.Minute},
		},
		Server: ServerConfig{
			Port:            8080,
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
			Metrics:         true,
			ShutdownTimeout: duration{15 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"tx_failed", "tx_status_unknown", "sync_delayed"},
			Bus:    true,
		},
		Mode:      "full",
		LogLevel:  "info",
		LogFormat: "json",
	}
}

var validModes = map[string]bool{
	"full":   true, // server + resync loop
	"server": true, // HTTP API and engine, no resync loop
	"worker": true, // resync loop only
	"resync": true, // one resync pass, then exit
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsServer reports whether the mode serves HTTP.
func (c *Config) NeedsServer() bool {
	m := strings.ToLower(c.Mode)
	return m == "full" || m == "server"
}

// Validate checks c and returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: full, server, worker, resync)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}
	if f := strings.ToLower(c.LogFormat); f != "json" && f != "text" {
		add("unknown log_format %q (valid: json, text)", c.LogFormat)
	}

	// Ledger
	if u, err := url.Parse(c.Ledger.RPCURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("ledger: rpc_url %q is not a valid URL", c.Ledger.RPCURL)
	}
	if !common.IsHexAddress(c.Ledger.ContractAddress) {
		add("ledger: contract_address must be a 20-byte hex address")
	}
	if c.Ledger.PrivateKey == "" && c.Ledger.EncryptedKeyPath == "" {
		add("ledger: either private_key or encrypted_key_path must be set")
	}
	if c.Ledger.EncryptedKeyPath != "" && c.Ledger.KeyPassword == "" {
		add("ledger: key_password is required when encrypted_key_path is set")
	}
	if c.Ledger.ChainID < 0 {
		add("ledger: chain_id must not be negative")
	}
	if c.Ledger.ReadRPS <= 0 {
		add("ledger: read_rps must be > 0")
	}

	// Cache
	switch strings.ToLower(c.Cache.Backend) {
	case "redis":
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	case "memory":
	default:
		add("cache: unknown backend %q (valid: redis, memory)", c.Cache.Backend)
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Reconcile
	r := c.Reconcile
	if r.MaxAttempts < 1 {
		add("reconcile: max_attempts must be >= 1")
	}
	if r.GracePeriod.Duration < 0 || r.RetryDelay.Duration < 0 {
		add("reconcile: grace_period and retry_delay must not be negative")
	}
	if r.ConfirmTimeout.Duration <= 0 {
		add("reconcile: confirm_timeout must be > 0")
	}
	if r.ResyncInterval.Duration <= 0 {
		add("reconcile: resync_interval must be > 0")
	}
	if r.ResyncConcurrency < 1 {
		add("reconcile: resync_concurrency must be >= 1")
	}

	// Server
	if c.NeedsServer() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			add("server: rate_limit must not be negative")
		}
		if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			add("server: rate_limit_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
