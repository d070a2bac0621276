package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults, loads .env if present
// and applies PREDSYNC_* overrides. An empty path skips the file. Unknown
// TOML keys are rejected. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// A missing .env is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose PREDSYNC_* variable is set and
// non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.RPCURL, "PREDSYNC_LEDGER_RPC_URL")
	setStr(&cfg.Ledger.ContractAddress, "PREDSYNC_LEDGER_CONTRACT_ADDRESS")
	setInt64(&cfg.Ledger.ChainID, "PREDSYNC_LEDGER_CHAIN_ID")
	setFloat64(&cfg.Ledger.ReadRPS, "PREDSYNC_LEDGER_READ_RPS")
	setStr(&cfg.Ledger.PrivateKey, "PREDSYNC_LEDGER_PRIVATE_KEY")
	setStr(&cfg.Ledger.EncryptedKeyPath, "PREDSYNC_LEDGER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Ledger.KeyPassword, "PREDSYNC_LEDGER_KEY_PASSWORD")

	// ── Cache / Redis ──
	setStr(&cfg.Cache.Backend, "PREDSYNC_CACHE_BACKEND")
	setStr(&cfg.Redis.Addr, "PREDSYNC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDSYNC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDSYNC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDSYNC_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "PREDSYNC_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PREDSYNC_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PREDSYNC_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PREDSYNC_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PREDSYNC_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PREDSYNC_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PREDSYNC_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PREDSYNC_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PREDSYNC_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "PREDSYNC_POSTGRES_RUN_MIGRATIONS")

	// ── Reconcile ──
	setDuration(&cfg.Reconcile.GracePeriod, "PREDSYNC_RECONCILE_GRACE_PERIOD")
	setInt(&cfg.Reconcile.MaxAttempts, "PREDSYNC_RECONCILE_MAX_ATTEMPTS")
	setDuration(&cfg.Reconcile.RetryDelay, "PREDSYNC_RECONCILE_RETRY_DELAY")
	setDuration(&cfg.Reconcile.ConfirmTimeout, "PREDSYNC_RECONCILE_CONFIRM_TIMEOUT")
	setDuration(&cfg.Reconcile.ResyncInterval, "PREDSYNC_RECONCILE_RESYNC_INTERVAL")
	setInt(&cfg.Reconcile.ResyncConcurrency, "PREDSYNC_RECONCILE_RESYNC_CONCURRENCY")

	// ── Server ──
	setInt(&cfg.Server.Port, "PREDSYNC_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDSYNC_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PREDSYNC_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PREDSYNC_SERVER_RATE_LIMIT")
	setBool(&cfg.Server.Metrics, "PREDSYNC_SERVER_METRICS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PREDSYNC_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDSYNC_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREDSYNC_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PREDSYNC_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PREDSYNC_MODE")
	setStr(&cfg.LogLevel, "PREDSYNC_LOG_LEVEL")
	setStr(&cfg.LogFormat, "PREDSYNC_LOG_FORMAT")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
