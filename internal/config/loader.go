package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (skipped when path is empty) over the
// defaults, then applies SETTLE_* environment overrides. A .env file in the
// working directory is loaded first if present. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.LogLevel, "SETTLE_LOG_LEVEL")

	// ── Server ──
	setInt(&cfg.Server.Port, "SETTLE_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SETTLE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SETTLE_SERVER_API_KEY")
	setDuration(&cfg.Server.ShutdownTimeout, "SETTLE_SERVER_SHUTDOWN_TIMEOUT")

	// ── Database ──
	setStr(&cfg.Database.DSN, "SETTLE_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL")
	setInt(&cfg.Database.MaxConns, "SETTLE_DATABASE_MAX_CONNS")
	setBool(&cfg.Database.RunMigrations, "SETTLE_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SETTLE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SETTLE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SETTLE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SETTLE_REDIS_DB")
	setDuration(&cfg.Redis.CacheTTL, "SETTLE_REDIS_CACHE_TTL")
	setDuration(&cfg.Redis.LockTTL, "SETTLE_REDIS_LOCK_TTL")
	setStr(&cfg.Redis.Channel, "SETTLE_REDIS_CHANNEL")

	// ── AMQP ──
	setStr(&cfg.AMQP.URL, "SETTLE_AMQP_URL")
	setStr(&cfg.AMQP.Exchange, "SETTLE_AMQP_EXCHANGE")

	// ── Oracle ──
	setStr(&cfg.Oracle.RPCURL, "SETTLE_ORACLE_RPC_URL")

	// ── Settlement ──
	setStr(&cfg.Settlement.Owner, "SETTLE_OWNER")
	setStr(&cfg.Settlement.Treasury, "SETTLE_TREASURY")
	setInt64(&cfg.Settlement.FeeBps, "SETTLE_FEE_BPS")
	setInt64(&cfg.Settlement.ReferralBps, "SETTLE_REFERRAL_BPS")
	setDuration(&cfg.Settlement.EmergencyGrace, "SETTLE_EMERGENCY_GRACE")
	setDuration(&cfg.Settlement.SweepDormancy, "SETTLE_SWEEP_DORMANCY")

	// ── Keeper ──
	setDuration(&cfg.Keeper.Interval, "SETTLE_KEEPER_INTERVAL")
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
