// Package config loads the settlement engine's runtime configuration from a
// TOML file, an optional .env file and SETTLE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration.
type Config struct {
	LogLevel   string           `toml:"log_level"`
	Server     ServerConfig     `toml:"server"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	AMQP       AMQPConfig       `toml:"amqp"`
	Oracle     OracleConfig     `toml:"oracle"`
	Settlement SettlementConfig `toml:"settlement"`
	Keeper     KeeperConfig     `toml:"keeper"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"` // guards /api/v1/admin; empty disables the check
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters. An empty DSN runs
// the engine on the in-memory store and vault.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	MaxConns      int    `toml:"max_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis parameters for the read cache, the distributed
// settlement lock and event pub/sub.
type RedisConfig struct {
	Enabled  bool     `toml:"enabled"`
	Addr     string   `toml:"addr"`
	Password string   `toml:"password"`
	DB       int      `toml:"db"`
	CacheTTL Duration `toml:"cache_ttl"`
	LockTTL  Duration `toml:"lock_ttl"`
	Channel  string   `toml:"channel"`
}

// AMQPConfig enables publishing events to a topic exchange when URL is set.
type AMQPConfig struct {
	URL      string `toml:"url"`
	Exchange string `toml:"exchange"`
}

// OracleConfig points the outcome resolver at an EVM JSON-RPC endpoint.
// Without RPCURL, automatic resolution only sees in-process feeds.
type OracleConfig struct {
	RPCURL string `toml:"rpc_url"`
}

// SettlementConfig seeds the administrative settings on first start and
// tunes the recovery windows.
type SettlementConfig struct {
	Owner          string   `toml:"owner"`
	Treasury       string   `toml:"treasury"`
	FeeBps         int64    `toml:"fee_bps"`
	ReferralBps    int64    `toml:"referral_bps"`
	EmergencyGrace Duration `toml:"emergency_grace"`
	SweepDormancy  Duration `toml:"sweep_dormancy"`
}

// KeeperConfig controls the periodic market scan.
type KeeperConfig struct {
	Interval Duration `toml:"interval"`
}

// Defaults returns a Config populated with development defaults.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Database: DatabaseConfig{
			MaxConns:      10,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			CacheTTL: Duration{30 * time.Second},
			LockTTL:  Duration{30 * time.Second},
			Channel:  "settlement:events",
		},
		AMQP: AMQPConfig{
			Exchange: "settlement.events",
		},
		Settlement: SettlementConfig{
			FeeBps:         200,
			ReferralBps:    1000,
			EmergencyGrace: Duration{72 * time.Hour},
			SweepDormancy:  Duration{365 * 24 * time.Hour},
		},
		Keeper: KeeperConfig{
			Interval: Duration{time.Minute},
		},
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, "server: shutdown_timeout must be positive")
	}

	if c.Database.DSN != "" && c.Database.MaxConns < 1 {
		errs = append(errs, "database: max_conns must be >= 1")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.LockTTL.Duration <= 0 {
			errs = append(errs, "redis: lock_ttl must be positive")
		}
		if c.Redis.Channel == "" {
			errs = append(errs, "redis: channel must not be empty")
		}
	}

	if c.AMQP.URL != "" && c.AMQP.Exchange == "" {
		errs = append(errs, "amqp: exchange is required when url is set")
	}

	s := c.Settlement
	if !validAddress(s.Owner) {
		errs = append(errs, fmt.Sprintf("settlement: owner must be a non-zero hex address, got %q", s.Owner))
	}
	if !validAddress(s.Treasury) {
		errs = append(errs, fmt.Sprintf("settlement: treasury must be a non-zero hex address, got %q", s.Treasury))
	}
	if s.FeeBps < 0 || s.FeeBps > 500 {
		errs = append(errs, fmt.Sprintf("settlement: fee_bps must be 0-500, got %d", s.FeeBps))
	}
	if s.ReferralBps < 0 || s.ReferralBps > 10000 {
		errs = append(errs, fmt.Sprintf("settlement: referral_bps must be 0-10000, got %d", s.ReferralBps))
	}
	if s.EmergencyGrace.Duration <= 0 {
		errs = append(errs, "settlement: emergency_grace must be positive")
	}
	if s.SweepDormancy.Duration <= 0 {
		errs = append(errs, "settlement: sweep_dormancy must be positive")
	}

	if c.Keeper.Interval.Duration <= 0 {
		errs = append(errs, "keeper: interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// OwnerAddress returns the configured owner. Only meaningful after Validate.
func (s SettlementConfig) OwnerAddress() common.Address {
	return common.HexToAddress(s.Owner)
}

// TreasuryAddress returns the configured treasury. Only meaningful after
// Validate.
func (s SettlementConfig) TreasuryAddress() common.Address {
	return common.HexToAddress(s.Treasury)
}

func validAddress(s string) bool {
	return common.IsHexAddress(s) && common.HexToAddress(s) != (common.Address{})
}
