package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Solana    SolanaConfig
	Sponsor   SponsorConfig
	Admission AdmissionConfig
	Lookup    LookupConfig
	Redis     RedisConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type SolanaConfig struct {
	RPCURL          string `mapstructure:"rpc_url"`
	Commitment      string `mapstructure:"commitment"`
	SkipPreflight   bool   `mapstructure:"skip_preflight"`
	MaxRetries      uint   `mapstructure:"max_retries"`
	RelayTimeoutSec int64  `mapstructure:"relay_timeout_sec"`
	MaxConns        int    `mapstructure:"max_conns"`
}

func (c SolanaConfig) RelayTimeout() time.Duration {
	return time.Duration(c.RelayTimeoutSec) * time.Second
}

type SponsorConfig struct {
	FeePayerAddress     string `mapstructure:"fee_payer_address"`
	FeePayerPrivateKey  string `mapstructure:"fee_payer_private_key"`
	FeePayerKeypairFile string `mapstructure:"fee_payer_keypair_file"`
	KeyDaemonAddr       string `mapstructure:"key_daemon_addr"`
	KeyDaemonKeyID      string `mapstructure:"key_daemon_key_id"`
	ProgramWhitelist    string `mapstructure:"program_whitelist"`
	MaxComputeUnitPrice uint64 `mapstructure:"max_compute_unit_price"`
}

type AdmissionConfig struct {
	DedupTTLSec    int64 `mapstructure:"dedup_ttl_sec"`
	QuotaPerWindow int64 `mapstructure:"quota_per_window"`
	QuotaWindowSec int64 `mapstructure:"quota_window_sec"`
}

type LookupConfig struct {
	CacheTTLSec int64 `mapstructure:"cache_ttl_sec"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("solana.rpc_url", "https://api.devnet.solana.com")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.skip_preflight", false)
	v.SetDefault("solana.max_retries", 0)
	v.SetDefault("solana.relay_timeout_sec", 15)
	v.SetDefault("solana.max_conns", 64)
	v.SetDefault("sponsor.key_daemon_key_id", "fee-payer")
	v.SetDefault("sponsor.max_compute_unit_price", 1_000_000)
	v.SetDefault("admission.dedup_ttl_sec", 120)
	v.SetDefault("admission.quota_per_window", 0)
	v.SetDefault("admission.quota_window_sec", 60)
	v.SetDefault("lookup.cache_ttl_sec", 300)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.compress", true)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":                    "PORT",
		"solana.rpc_url":                 "SOLANA_RPC_URL",
		"solana.commitment":              "SOLANA_COMMITMENT",
		"solana.skip_preflight":          "SKIP_PREFLIGHT",
		"solana.max_retries":             "RELAY_MAX_RETRIES",
		"solana.relay_timeout_sec":       "RELAY_TIMEOUT_SEC",
		"solana.max_conns":               "RPC_MAX_CONNS",
		"sponsor.fee_payer_address":      "FEE_PAYER_ADDRESS",
		"sponsor.fee_payer_private_key":  "FEE_PAYER_PRIVATE_KEY",
		"sponsor.fee_payer_keypair_file": "FEE_PAYER_KEYPAIR_FILE",
		"sponsor.key_daemon_addr":        "KEY_DAEMON_ADDR",
		"sponsor.key_daemon_key_id":      "KEY_DAEMON_KEY_ID",
		"sponsor.program_whitelist":      "SPONSOR_PROGRAM_WHITELIST",
		"sponsor.max_compute_unit_price": "MAX_COMPUTE_UNIT_PRICE",
		"admission.dedup_ttl_sec":        "DEDUP_TTL_SEC",
		"admission.quota_per_window":     "SPONSOR_QUOTA",
		"admission.quota_window_sec":     "SPONSOR_QUOTA_WINDOW_SEC",
		"lookup.cache_ttl_sec":           "ALT_CACHE_TTL_SEC",
		"redis.addr":                     "REDIS_ADDR",
		"redis.password":                 "REDIS_PASSWORD",
		"log.level":                      "LOG_LEVEL",
		"log.format":                     "LOG_FORMAT",
		"log.file":                       "LOG_FILE",
		"log.max_size_mb":                "LOG_MAX_SIZE_MB",
		"log.max_backups":                "LOG_MAX_BACKUPS",
		"log.compress":                   "LOG_COMPRESS",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

// validate checks what the gateway cannot start without. A missing fee payer
// key is not an error: the server starts and answers every sponsor request
// with a configuration failure.
func (c *Config) validate() error {
	if c.Solana.RPCURL == "" {
		return fmt.Errorf("required config missing: SOLANA_RPC_URL")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("required config missing: REDIS_ADDR")
	}
	switch c.Solana.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("invalid SOLANA_COMMITMENT %q", c.Solana.Commitment)
	}
	if c.Solana.RelayTimeoutSec <= 0 {
		return fmt.Errorf("RELAY_TIMEOUT_SEC must be positive")
	}
	if c.Admission.QuotaPerWindow > 0 && c.Admission.QuotaWindowSec <= 0 {
		return fmt.Errorf("SPONSOR_QUOTA_WINDOW_SEC must be positive when SPONSOR_QUOTA is set")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q", c.Log.Format)
	}
	return nil
}
