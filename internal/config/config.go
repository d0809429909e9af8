package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Payment    PaymentConfig    `yaml:"payment"`
	Settlement SettlementConfig `yaml:"settlement"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Replay     ReplayConfig     `yaml:"replay"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Security   SecurityConfig   `yaml:"security"`
	TLS        TLSConfig        `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

// PaymentConfig pins the payee identity and the asset authorizations must be
// signed for.
type PaymentConfig struct {
	PayTo         string        `yaml:"pay_to"`         // payee address
	Asset         string        `yaml:"asset"`          // settlement token contract
	Network       string        `yaml:"network"`        // e.g. "base-sepolia"
	ChainID       int64         `yaml:"chain_id"`       // must match network
	AssetName     string        `yaml:"asset_name"`     // EIP-712 domain name
	AssetVersion  string        `yaml:"asset_version"`  // EIP-712 domain version
	ClockSkew     time.Duration `yaml:"clock_skew"`     // validity window tolerance
}

type SettlementConfig struct {
	FacilitatorURL string        `yaml:"facilitator_url"`
	Timeout        time.Duration `yaml:"timeout"`
}

type SandboxConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	ExecutorID    string `yaml:"executor_id"` // identity bound into proofs; defaults to hostname
}

// ReplayConfig selects where consumed nonces live. Backend "memory" is
// per-instance; "redis" and "postgres" share one nonce space across
// instances.
type ReplayConfig struct {
	Backend       string `yaml:"backend"` // "memory" (default), "redis", or "postgres"
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	PostgresDSN   string `yaml:"postgres_dsn"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

type SecurityConfig struct {
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file and applies environment
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration. Payment
// defaults target USDC on Base Sepolia; pay_to has no default and must be
// configured.
func DefaultConfig() *Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "executor"
	}
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second, // > max execution timeout + settlement overhead
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
		},
		Payment: PaymentConfig{
			Asset:        "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Network:      "base-sepolia",
			ChainID:      84532,
			AssetName:    "USDC",
			AssetVersion: "2",
			ClockSkew:    30 * time.Second,
		},
		Settlement: SettlementConfig{
			FacilitatorURL: "https://x402.org/facilitator",
			Timeout:        time.Minute,
		},
		Sandbox: SandboxConfig{
			MaxConcurrent: 100,
			ExecutorID:    hostname,
		},
		Replay: ReplayConfig{
			Backend:   "memory",
			RedisAddr: "localhost:6379",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		Security: SecurityConfig{
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// ApplyEnv overrides secrets and deploy-specific fields from the
// environment, so they can stay out of the config file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("X402_PAY_TO"); v != "" {
		c.Payment.PayTo = v
	}
	if v := os.Getenv("X402_FACILITATOR_URL"); v != "" {
		c.Settlement.FacilitatorURL = v
	}
	if v := os.Getenv("X402_REDIS_ADDR"); v != "" {
		c.Replay.RedisAddr = v
	}
	if v := os.Getenv("X402_REDIS_PASSWORD"); v != "" {
		c.Replay.RedisPassword = v
	}
	if v := os.Getenv("X402_POSTGRES_DSN"); v != "" {
		c.Replay.PostgresDSN = v
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if !common.IsHexAddress(c.Payment.PayTo) {
		return fmt.Errorf("payment.pay_to must be a hex address, got %q", c.Payment.PayTo)
	}
	if !common.IsHexAddress(c.Payment.Asset) {
		return fmt.Errorf("payment.asset must be a hex address, got %q", c.Payment.Asset)
	}
	if c.Payment.Network == "" {
		return fmt.Errorf("payment.network is required")
	}
	if c.Payment.ChainID < 1 {
		return fmt.Errorf("payment.chain_id must be >= 1, got %d", c.Payment.ChainID)
	}
	if c.Settlement.FacilitatorURL == "" {
		return fmt.Errorf("settlement.facilitator_url is required")
	}
	if c.Sandbox.MaxConcurrent < 1 {
		return fmt.Errorf("sandbox.max_concurrent must be >= 1")
	}
	switch c.Replay.Backend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("replay.backend must be memory, redis, or postgres, got %q", c.Replay.Backend)
	}
	if c.Replay.Backend == "postgres" && c.Replay.PostgresDSN == "" {
		return fmt.Errorf("replay.postgres_dsn is required for the postgres backend")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Replay.PostgresDSN != "" && strings.Contains(c.Replay.PostgresDSN, "sslmode=disable") {
		log.Warn().Msg("postgres DSN has sslmode=disable — connections are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
