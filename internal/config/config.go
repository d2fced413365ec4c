// Package config loads shipyard configuration. Values are layered: built-in
// defaults, then an optional YAML file, then an optional .env file, then
// SHIPYARD_* environment variables. List values in the environment are
// separated by semicolons.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/shipyard/internal/app/domain/grant"
	"github.com/R3E-Network/shipyard/pkg/logger"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Logging   logger.LoggingConfig `yaml:"logging"`
	Chain     ChainConfig          `yaml:"chain"`
	Ledger    LedgerConfig         `yaml:"ledger"`
	Allowlist AllowlistConfig      `yaml:"allowlist"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"SHIPYARD_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SHIPYARD_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SHIPYARD_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"SHIPYARD_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHIPYARD_SHUTDOWN_TIMEOUT"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"SHIPYARD_CORS_ORIGINS"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" env:"SHIPYARD_RATE_LIMIT_RPS"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" env:"SHIPYARD_RATE_LIMIT_BURST"`
	AuditLogPath    string        `yaml:"audit_log_path" env:"SHIPYARD_AUDIT_LOG"`
	AuditCapacity   int           `yaml:"audit_capacity" env:"SHIPYARD_AUDIT_CAPACITY"`
	AdminTokens     []string      `yaml:"admin_tokens" env:"SHIPYARD_ADMIN_TOKENS"`
}

// ChainConfig points at the Neo N3 node and the treasury.
type ChainConfig struct {
	RPCURL         string        `yaml:"rpc_url" env:"SHIPYARD_RPC_URL"`
	NetworkMagic   uint32        `yaml:"network_magic" env:"SHIPYARD_NETWORK_MAGIC"`
	Treasury       string        `yaml:"treasury" env:"SHIPYARD_TREASURY"`
	SignerWIF      string        `yaml:"signer_wif" env:"SHIPYARD_SIGNER_WIF"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"SHIPYARD_RPC_TIMEOUT"`
	PaymentTimeout time.Duration `yaml:"payment_timeout" env:"SHIPYARD_PAYMENT_TIMEOUT"`
}

// LedgerConfig holds round defaults.
type LedgerConfig struct {
	DefaultDurationDays int `yaml:"default_duration_days" env:"SHIPYARD_DEFAULT_DURATION_DAYS"`
}

// AllowlistConfig selects where approver allow-list entries come from. The
// HTTP source wins over Redis when both are set; Static entries are used
// when neither is.
type AllowlistConfig struct {
	Enforce         bool          `yaml:"enforce" env:"SHIPYARD_ALLOWLIST_ENFORCE"`
	HTTPURL         string        `yaml:"http_url" env:"SHIPYARD_ALLOWLIST_URL"`
	HTTPToken       string        `yaml:"http_token" env:"SHIPYARD_ALLOWLIST_TOKEN"`
	RedisAddr       string        `yaml:"redis_addr" env:"SHIPYARD_ALLOWLIST_REDIS_ADDR"`
	RedisPassword   string        `yaml:"redis_password" env:"SHIPYARD_ALLOWLIST_REDIS_PASSWORD"`
	RedisDB         int           `yaml:"redis_db" env:"SHIPYARD_ALLOWLIST_REDIS_DB"`
	RedisKey        string        `yaml:"redis_key" env:"SHIPYARD_ALLOWLIST_REDIS_KEY"`
	Static          []string      `yaml:"static" env:"SHIPYARD_ALLOWLIST"`
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"SHIPYARD_ALLOWLIST_REFRESH"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    5 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitRPS:    20,
			RateLimitBurst:  40,
			AuditCapacity:   1000,
		},
		Logging: logger.LoggingConfig{Level: "info", Format: "text"},
		Chain: ChainConfig{
			RequestTimeout: 30 * time.Second,
			PaymentTimeout: 2 * time.Minute,
		},
		Ledger: LedgerConfig{DefaultDurationDays: grant.DefaultDurationDays},
		Allowlist: AllowlistConfig{
			RedisKey:        "shipyard:approvers",
			RefreshInterval: 5 * time.Minute,
		},
	}
}

// Load builds the configuration. An empty path skips the YAML layer; an empty
// envFile skips the .env layer. A missing .env file is not an error.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Server.CORSOrigins = compact(c.Server.CORSOrigins)
	c.Server.AdminTokens = compact(c.Server.AdminTokens)
	c.Allowlist.Static = compact(c.Allowlist.Static)
	c.Chain.RPCURL = strings.TrimSpace(c.Chain.RPCURL)
	c.Chain.Treasury = strings.TrimSpace(c.Chain.Treasury)
	c.Chain.SignerWIF = strings.TrimSpace(c.Chain.SignerWIF)
}

func compact(in []string) []string {
	out := in[:0]
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Server.Addr) == "" {
		add("server.addr is required")
	}
	for name, d := range map[string]time.Duration{
		"server.read_timeout":        c.Server.ReadTimeout,
		"server.write_timeout":       c.Server.WriteTimeout,
		"server.idle_timeout":        c.Server.IdleTimeout,
		"server.shutdown_timeout":    c.Server.ShutdownTimeout,
		"chain.request_timeout":      c.Chain.RequestTimeout,
		"chain.payment_timeout":      c.Chain.PaymentTimeout,
		"allowlist.refresh_interval": c.Allowlist.RefreshInterval,
	} {
		if d <= 0 {
			add("%s must be positive", name)
		}
	}
	if c.Server.RateLimitRPS < 0 {
		add("server.rate_limit_rps must not be negative")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		add("server.rate_limit_burst must be at least 1 when rate limiting is on")
	}
	if c.Server.AuditCapacity < 1 {
		add("server.audit_capacity must be at least 1")
	}

	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" {
		if _, err := logrus.ParseLevel(lvl); err != nil {
			add("logging.level: %v", err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "text", "json":
	default:
		add("logging.format must be text or json")
	}

	if c.Chain.RPCURL != "" {
		if u, err := url.Parse(c.Chain.RPCURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("chain.rpc_url %q is not an absolute URL", c.Chain.RPCURL)
		}
	}
	if c.Chain.Treasury != "" {
		if _, err := grant.ParseAddress(c.Chain.Treasury); err != nil {
			add("chain.treasury: %v", err)
		}
	}
	if c.Chain.SignerWIF != "" && c.Chain.RPCURL == "" {
		add("chain.signer_wif requires chain.rpc_url")
	}

	if c.Ledger.DefaultDurationDays <= 0 {
		add("ledger.default_duration_days must be positive")
	}

	if c.Allowlist.HTTPURL != "" {
		if u, err := url.Parse(c.Allowlist.HTTPURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("allowlist.http_url %q is not an absolute URL", c.Allowlist.HTTPURL)
		}
	}
	if c.Allowlist.RedisAddr != "" && strings.TrimSpace(c.Allowlist.RedisKey) == "" {
		add("allowlist.redis_key is required with allowlist.redis_addr")
	}
	if c.Allowlist.Enforce && !c.Allowlist.HasSource() {
		add("allowlist.enforce requires http_url, redis_addr or static entries")
	}

	return errors.Join(errs...)
}

// HasSource reports whether any allow-list source is configured.
func (a AllowlistConfig) HasSource() bool {
	return a.HTTPURL != "" || a.RedisAddr != "" || len(a.Static) > 0
}
