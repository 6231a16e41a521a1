// Package config loads service settings from flags, PRODUCTCORE_* environment variables and
// an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. PRODUCTCORE_HTTP_ADDR.
const EnvPrefix = "PRODUCTCORE"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

type Config struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	PGDSN           string        `mapstructure:"pg_dsn"`
	TokenSecret     string        `mapstructure:"token_secret"`
	TokenIssuer     string        `mapstructure:"token_issuer"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	StreamBuffer    int           `mapstructure:"stream_buffer"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
}

var defaults = map[string]any{
	"http_addr":        ":8080",
	"grpc_addr":        ":9090",
	"pg_dsn":           "",
	"token_secret":     "",
	"token_issuer":     "product-core",
	"rate_limit_rps":   20.0,
	"rate_limit_burst": 40,
	"max_body_bytes":   int64(1 << 20),
	"cors_origins":     []string{},
	"stream_buffer":    16,
	"shutdown_timeout": 10 * time.Second,
	"log_level":        "info",
}

// New returns a viper instance with defaults and environment lookup configured. Flags
// should be bound with BindPFlag using the mapstructure keys above.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional file at path, then decodes and validates v.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.TokenSecret = strings.TrimSpace(cfg.TokenSecret)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required settings and ranges.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.HTTPAddr) == "" {
		problems = append(problems, "http_addr is required")
	}
	if c.TokenSecret == "" {
		problems = append(problems, "token_secret is required")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		problems = append(problems, "rate limit must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		problems = append(problems, "max_body_bytes must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		problems = append(problems, "shutdown_timeout must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
