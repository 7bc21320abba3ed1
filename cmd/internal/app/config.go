package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	authapi "gatekeeper/cmd/internal/auth/api"
	"gatekeeper/cmd/internal/auth/session"
	"gatekeeper/cmd/security/password"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix     = "GATEKEEPER_"
	configFileVar = envPrefix + "CONFIG"

	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds all runtime configuration for the server.
//
// Sources, lowest precedence first: DefaultConfig, the YAML file named by
// GATEKEEPER_CONFIG, then GATEKEEPER_* environment variables.
type Config struct {
	Environment string `yaml:"environment" env:"ENV"`

	HTTPAddr          string        `yaml:"http_addr" env:"HTTP_ADDR"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"HTTP_READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes" env:"HTTP_MAX_HEADER_BYTES"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`

	// DatabaseURL selects Postgres. When empty the server runs on SQLitePath.
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	DBMaxConns  int32  `yaml:"db_max_conns" env:"DB_MAX_CONNS"`
	DBMinConns  int32  `yaml:"db_min_conns" env:"DB_MIN_CONNS"`
	SQLitePath  string `yaml:"sqlite_path" env:"SQLITE_PATH"`

	MetricsEnabled bool `yaml:"metrics_enabled" env:"METRICS_ENABLED"`

	CORSAllowedOrigins   []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowCredentials bool     `yaml:"cors_allow_credentials" env:"CORS_ALLOW_CREDENTIALS"`
	CORSMaxAgeSeconds    int      `yaml:"cors_max_age_seconds" env:"CORS_MAX_AGE_SECONDS"`

	Token    TokenConfig     `yaml:"token" envPrefix:"TOKEN_"`
	Session  session.Config  `yaml:"session" envPrefix:"SESSION_"`
	API      authapi.Config  `yaml:"api" envPrefix:"API_"`
	Password password.Config `yaml:"password" envPrefix:"PASSWORD_"`
}

// TokenConfig carries signing material. The refresh lifetime lives in Session.
type TokenConfig struct {
	Issuer        string        `yaml:"issuer" env:"ISSUER"`
	AccessSecret  string        `yaml:"access_secret" env:"ACCESS_SECRET"`
	RefreshSecret string        `yaml:"refresh_secret" env:"REFRESH_SECRET"`
	AccessTTL     time.Duration `yaml:"access_ttl" env:"ACCESS_TTL"`

	// DigestKey keys the HMAC used to store refresh tokens. Empty means plain SHA-256.
	DigestKey string `yaml:"digest_key" env:"DIGEST_KEY"`
}

// DefaultConfig returns a development-friendly baseline. Secrets have no default.
func DefaultConfig() Config {
	return Config{
		Environment:          EnvDevelopment,
		HTTPAddr:             ":3000",
		ReadHeaderTimeout:    5 * time.Second,
		ReadTimeout:          15 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		ShutdownTimeout:      10 * time.Second,
		MaxHeaderBytes:       1 << 20,
		LogLevel:             "info",
		LogFormat:            "json",
		DBMaxConns:           10,
		DBMinConns:           0,
		SQLitePath:           "gatekeeper.db",
		MetricsEnabled:       true,
		CORSAllowCredentials: true,
		CORSMaxAgeSeconds:    600,
		Token: TokenConfig{
			Issuer:    "gatekeeper",
			AccessTTL: time.Hour,
		},
		Session:  session.DefaultConfig(),
		API:      authapi.DefaultConfig(),
		Password: password.DefaultConfig(),
	}
}

// LoadConfig builds the Config from the process environment.
func LoadConfig() (Config, error) {
	return loadConfig(environMap(os.Environ()))
}

func loadConfig(environ map[string]string) (Config, error) {
	cfg := DefaultConfig()

	if path := strings.TrimSpace(environ[configFileVar]); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      envPrefix,
		Environment: environ,
	}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate normalizes derived fields and fails on the first invalid setting.
func (c *Config) Validate() error {
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	switch c.Environment {
	case "":
		c.Environment = EnvDevelopment
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("config: unknown environment %q", c.Environment)
	}

	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("config: http addr is required")
	}

	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	switch c.LogFormat {
	case "":
		c.LogFormat = "json"
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}

	if strings.TrimSpace(c.DatabaseURL) == "" && strings.TrimSpace(c.SQLitePath) == "" {
		return errors.New("config: database url or sqlite path is required")
	}
	if c.DBMaxConns < 0 || c.DBMinConns < 0 {
		return errors.New("config: db pool sizes must not be negative")
	}
	if c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns {
		return errors.New("config: db min conns exceeds max conns")
	}

	if c.Token.AccessSecret == "" || c.Token.RefreshSecret == "" {
		return errors.New("config: token access and refresh secrets are required")
	}
	if c.Token.AccessTTL <= 0 {
		return errors.New("config: access token ttl must be positive")
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Password.Check(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if c.Environment == EnvProduction {
		c.API.CookieSecure = true
		if c.Token.DigestKey == "" {
			return errors.New("config: token digest key is required in production")
		}
	}
	c.API.AccessCookieMaxAge = c.Token.AccessTTL
	c.API.RefreshCookieMaxAge = c.Session.RefreshTTL
	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// IsProduction reports whether production hardening applies.
func (c Config) IsProduction() bool { return c.Environment == EnvProduction }

func environMap(kv []string) map[string]string {
	out := make(map[string]string, len(kv))
	for _, e := range kv {
		k, v, ok := strings.Cut(e, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}
