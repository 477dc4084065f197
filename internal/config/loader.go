package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/example/rental-broker/internal/logging"
)

// Prefix namespaces every variable read by Load.
const Prefix = "BROKER"

// Supported storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
	DriverMemory   = "memory"
)

// minSecretLength mirrors the token package's key requirement.
const minSecretLength = 32

// Config captures environment driven configuration values for the broker service.
type Config struct {
	HTTPPort          int           `envconfig:"HTTP_PORT" default:"8080"`
	DBDriver          string        `envconfig:"DB_DRIVER" default:"sqlite"`
	DBDSN             string        `envconfig:"DB_DSN" default:"broker.db"`
	MigrationsEnabled bool          `envconfig:"MIGRATIONS_ENABLED" default:"true"`
	SessionSecret     string        `envconfig:"SESSION_SECRET"`
	SessionTTL        time.Duration `envconfig:"SESSION_TTL" default:"168h"`
	TokenIssuer       string        `envconfig:"TOKEN_ISSUER" default:"rental-broker"`
	AdminEmail        string        `envconfig:"ADMIN_EMAIL"`
	RateLimit         int           `envconfig:"RATE_LIMIT" default:"5"`
	RateWindow        time.Duration `envconfig:"RATE_WINDOW" default:"1m"`
	RedisURL          string        `envconfig:"REDIS_URL"`
	AMQPURL           string        `envconfig:"AMQP_URL"`
	AMQPExchange      string        `envconfig:"AMQP_EXCHANGE" default:"broker.events"`
	LogFormat         string        `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"info"`
	FluentHost        string        `envconfig:"FLUENT_HOST"`
	FluentPort        int           `envconfig:"FLUENT_PORT" default:"24224"`
	FluentTag         string        `envconfig:"FLUENT_TAG" default:"rental-broker"`
	CORSOrigins       []string      `envconfig:"CORS_ORIGINS"`
	PageSize          int           `envconfig:"PAGE_SIZE" default:"24"`
	PublishedCacheTTL time.Duration `envconfig:"PUBLISHED_CACHE_TTL" default:"30s"`
}

// Load parses configuration values from an optional .env file and the
// current process environment.
//
// Defaults come from struct tags. Missing and invalid variables are collected
// and reported together so an operator can fix them in one pass.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		var parseErr *envconfig.ParseError
		if errors.As(err, &parseErr) {
			return Config{}, fmt.Errorf("invalid environment variable values: %s", parseErr.KeyName)
		}
		return Config{}, fmt.Errorf("failed to process environment: %w", err)
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 4)

	cfg.SessionSecret = strings.TrimSpace(cfg.SessionSecret)
	switch {
	case cfg.SessionSecret == "":
		missing = append(missing, key("SESSION_SECRET"))
	case len(cfg.SessionSecret) < minSecretLength:
		invalid = append(invalid, key("SESSION_SECRET"))
	}

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		invalid = append(invalid, key("HTTP_PORT"))
	}

	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	switch cfg.DBDriver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		invalid = append(invalid, key("DB_DRIVER"))
	}
	if cfg.DBDriver != DriverMemory && strings.TrimSpace(cfg.DBDSN) == "" {
		missing = append(missing, key("DB_DSN"))
	}

	if cfg.SessionTTL <= 0 {
		invalid = append(invalid, key("SESSION_TTL"))
	}
	if cfg.RateLimit <= 0 {
		invalid = append(invalid, key("RATE_LIMIT"))
	}
	if cfg.RateWindow <= 0 {
		invalid = append(invalid, key("RATE_WINDOW"))
	}
	if cfg.PageSize <= 0 {
		invalid = append(invalid, key("PAGE_SIZE"))
	}
	if cfg.PublishedCacheTTL < 0 {
		invalid = append(invalid, key("PUBLISHED_CACHE_TTL"))
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		invalid = append(invalid, key("LOG_LEVEL"))
	}
	switch strings.ToLower(cfg.LogFormat) {
	case logging.FormatJSON, logging.FormatText, logging.FormatConsole:
	default:
		invalid = append(invalid, key("LOG_FORMAT"))
	}
	if cfg.FluentHost != "" && (cfg.FluentPort <= 0 || cfg.FluentPort > 65535) {
		invalid = append(invalid, key("FLUENT_PORT"))
	}

	cfg.AdminEmail = strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	origins := cfg.CORSOrigins[:0]
	for _, origin := range cfg.CORSOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	cfg.CORSOrigins = origins

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variable values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func key(name string) string {
	return Prefix + "_" + name
}
