// Package config loads process configuration from the environment, after
// merging an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config is decoded from environment variables by envdecode.
type Config struct {
	// Auth0Domain like "tenant.us.auth0.com". Used to derive Issuer and JWKSURL.
	Auth0Domain string `env:"AUTH0_DOMAIN"`
	// Audience is the API identifier tokens must be minted for.
	Audience string `env:"API_AUDIENCE,default=drink"`
	// Issuer overrides the issuer derived from Auth0Domain.
	Issuer string `env:"AUTH_ISSUER"`
	// JWKSURL overrides the key set URL derived from Issuer.
	JWKSURL string `env:"JWKS_URL"`
	// Discovery resolves the key set URL through OpenID Connect discovery.
	Discovery bool `env:"AUTH_DISCOVERY,default=false"`
	// Algorithms is a comma separated list of accepted JWS algorithms.
	Algorithms   string        `env:"ALGORITHMS,default=RS256"`
	Leeway       time.Duration `env:"AUTH_LEEWAY,default=0s"`
	KeySetTTL    time.Duration `env:"KEYSET_TTL,default=10m"`
	KeySetSource string        `env:"KEYSET_SOURCE,default=cache"`

	ListenAddr      string        `env:"LISTEN_ADDR,default=:5000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	// CORSOrigins is a comma separated allow list; "*" allows any origin.
	CORSOrigins string `env:"CORS_ORIGINS,default=*"`

	Store          string `env:"STORE,default=memory"`
	RedisAddr      string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX,default=coffeeshop:"`
	DatabaseURL    string `env:"DATABASE_URL"`
	// DBReset drops every drink on startup and seeds the sample drink.
	DBReset bool `env:"DB_RESET,default=false"`

	PolicyFile string `env:"POLICY_FILE"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`
}

// Load merges envFile into the environment when it exists, decodes Config
// and derives and validates the remaining fields. Variables already present
// in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finalize() error {
	if c.Issuer == "" && c.Auth0Domain != "" {
		c.Issuer = "https://" + strings.TrimSuffix(strings.TrimPrefix(c.Auth0Domain, "https://"), "/") + "/"
	}
	if c.Issuer == "" {
		return errors.New("AUTH0_DOMAIN or AUTH_ISSUER must be set")
	}
	if u, err := url.Parse(c.Issuer); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("AUTH_ISSUER %q is not an absolute URL", c.Issuer)
	}
	if c.JWKSURL == "" && !c.Discovery {
		c.JWKSURL = strings.TrimSuffix(c.Issuer, "/") + "/.well-known/jwks.json"
	}
	if c.Audience == "" {
		return errors.New("API_AUDIENCE must not be empty")
	}

	algs := c.AlgorithmList()
	if len(algs) == 0 {
		return errors.New("ALGORITHMS must name at least one algorithm")
	}
	for _, a := range algs {
		if strings.EqualFold(a, "none") || strings.HasPrefix(a, "HS") {
			return fmt.Errorf("ALGORITHMS: %q is not allowed", a)
		}
	}

	if c.KeySetTTL <= 0 {
		return errors.New("KEYSET_TTL must be positive")
	}
	if c.Leeway < 0 {
		return errors.New("AUTH_LEEWAY must not be negative")
	}
	if !slices.Contains([]string{"cache", "keyfunc"}, c.KeySetSource) {
		return fmt.Errorf("KEYSET_SOURCE %q must be cache or keyfunc", c.KeySetSource)
	}

	switch c.Store {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE=postgres")
		}
	default:
		return fmt.Errorf("STORE %q must be memory, redis or postgres", c.Store)
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT %q must be json or text", c.LogFormat)
	}
	return nil
}

// AlgorithmList splits Algorithms.
func (c *Config) AlgorithmList() []string { return splitList(c.Algorithms) }

// Origins splits CORSOrigins.
func (c *Config) Origins() []string { return splitList(c.CORSOrigins) }

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return l, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
