// Package config loads the tools provider's runtime configuration from
// environment variables, applying the defaults named throughout spec §4.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for cmd/toolsprovider.
type Config struct {
	Server         ServerConfig
	CircuitBreaker CircuitBreakerConfig
	OIDC           OIDCConfig
	TokenExchange  TokenExchangeConfig
	ClientCreds    ClientCredentialsConfig
	Redis          RedisConfig
	Anthropic      AnthropicConfig
	Logging        LoggingConfig
}

type ServerConfig struct {
	Host                 string
	Port                 int
	UpstreamTimeout      time.Duration
	BuiltinFetchTimeout  time.Duration
}

type CircuitBreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int
}

type OIDCConfig struct {
	DiscoveryTimeout time.Duration
	CacheTTL         time.Duration
}

type TokenExchangeConfig struct {
	IssuerURL      string
	TokenEndpoint  string
	ClientID       string
	ClientSecret   string
	Timeout        time.Duration
	CacheBuffer    time.Duration
	MinTTL         time.Duration
}

type ClientCredentialsConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Timeout      time.Duration
	CacheBuffer  time.Duration
}

// RedisConfig configures the shared second-tier cache used by the Token
// Exchanger, Client Credentials Service, and External IdP Provider (§4.3-4.5).
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

type AnthropicConfig struct {
	APIKey       string
	DefaultModel string
}

type LoggingConfig struct {
	Level  string
	Format string
}

const envPrefix = "TOOLSPROVIDER_"

// Load reads configuration from the environment, applying defaults for every
// timeout/threshold named in §4 that is not explicitly set.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:                envOr("SERVER_HOST", "0.0.0.0"),
			Port:                envIntOr("SERVER_PORT", 8080),
			UpstreamTimeout:     envDurationOr("UPSTREAM_TIMEOUT", 30*time.Second),
			BuiltinFetchTimeout: envDurationOr("BUILTIN_FETCH_TIMEOUT", 15*time.Second),
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: envIntOr("CIRCUIT_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:  envDurationOr("CIRCUIT_RECOVERY_TIMEOUT", 30*time.Second),
			HalfOpenMaxCalls: envIntOr("CIRCUIT_HALF_OPEN_MAX_CALLS", 3),
		},
		OIDC: OIDCConfig{
			DiscoveryTimeout: envDurationOr("OIDC_DISCOVERY_TIMEOUT", 10*time.Second),
			CacheTTL:         envDurationOr("OIDC_CACHE_TTL", time.Hour),
		},
		TokenExchange: TokenExchangeConfig{
			IssuerURL:     envOr("KEYCLOAK_ISSUER_URL", ""),
			TokenEndpoint: envOr("KEYCLOAK_TOKEN_ENDPOINT", ""),
			ClientID:      envOr("KEYCLOAK_CLIENT_ID", ""),
			ClientSecret:  envOr("KEYCLOAK_CLIENT_SECRET", ""),
			Timeout:       envDurationOr("TOKEN_EXCHANGE_TIMEOUT", 10*time.Second),
			CacheBuffer:   envDurationOr("TOKEN_CACHE_BUFFER", 60*time.Second),
			MinTTL:        envDurationOr("TOKEN_CACHE_MIN_TTL", 30*time.Second),
		},
		ClientCreds: ClientCredentialsConfig{
			TokenURL:     envOr("CLIENT_CREDENTIALS_TOKEN_URL", ""),
			ClientID:     envOr("CLIENT_CREDENTIALS_CLIENT_ID", ""),
			ClientSecret: envOr("CLIENT_CREDENTIALS_CLIENT_SECRET", ""),
			Scopes:       envListOr("CLIENT_CREDENTIALS_SCOPES", nil),
			Timeout:      envDurationOr("TOKEN_EXCHANGE_TIMEOUT", 10*time.Second),
			CacheBuffer:  envDurationOr("TOKEN_CACHE_BUFFER", 60*time.Second),
		},
		Redis: RedisConfig{
			Addr:     envOr("REDIS_ADDR", ""),
			Password: envOr("REDIS_PASSWORD", ""),
			DB:       envIntOr("REDIS_DB", 0),
			Enabled:  envOr("REDIS_ADDR", "") != "",
		},
		Anthropic: AnthropicConfig{
			APIKey:       envOr("ANTHROPIC_API_KEY", ""),
			DefaultModel: envOr("ANTHROPIC_DEFAULT_MODEL", "claude-sonnet-4-5"),
		},
		Logging: LoggingConfig{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: envOr("LOG_FORMAT", "json"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	var issues []string
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		issues = append(issues, "server port must be between 1 and 65535")
	}
	if cfg.CircuitBreaker.FailureThreshold <= 0 {
		issues = append(issues, "circuit breaker failure threshold must be > 0")
	}
	if cfg.CircuitBreaker.HalfOpenMaxCalls <= 0 {
		issues = append(issues, "circuit breaker half-open max calls must be > 0")
	}
	if len(issues) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(issues, "; "))
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envListOr(key string, def []string) []string {
	if v := os.Getenv(envPrefix + key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return def
}
