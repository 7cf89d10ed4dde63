// Package config provides unified configuration for the weiche gateway.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (WEICHE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import (
	"time"

	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/normalize"
	"github.com/rhuss/weiche/pkg/resilience"
)

// Config holds all configuration for the weiche gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Routing       RoutingConfig       `yaml:"routing"`
	Grounding     GroundingConfig     `yaml:"grounding"`
	Resilience    ResilienceConfig    `yaml:"resilience"`
	ALS           ALSConfig           `yaml:"als"`
	Citations     CitationsConfig     `yaml:"citations"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 180s
}

// ProvidersConfig holds one section per vendor. A vendor is configured when
// its section is enabled.
type ProvidersConfig struct {
	OpenAI       ProviderConfig `yaml:"openai"`
	GeminiDirect ProviderConfig `yaml:"gemini_direct"`
	Vertex       VertexConfig   `yaml:"vertex"`
}

// ProviderConfig describes an API-key vendor endpoint.
type ProviderConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BaseURL    string `yaml:"base_url"` // optional, vendor default
	APIKey     string `yaml:"api_key"`
	APIKeyFile string `yaml:"api_key_file"` // _file variant for api_key
	ProxyURL   string `yaml:"proxy_url"`    // used for egress=proxy

	// AllowedModels is the model allow-list. An empty list accepts no model.
	AllowedModels []string `yaml:"allowed_models"`

	// NoGroundingModels lists extra model prefixes without web search.
	NoGroundingModels []string `yaml:"no_grounding_models"`

	// ToolTTL is how long a rejected web-search tool variant stays skipped.
	// Only used by Responses-style vendors.
	ToolTTL time.Duration `yaml:"tool_ttl"`
}

// VertexConfig describes the Vertex AI endpoint of the Google family.
type VertexConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Project         string   `yaml:"project"`
	Location        string   `yaml:"location"` // default: "global"
	BaseURL         string   `yaml:"base_url"`
	AccessToken     string   `yaml:"access_token"`      // empty: Application Default Credentials
	AccessTokenFile string   `yaml:"access_token_file"` // _file variant for access_token
	ProxyURL        string   `yaml:"proxy_url"`
	AllowedModels   []string `yaml:"allowed_models"`

	NoGroundingModels []string `yaml:"no_grounding_models"`
}

// RoutingConfig holds vendor failover settings.
type RoutingConfig struct {
	// Failover maps a vendor to the vendor tried once on
	// PROVIDER_UNAVAILABLE or TRANSPORT_ERROR.
	Failover map[string]string `yaml:"failover"`
}

// GroundingConfig holds the REQUIRED-mode policy.
type GroundingConfig struct {
	// GoogleStrict requires search evidence for Google-family REQUIRED
	// requests, like the Responses family. Default: false (relaxed).
	GoogleStrict bool `yaml:"google_strict"`
}

// ResilienceConfig holds the executor, circuit breaker and per-vendor
// rate governor settings.
type ResilienceConfig struct {
	Executor resilience.ExecutorConfig            `yaml:"executor"`
	Breaker  resilience.BreakerConfig             `yaml:"breaker"`
	Governor map[string]resilience.GovernorConfig `yaml:"governor"`
}

// ALSConfig holds the ambient locale signal seed keys.
type ALSConfig struct {
	// ProductionKeyID selects the production default key from Keys.
	ProductionKeyID   string         `yaml:"production_key_id"`
	Keys              []ALSKeyConfig `yaml:"keys"`
	CalibrationPrompt string         `yaml:"calibration_prompt"`
	MaxChars          int            `yaml:"max_chars"` // default: 350
}

// ALSKeyConfig describes a single seed key.
type ALSKeyConfig struct {
	ID         string `yaml:"id" json:"id"`
	Secret     string `yaml:"secret" json:"secret"`
	SecretFile string `yaml:"secret_file" json:"secret_file"` // _file variant for secret
}

// CitationsConfig holds citation post-processing settings.
type CitationsConfig struct {
	Resolver  ResolverConfig           `yaml:"resolver"`
	Cache     CacheConfig              `yaml:"cache"`
	Authority normalize.AuthorityLists `yaml:"authority"`
}

// ResolverConfig holds redirect resolution settings.
type ResolverConfig struct {
	Enabled     bool          `yaml:"enabled"`     // default: true
	Timeout     time.Duration `yaml:"timeout"`     // default: 2s
	Concurrency int           `yaml:"concurrency"` // default: 8
	TTL         time.Duration `yaml:"ttl"`         // default: 24h
	MaxHops     int           `yaml:"max_hops"`    // default: 5
	Hosts       []string      `yaml:"hosts"`       // optional, built-in list when empty
}

// CacheConfig selects the redirect resolution cache.
type CacheConfig struct {
	Type       string      `yaml:"type"`        // "memory" or "redis", default: "memory"
	MaxEntries int         `yaml:"max_entries"` // for memory cache, default: 10000
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address      string `yaml:"address"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"` // _file variant for password
	DB           int    `yaml:"db"`
	Prefix       string `yaml:"prefix"` // default: "weiche:redirect:"
}

// StorageConfig holds run store settings.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "memory" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type    string         `yaml:"type"`     // "none", "apikey" or "jwt", default: "none"
	APIKeys []APIKeyConfig `yaml:"api_keys"` // API key entries for type=apikey
	JWT     JWTConfig      `yaml:"jwt"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-caller request limits. A tier missing from
// Tiers uses RequestsPerMinute; zero means unlimited.
type RateLimitConfig struct {
	RequestsPerMinute int            `yaml:"requests_per_minute"`
	Tiers             map[string]int `yaml:"tiers"`
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key" json:"key"`
	KeyFile     string `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject     string `yaml:"subject" json:"subject"`
	ServiceTier string `yaml:"service_tier" json:"service_tier"`
	Tenant      string `yaml:"tenant" json:"tenant"` // run owner, default: subject
}

// JWTConfig holds JWT authenticator settings.
type JWTConfig struct {
	Issuer   string        `yaml:"issuer"`
	Audience string        `yaml:"audience"`
	JWKSURL  string        `yaml:"jwks_url"`
	CacheTTL time.Duration `yaml:"cache_ttl"` // default: 1h

	UserClaim   string `yaml:"user_claim"`   // default: "sub"
	TenantClaim string `yaml:"tenant_claim"` // default: "tenant_id"
	TierClaim   string `yaml:"tier_claim"`   // default: "tier"
	ScopesClaim string `yaml:"scopes_claim"` // default: "scope"
}

// ObservabilityConfig holds monitoring and logging settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig holds log output settings. WEICHE_DEBUG and
// WEICHE_LOG_LEVEL still override these at runtime.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // TRACE, DEBUG, INFO, WARN or ERROR, default: INFO
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 180 * time.Second,
		},
		Providers: ProvidersConfig{
			Vertex: VertexConfig{Location: "global"},
		},
		Resilience: ResilienceConfig{
			Executor: resilience.ExecutorConfig{
				TransportRetries: 1,
				TransportBackoff: 250 * time.Millisecond,
				DefaultTimeout:   60 * time.Second,
			},
			Breaker: resilience.DefaultBreakerConfig(),
		},
		ALS: ALSConfig{MaxChars: 350},
		Citations: CitationsConfig{
			Resolver: ResolverConfig{
				Enabled:     true,
				Timeout:     2 * time.Second,
				Concurrency: 8,
				TTL:         24 * time.Hour,
				MaxHops:     5,
			},
			Cache: CacheConfig{
				Type:       "memory",
				MaxEntries: 10000,
				Redis:      RedisConfig{Prefix: "weiche:redirect:"},
			},
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Auth: AuthConfig{
			Type: "none",
			JWT:  JWTConfig{CacheTTL: time.Hour},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			Logging: LoggingConfig{
				Level:  "INFO",
				Format: "text",
			},
		},
	}
}

// AllowedModels returns the allow-lists of the enabled vendors.
func (c *Config) AllowedModels() map[api.Vendor][]string {
	out := make(map[api.Vendor][]string)
	if p := c.Providers.OpenAI; p.Enabled {
		out[api.VendorOpenAI] = p.AllowedModels
	}
	if p := c.Providers.GeminiDirect; p.Enabled {
		out[api.VendorGeminiDirect] = p.AllowedModels
	}
	if p := c.Providers.Vertex; p.Enabled {
		out[api.VendorVertex] = p.AllowedModels
	}
	return out
}

// Failover returns the failover map keyed by vendor.
func (c *Config) Failover() map[api.Vendor]api.Vendor {
	out := make(map[api.Vendor]api.Vendor, len(c.Routing.Failover))
	for from, to := range c.Routing.Failover {
		out[api.Vendor(from)] = api.Vendor(to)
	}
	return out
}

// Governor returns the per-vendor governor settings.
func (c *Config) Governor() map[api.Vendor]resilience.GovernorConfig {
	out := make(map[api.Vendor]resilience.GovernorConfig, len(c.Resilience.Governor))
	for v, g := range c.Resilience.Governor {
		out[api.Vendor(v)] = g
	}
	return out
}

// ALSKeys returns the seed key secrets keyed by id.
func (c *Config) ALSKeys() map[string]string {
	out := make(map[string]string, len(c.ALS.Keys))
	for _, k := range c.ALS.Keys {
		out[k.ID] = k.Secret
	}
	return out
}
