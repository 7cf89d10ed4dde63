package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rhuss/weiche/pkg/api"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	enabled := c.AllowedModels()
	if len(enabled) == 0 {
		errs = append(errs, fmt.Errorf("at least one of providers.openai, providers.gemini_direct or providers.vertex must be enabled"))
	}

	errs = append(errs, c.Providers.OpenAI.validate("providers.openai")...)
	errs = append(errs, c.Providers.GeminiDirect.validate("providers.gemini_direct")...)

	if v := c.Providers.Vertex; v.Enabled {
		if v.Project == "" {
			errs = append(errs, fmt.Errorf("providers.vertex.project is required when vertex is enabled"))
		}
		if len(v.AllowedModels) == 0 {
			errs = append(errs, fmt.Errorf("providers.vertex.allowed_models must not be empty"))
		}
		errs = append(errs, validateURL("providers.vertex.proxy_url", v.ProxyURL)...)
	}

	for from, to := range c.Routing.Failover {
		switch {
		case !api.Vendor(from).Valid():
			errs = append(errs, fmt.Errorf("routing.failover: unknown vendor %q", from))
		case !api.Vendor(to).Valid():
			errs = append(errs, fmt.Errorf("routing.failover.%s: unknown vendor %q", from, to))
		case from == to:
			errs = append(errs, fmt.Errorf("routing.failover.%s: vendor cannot fail over to itself", from))
		default:
			if _, ok := enabled[api.Vendor(to)]; !ok {
				errs = append(errs, fmt.Errorf("routing.failover.%s: target %q is not enabled", from, to))
			}
		}
	}

	b := c.Resilience.Breaker
	if b.Threshold <= 0 || b.Window <= 0 || b.Recovery <= 0 {
		errs = append(errs, fmt.Errorf("resilience.breaker: failure_threshold, window_size and recovery_timeout must be > 0"))
	}
	for v, g := range c.Resilience.Governor {
		if !api.Vendor(v).Valid() {
			errs = append(errs, fmt.Errorf("resilience.governor: unknown vendor %q", v))
		}
		if g.MaxInFlight < 0 || g.TokensPerMinute < 0 || g.Stagger < 0 {
			errs = append(errs, fmt.Errorf("resilience.governor.%s: limits must not be negative", v))
		}
		if g.Headroom < 0 || g.Headroom >= 1 {
			errs = append(errs, fmt.Errorf("resilience.governor.%s.headroom must be in [0, 1), got %v", v, g.Headroom))
		}
	}

	ids := make(map[string]bool, len(c.ALS.Keys))
	for i, k := range c.ALS.Keys {
		if k.ID == "" {
			errs = append(errs, fmt.Errorf("als.keys[%d].id is required", i))
			continue
		}
		if ids[k.ID] {
			errs = append(errs, fmt.Errorf("als.keys[%d]: duplicate id %q", i, k.ID))
		}
		ids[k.ID] = true
		if k.Secret == "" && k.SecretFile == "" {
			errs = append(errs, fmt.Errorf("als.keys[%d]: secret or secret_file is required", i))
		}
	}
	if id := c.ALS.ProductionKeyID; id != "" && !ids[id] {
		errs = append(errs, fmt.Errorf("als.production_key_id %q does not name a configured key", id))
	}

	switch c.Citations.Cache.Type {
	case "memory":
	case "redis":
		if c.Citations.Cache.Redis.Address == "" {
			errs = append(errs, fmt.Errorf("citations.cache.redis.address is required when citations.cache.type is \"redis\""))
		}
	default:
		errs = append(errs, fmt.Errorf("citations.cache.type must be \"memory\" or \"redis\", got %q", c.Citations.Cache.Type))
	}

	switch c.Storage.Type {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}
	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" && k.KeyFile == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d]: key or key_file is required", i))
			}
			if k.Subject == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].subject is required", i))
			}
		}
	case "jwt":
		if c.Auth.JWT.JWKSURL == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.jwks_url is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	if rl := c.Auth.RateLimit; rl.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("auth.rate_limit.requests_per_minute must not be negative, got %d", rl.RequestsPerMinute))
	}
	for tier, rpm := range c.Auth.RateLimit.Tiers {
		if rpm < 0 {
			errs = append(errs, fmt.Errorf("auth.rate_limit.tiers.%s must not be negative, got %d", tier, rpm))
		}
	}

	switch strings.ToUpper(c.Observability.Logging.Level) {
	case "TRACE", "DEBUG", "INFO", "WARN", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("observability.logging.level must be TRACE, DEBUG, INFO, WARN or ERROR, got %q", c.Observability.Logging.Level))
	}
	switch c.Observability.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("observability.logging.format must be \"text\" or \"json\", got %q", c.Observability.Logging.Format))
	}

	return errors.Join(errs...)
}

func (p ProviderConfig) validate(path string) []error {
	if !p.Enabled {
		return nil
	}
	var errs []error
	if p.APIKey == "" && p.APIKeyFile == "" {
		errs = append(errs, fmt.Errorf("%s.api_key or %s.api_key_file is required when enabled", path, path))
	}
	if len(p.AllowedModels) == 0 {
		errs = append(errs, fmt.Errorf("%s.allowed_models must not be empty", path))
	}
	errs = append(errs, validateURL(path+".base_url", p.BaseURL)...)
	errs = append(errs, validateURL(path+".proxy_url", p.ProxyURL)...)
	return errs
}

func validateURL(path, raw string) []error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return []error{fmt.Errorf("%s must be an absolute URL, got %q", path, raw)}
	}
	return nil
}
