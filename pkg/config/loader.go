package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/weiche/pkg/debug"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, WEICHE_CONFIG env, ./config.yaml, /etc/weiche/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
		debug.Log("config", "loaded config file", "path", filePath)
	}

	if err := applyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. WEICHE_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/weiche/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("WEICHE_CONFIG"); envPath != "" {
		return envPath
	}
	for _, path := range []string{"config.yaml", "/etc/weiche/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
// Unknown keys are rejected.
func loadYAMLFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvOverrides maps WEICHE_* environment variables to config fields.
// Malformed numeric or boolean values are reported rather than ignored.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	strs := map[string]*string{
		"WEICHE_OPENAI_API_KEY":      &cfg.Providers.OpenAI.APIKey,
		"WEICHE_OPENAI_BASE_URL":     &cfg.Providers.OpenAI.BaseURL,
		"WEICHE_OPENAI_PROXY_URL":    &cfg.Providers.OpenAI.ProxyURL,
		"WEICHE_GEMINI_API_KEY":      &cfg.Providers.GeminiDirect.APIKey,
		"WEICHE_GEMINI_BASE_URL":     &cfg.Providers.GeminiDirect.BaseURL,
		"WEICHE_GEMINI_PROXY_URL":    &cfg.Providers.GeminiDirect.ProxyURL,
		"WEICHE_VERTEX_PROJECT":      &cfg.Providers.Vertex.Project,
		"WEICHE_VERTEX_LOCATION":     &cfg.Providers.Vertex.Location,
		"WEICHE_VERTEX_ACCESS_TOKEN": &cfg.Providers.Vertex.AccessToken,
		"WEICHE_ALS_PRODUCTION_KEY":  &cfg.ALS.ProductionKeyID,
		"WEICHE_CACHE":               &cfg.Citations.Cache.Type,
		"WEICHE_REDIS_ADDR":          &cfg.Citations.Cache.Redis.Address,
		"WEICHE_REDIS_PASSWORD":      &cfg.Citations.Cache.Redis.Password,
		"WEICHE_STORAGE":             &cfg.Storage.Type,
		"WEICHE_POSTGRES_DSN":        &cfg.Storage.Postgres.DSN,
		"WEICHE_AUTH_TYPE":           &cfg.Auth.Type,
		"WEICHE_JWT_ISSUER":          &cfg.Auth.JWT.Issuer,
		"WEICHE_JWT_AUDIENCE":        &cfg.Auth.JWT.Audience,
		"WEICHE_JWT_JWKS_URL":        &cfg.Auth.JWT.JWKSURL,
		"WEICHE_LOG_FORMAT":          &cfg.Observability.Logging.Format,
		"WEICHE_METRICS_PATH":        &cfg.Observability.Metrics.Path,
	}
	for name, dst := range strs {
		if v, ok := get(name); ok {
			*dst = v
		}
	}

	lists := map[string]*[]string{
		"WEICHE_OPENAI_ALLOWED_MODELS": &cfg.Providers.OpenAI.AllowedModels,
		"WEICHE_GEMINI_ALLOWED_MODELS": &cfg.Providers.GeminiDirect.AllowedModels,
		"WEICHE_VERTEX_ALLOWED_MODELS": &cfg.Providers.Vertex.AllowedModels,
	}
	for name, dst := range lists {
		if v, ok := get(name); ok {
			*dst = splitList(v)
		}
	}

	var errs []string
	bools := map[string]*bool{
		"WEICHE_OPENAI_ENABLED":  &cfg.Providers.OpenAI.Enabled,
		"WEICHE_GEMINI_ENABLED":  &cfg.Providers.GeminiDirect.Enabled,
		"WEICHE_VERTEX_ENABLED":  &cfg.Providers.Vertex.Enabled,
		"WEICHE_GOOGLE_STRICT":   &cfg.Grounding.GoogleStrict,
		"WEICHE_METRICS_ENABLED": &cfg.Observability.Metrics.Enabled,
	}
	for name, dst := range bools {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %q is not a boolean", name, v))
				continue
			}
			*dst = b
		}
	}

	ints := map[string]*int{
		"WEICHE_PORT":           &cfg.Server.Port,
		"WEICHE_STORAGE_SIZE":   &cfg.Storage.MaxSize,
		"WEICHE_RATE_LIMIT_RPM": &cfg.Auth.RateLimit.RequestsPerMinute,
	}
	for name, dst := range ints {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %q is not an integer", name, v))
				continue
			}
			*dst = n
		}
	}

	// WEICHE_API_KEYS: JSON array of API key configs.
	if v, ok := get("WEICHE_API_KEYS"); ok {
		var keys []APIKeyConfig
		if err := json.Unmarshal([]byte(v), &keys); err != nil {
			errs = append(errs, fmt.Sprintf("WEICHE_API_KEYS: %v", err))
		} else if len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}

	// WEICHE_ALS_KEYS: JSON array of ALS seed keys.
	if v, ok := get("WEICHE_ALS_KEYS"); ok {
		var keys []ALSKeyConfig
		if err := json.Unmarshal([]byte(v), &keys); err != nil {
			errs = append(errs, fmt.Sprintf("WEICHE_ALS_KEYS: %v", err))
		} else if len(keys) > 0 {
			cfg.ALS.Keys = keys
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	type ref struct {
		path string
		file string
		dst  *string
	}
	refs := []ref{
		{"providers.openai.api_key_file", cfg.Providers.OpenAI.APIKeyFile, &cfg.Providers.OpenAI.APIKey},
		{"providers.gemini_direct.api_key_file", cfg.Providers.GeminiDirect.APIKeyFile, &cfg.Providers.GeminiDirect.APIKey},
		{"providers.vertex.access_token_file", cfg.Providers.Vertex.AccessTokenFile, &cfg.Providers.Vertex.AccessToken},
		{"citations.cache.redis.password_file", cfg.Citations.Cache.Redis.PasswordFile, &cfg.Citations.Cache.Redis.Password},
		{"storage.postgres.dsn_file", cfg.Storage.Postgres.DSNFile, &cfg.Storage.Postgres.DSN},
	}
	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		refs = append(refs, ref{fmt.Sprintf("auth.api_keys[%d].key_file", i), k.KeyFile, &k.Key})
	}
	for i := range cfg.ALS.Keys {
		k := &cfg.ALS.Keys[i]
		refs = append(refs, ref{fmt.Sprintf("als.keys[%d].secret_file", i), k.SecretFile, &k.Secret})
	}

	for _, r := range refs {
		if r.file == "" || *r.dst != "" {
			continue
		}
		val, err := readSecretFile(r.file)
		if err != nil {
			return fmt.Errorf("%s: %w", r.path, err)
		}
		*r.dst = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
