package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rhuss/weiche/pkg/als"
	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/auth"
	"github.com/rhuss/weiche/pkg/auth/apikey"
	"github.com/rhuss/weiche/pkg/auth/jwt"
	"github.com/rhuss/weiche/pkg/auth/noop"
	"github.com/rhuss/weiche/pkg/config"
	"github.com/rhuss/weiche/pkg/normalize"
	"github.com/rhuss/weiche/pkg/observability"
	"github.com/rhuss/weiche/pkg/provider"
	"github.com/rhuss/weiche/pkg/provider/gemini"
	"github.com/rhuss/weiche/pkg/provider/responses"
	"github.com/rhuss/weiche/pkg/resilience"
	"github.com/rhuss/weiche/pkg/router"
	"github.com/rhuss/weiche/pkg/storage"
	"github.com/rhuss/weiche/pkg/storage/memory"
	"github.com/rhuss/weiche/pkg/storage/postgres"
)

// gateway is the assembled dispatch core plus everything that must be
// closed on shutdown.
type gateway struct {
	router *router.Router
	store  storage.Store

	closers []func() error
}

// Close releases adapters, caches and the store in reverse build order.
func (g *gateway) Close() error {
	var errs []error
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildGateway wires adapters, the citation pipeline, the resilience
// executor and the run store from cfg. withStore=false skips the store,
// e.g. for one-shot dispatches.
func buildGateway(ctx context.Context, cfg *config.Config, withStore bool) (*gateway, error) {
	g := &gateway{}
	if err := g.build(ctx, cfg, withStore); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

func (g *gateway) build(ctx context.Context, cfg *config.Config, withStore bool) error {
	adapters, err := buildAdapters(ctx, cfg)
	if err != nil {
		return err
	}
	for _, a := range adapters {
		if c, ok := a.(interface{ Close() error }); ok {
			g.closers = append(g.closers, c.Close)
		}
	}

	citations, err := g.buildCitations(ctx, cfg)
	if err != nil {
		return err
	}

	recorder := observability.NewRecorder()
	breaker := resilience.NewBreaker(cfg.Resilience.Breaker, resilience.WithStateChange(recorder.BreakerStateChange))
	governor := resilience.NewGovernor(cfg.Governor())
	executor := resilience.NewExecutor(breaker, governor, cfg.Resilience.Executor)

	injector := als.New(als.Config{
		ProductionKeyID:   cfg.ALS.ProductionKeyID,
		Keys:              cfg.ALSKeys(),
		CalibrationPrompt: cfg.ALS.CalibrationPrompt,
		MaxChars:          cfg.ALS.MaxChars,
	})

	g.router, err = router.New(router.Config{
		AllowedModels: cfg.AllowedModels(),
		Failover:      cfg.Failover(),
		GoogleStrict:  cfg.Grounding.GoogleStrict,
	}, adapters,
		router.WithALS(injector),
		router.WithExecutor(executor),
		router.WithCitations(citations),
		router.WithRecorder(recorder),
	)
	if err != nil {
		return fmt.Errorf("creating router: %w", err)
	}

	if withStore {
		g.store, err = buildStore(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		g.closers = append(g.closers, g.store.Close)
	}

	return nil
}

// buildAdapters creates one adapter per enabled vendor.
func buildAdapters(ctx context.Context, cfg *config.Config) ([]provider.Adapter, error) {
	var adapters []provider.Adapter

	if p := cfg.Providers.OpenAI; p.Enabled {
		a, err := responses.New(responses.Config{
			Vendor:            api.VendorOpenAI,
			BaseURL:           p.BaseURL,
			APIKey:            p.APIKey,
			ProxyURL:          p.ProxyURL,
			ToolTTL:           p.ToolTTL,
			NoGroundingModels: p.NoGroundingModels,
		})
		if err != nil {
			return nil, fmt.Errorf("creating openai adapter: %w", err)
		}
		adapters = append(adapters, a)
		slog.Info("vendor enabled", "vendor", api.VendorOpenAI, "models", len(p.AllowedModels))
	}

	if p := cfg.Providers.GeminiDirect; p.Enabled {
		a, err := gemini.New(gemini.Config{
			BaseURL:           p.BaseURL,
			APIKey:            p.APIKey,
			ProxyURL:          p.ProxyURL,
			NoGroundingModels: p.NoGroundingModels,
		})
		if err != nil {
			return nil, fmt.Errorf("creating gemini adapter: %w", err)
		}
		adapters = append(adapters, a)
		slog.Info("vendor enabled", "vendor", api.VendorGeminiDirect, "models", len(p.AllowedModels))
	}

	if v := cfg.Providers.Vertex; v.Enabled {
		a, err := gemini.NewVertex(ctx, gemini.VertexConfig{
			Project:           v.Project,
			Location:          v.Location,
			BaseURL:           v.BaseURL,
			AccessToken:       v.AccessToken,
			ProxyURL:          v.ProxyURL,
			NoGroundingModels: v.NoGroundingModels,
		})
		if err != nil {
			return nil, fmt.Errorf("creating vertex adapter: %w", err)
		}
		adapters = append(adapters, a)
		slog.Info("vendor enabled", "vendor", api.VendorVertex, "location", v.Location, "models", len(v.AllowedModels))
	}

	if len(adapters) == 0 {
		return nil, errors.New("no vendor enabled")
	}
	return adapters, nil
}

// buildCitations creates the citation pipeline with its redirect cache.
func (g *gateway) buildCitations(ctx context.Context, cfg *config.Config) (*normalize.Citations, error) {
	scorer := normalize.NewScorer(cfg.Citations.Authority)

	rc := cfg.Citations.Resolver
	if !rc.Enabled {
		slog.Info("redirect resolution disabled")
		return normalize.NewCitations(nil, scorer), nil
	}

	var cache normalize.Cache
	switch c := cfg.Citations.Cache; c.Type {
	case "redis":
		rcache, err := normalize.NewRedisCache(ctx, normalize.RedisCacheConfig{
			Address:  c.Redis.Address,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   c.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("creating redirect cache: %w", err)
		}
		g.closers = append(g.closers, rcache.Close)
		cache = rcache
		slog.Info("redirect cache enabled", "type", "redis", "address", c.Redis.Address)
	default:
		cache = normalize.NewMemoryCache(c.MaxEntries)
		slog.Info("redirect cache enabled", "type", "memory", "max_entries", c.MaxEntries)
	}

	resolver := normalize.NewResolver(normalize.ResolverConfig{
		Timeout:     rc.Timeout,
		Concurrency: rc.Concurrency,
		TTL:         rc.TTL,
		Hosts:       rc.Hosts,
		MaxHops:     rc.MaxHops,
	}, cache, nil)
	return normalize.NewCitations(resolver, scorer), nil
}

// buildStore creates the run store.
func buildStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("creating postgres store: %w", err)
		}
		slog.Info("storage enabled", "type", "postgres", "max_conns", cfg.Postgres.MaxConns)
		return s, nil
	default:
		slog.Info("storage enabled", "type", "memory", "max_size", cfg.MaxSize)
		return memory.New(cfg.MaxSize), nil
	}
}

// buildAuthMiddleware creates the authentication and rate limiting
// middleware for the API routes.
func buildAuthMiddleware(cfg config.AuthConfig) (func(http.Handler) http.Handler, error) {
	var chain *auth.AuthChain

	switch cfg.Type {
	case "apikey":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			id := auth.Identity{Subject: k.Subject, ServiceTier: k.ServiceTier}
			if k.Tenant != "" {
				id.Metadata = map[string]string{"tenant_id": k.Tenant}
			}
			entries = append(entries, apikey.RawKeyEntry{Key: k.Key, Identity: id})
		}
		authn, err := apikey.NewChecked(entries)
		if err != nil {
			return nil, fmt.Errorf("configuring api keys: %w", err)
		}
		chain = &auth.AuthChain{Authenticators: []auth.Authenticator{authn}, DefaultDecision: auth.No}
		slog.Info("authentication enabled", "type", "apikey", "keys", len(entries))
	case "jwt":
		j := cfg.JWT
		authn := jwt.New(jwt.Config{
			Issuer:      j.Issuer,
			Audience:    j.Audience,
			JWKSURL:     j.JWKSURL,
			UserClaim:   j.UserClaim,
			TenantClaim: j.TenantClaim,
			TierClaim:   j.TierClaim,
			ScopesClaim: j.ScopesClaim,
			CacheTTL:    j.CacheTTL,
		})
		chain = &auth.AuthChain{Authenticators: []auth.Authenticator{authn}, DefaultDecision: auth.No}
		slog.Info("authentication enabled", "type", "jwt", "issuer", j.Issuer)
	default:
		chain = &auth.AuthChain{Authenticators: []auth.Authenticator{&noop.Authenticator{}}}
		slog.Warn("authentication disabled, all callers share the anonymous run owner")
	}

	var limiter auth.RateLimiter
	if rl := cfg.RateLimit; rl.RequestsPerMinute > 0 || len(rl.Tiers) > 0 {
		tiers := make(map[string]auth.TierConfig, len(rl.Tiers))
		for name, rpm := range rl.Tiers {
			tiers[name] = auth.TierConfig{RequestsPerMinute: rpm}
		}
		limiter = auth.NewInProcessLimiter(tiers, rl.RequestsPerMinute)
		slog.Info("rate limiting enabled", "requests_per_minute", rl.RequestsPerMinute, "tiers", len(tiers))
	}

	return auth.Middleware(chain, limiter, auth.DefaultBypassEndpoints), nil
}
