// Package als builds the ambient locale signal (ALS): a short, deterministic
// locale-context block injected into a conversation ahead of the caller's
// question, together with the provenance metadata of the seed key that
// selected its wording.
package als

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/debug"
)

// Seed key sources, recorded as ALSContext.Source.
const (
	SourceCall               = "call"
	SourceVendorEnv          = "vendor_env"
	SourceGlobalEnv          = "global_env"
	SourceProductionDefault  = "production_default"
	SourceDevelopmentDefault = "development_default"
)

// Environment variables consulted during seed key resolution.
const (
	EnvSeedKeyID       = "WEICHE_ALS_SEED_KEY_ID"
	envSeedKeyIDVendor = "WEICHE_ALS_SEED_KEY_ID_"
)

// DevelopmentKeyID is the built-in development seed key. It is always
// available and is reported loudly when used.
const (
	DevelopmentKeyID  = "als-dev"
	developmentSecret = "weiche-als-development-seed"
)

// DefaultCalibrationPrompt is the fixed system message placed first in
// every ALS-enabled conversation.
const DefaultCalibrationPrompt = "You are a precise assistant. Answer the user's question directly and " +
	"accurately. The ambient context message describes the user's locale; use it only to resolve " +
	"locale-dependent details and never mention, quote or cite it."

// DefaultMaxChars caps the rendered block length.
const DefaultMaxChars = 350

var countryPattern = regexp.MustCompile(`^[A-Z]{2}$`)

// Config configures an Injector.
type Config struct {
	// ProductionKeyID selects the production default key from Keys.
	// Empty means no production default is configured.
	ProductionKeyID string

	// Keys maps seed key ids to their secrets.
	Keys map[string]string

	CalibrationPrompt string
	MaxChars          int
}

// Option configures optional Injector behavior.
type Option func(*Injector)

// WithClock sets the clock used for the date in the rendered block.
func WithClock(now func() time.Time) Option {
	return func(i *Injector) { i.now = now }
}

// WithEnv sets the environment lookup used for seed key overrides.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(i *Injector) { i.lookupEnv = lookup }
}

// Injector applies ALS to requests. It holds no mutable state and is safe
// for concurrent use.
type Injector struct {
	cfg       Config
	now       func() time.Time
	lookupEnv func(string) (string, bool)
}

// New creates an Injector.
func New(cfg Config, opts ...Option) *Injector {
	if cfg.CalibrationPrompt == "" {
		cfg.CalibrationPrompt = DefaultCalibrationPrompt
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	i := &Injector{cfg: cfg, now: time.Now, lookupEnv: os.LookupEnv}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Apply returns a copy of req whose messages are ordered as: calibration
// system message (caller system text folded in), rendered ALS block as the
// first user message, then the caller's remaining messages in order. The
// input request is not modified. Requests without a locale are returned
// unchanged with a nil context.
func (i *Injector) Apply(req api.Request) (api.Request, *api.ALSContext, error) {
	if req.Locale == nil {
		return req, nil, nil
	}
	out := req.Clone()

	country := strings.ToUpper(strings.TrimSpace(req.Locale.CountryCode))
	if !countryPattern.MatchString(country) {
		return req, nil, api.NewInvalidRequestError(fmt.Sprintf("locale.country_code %q is not an ISO 3166-1 alpha-2 code", req.Locale.CountryCode))
	}
	locale := strings.TrimSpace(req.Locale.Locale)

	key, err := i.resolveKey(req.Vendor, req.Locale.SeedKeyID)
	if err != nil {
		return req, nil, err
	}

	text := render(key.secret, country, locale, i.now().UTC(), i.cfg.MaxChars)
	sum := sha256.Sum256([]byte(text))

	ctx := &api.ALSContext{
		CountryCode:   country,
		Locale:        locale,
		Text:          text,
		SeedKeyID:     key.id,
		SHA256:        hex.EncodeToString(sum[:]),
		Provenance:    provenanceOf(key.source),
		Source:        key.source,
		IsDefaultSeed: key.source == SourceProductionDefault || key.source == SourceDevelopmentDefault,
		IsDevelopment: key.source == SourceDevelopmentDefault,
	}

	if ctx.IsDevelopment {
		slog.Warn("ALS is using the development seed key",
			"vendor", req.Vendor, "request_id", req.RequestID)
	}
	debug.Log("als", "ALS applied",
		"country", country, "locale", locale, "seed_key_id", key.id, "source", key.source, "sha256", ctx.SHA256)

	out.Messages = order(i.cfg.CalibrationPrompt, text, req.Messages)
	return out, ctx, nil
}

func order(calibration, block string, msgs []api.Message) []api.Message {
	system := []string{calibration}
	var rest []api.Message
	for _, m := range msgs {
		if m.Role == api.RoleSystem {
			if s := strings.TrimSpace(m.Content); s != "" {
				system = append(system, s)
			}
			continue
		}
		rest = append(rest, m)
	}

	out := make([]api.Message, 0, len(rest)+2)
	out = append(out,
		api.Message{Role: api.RoleSystem, Content: strings.Join(system, "\n\n")},
		api.Message{Role: api.RoleUser, Content: block},
	)
	return append(out, rest...)
}

type resolvedKey struct {
	id     string
	secret string
	source string
}

// resolveKey walks the seed key chain: call override, vendor env, global
// env, production default, development default.
func (i *Injector) resolveKey(vendor api.Vendor, callOverride string) (resolvedKey, error) {
	candidates := []struct {
		id     string
		source string
	}{
		{strings.TrimSpace(callOverride), SourceCall},
		{i.env(envSeedKeyIDVendor + strings.ToUpper(string(vendor))), SourceVendorEnv},
		{i.env(EnvSeedKeyID), SourceGlobalEnv},
	}
	for _, c := range candidates {
		if c.id == "" {
			continue
		}
		secret, ok := i.secret(c.id)
		if !ok {
			return resolvedKey{}, api.NewInvalidRequestError(fmt.Sprintf("unknown ALS seed key %q (from %s)", c.id, c.source))
		}
		return resolvedKey{id: c.id, secret: secret, source: c.source}, nil
	}

	if id := i.cfg.ProductionKeyID; id != "" {
		if secret, ok := i.cfg.Keys[id]; ok && secret != "" {
			return resolvedKey{id: id, secret: secret, source: SourceProductionDefault}, nil
		}
	}
	return resolvedKey{id: DevelopmentKeyID, secret: developmentSecret, source: SourceDevelopmentDefault}, nil
}

func (i *Injector) secret(id string) (string, bool) {
	if id == DevelopmentKeyID {
		return developmentSecret, true
	}
	s, ok := i.cfg.Keys[id]
	return s, ok && s != ""
}

func (i *Injector) env(name string) string {
	v, _ := i.lookupEnv(name)
	return strings.TrimSpace(v)
}

func provenanceOf(source string) api.Provenance {
	switch source {
	case SourceProductionDefault:
		return api.ProvenanceProduction
	case SourceDevelopmentDefault:
		return api.ProvenanceDevelopment
	}
	return api.ProvenanceEnvOverride
}
