package normalize

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/rhuss/weiche/pkg/api"
)

// trackingParams are query parameters removed before dedup. Keys ending in
// a '*' match as prefixes.
var trackingParams = []string{
	"utm_*", "gclid", "fbclid", "mc_cid", "mc_eid", "ref", "ref_src",
	"igshid", "msclkid", "yclid", "_hsenc", "_hsmi", "spm",
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	for _, p := range trackingParams {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			if strings.HasPrefix(k, prefix) {
				return true
			}
			continue
		}
		if k == p {
			return true
		}
	}
	return false
}

// URL returns the normalized form of raw: lower-case scheme and host,
// no leading "www.", no default port, no fragment, no tracking parameters,
// and "/" for an empty path. URL is idempotent. Unparseable or relative
// input is returned trimmed and unchanged.
func URL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	port := u.Port()
	if (u.Scheme == "https" && port == "443") || (u.Scheme == "http" && port == "80") {
		port = ""
	}
	switch {
	case port != "":
		u.Host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		u.Host = "[" + host + "]"
	default:
		u.Host = host
	}

	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}

	if u.RawQuery != "" {
		q := u.Query()
		removed := false
		for k := range q {
			if isTrackingParam(k) {
				q.Del(k)
				removed = true
			}
		}
		if removed {
			u.RawQuery = q.Encode()
		}
	}
	return u.String()
}

// Host returns the lower-cased host of raw without "www." and port.
func Host(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// RegistrableDomain returns the eTLD+1 of host using the public suffix
// list, e.g. "news.bbc.co.uk" yields "bbc.co.uk". Hosts that are IPs or
// bare suffixes are returned unchanged.
func RegistrableDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

// Dedup normalizes every citation URL and removes duplicates by the
// normalized form, keeping first occurrence order. When a duplicate is
// anchored and the kept entry is unlinked, the kept entry takes over the
// anchor. Missing titles and snippets are filled from later duplicates.
// Dedup is idempotent.
func Dedup(in []api.Citation) []api.Citation {
	if len(in) == 0 {
		return nil
	}
	out := make([]api.Citation, 0, len(in))
	index := make(map[string]int, len(in))

	for _, c := range in {
		norm := URL(c.URL)
		if norm == "" {
			continue
		}
		c.URL = norm
		if c.OriginalURL == norm {
			c.OriginalURL = ""
		}
		if c.Domain == "" {
			c.Domain = RegistrableDomain(Host(norm))
		}

		i, seen := index[norm]
		if !seen {
			index[norm] = len(out)
			out = append(out, c)
			continue
		}

		kept := &out[i]
		if kept.Kind != api.CitationAnchored && c.Kind == api.CitationAnchored {
			kept.Kind = api.CitationAnchored
			kept.StartIndex = c.StartIndex
			kept.EndIndex = c.EndIndex
		}
		if kept.Title == "" {
			kept.Title = c.Title
		}
		if kept.Snippet == "" {
			kept.Snippet = c.Snippet
		}
		if kept.OriginalURL == "" {
			kept.OriginalURL = c.OriginalURL
		}
	}
	return out
}
