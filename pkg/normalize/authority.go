package normalize

import (
	"strings"

	"github.com/rhuss/weiche/pkg/api"
)

// Authority tiers. Scoring is advisory: no tier filters citations out.
const (
	TierAuthoritative = 1
	TierRecognized    = 2
	TierUnclassified  = 3
	TierPenalized     = 4
)

// tier1Suffixes are public-sector and academic suffixes matched against the
// full host.
var tier1Suffixes = []string{
	".gov", ".mil", ".edu", ".int",
	".gov.uk", ".ac.uk", ".nhs.uk",
	".gc.ca", ".gouv.fr", ".bund.de", ".admin.ch", ".gv.at",
	".gov.au", ".edu.au", ".govt.nz", ".go.jp", ".ac.jp",
	".europa.eu",
}

var defaultTier1 = []string{
	// medical and scientific
	"who.int", "nih.gov", "cdc.gov", "nejm.org", "thelancet.com", "bmj.com",
	"jamanetwork.com", "nature.com", "science.org", "cochranelibrary.com",
	"mayoclinic.org", "clevelandclinic.org",
	// standards
	"iso.org", "ietf.org", "w3.org", "ieee.org", "nist.gov", "rfc-editor.org",
	// major news agencies
	"reuters.com", "apnews.com", "afp.com", "bbc.co.uk", "bbc.com", "dpa.com",
}

var defaultTier2 = []string{
	"wikipedia.org", "britannica.com", "arxiv.org", "ssrn.com",
	"springer.com", "sciencedirect.com", "wiley.com", "plos.org", "acm.org",
	"nytimes.com", "washingtonpost.com", "theguardian.com", "wsj.com", "ft.com",
	"bloomberg.com", "economist.com", "npr.org", "cnn.com", "lemonde.fr",
	"spiegel.de", "zeit.de", "faz.net", "sueddeutsche.de", "tagesschau.de",
	"nzz.ch", "elpais.com", "aljazeera.com", "politico.com", "axios.com",
}

var defaultPenalized = []string{
	"pinterest.com", "quora.com", "answers.com", "ehow.com", "wikihow.com",
	"scribd.com", "coursehero.com", "chegg.com", "slideshare.net",
}

// AuthorityLists extends the built-in domain lists. Entries are registrable
// domains or hosts.
type AuthorityLists struct {
	Tier1     []string `yaml:"tier1"`
	Tier2     []string `yaml:"tier2"`
	Penalized []string `yaml:"penalized"`
}

// Scorer assigns authority tiers to citations.
type Scorer struct {
	tiers map[string]int
}

// NewScorer creates a Scorer with the built-in lists plus extra.
// Penalized entries win over tier 1 and tier 2 entries for the same domain.
func NewScorer(extra AuthorityLists) *Scorer {
	s := &Scorer{tiers: make(map[string]int)}
	add := func(domains []string, tier int) {
		for _, d := range domains {
			d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
			if d != "" {
				s.tiers[d] = tier
			}
		}
	}
	add(defaultTier2, TierRecognized)
	add(extra.Tier2, TierRecognized)
	add(defaultTier1, TierAuthoritative)
	add(extra.Tier1, TierAuthoritative)
	add(defaultPenalized, TierPenalized)
	add(extra.Penalized, TierPenalized)
	return s
}

// Tier returns the authority tier of host. The host itself is looked up
// first, then each parent domain, then public suffix rules.
func (s *Scorer) Tier(host string) int {
	host = strings.TrimPrefix(strings.ToLower(strings.TrimSuffix(host, ".")), "www.")
	if host == "" {
		return TierUnclassified
	}

	for h := host; h != ""; {
		if t, ok := s.tiers[h]; ok {
			return t
		}
		i := strings.IndexByte(h, '.')
		if i < 0 {
			break
		}
		h = h[i+1:]
	}

	for _, suffix := range tier1Suffixes {
		if strings.HasSuffix(host, suffix) || host == strings.TrimPrefix(suffix, ".") {
			return TierAuthoritative
		}
	}
	return TierUnclassified
}

// Score sets Domain and Tier on every citation in place.
func (s *Scorer) Score(cs []api.Citation) {
	for i := range cs {
		host := Host(cs[i].URL)
		if cs[i].Domain == "" {
			cs[i].Domain = RegistrableDomain(host)
		}
		cs[i].Tier = s.Tier(host)
	}
}
