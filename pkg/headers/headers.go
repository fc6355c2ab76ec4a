// Package headers generates plausible, internally consistent browser
// request header sets.
//
// A pool is built per target URL: each slot pairs one of the most common
// desktop user agents with matching Accept, Accept-Language, client hint
// and Sec-Fetch values. Early slots draw their optional values from a
// weighted distribution of common choices; late slots use a fixed per-slot
// seed so the pool always contains a few reproducible, less common
// fingerprints. Callers pick one set from the pool per attempt.
package headers

import (
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// PoolSize is the number of header sets returned by Generate.
const PoolSize = 10

// commonSlots is the number of leading slots drawn from the weighted
// common distribution. The remaining slots are seeded by index.
const commonSlots = 7

// Source is the randomness a Generator consumes. *rand.Rand from
// math/rand/v2 satisfies it.
type Source interface {
	IntN(n int) int
}

// Set is one browser request header set, keyed by canonical header name.
type Set map[string]string

// Clone returns an independent copy of s.
func (s Set) Clone() Set {
	return maps.Clone(s)
}

// Apply writes s into h, overwriting existing values. Keys listed in skip
// are left out.
func (s Set) Apply(h http.Header, skip ...string) {
	for k, v := range s {
		if containsFold(skip, k) {
			continue
		}
		h.Set(k, v)
	}
}

// Region returns the upper-cased region part of the Accept-Language
// value ("de-DE,de;q=0.9" -> "DE"), or "" when there is none.
func (s Set) Region() string {
	lang := s["Accept-Language"]
	if len(lang) < 5 || lang[2] != '-' {
		return ""
	}
	return strings.ToUpper(lang[3:5])
}

// Generator builds header pools. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	src Source
}

// NewGenerator creates a generator drawing its unseeded randomness from src.
// A nil src falls back to the process-wide math/rand/v2 source.
func NewGenerator(src Source) *Generator {
	return &Generator{src: src}
}

// Generate returns PoolSize header sets for rawURL.
func (g *Generator) Generate(rawURL string) ([]Set, error) {
	secure, origin, err := target(rawURL)
	if err != nil {
		return nil, err
	}

	pool := make([]Set, 0, PoolSize)
	for i := range PoolSize {
		a := commonAgents[i%len(commonAgents)]
		if i < commonSlots {
			g.mu.Lock()
			pool = append(pool, build(a, secure, origin, weightedPicker{g.source()}))
			g.mu.Unlock()
			continue
		}
		seeded := rand.New(rand.NewPCG(uint64(i), uint64(i)))
		pool = append(pool, build(a, secure, origin, uniformPicker{seeded}))
	}
	return pool, nil
}

// Pick generates a pool for rawURL and returns one set chosen uniformly.
func (g *Generator) Pick(rawURL string) (Set, error) {
	pool, err := g.Generate(rawURL)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return pool[g.source().IntN(len(pool))], nil
}

func (g *Generator) source() Source {
	if g.src == nil {
		return globalSource{}
	}
	return g.src
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// picker chooses one value from a weighted table.
type picker interface {
	pick(values []weighted) string
}

type weightedPicker struct{ src Source }

func (p weightedPicker) pick(values []weighted) string {
	total := 0
	for _, v := range values {
		total += v.Weight
	}
	n := p.src.IntN(total)
	for _, v := range values {
		if n < v.Weight {
			return v.Value
		}
		n -= v.Weight
	}
	return values[len(values)-1].Value
}

// uniformPicker ignores weights, which is what makes seeded slots drift
// towards the less common combinations.
type uniformPicker struct{ src Source }

func (p uniformPicker) pick(values []weighted) string {
	return values[p.src.IntN(len(values))].Value
}

func build(a agent, secure bool, origin string, p picker) Set {
	s := Set{
		"User-Agent":                a.UserAgent,
		"Accept":                    acceptByFamily[a.Family],
		"Accept-Language":           p.pick(languages),
		"Accept-Encoding":           "gzip, deflate, br",
		"Upgrade-Insecure-Requests": "1",
	}
	if cc := p.pick(cacheControl); cc != "" && a.Family.chromium() {
		s["Cache-Control"] = cc
	}

	// Browsers only send Fetch Metadata and client hints to secure origins.
	if !secure {
		return s
	}

	site := "none"
	if ref := p.pick(referers); ref != "" && !strings.HasPrefix(ref, origin) {
		s["Referer"] = ref
		site = "cross-site"
	}
	s["Sec-Fetch-Site"] = site
	s["Sec-Fetch-Mode"] = "navigate"
	s["Sec-Fetch-Dest"] = "document"
	s["Sec-Fetch-User"] = "?1"

	if a.Family.chromium() {
		s["Sec-Ch-Ua"] = a.Brands
		s["Sec-Ch-Ua-Mobile"] = "?0"
		s["Sec-Ch-Ua-Platform"] = `"` + a.Platform + `"`
	}
	return s
}

func target(rawURL string) (secure bool, origin string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, "", fmt.Errorf("invalid url: %w", err)
	}
	switch u.Scheme {
	case "https":
		secure = true
	case "http":
	default:
		return false, "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return false, "", errors.New("url has no host")
	}
	return secure, u.Scheme + "://" + u.Host, nil
}

func containsFold(list []string, key string) bool {
	for _, item := range list {
		if strings.EqualFold(item, key) {
			return true
		}
	}
	return false
}
