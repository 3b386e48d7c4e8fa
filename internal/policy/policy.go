// Package policy decides whether a request may be cached and which TTL its
// route carries. It separates "is caching structurally possible" (method,
// content type, client directives, tier availability) from "what TTL applies
// to this route" (the ordered endpoint rule table).
package policy

import (
	"mime"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/l0p7/shieldcache/internal/config"
)

// Policy resolves cacheability and TTLs from the configured endpoint rules.
// The rule set is swappable at runtime; readers always see a consistent
// snapshot.
type Policy struct {
	memoryEnabled bool
	diskEnabled   bool

	rules atomic.Pointer[[]config.EndpointRule]
}

// New builds a policy over the initial rule list. tiersEnabled reflects
// whether at least one cache tier is configured; with no tiers nothing is
// ever cacheable.
func New(cfg config.Config) *Policy {
	p := &Policy{
		memoryEnabled: cfg.Memory.Enabled,
		diskEnabled:   cfg.Disk.Enabled || cfg.Remote.Enabled,
	}
	p.SwapRules(cfg.Rules)
	return p
}

// SwapRules atomically replaces the endpoint rule table.
func (p *Policy) SwapRules(rules []config.EndpointRule) {
	snapshot := make([]config.EndpointRule, len(rules))
	copy(snapshot, rules)
	p.rules.Store(&snapshot)
}

// Rules returns the current rule snapshot.
func (p *Policy) Rules() []config.EndpointRule {
	if rules := p.rules.Load(); rules != nil {
		return *rules
	}
	return nil
}

// CanCache reports whether the request is structurally cacheable. A true
// result still yields no storage when TTL resolves to zero.
func (p *Policy) CanCache(r *http.Request) bool {
	if !p.memoryEnabled && !p.diskEnabled {
		return false
	}
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		return false
	}
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil {
		if mediaType == "multipart/form-data" {
			return false
		}
	}
	for _, directive := range r.Header.Values("Cache-Control") {
		for _, part := range strings.Split(directive, ",") {
			if strings.EqualFold(strings.TrimSpace(part), "no-cache") {
				return false
			}
		}
	}
	return true
}

// TTL resolves the request's cache duration by scanning the ordered rule
// table for the first enabled match on path pattern and method. No match
// means zero, which callers treat as pass-through.
func (p *Policy) TTL(r *http.Request) time.Duration {
	for _, rule := range p.Rules() {
		if !rule.Enabled {
			continue
		}
		if !Match(rule.PathPattern, r.URL.Path) {
			continue
		}
		if !methodAllowed(rule.Methods, r.Method) {
			continue
		}
		return rule.TTL()
	}
	return 0
}

func methodAllowed(methods []string, method string) bool {
	if len(methods) == 0 {
		return true
	}
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
