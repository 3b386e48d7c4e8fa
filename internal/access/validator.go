// Package access gates requests before the cache/proxy pipeline runs.
// Callers are matched by IP pattern and, when the matching credential pair
// lists passwords, by HTTP Basic password. Usernames are ignored.
package access

import (
	"net"
	"net/http"
	"sync/atomic"

	"github.com/l0p7/shieldcache/internal/config"
	"github.com/l0p7/shieldcache/internal/policy"
)

// Validator checks inbound requests against the configured credential pairs.
// An empty pair list admits everyone. The pair list is swappable at runtime.
type Validator struct {
	pairs atomic.Pointer[[]config.CredentialPair]
}

// NewValidator builds a validator over the initial credential pairs.
func NewValidator(pairs []config.CredentialPair) *Validator {
	v := &Validator{}
	v.SwapCredentials(pairs)
	return v
}

// SwapCredentials atomically replaces the credential pair list.
func (v *Validator) SwapCredentials(pairs []config.CredentialPair) {
	snapshot := make([]config.CredentialPair, len(pairs))
	copy(snapshot, pairs)
	v.pairs.Store(&snapshot)
}

// Validate reports whether the request may proceed. When it may not, the
// returned status is 401 (the caller's IP is known but the password is
// missing or wrong) or 403 (no credential pair covers the IP), with a
// human-readable message.
func (v *Validator) Validate(r *http.Request) (bool, int, string) {
	pairs := *v.pairs.Load()
	if len(pairs) == 0 {
		return true, 0, ""
	}

	ip := clientIP(r)
	matchedIP := false
	for _, pair := range pairs {
		if !ipMatches(pair.IPs, ip) {
			continue
		}
		matchedIP = true
		if len(pair.Passwords) == 0 {
			return true, 0, ""
		}
		_, password, ok := r.BasicAuth()
		if !ok {
			continue
		}
		for _, allowed := range pair.Passwords {
			if password == allowed {
				return true, 0, ""
			}
		}
	}

	if matchedIP {
		return false, http.StatusUnauthorized, "missing or invalid credentials"
	}
	return false, http.StatusForbidden, "address not allowed"
}

// clientIP extracts the caller's address without the port. RemoteAddr is
// authoritative; forwarding headers are not trusted for access decisions.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipMatches(patterns []string, ip string) bool {
	for _, pattern := range patterns {
		if policy.Match(pattern, ip) {
			return true
		}
	}
	return false
}
