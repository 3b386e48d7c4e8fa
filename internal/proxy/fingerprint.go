package proxy

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// Fingerprint derives the cache key from the request's identity and body:
// method, scheme, host, path, the query sorted by key, and the raw body
// bytes, hashed with SHA-256 and base64-encoded. Semantically identical
// requests collide; anything else does not. The body is rewound so
// downstream consumers can still read it.
func Fingerprint(r *http.Request) (string, error) {
	var sb strings.Builder
	sb.WriteString(r.Method)
	sb.WriteByte('|')
	sb.WriteString(scheme(r))
	sb.WriteByte('|')
	sb.WriteString(r.Host)
	sb.WriteByte('|')
	sb.WriteString(r.URL.Path)

	if query := r.URL.Query(); len(query) > 0 {
		keys := make([]string, 0, len(query))
		for k := range query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			// Values keep their declaration order: repeated parameters can
			// be positional upstream, so only the keys are normalized.
			for _, v := range query[k] {
				sb.WriteByte('|')
				sb.WriteString(k)
				sb.WriteByte('=')
				sb.WriteString(v)
			}
		}
	}

	digest := sha256.New()
	digest.Write([]byte(sb.String()))

	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return "", fmt.Errorf("proxy: read body for fingerprint: %w", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		digest.Write([]byte{'|'})
		digest.Write(body)
	}

	return base64.StdEncoding.EncodeToString(digest.Sum(nil)), nil
}

// scheme resolves the request scheme; server-side requests leave URL.Scheme
// empty, so fall back to the TLS state.
func scheme(r *http.Request) string {
	if r.URL.Scheme != "" {
		return r.URL.Scheme
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
