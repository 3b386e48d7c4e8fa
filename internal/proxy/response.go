// Package proxy contains the request-serving core: fingerprinting, the
// upstream forwarder with its streaming/buffering duality, cached-response
// replay, and the orchestrator that glues them to the layered cache.
package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/l0p7/shieldcache/internal/cache"
)

// EntryType tags cache entries holding serialized HTTP responses.
const EntryType = "http-response"

// CachedResponse is the complete upstream response as stored and replayed.
// Body always holds the full payload; WasStreamed only records how the
// original caller received it.
type CachedResponse struct {
	StatusCode  int         `json:"statusCode"`
	Headers     http.Header `json:"headers"`
	Body        []byte      `json:"body"`
	WasStreamed bool        `json:"wasStreamed"`
}

// ToEntry serializes the response into a cache entry.
func (r *CachedResponse) ToEntry() (cache.Entry, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("proxy: encode cached response: %w", err)
	}
	return cache.Entry{
		Type:     EntryType,
		Data:     data,
		StoredAt: time.Now().UTC(),
	}, nil
}

// ResponseFromEntry deserializes a cache entry back into a response.
func ResponseFromEntry(entry cache.Entry) (*CachedResponse, error) {
	if entry.Type != EntryType {
		return nil, fmt.Errorf("proxy: unexpected entry type %q", entry.Type)
	}
	var res CachedResponse
	if err := json.Unmarshal(entry.Data, &res); err != nil {
		return nil, fmt.Errorf("proxy: decode cached response: %w", err)
	}
	return &res, nil
}
