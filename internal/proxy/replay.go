package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// restrictedHeaders must never be copied verbatim from a stored response:
// the cached body is a complete byte array, so replaying the original
// transfer framing (chunked encoding, a stale Content-Length) or connection
// headers causes protocol violations and client hangs.
var restrictedHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Content-Length":      {},
}

// copyFilteredHeaders copies src into dst, skipping the restricted set.
func copyFilteredHeaders(dst, src http.Header) {
	for name, values := range src {
		if _, restricted := restrictedHeaders[http.CanonicalHeaderKey(name)]; restricted {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// Replayer writes previously cached responses back to clients. Entries that
// were originally streamed can be re-emitted in fixed-size chunks with an
// inter-chunk delay so the perceived cadence survives the cache.
type Replayer struct {
	simulateStreams bool
	chunkSize       int
	delay           time.Duration
	logger          *slog.Logger
}

// ReplayerOptions configures replay behavior.
type ReplayerOptions struct {
	// SimulateStreams re-emits entries stored from streamed responses in
	// chunks instead of one shot.
	SimulateStreams bool
	ChunkSize       int
	Delay           time.Duration
	Logger          *slog.Logger
}

// NewReplayer builds a replayer.
func NewReplayer(opts ReplayerOptions) *Replayer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	return &Replayer{
		simulateStreams: opts.SimulateStreams,
		chunkSize:       chunkSize,
		delay:           opts.Delay,
		logger:          logger.With(slog.String("agent", "replayer")),
	}
}

// Replay writes the cached response to w with filtered headers and a
// Content-Length recomputed from the stored body. Cancellation aborts
// mid-chunk without error; the connection is gone either way.
func (p *Replayer) Replay(ctx context.Context, w http.ResponseWriter, res *CachedResponse) error {
	copyFilteredHeaders(w.Header(), res.Headers)

	if res.WasStreamed && p.simulateStreams {
		w.WriteHeader(res.StatusCode)
		return p.replayChunked(ctx, w, res.Body)
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(res.Body)))
	w.WriteHeader(res.StatusCode)
	if _, err := w.Write(res.Body); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

func (p *Replayer) replayChunked(ctx context.Context, w http.ResponseWriter, body []byte) error {
	flusher, canFlush := w.(http.Flusher)
	for offset := 0; offset < len(body); offset += p.chunkSize {
		if ctx.Err() != nil {
			return nil
		}
		end := offset + p.chunkSize
		if end > len(body) {
			end = len(body)
		}
		if _, err := w.Write(body[offset:end]); err != nil {
			return err
		}
		if canFlush {
			flusher.Flush()
		}
		if p.delay > 0 && end < len(body) {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.delay):
			}
		}
	}
	return nil
}
