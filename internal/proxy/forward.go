package proxy

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/l0p7/shieldcache/internal/metrics"
)

// streamedContentTypes are the server-push families that are always relayed
// incrementally.
var streamedContentTypes = []string{
	"text/event-stream",
	"application/x-ndjson",
	"application/stream+json",
}

// Forwarder executes the upstream call and relays the response, choosing
// per response between streaming bytes to the client as they arrive and
// buffering the body in full before replay. Either way it returns the
// complete payload for the cache.
type Forwarder struct {
	client    *http.Client
	upstream  *url.URL
	chunkSize int
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// ForwarderOptions configures the upstream client.
type ForwarderOptions struct {
	Upstream *url.URL
	// Timeout bounds the whole upstream exchange; zero means none.
	Timeout   time.Duration
	ChunkSize int
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

// NewForwarder builds a forwarder that never follows upstream redirects;
// they are relayed to the client untouched.
func NewForwarder(opts ForwarderOptions) *Forwarder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	return &Forwarder{
		client: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		upstream:  opts.Upstream,
		chunkSize: chunkSize,
		logger:    logger.With(slog.String("agent", "forwarder")),
		metrics:   opts.Metrics,
	}
}

// Forward sends the request upstream and relays the response. The returned
// bool reports whether bytes were already streamed to the client; when
// false the caller still owes the client a reply. Errors are always
// *UpstreamError.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request) (*CachedResponse, bool, error) {
	ctx := r.Context()

	outbound, err := f.buildRequest(r)
	if err != nil {
		return nil, false, &UpstreamError{Kind: KindFailure, Err: err}
	}

	start := time.Now()
	resp, err := f.client.Do(outbound)
	if err != nil {
		return nil, false, classifyUpstream(ctx, err)
	}
	defer resp.Body.Close()

	if shouldStream(resp, r) {
		res, streamErr := f.relayStream(w, r, resp)
		f.metrics.ObserveUpstream(time.Since(start))
		return res, true, streamErr
	}

	body, err := io.ReadAll(resp.Body)
	f.metrics.ObserveUpstream(time.Since(start))
	if err != nil {
		return nil, false, classifyUpstream(ctx, err)
	}
	return &CachedResponse{
		StatusCode:  resp.StatusCode,
		Headers:     resp.Header.Clone(),
		Body:        body,
		WasStreamed: false,
	}, false, nil
}

// buildRequest copies the inbound request toward the upstream base URL. All
// headers travel verbatim except Host, which the transport derives from the
// target, and Connection, which must not leak across the hop.
func (f *Forwarder) buildRequest(r *http.Request) (*http.Request, error) {
	target := f.upstream.String() + r.URL.RequestURI()

	var body io.Reader
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodDelete, http.MethodTrace:
	default:
		if r.Body != nil && r.ContentLength != 0 {
			body = r.Body
		}
	}

	outbound, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		return nil, err
	}
	if body != nil && r.ContentLength > 0 {
		// Fingerprinting may have rewound the body into a plain reader; the
		// inbound length still applies, so keep the upstream off chunked
		// framing.
		outbound.ContentLength = r.ContentLength
	}
	for name, values := range r.Header {
		if http.CanonicalHeaderKey(name) == "Host" {
			continue
		}
		for _, v := range values {
			outbound.Header.Add(name, v)
		}
	}
	outbound.Header.Del("Connection")
	return outbound, nil
}

// shouldStream decides the relay mode: server-push content types, chunked
// upstream transfer encoding, or an Accept header announcing streaming
// intent all select the streamed path.
func shouldStream(resp *http.Response, r *http.Request) bool {
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	for _, streamed := range streamedContentTypes {
		if strings.HasPrefix(contentType, streamed) {
			return true
		}
	}
	for _, te := range resp.TransferEncoding {
		if strings.EqualFold(te, "chunked") {
			return true
		}
	}
	accept := strings.ToLower(r.Header.Get("Accept"))
	for _, streamed := range streamedContentTypes {
		if strings.Contains(accept, streamed) {
			return true
		}
	}
	return false
}

// relayStream commits status and headers immediately, then copies the body
// chunk by chunk: each chunk is written and flushed to the client with the
// upstream's cadence while also being appended to the accumulation buffer
// the cache will receive. An error mid-stream cannot become a clean error
// response; the accumulated payload is discarded by the caller.
func (f *Forwarder) relayStream(w http.ResponseWriter, r *http.Request, resp *http.Response) (*CachedResponse, error) {
	ctx := r.Context()

	copyFilteredHeaders(w.Header(), resp.Header)
	// Length is unknown while streaming; the server handles framing.
	w.Header().Del("Content-Length")
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)
	var accumulated bytes.Buffer
	buf := make([]byte, f.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, classifyUpstream(ctx, err)
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			accumulated.Write(buf[:n])
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return nil, classifyUpstream(ctx, writeErr)
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, classifyUpstream(ctx, readErr)
		}
	}

	return &CachedResponse{
		StatusCode:  resp.StatusCode,
		Headers:     resp.Header.Clone(),
		Body:        accumulated.Bytes(),
		WasStreamed: true,
	}, nil
}
