package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayFiltersRestrictedHeaders(t *testing.T) {
	replayer := NewReplayer(ReplayerOptions{})
	res := &CachedResponse{
		StatusCode: http.StatusOK,
		Headers: http.Header{
			"Content-Type":      {"application/json"},
			"Transfer-Encoding": {"chunked"},
			"Connection":        {"keep-alive"},
			"Keep-Alive":        {"timeout=5"},
			"Content-Length":    {"9999"},
			"X-Custom":          {"kept"},
		},
		Body: []byte(`{"ok":1}`),
	}

	rec := httptest.NewRecorder()
	require.NoError(t, replayer.Replay(context.Background(), rec, res))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"ok":1}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "kept", rec.Header().Get("X-Custom"))
	assert.Empty(t, rec.Header().Get("Transfer-Encoding"))
	assert.Empty(t, rec.Header().Get("Connection"))
	assert.Empty(t, rec.Header().Get("Keep-Alive"))
	assert.Equal(t, "8", rec.Header().Get("Content-Length"), "length is recomputed from the stored body")
}

func TestReplayChunkedSimulation(t *testing.T) {
	replayer := NewReplayer(ReplayerOptions{SimulateStreams: true, ChunkSize: 4, Delay: time.Millisecond})
	res := &CachedResponse{
		StatusCode:  http.StatusOK,
		Headers:     http.Header{"Content-Type": {"text/event-stream"}},
		Body:        []byte("data: a\n\ndata: b\n\n"),
		WasStreamed: true,
	}

	rec := httptest.NewRecorder()
	require.NoError(t, replayer.Replay(context.Background(), rec, res))

	assert.Equal(t, "data: a\n\ndata: b\n\n", rec.Body.String())
	assert.Empty(t, rec.Header().Get("Content-Length"), "simulated streams carry no length")
	assert.True(t, rec.Flushed)
}

func TestReplayStreamedEntryOneShotWhenSimulationOff(t *testing.T) {
	replayer := NewReplayer(ReplayerOptions{SimulateStreams: false})
	res := &CachedResponse{
		StatusCode:  http.StatusOK,
		Headers:     http.Header{"Content-Type": {"text/event-stream"}},
		Body:        []byte("data: a\n\n"),
		WasStreamed: true,
	}

	rec := httptest.NewRecorder()
	require.NoError(t, replayer.Replay(context.Background(), rec, res))

	assert.Equal(t, "data: a\n\n", rec.Body.String())
	assert.Equal(t, "9", rec.Header().Get("Content-Length"))
}

func TestReplayChunkedStopsOnCancel(t *testing.T) {
	replayer := NewReplayer(ReplayerOptions{SimulateStreams: true, ChunkSize: 2, Delay: 10 * time.Millisecond})
	res := &CachedResponse{
		StatusCode:  http.StatusOK,
		Headers:     http.Header{},
		Body:        []byte("0123456789"),
		WasStreamed: true,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	require.NoError(t, replayer.Replay(ctx, rec, res))
	assert.Less(t, rec.Body.Len(), len(res.Body), "cancellation must stop the chunk loop early")
}
