package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// UpstreamErrorKind classifies why an upstream call failed.
type UpstreamErrorKind string

const (
	// KindFailure covers connection refusals, DNS and TLS failures.
	KindFailure UpstreamErrorKind = "upstream_failure"
	// KindTimeout covers deadline-exceeded upstream calls.
	KindTimeout UpstreamErrorKind = "upstream_timeout"
	// KindCanceled means the client went away; no response is owed.
	KindCanceled UpstreamErrorKind = "request_canceled"
)

// UpstreamError wraps a failed upstream call with its classification.
type UpstreamError struct {
	Kind UpstreamErrorKind
	Err  error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Status maps the error kind to the gateway-level status code.
func (e *UpstreamError) Status() int {
	switch e.Kind {
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// classifyUpstream folds transport errors into the error taxonomy.
func classifyUpstream(ctx context.Context, err error) *UpstreamError {
	if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
		return &UpstreamError{Kind: KindCanceled, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &UpstreamError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &UpstreamError{Kind: KindTimeout, Err: err}
	}
	return &UpstreamError{Kind: KindFailure, Err: err}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// WriteError emits the structured JSON error object used for every
// proxy-originated failure response.
func WriteError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Message:   message,
		Type:      errType,
		Timestamp: time.Now().UTC(),
	}})
}
