package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

const (
	KindTimeout = "timeout"
	KindNetwork = "network"
	KindHTTP    = "http"
)

// Error is a classified agent request failure. Status carries the real
// HTTP status for KindHTTP and a surrogate otherwise: 408 for timeouts,
// 0 for transport failures.
type Error struct {
	Kind   string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTimeout:
		return "agent request timed out"
	case KindNetwork:
		return fmt.Sprintf("agent unreachable: %v", e.Err)
	default:
		return fmt.Sprintf("agent returned status %d: %s", e.Status, truncate(e.Body, 200))
	}
}

func (e *Error) Unwrap() error { return e.Err }

// classify wraps a transport error. Already-classified errors pass
// through unchanged; a context deadline becomes a timeout, anything
// else a network failure.
func classify(ctx context.Context, err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Status: http.StatusRequestTimeout, Err: err}
	}
	return &Error{Kind: KindNetwork, Status: 0, Err: err}
}

func IsTimeout(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == KindTimeout
}

// IsAuthError reports whether the agent rejected our credential.
// Callers must never retry these.
func IsAuthError(err error) bool {
	var ae *Error
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Kind == KindHTTP && (ae.Status == http.StatusUnauthorized || ae.Status == http.StatusForbidden)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
