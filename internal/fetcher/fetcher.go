// Package fetcher defines the capability wrapper around one external data
// provider and the cache-or-fetch composition in front of it. Every provider
// call resolves to a Result, either success or a typed failure, never a
// panic or an error that escapes the fetch layer.
package fetcher

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout bounds one provider round trip.
const DefaultTimeout = 10 * time.Second

// Failure reasons. ErrInvalidParameters means a caller error and is never
// retried; ErrProviderError covers transport, timeout, and parse faults and
// is retried on the next request (failures are not cached);
// ErrMissingCredential is a configuration fault surfaced per-call, fail-soft.
var (
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrProviderError     = errors.New("provider error")
	ErrMissingCredential = errors.New("missing credential")
)

// Result is the outcome of one provider invocation. Exactly one of Payload
// (serialized normalized response) or Err is meaningful.
type Result struct {
	Payload []byte
	Err     error
}

// Success wraps a normalized payload.
func Success(payload []byte) Result { return Result{Payload: payload} }

// Failure wraps a failure reason, typically one of the sentinel errors above.
func Failure(err error) Result { return Result{Err: err} }

// Ok reports whether the invocation succeeded.
func (r Result) Ok() bool { return r.Err == nil }

// Client wraps one external provider capability.
type Client interface {
	// Name identifies the capability and doubles as its cache namespace.
	Name() string

	// Validate checks that params are well-formed for this provider.
	// Malformed parameters short-circuit to Failure(ErrInvalidParameters)
	// without a network call.
	Validate(params map[string]any) error

	// Invoke performs exactly one network round trip and maps the provider's
	// native response into the normalized shape. Never panics; every outcome
	// is a Result.
	Invoke(ctx context.Context, params map[string]any) Result

	// Empty returns the provider's defined empty value (empty list or
	// mapping, serialized), used when a call degrades fail-soft.
	Empty() []byte
}
