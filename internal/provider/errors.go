package provider

import "errors"

// Sentinel errors for provider operations.
var (
	// ErrRateLimit indicates the backend returned a rate limit response.
	ErrRateLimit = errors.New("provider rate limited")

	// ErrBackendDown indicates the backend is temporarily unavailable.
	ErrBackendDown = errors.New("backend unavailable")

	// ErrMalformedResponse indicates the backend returned a body that could
	// not be decoded, or a JSON error envelope.
	ErrMalformedResponse = errors.New("malformed backend response")

	// ErrEmptyCompletion indicates the backend returned a completion with
	// no usable content. Treated as an ordinary operating condition: the
	// transport retries it like any transient failure.
	ErrEmptyCompletion = errors.New("empty completion content")

	// ErrAttemptsExhausted indicates every attempt of a retried request
	// failed. The wrapped error carries the last failure's cause.
	ErrAttemptsExhausted = errors.New("all attempts exhausted")
)

// IsRetryable reports whether the error is transient and the request can
// be retried after a backoff delay. Any non-2xx status, transport error,
// malformed body, or empty completion counts: these are expected
// operating conditions for a remote completion backend.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrBackendDown) ||
		errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, ErrEmptyCompletion)
}
