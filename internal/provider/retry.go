package provider

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// Defaults for RetryConfig, matching the behaviour the rest of the
// pipeline is tuned for: up to 3 total attempts spaced 0.6 s, 0.9 s.
const (
	DefaultMaxRetries  = 2
	DefaultBaseDelay   = 600 * time.Millisecond
	DefaultMultiplier  = 1.5
	DefaultCallTimeout = 10 * time.Second
)

// RetryConfig controls the retry/backoff schedule of a Transport.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first
	// one. MaxRetries=2 means up to 3 total attempts.
	MaxRetries int

	// BaseDelay is the backoff before the second attempt. Attempt n
	// waits BaseDelay × Multiplier^(n-1). No sleep after the final attempt.
	BaseDelay  time.Duration
	Multiplier float64

	// CallTimeout bounds each individual attempt, independent of the
	// backoff delays between attempts.
	CallTimeout time.Duration

	Logger *slog.Logger
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.Multiplier <= 1 {
		c.Multiplier = DefaultMultiplier
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.New(nopHandler{})
	}
	return c
}

// Transport wraps a Provider with bounded retry and exponential backoff.
// It is stateless per call and safe for concurrent use.
//
// Synchronous sends retry every transient failure, including empty
// completion content, up to MaxRetries extra attempts. Streamed sends
// retry only while nothing has been forwarded to the consumer: once a
// fragment has been yielded, a broken stream ends the sequence and the
// caller commits the partial output, because re-issuing the request
// would duplicate text already shown to the user.
type Transport struct {
	inner  Provider
	config RetryConfig

	// sleep is injectable for deterministic tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTransport creates a Transport around the given provider.
func NewTransport(inner Provider, cfg RetryConfig) *Transport {
	return &Transport{
		inner:  inner,
		config: cfg.withDefaults(),
		sleep:  sleepContext,
	}
}

// backoff returns the delay before attempt+1 (attempt is zero-based).
func (t *Transport) backoff(attempt int) time.Duration {
	d := float64(t.config.BaseDelay) * math.Pow(t.config.Multiplier, float64(attempt))
	return time.Duration(d)
}

// Send performs one synchronous exchange, retrying transient failures.
// The returned reply content is non-empty. On exhaustion the error wraps
// ErrAttemptsExhausted and the last failure's cause.
func (t *Transport) Send(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= t.config.MaxRetries; attempt++ {
		resp, err := t.sendOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return CompletionResponse{}, ctx.Err()
		}

		lastErr = err
		t.config.Logger.Warn("completion attempt failed",
			"attempt", attempt+1,
			"error", err,
		)

		if attempt < t.config.MaxRetries {
			if serr := t.sleep(ctx, t.backoff(attempt)); serr != nil {
				return CompletionResponse{}, serr
			}
		}
	}

	t.config.Logger.Error("completion failed after all attempts", "error", lastErr)
	return CompletionResponse{}, fmt.Errorf("%w: %w", ErrAttemptsExhausted, lastErr)
}

// sendOnce performs a single attempt under the per-call timeout and
// rejects empty or whitespace-only reply content.
func (t *Transport) sendOnce(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, t.config.CallTimeout)
	defer cancel()

	resp, err := t.inner.Complete(attemptCtx, req)
	if err != nil {
		// A per-attempt timeout is a transient failure like any other,
		// unless the caller's own context is what expired.
		if ctx.Err() == nil && attemptCtx.Err() != nil {
			return CompletionResponse{}, fmt.Errorf("%w: attempt timed out: %w", ErrBackendDown, attemptCtx.Err())
		}
		return CompletionResponse{}, err
	}

	resp.Content = strings.TrimSpace(resp.Content)
	if resp.Content == "" {
		return CompletionResponse{}, ErrEmptyCompletion
	}
	return resp, nil
}

// Stream performs one streamed exchange. Fragments are forwarded on the
// returned channel as they arrive. The channel is closed when the reply
// is complete, the stream breaks after partial output, or every attempt
// has failed; in the last case the final chunk carries the terminal error.
func (t *Transport) Stream(ctx context.Context, req CompletionRequest) <-chan StreamChunk {
	out := make(chan StreamChunk, 16)

	go func() {
		defer close(out)

		var lastErr error

		for attempt := 0; attempt <= t.config.MaxRetries; attempt++ {
			yielded, err := t.streamOnce(ctx, req, out)
			if err == nil {
				return
			}
			if yielded {
				// Partial output has been shown; do not retry. The
				// consumer commits what it received so far.
				t.config.Logger.Warn("stream broke after partial output, not retrying",
					"attempt", attempt+1,
					"error", err,
				)
				return
			}
			if ctx.Err() != nil {
				out <- StreamChunk{Err: ctx.Err()}
				return
			}

			lastErr = err
			t.config.Logger.Warn("stream attempt failed",
				"attempt", attempt+1,
				"error", err,
			)

			if attempt < t.config.MaxRetries {
				if serr := t.sleep(ctx, t.backoff(attempt)); serr != nil {
					out <- StreamChunk{Err: serr}
					return
				}
			}
		}

		t.config.Logger.Error("stream failed after all attempts", "error", lastErr)
		out <- StreamChunk{Err: fmt.Errorf("%w: %w", ErrAttemptsExhausted, lastErr)}
	}()

	return out
}

// streamOnce runs a single streamed attempt, forwarding content chunks
// to out. It reports whether any content was forwarded, and a non-nil
// error when the attempt did not complete cleanly. A stream that closes
// without producing any content counts as a failed attempt.
func (t *Transport) streamOnce(ctx context.Context, req CompletionRequest, out chan<- StreamChunk) (yielded bool, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, t.config.CallTimeout)
	defer cancel()

	ch, err := t.inner.Stream(attemptCtx, req)
	if err != nil {
		if ctx.Err() == nil && attemptCtx.Err() != nil {
			return false, fmt.Errorf("%w: attempt timed out: %w", ErrBackendDown, attemptCtx.Err())
		}
		return false, err
	}

	for chunk := range ch {
		if chunk.Err != nil {
			return yielded, chunk.Err
		}
		if chunk.Content == "" {
			continue
		}
		yielded = true
		select {
		case out <- chunk:
		case <-ctx.Done():
			return yielded, ctx.Err()
		}
	}

	if !yielded {
		return false, ErrEmptyCompletion
	}
	return true, nil
}

// sleepContext sleeps for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// nopHandler is a slog.Handler that discards all log records. Enabled
// returns false so slog skips formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }
