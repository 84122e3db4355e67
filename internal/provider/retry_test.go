package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeProvider scripts a sequence of Complete outcomes and records call counts.
type fakeProvider struct {
	completes []func() (CompletionResponse, error)
	streams   []func(ctx context.Context) <-chan StreamChunk
	calls     int
}

func (f *fakeProvider) Complete(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
	i := f.calls
	f.calls++
	if i >= len(f.completes) {
		i = len(f.completes) - 1
	}
	return f.completes[i]()
}

func (f *fakeProvider) Stream(ctx context.Context, _ CompletionRequest) (<-chan StreamChunk, error) {
	i := f.calls
	f.calls++
	if i >= len(f.streams) {
		i = len(f.streams) - 1
	}
	return f.streams[i](ctx), nil
}

func (f *fakeProvider) ContextWindowSize() int { return 0 }
func (f *fakeProvider) ModelName() string      { return "fake" }

func ok(content string) func() (CompletionResponse, error) {
	return func() (CompletionResponse, error) {
		return CompletionResponse{Content: content, FinishReason: FinishReasonStop}, nil
	}
}

func fail(err error) func() (CompletionResponse, error) {
	return func() (CompletionResponse, error) {
		return CompletionResponse{}, err
	}
}

// recordingSleep swaps the transport's sleep for one that records delays
// without actually sleeping.
func recordingSleep(t *Transport) *[]time.Duration {
	var delays []time.Duration
	t.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return &delays
}

func TestTransportSend_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{completes: []func() (CompletionResponse, error){
		fail(ErrBackendDown),
		fail(ErrBackendDown),
		ok("hello"),
	}}
	tr := NewTransport(fake, RetryConfig{MaxRetries: 2})
	delays := recordingSleep(tr)

	resp, err := tr.Send(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Content = %q, want %q", resp.Content, "hello")
	}
	if fake.calls != 3 {
		t.Errorf("attempts = %d, want 3", fake.calls)
	}
	if len(*delays) != 2 {
		t.Fatalf("sleeps = %d, want 2", len(*delays))
	}
	// Backoff must strictly increase: base, base×multiplier.
	if (*delays)[1] <= (*delays)[0] {
		t.Errorf("backoff not increasing: %v then %v", (*delays)[0], (*delays)[1])
	}
}

func TestTransportSend_Exhaustion(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	fake := &fakeProvider{completes: []func() (CompletionResponse, error){
		fail(cause),
	}}
	tr := NewTransport(fake, RetryConfig{MaxRetries: 2})
	recordingSleep(tr)

	_, err := tr.Send(context.Background(), CompletionRequest{})
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("error = %v, want ErrAttemptsExhausted", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error does not carry last cause: %v", err)
	}
	if fake.calls != 3 {
		t.Errorf("attempts = %d, want 3", fake.calls)
	}
}

func TestTransportSend_EmptyContentIsRetried(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{completes: []func() (CompletionResponse, error){
		ok("   \n\t"),
		ok("real reply"),
	}}
	tr := NewTransport(fake, RetryConfig{MaxRetries: 2})
	recordingSleep(tr)

	resp, err := tr.Send(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.Content != "real reply" {
		t.Errorf("Content = %q, want %q", resp.Content, "real reply")
	}
	if fake.calls != 2 {
		t.Errorf("attempts = %d, want 2", fake.calls)
	}
}

func TestTransportSend_NoSleepAfterFinalAttempt(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{completes: []func() (CompletionResponse, error){
		fail(ErrBackendDown),
	}}
	tr := NewTransport(fake, RetryConfig{MaxRetries: 2})
	delays := recordingSleep(tr)

	_, _ = tr.Send(context.Background(), CompletionRequest{})
	if len(*delays) != 2 {
		t.Errorf("sleeps = %d, want 2 (between attempts only)", len(*delays))
	}
}

func TestTransportSend_CancelledContext(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{completes: []func() (CompletionResponse, error){
		fail(ErrBackendDown),
	}}
	tr := NewTransport(fake, RetryConfig{MaxRetries: 5})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Send(ctx, CompletionRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if fake.calls > 1 {
		t.Errorf("attempts = %d after cancellation, want at most 1", fake.calls)
	}
}

// chunks builds a scripted stream producer.
func chunks(cs ...StreamChunk) func(ctx context.Context) <-chan StreamChunk {
	return func(_ context.Context) <-chan StreamChunk {
		ch := make(chan StreamChunk, len(cs))
		for _, c := range cs {
			ch <- c
		}
		close(ch)
		return ch
	}
}

func collect(ch <-chan StreamChunk) (string, error) {
	var content string
	var err error
	for c := range ch {
		if c.Err != nil {
			err = c.Err
			continue
		}
		content += c.Content
	}
	return content, err
}

func TestTransportStream_CleanCompletion(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{streams: []func(ctx context.Context) <-chan StreamChunk{
		chunks(
			StreamChunk{Content: "Hel"},
			StreamChunk{Content: "lo"},
			StreamChunk{FinishReason: FinishReasonStop},
		),
	}}
	tr := NewTransport(fake, RetryConfig{MaxRetries: 2})
	recordingSleep(tr)

	content, err := collect(tr.Stream(context.Background(), CompletionRequest{}))
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if content != "Hello" {
		t.Errorf("content = %q, want %q", content, "Hello")
	}
	if fake.calls != 1 {
		t.Errorf("attempts = %d, want 1", fake.calls)
	}
}

func TestTransportStream_PartialFailureNotRetried(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{streams: []func(ctx context.Context) <-chan StreamChunk{
		chunks(
			StreamChunk{Content: "Hel"},
			StreamChunk{Err: ErrBackendDown},
		),
		chunks(StreamChunk{Content: "should never be requested"}),
	}}
	tr := NewTransport(fake, RetryConfig{MaxRetries: 2})
	recordingSleep(tr)

	content, err := collect(tr.Stream(context.Background(), CompletionRequest{}))
	if err != nil {
		t.Fatalf("partial failure must not surface an error, got %v", err)
	}
	if content != "Hel" {
		t.Errorf("content = %q, want partial %q", content, "Hel")
	}
	if fake.calls != 1 {
		t.Errorf("attempts = %d, want 1 (no retry after partial output)", fake.calls)
	}
}

func TestTransportStream_PreFragmentFailureRetried(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{streams: []func(ctx context.Context) <-chan StreamChunk{
		chunks(StreamChunk{Err: ErrBackendDown}),
		chunks(StreamChunk{Content: "recovered"}),
	}}
	tr := NewTransport(fake, RetryConfig{MaxRetries: 2})
	recordingSleep(tr)

	content, err := collect(tr.Stream(context.Background(), CompletionRequest{}))
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if content != "recovered" {
		t.Errorf("content = %q, want %q", content, "recovered")
	}
	if fake.calls != 2 {
		t.Errorf("attempts = %d, want 2", fake.calls)
	}
}

func TestTransportStream_EmptyOutputIsTerminal(t *testing.T) {
	t.Parallel()

	fake := &fakeProvider{streams: []func(ctx context.Context) <-chan StreamChunk{
		chunks(StreamChunk{FinishReason: FinishReasonStop}),
	}}
	tr := NewTransport(fake, RetryConfig{MaxRetries: 1})
	recordingSleep(tr)

	content, err := collect(tr.Stream(context.Background(), CompletionRequest{}))
	if content != "" {
		t.Errorf("content = %q, want empty", content)
	}
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("error = %v, want ErrAttemptsExhausted", err)
	}
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Errorf("error does not carry empty-completion cause: %v", err)
	}
	if fake.calls != 2 {
		t.Errorf("attempts = %d, want 2", fake.calls)
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit", ErrRateLimit, true},
		{"backend down", ErrBackendDown, true},
		{"malformed", ErrMalformedResponse, true},
		{"empty", ErrEmptyCompletion, true},
		{"cancelled", context.Canceled, false},
		{"nil-adjacent", errors.New("other"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
