package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/casualjim/flock/provider"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{name: "rate limit", err: &provider.APIError{Status: 429}, want: ClassRateLimited},
		{name: "wrapped rate limit", err: fmt.Errorf("call: %w", &provider.APIError{Status: 429}), want: ClassRateLimited},
		{name: "stream error rate limit", err: provider.Error{Status: 429}, want: ClassRateLimited},
		{name: "bad request", err: &provider.APIError{Status: 400}, want: ClassClient},
		{name: "unauthorized", err: &provider.APIError{Status: 401}, want: ClassClient},
		{name: "server", err: &provider.APIError{Status: 503}, want: ClassServer},
		{name: "overloaded", err: provider.Error{Status: 529}, want: ClassServer},
		{name: "plain", err: errors.New("connection reset"), want: ClassUnknown},
		{name: "status zero", err: provider.Error{Type: "api_error"}, want: ClassUnknown},
		{name: "cancelled", err: context.Canceled, want: ClassCancelled},
		{name: "deadline", err: fmt.Errorf("x: %w", context.DeadlineExceeded), want: ClassCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
			assert.NotEmpty(t, tt.want.String())
		})
	}
}

func TestConfig_Decide(t *testing.T) {
	cfg := Config{
		MaxAttempts:        4,
		BaseDelay:          100 * time.Millisecond,
		MaxDelay:           time.Second,
		PartialDelay:       50 * time.Millisecond,
		MaxPartialAttempts: 2,
	}
	rateLimited := &provider.APIError{Status: 429}
	server := &provider.APIError{Status: 500}
	unknown := errors.New("stream reset")

	tests := []struct {
		name      string
		err       error
		attempt   int
		streamed  bool
		wantRetry bool
		wantDelay time.Duration
	}{
		{name: "nil error", err: nil, wantRetry: false},
		{name: "429 first attempt seeded above base", err: rateLimited, attempt: 0, wantRetry: true, wantDelay: 200 * time.Millisecond},
		{name: "429 second attempt", err: rateLimited, attempt: 1, wantRetry: true, wantDelay: 400 * time.Millisecond},
		{name: "429 third attempt", err: rateLimited, attempt: 2, wantRetry: true, wantDelay: 800 * time.Millisecond},
		{name: "429 budget exhausted", err: rateLimited, attempt: 3, wantRetry: false},
		{name: "4xx never", err: &provider.APIError{Status: 404}, attempt: 0, wantRetry: false},
		{name: "5xx from base", err: server, attempt: 0, wantRetry: true, wantDelay: 100 * time.Millisecond},
		{name: "5xx exponential", err: server, attempt: 2, wantRetry: true, wantDelay: 400 * time.Millisecond},
		{name: "5xx ignores streamed", err: server, attempt: 1, streamed: true, wantRetry: true, wantDelay: 200 * time.Millisecond},
		{name: "unknown before streaming", err: unknown, attempt: 1, wantRetry: true, wantDelay: 200 * time.Millisecond},
		{name: "unknown after partial content", err: unknown, attempt: 0, streamed: true, wantRetry: true, wantDelay: 50 * time.Millisecond},
		{name: "unknown partial budget", err: unknown, attempt: 1, streamed: true, wantRetry: false},
		{name: "cancellation never", err: context.Canceled, attempt: 0, wantRetry: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := cfg.Decide(tt.err, tt.attempt, tt.streamed)
			assert.Equal(t, tt.wantRetry, d.Retry, d.Reason)
			if tt.wantRetry {
				assert.Equal(t, tt.wantDelay, d.Delay)
			}
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestConfig_DecideCapsDelay(t *testing.T) {
	cfg := Config{MaxAttempts: 100, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	d := cfg.Decide(&provider.APIError{Status: 503}, 60, false)
	assert.True(t, d.Retry)
	assert.Equal(t, 5*time.Second, d.Delay)
}

func TestWait(t *testing.T) {
	t.Run("completes", func(t *testing.T) {
		assert.NoError(t, Wait(context.Background(), time.Millisecond))
		assert.NoError(t, Wait(context.Background(), 0))
	})

	t.Run("cancelled wait returns immediately", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		start := time.Now()
		err := Wait(ctx, time.Minute)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("reports cancellation cause", func(t *testing.T) {
		stop := errors.New("stopped by user")
		ctx, cancel := context.WithCancelCause(context.Background())
		cancel(stop)
		assert.ErrorIs(t, Wait(ctx, time.Minute), stop)
		assert.ErrorIs(t, Wait(ctx, 0), stop)
	})
}
