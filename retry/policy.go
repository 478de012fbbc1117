// Package retry decides whether a failed provider call is attempted again and how long to wait.
package retry

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Config defines configuration for retry behavior.
type Config struct {
	MaxAttempts        int           `json:"max_attempts"`         // Maximum number of attempts (including initial)
	BaseDelay          time.Duration `json:"base_delay"`           // Base of the exponential backoff
	MaxDelay           time.Duration `json:"max_delay"`            // Maximum delay between retries
	PartialDelay       time.Duration `json:"partial_delay"`        // Constant delay after a failure that streamed content
	MaxPartialAttempts int           `json:"max_partial_attempts"` // Attempt cap when content was already streamed
}

// DefaultConfig provides reasonable defaults for retry behavior.
var DefaultConfig = Config{
	MaxAttempts:        5,
	BaseDelay:          time.Second,
	MaxDelay:           30 * time.Second,
	PartialDelay:       500 * time.Millisecond,
	MaxPartialAttempts: 2,
}

// Class is the retry-relevant category of an error.
type Class int

const (
	ClassUnknown Class = iota
	ClassRateLimited
	ClassClient
	ClassServer
	ClassCancelled
)

func (c Class) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassClient:
		return "client"
	case ClassServer:
		return "server"
	case ClassCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type statusCoder interface {
	StatusCode() int
}

// Classify inspects err for cancellation and an HTTP status code.
func Classify(err error) Class {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassCancelled
	}
	var sc statusCoder
	if !errors.As(err, &sc) {
		return ClassUnknown
	}
	switch status := sc.StatusCode(); {
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status >= 400 && status < 500:
		return ClassClient
	case status >= 500 && status < 600:
		return ClassServer
	default:
		return ClassUnknown
	}
}

// Decision is the outcome of Decide.
type Decision struct {
	Retry  bool
	Delay  time.Duration
	Class  Class
	Reason string
}

// Decide is a pure function of the error, the zero-based number of the attempt that failed,
// and whether that attempt streamed any content.
func (c Config) Decide(err error, attempt int, streamed bool) Decision {
	if err == nil {
		return Decision{Reason: "no error"}
	}
	class := Classify(err)
	d := Decision{Class: class}

	switch class {
	case ClassCancelled:
		d.Reason = "cancelled"
		return d
	case ClassClient:
		d.Reason = "client error"
		return d
	}

	if attempt+1 >= c.MaxAttempts {
		d.Reason = "retry budget exhausted"
		return d
	}

	switch {
	case class == ClassRateLimited:
		d.Retry, d.Delay, d.Reason = true, c.backoff(attempt+1), "rate limited"
	case class == ClassServer:
		d.Retry, d.Delay, d.Reason = true, c.backoff(attempt), "server error"
	case !streamed:
		d.Retry, d.Delay, d.Reason = true, c.backoff(attempt), "failed before streaming"
	case attempt+1 >= c.MaxPartialAttempts:
		d.Reason = "partial retry budget exhausted"
	default:
		d.Retry, d.Delay, d.Reason = true, c.PartialDelay, "failed mid-stream"
	}
	return d
}

func (c Config) backoff(exp int) time.Duration {
	if exp > 30 {
		exp = 30
	}
	delay := c.BaseDelay * time.Duration(1<<exp)
	if c.MaxDelay > 0 && (delay > c.MaxDelay || delay < 0) {
		delay = c.MaxDelay
	}
	return delay
}

// Wait sleeps for d, returning early with the context's cause when ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return context.Cause(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}
