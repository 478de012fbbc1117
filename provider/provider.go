package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/casualjim/flock/pkg/messages"
	"github.com/casualjim/flock/tool"
	"github.com/google/uuid"
)

// Provider defines the interface for model backends. Implementations translate the request
// into their own wire format and report the response as a stream of events.
type Provider interface {
	SendMessage(context.Context, Request) (<-chan StreamEvent, error)
}

// Request encapsulates everything a provider needs to produce one assistant response.
type Request struct {
	// RunID uniquely identifies the loop invocation issuing the request
	RunID uuid.UUID

	// SystemPrompt provides the instructions for the model
	SystemPrompt string

	// Messages is the working conversation history
	Messages []messages.ConversationMessage

	// Tools defines the capabilities the model may call
	Tools []tool.Definition

	// Config carries model selection and sampling settings
	Config Config

	// Prevents unkeyed literals
	_ struct{}
}

// Config holds provider settings for one loop invocation.
type Config struct {
	Model          string
	MaxTokens      int
	Temperature    *float64
	ThinkingBudget int
	Extra          map[string]any
}

// APIError is a provider failure with an HTTP status.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("provider error %d (%s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("provider error %d: %s", e.Status, e.Message)
}

// StatusCode returns the HTTP status reported by the provider.
func (e *APIError) StatusCode() int {
	return e.Status
}

// IsRateLimited reports whether err carries a 429 status.
func IsRateLimited(err error) bool {
	var sc interface{ StatusCode() int }
	return errors.As(err, &sc) && sc.StatusCode() == http.StatusTooManyRequests
}

// Func adapts a function to the Provider interface.
type Func func(context.Context, Request) (<-chan StreamEvent, error)

// SendMessage calls f.
func (f Func) SendMessage(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	return f(ctx, req)
}
