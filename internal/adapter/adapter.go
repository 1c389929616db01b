package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/tokligence/chat-relay/internal/conversation"
	"github.com/tokligence/chat-relay/internal/stream"
)

// ChatAdapter turns a classified conversation into provider output.
type ChatAdapter interface {
	// Name identifies the provider in logs and metrics.
	Name() string
	// Model is the upstream model identifier requests are sent to.
	Model() string
	// CreateCompletion returns the provider's completed text.
	CreateCompletion(ctx context.Context, conv conversation.Conversation) (string, error)
	// CreateCompletionStream returns OpenAI-shaped chunk payloads. The channel is
	// closed when the upstream stream ends; errors arrive as a final event.
	CreateCompletionStream(ctx context.Context, conv conversation.Conversation) (<-chan stream.Event, error)
}

var (
	// ErrUpstreamProtocol marks a provider response missing the expected success fields.
	ErrUpstreamProtocol = errors.New("invalid upstream payload")
	// ErrUpstreamTransport marks network failures and non-2xx provider statuses.
	ErrUpstreamTransport = errors.New("upstream request failed")
)

// UpstreamError describes a non-2xx provider response.
type UpstreamError struct {
	Provider string
	Status   int
	Message  string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Status, e.Message)
}

// Unwrap lets callers match the error against ErrUpstreamTransport.
func (e *UpstreamError) Unwrap() error { return ErrUpstreamTransport }

// PreviewBytes trims upstream payloads before they are embedded in error messages.
func PreviewBytes(b []byte, limit int) string {
	if limit <= 0 || len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
