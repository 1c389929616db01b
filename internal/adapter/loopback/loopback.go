package loopback

import (
	"context"
	"strings"

	"github.com/tokligence/chat-relay/internal/adapter"
	"github.com/tokligence/chat-relay/internal/conversation"
	"github.com/tokligence/chat-relay/internal/openai"
	"github.com/tokligence/chat-relay/internal/stream"
)

// Ensure LoopbackAdapter implements ChatAdapter.
var _ adapter.ChatAdapter = (*LoopbackAdapter)(nil)

// Model is the model name reported by the loopback provider.
const Model = "loopback"

// LoopbackAdapter echoes the last user message back to the caller. It needs no
// credentials and is meant for local runs and pipeline tests.
type LoopbackAdapter struct{}

// New creates a LoopbackAdapter instance.
func New() *LoopbackAdapter {
	return &LoopbackAdapter{}
}

func (a *LoopbackAdapter) Name() string  { return "loopback" }
func (a *LoopbackAdapter) Model() string { return Model }

// CreateCompletion fabricates a deterministic completion.
func (a *LoopbackAdapter) CreateCompletion(ctx context.Context, conv conversation.Conversation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if conv.Mode == conversation.SinglePrompt {
		return "[loopback] " + conv.Prompt(), nil
	}

	// find last user message; default to final message if none
	message := conv.History[len(conv.History)-1]
	for i := len(conv.History) - 1; i >= 0; i-- {
		if conv.History[i].IsRole(openai.RoleUser) {
			message = conv.History[i]
			break
		}
	}
	return "[loopback] " + strings.TrimSpace(message.Content.Text()), nil
}

// CreateCompletionStream replays the echo word by word.
func (a *LoopbackAdapter) CreateCompletionStream(ctx context.Context, conv conversation.Conversation) (<-chan stream.Event, error) {
	text, err := a.CreateCompletion(ctx, conv)
	if err != nil {
		return nil, err
	}
	return stream.Synthesize(ctx, Model, text), nil
}
