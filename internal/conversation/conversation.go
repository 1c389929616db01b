// Package conversation decides how an inbound message list is presented to a provider.
package conversation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tokligence/chat-relay/internal/openai"
)

// ErrInvalidRequest marks malformed or insufficient input. Handlers map it to 400.
var ErrInvalidRequest = errors.New("invalid request")

// Mode is the processing mode chosen for a request.
type Mode int

const (
	// SinglePrompt is a bare instruction + user pair.
	SinglePrompt Mode = iota
	// Chat is a multi-turn conversation whose full history is forwarded.
	Chat
)

func (m Mode) String() string {
	switch m {
	case SinglePrompt:
		return "single"
	case Chat:
		return "chat"
	default:
		return "unknown"
	}
}

// Conversation is a classified request ready for a provider client.
type Conversation struct {
	Mode Mode
	// SystemInstruction is the text of message index 0.
	SystemInstruction string
	// History holds every message after index 0, in order.
	History []openai.ChatMessage
	// Messages is the original list, forwarded as-is by OpenAI-compatible providers.
	Messages []openai.ChatMessage
}

// Prompt returns the user text of a single-prompt conversation.
func (c Conversation) Prompt() string {
	if len(c.History) == 0 {
		return ""
	}
	return strings.TrimSpace(c.History[0].Content.Text())
}

// Validate rejects message lists that cannot be classified.
func Validate(messages []openai.ChatMessage) error {
	if len(messages) == 0 {
		return fmt.Errorf("%w: messages must be a non-empty array", ErrInvalidRequest)
	}
	if len(messages) < 2 {
		return fmt.Errorf("%w: messages must contain a system instruction followed by at least one user message", ErrInvalidRequest)
	}
	return nil
}

// IsChat reports whether messages form a multi-turn conversation: more than two
// messages, more than one user message, or any assistant message.
func IsChat(messages []openai.ChatMessage) bool {
	if len(messages) > 2 {
		return true
	}
	users := 0
	for _, m := range messages {
		switch {
		case m.IsRole(openai.RoleUser):
			users++
		case m.IsRole(openai.RoleAssistant):
			return true
		}
	}
	return users > 1
}

// Classify validates messages and splits them into instruction and history.
func Classify(messages []openai.ChatMessage) (Conversation, error) {
	if err := Validate(messages); err != nil {
		return Conversation{}, err
	}
	mode := SinglePrompt
	if IsChat(messages) {
		mode = Chat
	}
	return Conversation{
		Mode:              mode,
		SystemInstruction: messages[0].Content.Text(),
		History:           messages[1:],
		Messages:          messages,
	}, nil
}
