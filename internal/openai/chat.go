package openai

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Message roles accepted on the inbound side.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatCompletionRequest captures the subset of OpenAI's request the relay consumes.
// The model field is accepted for compatibility; the upstream model comes from configuration.
type ChatCompletionRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

// ChatMessage follows OpenAI's role/content schema. Content keeps the caller's
// original encoding so it can be forwarded unmodified.
type ChatMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// NewTextMessage builds a message with plain string content.
func NewTextMessage(role, text string) ChatMessage {
	return ChatMessage{Role: role, Content: TextContent(text)}
}

// ContentPart is one element of a structured content list.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MessageContent holds either a plain string or a list of content parts.
type MessageContent struct {
	raw   json.RawMessage
	text  string
	parts []ContentPart
}

// TextContent wraps a plain string as message content.
func TextContent(text string) MessageContent {
	raw, _ := json.Marshal(text)
	return MessageContent{raw: raw, text: text}
}

// UnmarshalJSON accepts a JSON string, a list of content parts, or null.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	c.raw = append(json.RawMessage(nil), trimmed...)
	c.text = ""
	c.parts = nil
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	switch trimmed[0] {
	case '"':
		return json.Unmarshal(trimmed, &c.text)
	case '[':
		return json.Unmarshal(trimmed, &c.parts)
	default:
		return errors.New("content must be a string or a list of content parts")
	}
}

// MarshalJSON re-emits the content exactly as it was received.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if len(c.raw) == 0 {
		return []byte(`""`), nil
	}
	return c.raw, nil
}

// Text returns the consumable text: the string itself, or the first text part.
func (c MessageContent) Text() string {
	if c.parts == nil {
		return c.text
	}
	for _, p := range c.parts {
		if p.Type == "text" || (p.Type == "" && p.Text != "") {
			return p.Text
		}
	}
	return ""
}

// IsRole compares roles case-insensitively.
func (m ChatMessage) IsRole(role string) bool {
	return strings.EqualFold(strings.TrimSpace(m.Role), role)
}

// CompletionResponse is the non-streaming body returned to callers.
type CompletionResponse struct {
	Choices []CompletionChoice `json:"choices"`
}

// CompletionChoice contains the generated message.
type CompletionChoice struct {
	Message AssistantMessage `json:"message"`
}

// AssistantMessage is the role/content pair of a generated reply.
type AssistantMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewCompletionResponse wraps provider text into the chat-completion shape.
func NewCompletionResponse(text string) CompletionResponse {
	return CompletionResponse{
		Choices: []CompletionChoice{{
			Message: AssistantMessage{Role: RoleAssistant, Content: text},
		}},
	}
}
