package loopback

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/tokligence/chat-relay/internal/conversation"
	"github.com/tokligence/chat-relay/internal/openai"
)

func classify(t *testing.T, msgs ...openai.ChatMessage) conversation.Conversation {
	t.Helper()
	conv, err := conversation.Classify(msgs)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	return conv
}

func TestLoopbackAdapter(t *testing.T) {
	adapter := New()
	text, err := adapter.CreateCompletion(context.Background(), classify(t,
		openai.NewTextMessage("system", "echo"),
		openai.NewTextMessage("user", " Hello "),
	))
	if err != nil {
		t.Fatalf("CreateCompletion: %v", err)
	}
	if text != "[loopback] Hello" {
		t.Fatalf("unexpected content %q", text)
	}
}

func TestLoopbackAdapterChatEchoesLastUser(t *testing.T) {
	adapter := New()
	text, err := adapter.CreateCompletion(context.Background(), classify(t,
		openai.NewTextMessage("system", "echo"),
		openai.NewTextMessage("user", "first"),
		openai.NewTextMessage("assistant", "reply"),
		openai.NewTextMessage("user", "second"),
		openai.NewTextMessage("assistant", "again"),
	))
	if err != nil {
		t.Fatalf("CreateCompletion: %v", err)
	}
	if text != "[loopback] second" {
		t.Fatalf("unexpected content %q", text)
	}
}

func TestLoopbackAdapterStream(t *testing.T) {
	adapter := New()
	ch, err := adapter.CreateCompletionStream(context.Background(), classify(t,
		openai.NewTextMessage("system", "echo"),
		openai.NewTextMessage("user", "a b"),
	))
	if err != nil {
		t.Fatalf("CreateCompletionStream: %v", err)
	}
	var sb strings.Builder
	for ev := range ch {
		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal(ev.Data, &chunk); err != nil {
			t.Fatalf("chunk: %v", err)
		}
		sb.WriteString(chunk.Choices[0].Delta.Content)
	}
	if sb.String() != "[loopback] a b " {
		t.Fatalf("streamed %q", sb.String())
	}
}

func TestLoopbackAdapterCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().CreateCompletion(ctx, classify(t,
		openai.NewTextMessage("system", "s"), openai.NewTextMessage("user", "u"))); err == nil {
		t.Fatalf("expected error for canceled context")
	}
}
