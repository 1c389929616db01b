package openai

import (
	"encoding/json"
	"testing"
)

func TestMessageContent_StringAndParts(t *testing.T) {
	body := `{"messages":[
		{"role":"system","content":"be brief"},
		{"role":"user","content":[{"type":"image_url","image_url":{"url":"x"}},{"type":"text","text":"  hello  "}]}
	],"stream":true}`

	var req ChatCompletionRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !req.Stream {
		t.Fatalf("expected stream flag")
	}
	if len(req.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(req.Messages))
	}
	if got := req.Messages[0].Content.Text(); got != "be brief" {
		t.Fatalf("string content = %q", got)
	}
	if got := req.Messages[1].Content.Text(); got != "  hello  " {
		t.Fatalf("parts content = %q", got)
	}
}

func TestMessageContent_MarshalPreservesOriginal(t *testing.T) {
	in := `{"role":"user","content":[{"type":"text","text":"hi","cache_control":{"type":"ephemeral"}}]}`
	var msg ChatMessage
	if err := json.Unmarshal([]byte(in), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != in {
		t.Fatalf("content not forwarded verbatim:\n got %s\nwant %s", out, in)
	}
}

func TestMessageContent_RejectsNumbers(t *testing.T) {
	var msg ChatMessage
	if err := json.Unmarshal([]byte(`{"role":"user","content":42}`), &msg); err == nil {
		t.Fatalf("expected error for numeric content")
	}
}

func TestMessageContent_NullIsEmpty(t *testing.T) {
	var msg ChatMessage
	if err := json.Unmarshal([]byte(`{"role":"assistant","content":null}`), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Content.Text() != "" {
		t.Fatalf("expected empty text, got %q", msg.Content.Text())
	}
}

func TestNewCompletionResponse_Shape(t *testing.T) {
	b, err := json.Marshal(NewCompletionResponse("Hi there"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"choices":[{"message":{"role":"assistant","content":"Hi there"}}]}`
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}
}

func TestNewContentChunk_Shape(t *testing.T) {
	chunk := NewContentChunk("chatcmpl-1", "gemini-pro", 1700000000, "Hello ")
	b, err := json.Marshal(chunk)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"id":"chatcmpl-1","object":"chat.completion.chunk","created":1700000000,"model":"gemini-pro","choices":[{"delta":{"content":"Hello "},"index":0,"finish_reason":null}]}`
	if string(b) != want {
		t.Fatalf("got %s\nwant %s", b, want)
	}
	if chunk.Choices[0].Delta.Content != "Hello " {
		t.Fatalf("unexpected delta %q", chunk.Choices[0].Delta.Content)
	}
}
