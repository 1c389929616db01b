package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/tokligence/chat-relay/internal/adapter"
	"github.com/tokligence/chat-relay/internal/conversation"
	"github.com/tokligence/chat-relay/internal/openai"
)

type capturedRequest struct {
	Path  string
	Key   string
	Body  generateRequest
	Calls int
}

func newUpstream(t *testing.T, status int, reply string, captured *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Calls++
		captured.Path = r.URL.Path
		captured.Key = r.URL.Query().Get("key")
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &captured.Body); err != nil {
			t.Errorf("upstream got invalid JSON: %v", err)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func classify(t *testing.T, messages ...openai.ChatMessage) conversation.Conversation {
	t.Helper()
	conv, err := conversation.Classify(messages)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	return conv
}

const okReply = `{"candidates":[{"content":{"role":"model","parts":[{"text":"Hi there"}]}}]}`

func TestNew_RequiresKeyAndModel(t *testing.T) {
	if _, err := New(Config{Model: "m"}); err == nil {
		t.Fatal("expected error without api key")
	}
	if _, err := New(Config{APIKey: "k"}); err == nil {
		t.Fatal("expected error without model")
	}
}

func TestCreateCompletion_SinglePrompt(t *testing.T) {
	var got capturedRequest
	srv := newUpstream(t, http.StatusOK, okReply, &got)
	a, err := New(Config{APIKey: "secret", Model: "gemini-1.5-flash", BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	conv := classify(t,
		openai.NewTextMessage("system", "Answer briefly"),
		openai.NewTextMessage("user", "  Hello \n"),
	)
	text, err := a.CreateCompletion(context.Background(), conv)
	if err != nil {
		t.Fatalf("CreateCompletion: %v", err)
	}
	if text != "Hi there" {
		t.Fatalf("text = %q", text)
	}
	if got.Path != "/v1beta/models/gemini-1.5-flash:generateContent" {
		t.Fatalf("path = %q", got.Path)
	}
	if got.Key != "secret" {
		t.Fatalf("key query = %q", got.Key)
	}
	if got.Body.SystemInstruction == nil || got.Body.SystemInstruction.Parts[0].Text != "Answer briefly" {
		t.Fatalf("system_instruction = %+v", got.Body.SystemInstruction)
	}
	if len(got.Body.Contents) != 1 || got.Body.Contents[0].Parts[0].Text != "Hello" {
		t.Fatalf("contents = %+v", got.Body.Contents)
	}
}

func TestCreateCompletion_ChatForwardsFullHistory(t *testing.T) {
	var got capturedRequest
	srv := newUpstream(t, http.StatusOK, okReply, &got)
	a, _ := New(Config{APIKey: "k", Model: "m", BaseURL: srv.URL})

	conv := classify(t,
		openai.NewTextMessage("system", "sys"),
		openai.NewTextMessage("user", "first"),
		openai.NewTextMessage("assistant", "reply"),
		openai.NewTextMessage("user", "second"),
	)
	if _, err := a.CreateCompletion(context.Background(), conv); err != nil {
		t.Fatalf("CreateCompletion: %v", err)
	}
	want := []struct{ role, text string }{{"user", "first"}, {"model", "reply"}, {"user", "second"}}
	if len(got.Body.Contents) != len(want) {
		t.Fatalf("contents len = %d", len(got.Body.Contents))
	}
	for i, w := range want {
		c := got.Body.Contents[i]
		if c.Role != w.role || c.Parts[0].Text != w.text {
			t.Fatalf("contents[%d] = %+v, want %s/%s", i, c, w.role, w.text)
		}
	}
}

func TestCreateCompletion_StructuredContent(t *testing.T) {
	var got capturedRequest
	srv := newUpstream(t, http.StatusOK, okReply, &got)
	a, _ := New(Config{APIKey: "k", Model: "m", BaseURL: srv.URL})

	var req openai.ChatCompletionRequest
	body := `{"messages":[{"role":"system","content":"sys"},{"role":"user","content":[{"type":"text","text":" from parts "}]}]}`
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, err := a.CreateCompletion(context.Background(), classify(t, req.Messages...)); err != nil {
		t.Fatalf("CreateCompletion: %v", err)
	}
	if got.Body.Contents[0].Parts[0].Text != "from parts" {
		t.Fatalf("text = %q", got.Body.Contents[0].Parts[0].Text)
	}
}

func TestCreateCompletion_MissingCandidates(t *testing.T) {
	var got capturedRequest
	srv := newUpstream(t, http.StatusOK, `{"promptFeedback":{"blockReason":"SAFETY"}}`, &got)
	a, _ := New(Config{APIKey: "k", Model: "m", BaseURL: srv.URL})

	_, err := a.CreateCompletion(context.Background(), classify(t,
		openai.NewTextMessage("system", "s"), openai.NewTextMessage("user", "u")))
	if !errors.Is(err, adapter.ErrUpstreamProtocol) {
		t.Fatalf("err = %v, want ErrUpstreamProtocol", err)
	}
	if !strings.Contains(err.Error(), "blockReason") {
		t.Fatalf("error should carry payload detail: %v", err)
	}
}

func TestCreateCompletion_HTTPError(t *testing.T) {
	var got capturedRequest
	srv := newUpstream(t, http.StatusTooManyRequests, `{"error":{"code":429,"message":"quota exhausted","status":"RESOURCE_EXHAUSTED"}}`, &got)
	a, _ := New(Config{APIKey: "k", Model: "m", BaseURL: srv.URL})

	_, err := a.CreateCompletion(context.Background(), classify(t,
		openai.NewTextMessage("system", "s"), openai.NewTextMessage("user", "u")))
	if !errors.Is(err, adapter.ErrUpstreamTransport) {
		t.Fatalf("err = %v, want ErrUpstreamTransport", err)
	}
	var upErr *adapter.UpstreamError
	if !errors.As(err, &upErr) || upErr.Status != http.StatusTooManyRequests {
		t.Fatalf("expected UpstreamError with status 429, got %v", err)
	}
	if !strings.Contains(err.Error(), "quota exhausted") {
		t.Fatalf("error = %v", err)
	}
}

func TestCreateCompletion_TransportErrorRedactsKey(t *testing.T) {
	for _, key := range []string{"top-secret", "k"} {
		a, _ := New(Config{APIKey: key, Model: "m", BaseURL: "http://127.0.0.1:1"})
		_, err := a.CreateCompletion(context.Background(), classify(t,
			openai.NewTextMessage("system", "s"), openai.NewTextMessage("user", "u")))
		if !errors.Is(err, adapter.ErrUpstreamTransport) {
			t.Fatalf("err = %v, want ErrUpstreamTransport", err)
		}
		var uerr *url.Error
		if !errors.As(err, &uerr) {
			t.Fatalf("err = %v, want *url.Error in chain", err)
		}
		msg := err.Error()
		if strings.Contains(msg, "key=") || strings.Contains(msg, "top-secret") {
			t.Fatalf("api key leaked into error: %v", err)
		}
		if !strings.Contains(msg, "http://127.0.0.1:1/v1beta/models/m:generateContent") {
			t.Fatalf("error lost the request URL: %v", err)
		}
	}
}

func TestCreateCompletion_ClientCancelIsNotTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	a, _ := New(Config{APIKey: "k", Model: "m", BaseURL: srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err := a.CreateCompletion(ctx, classify(t,
		openai.NewTextMessage("system", "s"), openai.NewTextMessage("user", "u")))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, adapter.ErrUpstreamTransport) {
		t.Fatalf("cancellation marked as transport failure: %v", err)
	}
	if strings.Contains(err.Error(), "key=") {
		t.Fatalf("api key leaked into error: %v", err)
	}
}

func TestCreateCompletionStream_Synthesized(t *testing.T) {
	var got capturedRequest
	srv := newUpstream(t, http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"one  two three"}]}}]}`, &got)
	a, _ := New(Config{APIKey: "k", Model: "gemini-x", BaseURL: srv.URL})

	ch, err := a.CreateCompletionStream(context.Background(), classify(t,
		openai.NewTextMessage("system", "s"), openai.NewTextMessage("user", "u")))
	if err != nil {
		t.Fatalf("CreateCompletionStream: %v", err)
	}
	var sb strings.Builder
	for ev := range ch {
		if ev.IsError() {
			t.Fatalf("error event: %v", ev.Error)
		}
		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal(ev.Data, &chunk); err != nil {
			t.Fatalf("chunk: %v", err)
		}
		if chunk.Model != "gemini-x" {
			t.Fatalf("model = %q", chunk.Model)
		}
		sb.WriteString(chunk.Choices[0].Delta.Content)
	}
	if sb.String() != "one two three " {
		t.Fatalf("content = %q", sb.String())
	}
	if got.Calls != 1 {
		t.Fatalf("upstream called %d times", got.Calls)
	}
}

func TestCreateCompletionStream_FailsBeforeStreaming(t *testing.T) {
	var got capturedRequest
	srv := newUpstream(t, http.StatusInternalServerError, `boom`, &got)
	a, _ := New(Config{APIKey: "k", Model: "m", BaseURL: srv.URL})

	ch, err := a.CreateCompletionStream(context.Background(), classify(t,
		openai.NewTextMessage("system", "s"), openai.NewTextMessage("user", "u")))
	if err == nil || ch != nil {
		t.Fatalf("expected error before stream, got ch=%v err=%v", ch, err)
	}
}
