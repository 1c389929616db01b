package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tokligence/chat-relay/internal/adapter"
	"github.com/tokligence/chat-relay/internal/metrics"
	"github.com/tokligence/chat-relay/internal/stream"
)

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
			t.Errorf("Accept header = %q, want text/event-stream", accept)
		}
		raw, _ := io.ReadAll(r.Body)
		if !bytes.Contains(raw, []byte(`"stream":true`)) {
			t.Errorf("request did not ask for a stream: %s", raw)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func collect(t *testing.T, ch <-chan stream.Event) (payloads []string, errs []error) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return payloads, errs
			}
			if ev.IsError() {
				errs = append(errs, ev.Error)
				continue
			}
			payloads = append(payloads, string(ev.Data))
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

const (
	chunkHello = `{"id":"gen-1","object":"chat.completion.chunk","created":1234567890,"model":"meta/llama","choices":[{"index":0,"delta":{"content":"Hello"},"finish_reason":null}]}`
	chunkWorld = `{"id":"gen-1","object":"chat.completion.chunk","created":1234567890,"model":"meta/llama","choices":[{"index":0,"delta":{"content":" world"},"finish_reason":"stop"}]}`
)

func TestCreateCompletionStream_PassesChunksThroughVerbatim(t *testing.T) {
	server := sseServer(t,
		": OPENROUTER PROCESSING",
		"data: "+chunkHello,
		"data: "+chunkWorld,
		"data: [DONE]",
		"data: "+chunkHello,
	)

	a, err := New(Config{Provider: "openrouter", APIKey: "sk-or", Model: "meta/llama", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ch, err := a.CreateCompletionStream(context.Background(), mustClassify(t, twoMessages))
	if err != nil {
		t.Fatalf("CreateCompletionStream() error = %v", err)
	}

	payloads, errs := collect(t, ch)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	want := []string{chunkHello, chunkWorld}
	if len(payloads) != len(want) {
		t.Fatalf("got %d payloads, want %d: %v", len(payloads), len(want), payloads)
	}
	for i := range want {
		if payloads[i] != want[i] {
			t.Errorf("payload %d = %s, want %s", i, payloads[i], want[i])
		}
	}
}

func TestCreateCompletionStream_SkipsMalformedLines(t *testing.T) {
	server := sseServer(t,
		"data: "+chunkHello,
		"data: {invalid json}",
		"data: "+chunkWorld,
	)

	var logBuf bytes.Buffer
	a, _ := New(Config{
		Provider: "openrouter",
		APIKey:   "k",
		Model:    "m",
		BaseURL:  server.URL,
		Logger:   log.New(&logBuf, "", 0),
	})
	before := testutil.ToFloat64(metrics.MalformedStreamLines.WithLabelValues("openrouter"))

	ch, err := a.CreateCompletionStream(context.Background(), mustClassify(t, twoMessages))
	if err != nil {
		t.Fatalf("CreateCompletionStream() error = %v", err)
	}
	payloads, errs := collect(t, ch)
	if len(errs) != 0 {
		t.Fatalf("malformed line must not fail the stream: %v", errs)
	}
	if len(payloads) != 2 || payloads[0] != chunkHello || payloads[1] != chunkWorld {
		t.Fatalf("payloads = %v", payloads)
	}
	if !strings.Contains(logBuf.String(), "skipping malformed stream line") {
		t.Fatalf("expected warning in log, got %q", logBuf.String())
	}
	if got := testutil.ToFloat64(metrics.MalformedStreamLines.WithLabelValues("openrouter")); got-before != 1 {
		t.Fatalf("malformed counter delta = %v", got-before)
	}
}

func TestCreateCompletionStream_EndOfBodyWithoutDone(t *testing.T) {
	server := sseServer(t, "data: "+chunkHello)
	a, _ := New(Config{APIKey: "k", Model: "m", BaseURL: server.URL})

	ch, err := a.CreateCompletionStream(context.Background(), mustClassify(t, twoMessages))
	if err != nil {
		t.Fatalf("CreateCompletionStream() error = %v", err)
	}
	payloads, errs := collect(t, ch)
	if len(errs) != 0 || len(payloads) != 1 {
		t.Fatalf("payloads=%v errs=%v", payloads, errs)
	}
}

func TestCreateCompletionStream_ErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid API key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer server.Close()

	a, _ := New(Config{APIKey: "k", Model: "m", BaseURL: server.URL})
	ch, err := a.CreateCompletionStream(context.Background(), mustClassify(t, twoMessages))
	if err == nil || ch != nil {
		t.Fatalf("expected error before streaming, got ch=%v err=%v", ch, err)
	}
	if !errors.Is(err, adapter.ErrUpstreamTransport) {
		t.Fatalf("error = %v, want ErrUpstreamTransport", err)
	}
	if !strings.Contains(err.Error(), "Invalid API key") || !strings.Contains(err.Error(), "code=invalid_api_key") {
		t.Fatalf("error = %v", err)
	}
}

func TestCreateCompletionStream_ContextCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", chunkHello)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	a, _ := New(Config{APIKey: "k", Model: "m", BaseURL: server.URL})
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := a.CreateCompletionStream(ctx, mustClassify(t, twoMessages))
	if err != nil {
		t.Fatalf("CreateCompletionStream() error = %v", err)
	}
	first := <-ch
	if first.IsError() || string(first.Data) != chunkHello {
		t.Fatalf("first event = %+v", first)
	}
	cancel()

	payloads, errs := collect(t, ch)
	if len(payloads) != 0 || len(errs) != 0 {
		t.Fatalf("expected a quiet close after cancellation, got payloads=%v errs=%v", payloads, errs)
	}
}

func TestCreateCompletionStream_PlainJSONBodyIsProtocolError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"not streamed"}}]}`)
	}))
	defer server.Close()

	a, _ := New(Config{APIKey: "k", Model: "m", BaseURL: server.URL})
	ch, err := a.CreateCompletionStream(context.Background(), mustClassify(t, twoMessages))
	if err != nil {
		t.Fatalf("CreateCompletionStream() error = %v", err)
	}
	payloads, errs := collect(t, ch)
	if len(payloads) != 0 || len(errs) != 1 {
		t.Fatalf("payloads=%v errs=%v", payloads, errs)
	}
	if !errors.Is(errs[0], adapter.ErrUpstreamProtocol) {
		t.Fatalf("error = %v, want ErrUpstreamProtocol", errs[0])
	}
	if !strings.Contains(errs[0].Error(), "not streamed") {
		t.Fatalf("error = %v, want body preview", errs[0])
	}
}
