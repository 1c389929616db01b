package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tokligence/chat-relay/internal/adapter"
	"github.com/tokligence/chat-relay/internal/conversation"
	"github.com/tokligence/chat-relay/internal/metrics"
	"github.com/tokligence/chat-relay/internal/openai"
	"github.com/tokligence/chat-relay/internal/stream"
)

// Ensure OpenAIAdapter implements ChatAdapter.
var _ adapter.ChatAdapter = (*OpenAIAdapter)(nil)

const (
	// DefaultOpenAIBaseURL is used when the provider is "openai" and no base URL is configured.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	// DefaultOpenRouterBaseURL is used when the provider is "openrouter" and no base URL is configured.
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

	maxStreamLine = 4 << 20
)

// OpenAIAdapter talks to any OpenAI-compatible chat completions API,
// OpenRouter included. Messages are forwarded verbatim and streamed chunks
// are relayed without re-encoding.
type OpenAIAdapter struct {
	provider   string
	apiKey     string
	model      string
	baseURL    string
	referer    string
	title      string
	httpClient *http.Client
	logger     *log.Logger
}

// Config holds configuration for the OpenAI-compatible adapter.
type Config struct {
	// Provider names the upstream in logs and metrics: "openai" or "openrouter".
	Provider string
	APIKey   string
	Model    string
	BaseURL  string // optional, defaults per provider
	// Referer and Title populate OpenRouter's attribution headers when set.
	Referer        string
	Title          string
	RequestTimeout time.Duration
	HTTPClient     *http.Client // optional
	Logger         *log.Logger  // optional
}

// New creates an OpenAIAdapter instance.
func New(cfg Config) (*OpenAIAdapter, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "openai"
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api key required", provider)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%s: model name required", provider)
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
		if provider == "openrouter" {
			baseURL = DefaultOpenRouterBaseURL
		}
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	return &OpenAIAdapter{
		provider:   provider,
		apiKey:     cfg.APIKey,
		model:      strings.TrimSpace(cfg.Model),
		baseURL:    baseURL,
		referer:    strings.TrimSpace(cfg.Referer),
		title:      strings.TrimSpace(cfg.Title),
		httpClient: client,
		logger:     logger,
	}, nil
}

func (a *OpenAIAdapter) Name() string  { return a.provider }
func (a *OpenAIAdapter) Model() string { return a.model }

// BaseURL returns the API root requests are sent to.
func (a *OpenAIAdapter) BaseURL() string { return a.baseURL }

// CreateCompletion sends the full message list and returns choices[0].message.content.
func (a *OpenAIAdapter) CreateCompletion(ctx context.Context, conv conversation.Conversation) (string, error) {
	resp, err := a.send(ctx, conv, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%s: %w: read response: %w", a.provider, adapter.ErrUpstreamTransport, err)
	}
	return a.parseResponse(body)
}

func (a *OpenAIAdapter) parseResponse(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("%s: %w: response is not JSON: %s", a.provider, adapter.ErrUpstreamProtocol, adapter.PreviewBytes(body, 512))
	}
	root := gjson.ParseBytes(body)
	if !root.Get("choices.0").Exists() {
		return "", fmt.Errorf("%s: %w: missing choices: %s", a.provider, adapter.ErrUpstreamProtocol, adapter.PreviewBytes(body, 512))
	}
	content := root.Get("choices.0.message.content")
	if !content.Exists() {
		return "", fmt.Errorf("%s: %w: missing choices[0].message.content: %s", a.provider, adapter.ErrUpstreamProtocol, adapter.PreviewBytes(body, 512))
	}
	return content.String(), nil
}

// CreateCompletionStream opens an upstream stream and relays each data: payload.
// Lines whose payload is not JSON are logged and skipped. The channel closes on
// [DONE], at end of body, or when ctx is done. A read failure, or a body with no
// data: lines at all, arrives as a final error event.
func (a *OpenAIAdapter) CreateCompletionStream(ctx context.Context, conv conversation.Conversation) (<-chan stream.Event, error) {
	resp, err := a.send(ctx, conv, true)
	if err != nil {
		return nil, err
	}

	out := make(chan stream.Event, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		var (
			sawData bool
			skipped []byte
		)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				if !sawData && len(skipped) < 512 && line != "" {
					skipped = append(skipped, line...)
				}
				continue
			}
			sawData = true
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			if payload == "[DONE]" {
				return
			}
			if !gjson.Valid(payload) {
				a.logger.Printf("WARN %s: skipping malformed stream line: %s", a.provider, adapter.PreviewBytes([]byte(payload), 200))
				metrics.MalformedStreamLines.WithLabelValues(a.provider).Inc()
				continue
			}
			select {
			case out <- stream.Event{Data: []byte(payload)}:
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		var streamErr error
		switch err := scanner.Err(); {
		case err != nil:
			streamErr = fmt.Errorf("%s: %w: read stream: %w", a.provider, adapter.ErrUpstreamTransport, err)
		case !sawData:
			streamErr = fmt.Errorf("%s: %w: response is not an event stream: %s", a.provider, adapter.ErrUpstreamProtocol, adapter.PreviewBytes(skipped, 512))
		default:
			return
		}
		select {
		case out <- stream.Event{Error: streamErr}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// send posts the conversation and returns the response when the status is 2xx.
func (a *OpenAIAdapter) send(ctx context.Context, conv conversation.Conversation, streaming bool) (*http.Response, error) {
	body, err := json.Marshal(openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: conv.Messages,
		Stream:   streaming,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", a.provider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", a.provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	if streaming {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if a.referer != "" {
		httpReq.Header.Set("HTTP-Referer", a.referer)
	}
	if a.title != "" {
		httpReq.Header.Set("X-Title", a.title)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w: %w", a.provider, adapter.ErrUpstreamTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &adapter.UpstreamError{Provider: a.provider, Status: resp.StatusCode, Message: errorMessage(respBody)}
	}
	return resp, nil
}

// errorMessage prefers the OpenAI error envelope and falls back to the raw body.
func errorMessage(body []byte) string {
	root := gjson.ParseBytes(body)
	if msg := root.Get("error.message"); msg.Exists() && msg.String() != "" {
		parts := []string{msg.String()}
		if typ := root.Get("error.type").String(); typ != "" {
			parts = append(parts, "type="+typ)
		}
		if code := root.Get("error.code").String(); code != "" {
			parts = append(parts, "code="+code)
		}
		if len(parts) == 1 {
			return parts[0]
		}
		return fmt.Sprintf("%s (%s)", parts[0], strings.Join(parts[1:], ", "))
	}
	return adapter.PreviewBytes(body, 512)
}
