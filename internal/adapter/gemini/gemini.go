package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tokligence/chat-relay/internal/adapter"
	"github.com/tokligence/chat-relay/internal/conversation"
	"github.com/tokligence/chat-relay/internal/openai"
	"github.com/tokligence/chat-relay/internal/stream"
)

// Ensure GeminiAdapter implements ChatAdapter.
var _ adapter.ChatAdapter = (*GeminiAdapter)(nil)

// GeminiAdapter calls Google's generateContent endpoint.
// Gemini is not streamed here; streaming responses are synthesized from the completed text.
type GeminiAdapter struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// Config holds configuration for the Gemini adapter.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // optional, defaults to https://generativelanguage.googleapis.com
	// RequestTimeout bounds a whole upstream call; zero leaves only transport defaults.
	RequestTimeout time.Duration
	HTTPClient     *http.Client // optional
}

// New creates a GeminiAdapter instance.
func New(cfg Config) (*GeminiAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("gemini: model name required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}

	return &GeminiAdapter{
		apiKey:     cfg.APIKey,
		model:      strings.TrimSpace(cfg.Model),
		baseURL:    baseURL,
		httpClient: client,
	}, nil
}

func (a *GeminiAdapter) Name() string  { return "gemini" }
func (a *GeminiAdapter) Model() string { return a.model }

// BaseURL returns the API root requests are sent to.
func (a *GeminiAdapter) BaseURL() string { return a.baseURL }

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	SystemInstruction *content  `json:"system_instruction,omitempty"`
	Contents          []content `json:"contents"`
}

// BuildRequest maps a conversation onto Gemini's contents/system_instruction payload.
func BuildRequest(conv conversation.Conversation) ([]byte, error) {
	req := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: conv.SystemInstruction}}},
	}
	switch conv.Mode {
	case conversation.SinglePrompt:
		req.Contents = []content{{Role: "user", Parts: []part{{Text: conv.Prompt()}}}}
	default:
		req.Contents = make([]content, 0, len(conv.History))
		for _, m := range conv.History {
			req.Contents = append(req.Contents, content{
				Role:  mapRole(m),
				Parts: []part{{Text: m.Content.Text()}},
			})
		}
	}
	return json.Marshal(req)
}

func mapRole(m openai.ChatMessage) string {
	if m.IsRole(openai.RoleUser) {
		return "user"
	}
	return "model"
}

// CreateCompletion sends the conversation to generateContent and returns the first candidate's text.
func (a *GeminiAdapter) CreateCompletion(ctx context.Context, conv conversation.Conversation) (string, error) {
	body, err := BuildRequest(conv)
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}
	respBody, err := a.generateContent(ctx, body)
	if err != nil {
		return "", err
	}
	return ParseResponse(respBody)
}

// CreateCompletionStream completes the call up front and replays the text as
// synthesized chunks. Provider failures surface before any chunk is produced.
func (a *GeminiAdapter) CreateCompletionStream(ctx context.Context, conv conversation.Conversation) (<-chan stream.Event, error) {
	text, err := a.CreateCompletion(ctx, conv)
	if err != nil {
		return nil, err
	}
	return stream.Synthesize(ctx, a.model, text), nil
}

// ParseResponse extracts candidates[0].content.parts[0].text.
func ParseResponse(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("gemini: %w: response is not JSON: %s", adapter.ErrUpstreamProtocol, adapter.PreviewBytes(body, 512))
	}
	root := gjson.ParseBytes(body)
	if !root.Get("candidates").Exists() {
		return "", fmt.Errorf("gemini: %w: missing candidates: %s", adapter.ErrUpstreamProtocol, adapter.PreviewBytes(body, 512))
	}
	text := root.Get("candidates.0.content.parts.0.text")
	if !text.Exists() {
		return "", fmt.Errorf("gemini: %w: missing candidates[0].content.parts[0].text: %s", adapter.ErrUpstreamProtocol, adapter.PreviewBytes(body, 512))
	}
	return text.String(), nil
}

func (a *GeminiAdapter) generateContent(ctx context.Context, reqBody []byte) ([]byte, error) {
	// Build URL: /v1beta/{model=models/*}:generateContent
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", a.baseURL, url.PathEscape(a.model), url.QueryEscape(a.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, redactKey(err)
		}
		return nil, fmt.Errorf("gemini: %w: %w", adapter.ErrUpstreamTransport, redactKey(err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("gemini: %w: read response: %w", adapter.ErrUpstreamTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp struct {
			Error struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
				Status  string `json:"status"`
			} `json:"error"`
		}
		msg := adapter.PreviewBytes(respBody, 512)
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			msg = fmt.Sprintf("%s (status=%s)", errResp.Error.Message, errResp.Error.Status)
		}
		return nil, &adapter.UpstreamError{Provider: "gemini", Status: resp.StatusCode, Message: msg}
	}

	return respBody, nil
}

// redactKey drops the query string, which carries the API key, from the
// URL of a transport error.
func redactKey(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	redacted := "REDACTED"
	if u, perr := url.Parse(uerr.URL); perr == nil {
		u.RawQuery = ""
		redacted = u.String()
	}
	return &url.Error{Op: uerr.Op, URL: redacted, Err: uerr.Err}
}
