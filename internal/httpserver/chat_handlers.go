package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/tokligence/chat-relay/internal/conversation"
	"github.com/tokligence/chat-relay/internal/exchangelog"
	"github.com/tokligence/chat-relay/internal/metrics"
	"github.com/tokligence/chat-relay/internal/openai"
	"github.com/tokligence/chat-relay/internal/stream"
)

// Completion outcomes used as metric labels.
const (
	outcomeOK            = "ok"
	outcomeInvalid       = "invalid"
	outcomeUpstreamError = "upstream_error"
	outcomeClientGone    = "client_gone"
)

// exchange carries the per-request values shared by the side log and metrics.
type exchange struct {
	requestID string
	provider  string
	conv      conversation.Conversation
	stream    bool
}

func (e exchange) entry(kind exchangelog.Kind, body string) exchangelog.Entry {
	return exchangelog.Entry{
		RequestID:   e.requestID,
		Kind:        kind,
		Provider:    e.provider,
		Mode:        e.conv.Mode.String(),
		Stream:      e.stream,
		Instruction: e.conv.SystemInstruction,
		Body:        body,
	}
}

func (e exchange) count(outcome string) {
	metrics.CompletionsTotal.WithLabelValues(e.provider, e.conv.Mode.String(), strconv.FormatBool(e.stream), outcome).Inc()
}

// HandleChatCompletions is the public entry point registered on the router.
func (s *Server) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	reqStart := time.Now()
	provider := s.adapter.Name()

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("read request body: %w", err))
		return
	}
	var req openai.ChatCompletionRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		metrics.CompletionsTotal.WithLabelValues(provider, "unknown", "false", outcomeInvalid).Inc()
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return
	}

	conv, err := conversation.Classify(req.Messages)
	if err != nil {
		metrics.CompletionsTotal.WithLabelValues(provider, "unknown", strconv.FormatBool(req.Stream), outcomeInvalid).Inc()
		status := http.StatusInternalServerError
		if errors.Is(err, conversation.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		s.respondError(w, status, err)
		return
	}

	ex := exchange{
		requestID: requestID(r),
		provider:  provider,
		conv:      conv,
		stream:    req.Stream,
	}
	reqEntry := ex.entry(exchangelog.KindRequest, string(bodyBytes))
	reqEntry.RemoteAddr = r.RemoteAddr
	s.recorder.Record(r.Context(), reqEntry)
	s.debugf("chat.completions request_id=%s provider=%s mode=%s stream=%t messages=%d", ex.requestID, provider, conv.Mode, req.Stream, len(req.Messages))

	if req.Stream {
		s.handleChatStream(w, r, reqStart, ex)
		return
	}

	upstreamStart := time.Now()
	text, err := s.adapter.CreateCompletion(r.Context(), conv)
	upstreamDur := time.Since(upstreamStart)
	metrics.ProviderLatency.WithLabelValues(provider, s.adapter.Model()).Observe(upstreamDur.Seconds())
	if err != nil {
		s.failExchange(r.Context(), ex, err)
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	s.respondJSON(w, http.StatusOK, openai.NewCompletionResponse(text))
	ex.count(outcomeOK)
	s.recorder.Record(r.Context(), ex.entry(exchangelog.KindResponse, text))
	if s.logger != nil {
		s.logger.Printf("chat.completions total_ms=%d upstream_ms=%d provider=%s mode=%s", time.Since(reqStart).Milliseconds(), upstreamDur.Milliseconds(), provider, conv.Mode)
	}
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request, reqStart time.Time, ex exchange) {
	ctx := r.Context()
	events, err := s.adapter.CreateCompletionStream(ctx, ex.conv)
	if err != nil {
		s.failExchange(ctx, ex, err)
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	done := metrics.TrackStream()
	defer done()

	var text strings.Builder
	chunks := metrics.StreamChunksTotal.WithLabelValues(ex.provider)
	res, err := stream.Forward(ctx, stream.NewWriter(w), events, func(ev stream.Event) {
		if ev.IsError() {
			return
		}
		chunks.Inc()
		text.WriteString(gjson.GetBytes(ev.Data, "choices.0.delta.content").String())
	})
	metrics.ProviderLatency.WithLabelValues(ex.provider, s.adapter.Model()).Observe(time.Since(reqStart).Seconds())

	switch {
	case err != nil:
		ex.count(outcomeClientGone)
		s.debugf("chat.completions stream request_id=%s stopped after %d chunks: %v", ex.requestID, res.Chunks, err)
		s.recorder.Record(ctx, ex.entry(exchangelog.KindError, "client disconnected: "+err.Error()))
	case res.UpstreamErr != nil:
		s.failExchange(ctx, ex, res.UpstreamErr)
	default:
		ex.count(outcomeOK)
		s.recorder.Record(ctx, ex.entry(exchangelog.KindResponse, text.String()))
	}
	if s.logger != nil {
		s.logger.Printf("chat.completions stream total_ms=%d chunks=%d provider=%s mode=%s", time.Since(reqStart).Milliseconds(), res.Chunks, ex.provider, ex.conv.Mode)
	}
}

// failExchange logs, counts and side-logs a provider failure.
func (s *Server) failExchange(ctx context.Context, ex exchange, err error) {
	outcome := outcomeUpstreamError
	if errors.Is(err, context.Canceled) {
		outcome = outcomeClientGone
	}
	ex.count(outcome)
	if s.logger != nil {
		s.logger.Printf("chat.completions request_id=%s provider=%s failed: %v", ex.requestID, ex.provider, err)
	}
	s.recorder.Record(ctx, ex.entry(exchangelog.KindError, err.Error()))
}

func requestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}
