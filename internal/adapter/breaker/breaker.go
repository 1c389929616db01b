// Package breaker guards a provider client with a circuit breaker so a failing
// upstream is rejected fast instead of being hammered by every request.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tokligence/chat-relay/internal/adapter"
	"github.com/tokligence/chat-relay/internal/conversation"
	"github.com/tokligence/chat-relay/internal/metrics"
	"github.com/tokligence/chat-relay/internal/stream"
)

// Ensure Adapter implements ChatAdapter.
var _ adapter.ChatAdapter = (*Adapter)(nil)

// Config controls when the breaker trips and how long it stays open.
type Config struct {
	// Failures is the number of consecutive upstream failures that opens the breaker.
	Failures uint32
	// Cooldown is how long the breaker stays open before a trial request.
	Cooldown time.Duration
	Logger   *log.Logger
}

// Adapter decorates a ChatAdapter. Only upstream failures count against the
// breaker; client cancellations do not. For streams only the opening call is
// guarded, since chunks already sent cannot be retracted.
type Adapter struct {
	next   adapter.ChatAdapter
	cb     *gobreaker.CircuitBreaker
	logger *log.Logger
}

// Wrap returns next guarded by a breaker named after the provider.
func Wrap(next adapter.ChatAdapter, cfg Config) *Adapter {
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	a := &Adapter{next: next, logger: logger}
	name := next.Name()
	a.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("circuit breaker %s: %s -> %s", name, from, to)
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	metrics.BreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))
	return a
}

// isSuccessful reports whether err should leave the breaker's failure count alone.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return !errors.Is(err, adapter.ErrUpstreamTransport) && !errors.Is(err, adapter.ErrUpstreamProtocol)
}

func (a *Adapter) Name() string  { return a.next.Name() }
func (a *Adapter) Model() string { return a.next.Model() }

// State exposes the breaker state for health reporting.
func (a *Adapter) State() gobreaker.State { return a.cb.State() }

// Unwrap returns the guarded provider client.
func (a *Adapter) Unwrap() adapter.ChatAdapter { return a.next }

func (a *Adapter) CreateCompletion(ctx context.Context, conv conversation.Conversation) (string, error) {
	out, err := a.cb.Execute(func() (any, error) {
		return a.next.CreateCompletion(ctx, conv)
	})
	if err != nil {
		return "", a.wrapErr(err)
	}
	return out.(string), nil
}

func (a *Adapter) CreateCompletionStream(ctx context.Context, conv conversation.Conversation) (<-chan stream.Event, error) {
	out, err := a.cb.Execute(func() (any, error) {
		return a.next.CreateCompletionStream(ctx, conv)
	})
	if err != nil {
		return nil, a.wrapErr(err)
	}
	return out.(<-chan stream.Event), nil
}

func (a *Adapter) wrapErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w: %v", a.next.Name(), adapter.ErrUpstreamTransport, err)
	}
	return err
}
