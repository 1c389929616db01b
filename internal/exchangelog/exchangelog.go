// Package exchangelog records inbound requests and the answers sent back for
// them. Writing is best effort: a failing sink never changes a response.
package exchangelog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/tokligence/chat-relay/internal/metrics"
)

// Kind tells a request entry apart from the outcome written for it.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindError    Kind = "error"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindRequest, KindResponse, KindError:
		return true
	}
	return false
}

// Entry is one side-log record.
type Entry struct {
	ID         int64  `json:"id"`
	RequestID  string `json:"request_id"`
	Kind       Kind   `json:"kind"`
	Provider   string `json:"provider"`
	Mode       string `json:"mode"`
	Stream     bool   `json:"stream"`
	RemoteAddr string `json:"remote_addr,omitempty"`

	// Instruction is the system instruction the response was produced under.
	Instruction string    `json:"instruction,omitempty"`
	// Body is the raw request JSON, the response text, or the error message.
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// Check validates the fields every sink relies on.
func (e Entry) Check() error {
	if e.RequestID == "" {
		return errors.New("exchange log entry requires request id")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("invalid entry kind %q", e.Kind)
	}
	return nil
}

// Store defines persistence behaviour for the side log.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Close() error
}

// Recorder is the handler-facing front of a Store. A nil Recorder, or one
// without a store, discards everything.
type Recorder struct {
	store  Store
	sink   string
	logger *log.Logger
}

// NewRecorder wraps store. sink labels metrics ("file", "sqlite", ...).
func NewRecorder(store Store, sink string, logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Recorder{store: store, sink: sink, logger: logger}
}

// Enabled reports whether entries are written anywhere.
func (r *Recorder) Enabled() bool {
	return r != nil && r.store != nil
}

// Record stamps and stores e. Failures are logged and counted, never returned.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if !r.Enabled() {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := r.store.Record(context.WithoutCancel(ctx), e); err != nil {
		r.logger.Printf("exchange log (%s): %v", r.sink, err)
		metrics.ExchangeLogWrites.WithLabelValues(r.sink, "error").Inc()
		return
	}
	metrics.ExchangeLogWrites.WithLabelValues(r.sink, "ok").Inc()
}

// Close flushes and closes the underlying store.
func (r *Recorder) Close() error {
	if !r.Enabled() {
		return nil
	}
	return r.store.Close()
}
