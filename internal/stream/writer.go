package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/tidwall/sjson"
)

// DoneLine terminates every stream.
const DoneLine = "data: [DONE]\n\n"

// ErrStreamClosed is returned for writes after the terminator was sent.
var ErrStreamClosed = errors.New("stream already terminated")

// Writer emits data: lines on an HTTP response and guarantees a single
// terminator. It is safe for use by one producer at a time.
type Writer struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu     sync.Mutex
	opened bool
	done   bool
}

// NewWriter wraps w. Headers are sent with the first write.
func NewWriter(w http.ResponseWriter) *Writer {
	return &Writer{w: w, rc: http.NewResponseController(w)}
}

func (s *Writer) open() {
	if s.opened {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.opened = true
}

func (s *Writer) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// WriteData sends one data: line carrying payload.
func (s *Writer) WriteData(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ErrStreamClosed
	}
	s.open()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	return s.flush()
}

// WriteError sends an inline error chunk.
func (s *Writer) WriteError(message string) error {
	payload, err := sjson.SetBytes([]byte(`{}`), "error.message", message)
	if err != nil {
		return err
	}
	return s.WriteData(payload)
}

// Done writes the terminator once; later calls are no-ops.
func (s *Writer) Done() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.open()
	s.done = true
	if _, err := fmt.Fprint(s.w, DoneLine); err != nil {
		return fmt.Errorf("write terminator: %w", err)
	}
	return s.flush()
}

// Result summarizes a forwarded stream.
type Result struct {
	Chunks int
	// UpstreamErr is the provider failure reported inline, if any.
	UpstreamErr error
}

// Forward copies events to the writer until the channel closes, an upstream
// error arrives, or ctx is done. An upstream error becomes an inline error chunk.
// The terminator is written in every case except a failed client write, which is
// returned so the caller can stop.
func Forward(ctx context.Context, w *Writer, events <-chan Event, observe func(Event)) (Result, error) {
	var res Result
	for {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if err := ctx.Err(); err != nil {
					return res, err
				}
				return res, w.Done()
			}
			if observe != nil {
				observe(ev)
			}
			if ev.IsError() {
				res.UpstreamErr = ev.Error
				if err := w.WriteError(ev.Error.Error()); err != nil {
					return res, err
				}
				return res, w.Done()
			}
			if err := w.WriteData(ev.Data); err != nil {
				return res, err
			}
			res.Chunks++
		}
	}
}
