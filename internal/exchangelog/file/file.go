// Package file writes the exchange log as two human-readable text files.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tokligence/chat-relay/internal/exchangelog"
)

const (
	// RequestsFile receives one block per inbound request.
	RequestsFile = "post_requests.log"
	// ResponsesFile receives one block per answer or error.
	ResponsesFile = "ai_response.log"

	timestampLayout = "2006-01-02 15:04:05"
)

// Config controls rotation of both files.
type Config struct {
	Dir        string
	MaxSizeMB  int // default 50
	MaxBackups int // default 5
	MaxAgeDays int // 0 keeps backups forever
	Compress   bool
}

// Store implements exchangelog.Store on rotated text files.
type Store struct {
	mu        sync.Mutex
	requests  io.WriteCloser
	responses io.WriteCloser
}

// New creates the log directory and opens both files lazily through lumberjack.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		cfg.Dir = "logs"
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create exchange log directory: %w", err)
	}
	open := func(name string) *lumberjack.Logger {
		return &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, name),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
	}
	return &Store{requests: open(RequestsFile), responses: open(ResponsesFile)}, nil
}

// Record appends a timestamped block to the file matching the entry kind.
func (s *Store) Record(ctx context.Context, e exchangelog.Entry) error {
	if err := e.Check(); err != nil {
		return err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "=== %s ===\n", e.CreatedAt.Local().Format(timestampLayout))

	dst := s.responses
	switch e.Kind {
	case exchangelog.KindRequest:
		dst = s.requests
		fmt.Fprintf(&buf, "IP: %s\n", e.RemoteAddr)
		fmt.Fprintf(&buf, "Request ID: %s\n", e.RequestID)
		buf.WriteString(indentJSON(e.Body))
		buf.WriteString("\n\n")
	case exchangelog.KindResponse:
		fmt.Fprintf(&buf, "Request ID: %s (%s, %s)\n", e.RequestID, e.Provider, e.Mode)
		fmt.Fprintf(&buf, "Instruction: %s\n", e.Instruction)
		fmt.Fprintf(&buf, "Response: %s\n\n", e.Body)
	case exchangelog.KindError:
		fmt.Fprintf(&buf, "Request ID: %s (%s, %s)\n", e.RequestID, e.Provider, e.Mode)
		fmt.Fprintf(&buf, "Error: %s\n\n", e.Body)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := dst.Write(buf.Bytes())
	return err
}

func indentJSON(body string) string {
	var out bytes.Buffer
	if err := json.Indent(&out, []byte(body), "", "  "); err != nil {
		return body
	}
	return out.String()
}

// Close closes both files.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.requests.Close(), s.responses.Close())
}
