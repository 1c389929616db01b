// Package logging configures the process loggers.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Flags is the timestamp layout shared by every relay logger.
const Flags = log.LstdFlags | log.Lmicroseconds

// Options selects where process logs go.
type Options struct {
	// File mirrors output to a size-rotated file when set.
	File       string
	MaxSizeMB  int // default 300
	MaxBackups int // default 7
	// Stdout receives the console copy; os.Stdout when nil.
	Stdout io.Writer
}

// Setup points the standard logger at stdout and, optionally, a rotated file.
// It returns the combined writer and a closer for the file.
func Setup(prefix string, opts Options) (io.Writer, func() error, error) {
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	closer := func() error { return nil }

	target := strings.TrimSpace(opts.File)
	if target != "" {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, nil, err
		}
		if opts.MaxSizeMB <= 0 {
			opts.MaxSizeMB = 300
		}
		if opts.MaxBackups <= 0 {
			opts.MaxBackups = 7
		}
		rot := &lumberjack.Logger{
			Filename:   target,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			LocalTime:  true,
		}
		out = io.MultiWriter(out, rot)
		closer = rot.Close
	}

	log.SetOutput(out)
	log.SetFlags(Flags)
	log.SetPrefix(prefix)
	return out, closer, nil
}

// New returns a component logger writing to w.
func New(w io.Writer, prefix string) *log.Logger {
	return log.New(w, prefix, Flags)
}

// DebugEnabled reports whether level turns on debug output.
func DebugEnabled(level string) bool {
	return strings.EqualFold(strings.TrimSpace(level), "debug")
}
