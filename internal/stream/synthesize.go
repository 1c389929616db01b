// Package stream produces OpenAI-style server-sent event sequences, either by
// relaying a provider's own chunks or by synthesizing them from a completed text.
package stream

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tokligence/chat-relay/internal/openai"
)

// Event is one SSE payload travelling from a provider client to the writer.
type Event struct {
	Data  []byte // JSON payload of a single data: line
	Error error
}

// IsError checks if this event carries an upstream failure.
func (e Event) IsError() bool {
	return e.Error != nil
}

// Chunk is a unit of synthesized output.
type Chunk struct {
	Text string
}

// Split tokenizes text on whitespace. Each token keeps one trailing space, so
// concatenating the chunks reproduces the words in order with runs collapsed.
func Split(text string) []Chunk {
	fields := strings.Fields(text)
	chunks := make([]Chunk, len(fields))
	for i, f := range fields {
		chunks[i] = Chunk{Text: f + " "}
	}
	return chunks
}

// NewID returns a chunk id in OpenAI's chatcmpl- format.
func NewID() string {
	return "chatcmpl-" + uuid.NewString()
}

// Encode renders a chunk as an OpenAI chat.completion.chunk payload stamped with
// the current time.
func Encode(id, model string, c Chunk) ([]byte, error) {
	return json.Marshal(openai.NewContentChunk(id, model, time.Now().Unix(), c.Text))
}

// Synthesize streams a completed text as one chunk per token. The channel is
// closed after the last token or as soon as ctx is done.
func Synthesize(ctx context.Context, model, text string) <-chan Event {
	chunks := Split(text)
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		id := NewID()
		for _, c := range chunks {
			data, err := Encode(id, model, c)
			ev := Event{Data: data}
			if err != nil {
				ev = Event{Error: err}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}
