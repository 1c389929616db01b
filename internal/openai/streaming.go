package openai

// ChunkObject is the object tag carried by every streamed chunk.
const ChunkObject = "chat.completion.chunk"

// ChatCompletionChunk represents a chunk in SSE streaming response.
type ChatCompletionChunk struct {
	ID      string                      `json:"id"`
	Object  string                      `json:"object"`
	Created int64                       `json:"created"`
	Model   string                      `json:"model"`
	Choices []ChatCompletionChunkChoice `json:"choices"`
}

// ChatCompletionChunkChoice represents a choice in a streaming chunk.
type ChatCompletionChunkChoice struct {
	Delta        ChatMessageDelta `json:"delta"`
	Index        int              `json:"index"`
	FinishReason *string          `json:"finish_reason"`
}

// ChatMessageDelta represents the incremental content in a stream chunk.
type ChatMessageDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// NewContentChunk builds a single-choice chunk carrying content.
func NewContentChunk(id, model string, created int64, content string) ChatCompletionChunk {
	return ChatCompletionChunk{
		ID:      id,
		Object:  ChunkObject,
		Created: created,
		Model:   model,
		Choices: []ChatCompletionChunkChoice{{
			Delta: ChatMessageDelta{Content: content},
			Index: 0,
		}},
	}
}
