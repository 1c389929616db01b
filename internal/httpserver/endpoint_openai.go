package httpserver

import (
	"net/http"

	"github.com/tokligence/chat-relay/internal/httpserver/protocol"
)

type openaiEndpoint struct {
	server *Server
}

func newOpenAIEndpoint(server *Server) protocol.Endpoint {
	return &openaiEndpoint{server: server}
}

func (e *openaiEndpoint) Name() string { return "openai_chat" }

// Routes serves the bare path and the /v1 alias used by OpenAI SDK base URLs.
func (e *openaiEndpoint) Routes() []protocol.EndpointRoute {
	handler := http.HandlerFunc(e.server.HandleChatCompletions)
	return []protocol.EndpointRoute{
		{Method: http.MethodPost, Path: "/chat/completions", Handler: handler},
		{Method: http.MethodPost, Path: "/v1/chat/completions", Handler: handler},
	}
}
