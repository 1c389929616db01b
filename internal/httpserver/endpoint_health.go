package httpserver

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tokligence/chat-relay/internal/health"
	"github.com/tokligence/chat-relay/internal/httpserver/protocol"
)

type healthEndpoint struct {
	server *Server
}

func newHealthEndpoint(server *Server) protocol.Endpoint {
	return &healthEndpoint{server: server}
}

func (e *healthEndpoint) Name() string { return "health" }

func (e *healthEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/health", Handler: http.HandlerFunc(e.server.HandleHealth)},
		{Method: http.MethodGet, Path: "/health/ready", Handler: http.HandlerFunc(e.server.HandleReady)},
	}
}

// HandleHealth reports liveness and the provider the relay is bound to.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":   "ok",
		"time":     time.Now().UTC().Format(time.RFC3339),
		"provider": s.adapter.Name(),
		"model":    s.adapter.Model(),
	}
	if br, ok := s.adapter.(breakerReporter); ok {
		payload["breaker"] = br.State().String()
	}
	s.respondJSON(w, http.StatusOK, payload)
}

// HandleReady checks the exchange log database and the provider endpoint.
// Only an unreachable database makes the relay unready.
func (s *Server) HandleReady(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		s.respondJSON(w, http.StatusOK, health.HealthStatus{
			Status:     health.StatusHealthy,
			Timestamp:  time.Now().UTC(),
			Components: []health.Component{},
		})
		return
	}
	status := s.checker.Check(r.Context())
	code := http.StatusOK
	if status.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, status)
}

type metricsEndpoint struct{}

func newMetricsEndpoint() protocol.Endpoint { return metricsEndpoint{} }

func (metricsEndpoint) Name() string { return "metrics" }

func (metricsEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodGet, Path: "/metrics", Handler: promhttp.Handler()},
	}
}
