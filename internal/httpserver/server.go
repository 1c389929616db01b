package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sony/gobreaker"

	"github.com/tokligence/chat-relay/internal/adapter"
	"github.com/tokligence/chat-relay/internal/exchangelog"
	"github.com/tokligence/chat-relay/internal/health"
	"github.com/tokligence/chat-relay/internal/httpserver/protocol"
	"github.com/tokligence/chat-relay/internal/logging"
	"github.com/tokligence/chat-relay/internal/metrics"
)

// breakerReporter is implemented by provider clients wrapped in a circuit breaker.
type breakerReporter interface {
	State() gobreaker.State
}

// Server exposes the relay's HTTP API.
type Server struct {
	adapter  adapter.ChatAdapter
	recorder *exchangelog.Recorder
	checker  *health.Checker
	logger   *log.Logger
	logLevel string
}

// New constructs the HTTP server around the configured provider client. The
// recorder may be nil, in which case nothing is side-logged.
func New(chatAdapter adapter.ChatAdapter, recorder *exchangelog.Recorder) *Server {
	return &Server{
		adapter:  chatAdapter,
		recorder: recorder,
		logger:   log.New(log.Writer(), "[relayd/http] ", log.LstdFlags|log.Lmicroseconds),
		logLevel: "info",
	}
}

// SetLogger overrides the level and logger used for request diagnostics.
func (s *Server) SetLogger(level string, logger *log.Logger) {
	s.logLevel = strings.ToLower(strings.TrimSpace(level))
	if logger != nil {
		s.logger = logger
	}
}

// SetReadinessChecker enables dependency checks on /health/ready.
func (s *Server) SetReadinessChecker(checker *health.Checker) {
	s.checker = checker
}

func (s *Server) isDebug() bool { return logging.DebugEnabled(s.logLevel) }
func (s *Server) debugf(format string, args ...any) {
	if s.logger != nil && s.isDebug() {
		s.logger.Printf("DEBUG "+format, args...)
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := s.newBaseRouter()
	s.registerEndpoints(r,
		newOpenAIEndpoint(s),
		newHealthEndpoint(s),
		newMetricsEndpoint(),
	)
	return r
}

func (s *Server) newBaseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(s.recoverer)
	r.Use(metrics.Middleware)
	return r
}

func (s *Server) registerEndpoints(r chi.Router, endpoints ...protocol.Endpoint) {
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		s.debugf("registering endpoint %s", ep.Name())
		for _, route := range ep.Routes() {
			r.Method(route.Method, route.Path, route.Handler)
		}
	}
}

// recoverer turns a handler panic into a JSON 500 instead of a dropped connection.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Printf("panic serving %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
			s.respondError(w, http.StatusInternalServerError, fmt.Errorf("internal error: %v", rec))
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
