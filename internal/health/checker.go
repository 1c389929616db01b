// Package health checks the relay's dependencies for readiness reporting.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Component types.
const (
	TypeDatabase = "database"
	TypeHTTP     = "http"
)

// Pinger is implemented by database-backed exchange log sinks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// Component represents a system component that can be health-checked.
type Component struct {
	Name string `json:"name"`
	Type string `json:"type"`
	CheckResult
}

// Database names a store to ping.
type Database struct {
	Name   string
	Pinger Pinger
}

// Upstream names a provider endpoint to reach.
type Upstream struct {
	Name string
	URL  string
}

// Config holds health checker configuration.
type Config struct {
	Databases []Database
	Upstreams []Upstream

	DBTimeout          time.Duration // default 2s
	HTTPTimeout        time.Duration // default 5s
	MaxDatabaseLatency time.Duration // default 100ms
	HTTPClient         *http.Client  // optional
}

// Checker performs health checks on the configured components.
type Checker struct {
	databases []Database
	upstreams []Upstream

	dbTimeout          time.Duration
	maxDatabaseLatency time.Duration
	client             *http.Client

	mu         sync.RWMutex
	components []Component
}

// New creates a new health checker.
func New(cfg Config) *Checker {
	if cfg.DBTimeout == 0 {
		cfg.DBTimeout = 2 * time.Second
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	if cfg.MaxDatabaseLatency == 0 {
		cfg.MaxDatabaseLatency = 100 * time.Millisecond
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	return &Checker{
		databases:          cfg.Databases,
		upstreams:          cfg.Upstreams,
		dbTimeout:          cfg.DBTimeout,
		maxDatabaseLatency: cfg.MaxDatabaseLatency,
		client:             client,
	}
}

// Check runs every dependency check concurrently and returns the overall status.
func (c *Checker) Check(ctx context.Context) HealthStatus {
	var wg sync.WaitGroup
	results := make(chan Component, len(c.databases)+len(c.upstreams))

	for _, db := range c.databases {
		if db.Pinger == nil {
			continue
		}
		wg.Add(1)
		go func(db Database) {
			defer wg.Done()
			results <- c.checkDatabase(ctx, db)
		}(db)
	}
	for _, up := range c.upstreams {
		wg.Add(1)
		go func(up Upstream) {
			defer wg.Done()
			results <- c.checkHTTPEndpoint(ctx, up)
		}(up)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	components := make([]Component, 0, cap(results))
	for comp := range results {
		components = append(components, comp)
	}

	c.mu.Lock()
	c.components = components
	c.mu.Unlock()

	return calculateOverallStatus(components)
}

// checkDatabase checks database connectivity and latency.
func (c *Checker) checkDatabase(ctx context.Context, db Database) Component {
	comp := Component{
		Name:        db.Name,
		Type:        TypeDatabase,
		CheckResult: CheckResult{Timestamp: time.Now()},
	}

	start := time.Now()
	dbCtx, cancel := context.WithTimeout(ctx, c.dbTimeout)
	defer cancel()

	err := db.Pinger.Ping(dbCtx)
	comp.Latency = time.Since(start)

	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "Database unreachable"
		return comp
	}
	if comp.Latency > c.maxDatabaseLatency {
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("High latency: %v", comp.Latency)
	} else {
		comp.Status = StatusHealthy
		comp.Message = "Connected"
	}
	return comp
}

// checkHTTPEndpoint checks if a provider endpoint answers at all. Any HTTP
// status counts as reachable.
func (c *Checker) checkHTTPEndpoint(ctx context.Context, up Upstream) Component {
	comp := Component{
		Name:        up.Name,
		Type:        TypeHTTP,
		CheckResult: CheckResult{Timestamp: time.Now()},
	}
	if up.URL == "" {
		comp.Status = StatusHealthy
		comp.Message = "Not configured"
		return comp
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, up.URL, nil)
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Latency = time.Since(start)
		return comp
	}

	resp, err := c.client.Do(req)
	comp.Latency = time.Since(start)
	if err != nil {
		comp.Status = StatusDegraded
		comp.Error = err.Error()
		comp.Message = "Endpoint unreachable"
		return comp
	}
	defer resp.Body.Close()

	comp.Status = StatusHealthy
	comp.Message = fmt.Sprintf("Reachable (HTTP %d)", resp.StatusCode)
	return comp
}

// calculateOverallStatus degrades on any failing component and turns
// unhealthy only when a database is down.
func calculateOverallStatus(components []Component) HealthStatus {
	overall := StatusHealthy
	criticalUnhealthy := false

	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			if comp.Type == TypeDatabase {
				criticalUnhealthy = true
			}
			overall = StatusDegraded
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	if criticalUnhealthy {
		overall = StatusUnhealthy
	}

	return HealthStatus{
		Status:     overall,
		Timestamp:  time.Now(),
		Components: components,
	}
}

// HealthStatus represents the overall health of the relay.
type HealthStatus struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// LastStatus returns the result of the most recent Check.
func (c *Checker) LastStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.components) == 0 {
		return HealthStatus{Status: StatusHealthy, Timestamp: time.Now()}
	}
	return calculateOverallStatus(c.components)
}
