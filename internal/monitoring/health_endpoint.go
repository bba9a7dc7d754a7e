package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/rama-kairi/go-shell/internal/logger"
	"github.com/rama-kairi/go-shell/internal/streaming"
)

// HealthEndpoint serves health checks, basic metrics and the live terminal
// event stream over HTTP
type HealthEndpoint struct {
	server       *http.Server
	bus          *streaming.EventBus
	logger       *logger.Logger
	healthChecks map[string]HealthChecker
	counters     map[string]func() int
	keepAlive    time.Duration
	mu           sync.RWMutex
	startTime    time.Time
}

// HealthChecker is an interface for components that can report health
type HealthChecker interface {
	HealthCheck() error
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status     string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
	Metrics    HealthMetrics              `json:"metrics"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthMetrics contains process and shell metrics
type HealthMetrics struct {
	MemoryUsedMB uint64         `json:"memory_used_mb"`
	Goroutines   int            `json:"goroutines"`
	EventClients int            `json:"event_clients"`
	Counters     map[string]int `json:"counters,omitempty"`
}

// NewHealthEndpoint creates the endpoint. bus may be nil, in which case the
// event stream answers 503.
func NewHealthEndpoint(port int, bus *streaming.EventBus, log *logger.Logger) *HealthEndpoint {
	if log == nil {
		log = logger.Nop()
	}

	he := &HealthEndpoint{
		bus:          bus,
		logger:       log.WithComponent("http"),
		healthChecks: make(map[string]HealthChecker),
		counters:     make(map[string]func() int),
		keepAlive:    15 * time.Second,
		startTime:    time.Now(),
	}

	// no write timeout: event streams stay open
	he.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           he.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return he
}

// Handler returns the routes served by the endpoint
func (he *HealthEndpoint) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", he.handleHealth)
	mux.HandleFunc("/health/live", he.handleLiveness)
	mux.HandleFunc("/health/ready", he.handleReadiness)
	mux.HandleFunc("/metrics", he.handleMetrics)
	mux.HandleFunc("/api/terminal/events", he.handleEvents)
	return mux
}

// RegisterHealthCheck registers a component for health checking
func (he *HealthEndpoint) RegisterHealthCheck(name string, checker HealthChecker) {
	he.mu.Lock()
	defer he.mu.Unlock()
	he.healthChecks[name] = checker
}

// RegisterCounter exposes a gauge under /metrics and /health
func (he *HealthEndpoint) RegisterCounter(name string, counter func() int) {
	he.mu.Lock()
	defer he.mu.Unlock()
	he.counters[name] = counter
}

// SetKeepAlive changes the interval of keepalive comments on event streams
func (he *HealthEndpoint) SetKeepAlive(d time.Duration) {
	he.mu.Lock()
	defer he.mu.Unlock()
	if d > 0 {
		he.keepAlive = d
	}
}

// Start binds the port and serves in the background
func (he *HealthEndpoint) Start() error {
	ln, err := net.Listen("tcp", he.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", he.server.Addr, err)
	}

	he.logger.Info("HTTP endpoint listening", map[string]interface{}{
		"addr": ln.Addr().String(),
	})

	go func() {
		if err := he.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			he.logger.Error("HTTP endpoint stopped", err)
		}
	}()
	return nil
}

// Stop gracefully stops the server. Open event streams end when the bus
// closes or their request context is cancelled.
func (he *HealthEndpoint) Stop(ctx context.Context) error {
	return he.server.Shutdown(ctx)
}

// handleHealth returns comprehensive health status
func (he *HealthEndpoint) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := he.getHealthStatus()

	w.Header().Set("Content-Type", "application/json")

	switch status.Status {
	case "healthy", "degraded":
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(status)
}

// handleLiveness returns simple liveness check (is the process running?)
func (he *HealthEndpoint) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "alive",
		"uptime": time.Since(he.startTime).String(),
	})
}

// handleReadiness returns readiness check (is the service ready to accept requests?)
func (he *HealthEndpoint) handleReadiness(w http.ResponseWriter, r *http.Request) {
	he.mu.RLock()
	defer he.mu.RUnlock()

	ready := true
	components := make(map[string]string)

	for name, checker := range he.healthChecks {
		if err := checker.HealthCheck(); err != nil {
			ready = false
			components[name] = err.Error()
		} else {
			components[name] = "ready"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":      ready,
		"components": components,
	})
}

// handleMetrics returns Prometheus-compatible metrics
func (he *HealthEndpoint) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeGauge(w, "goshell_memory_alloc_bytes", "Current memory allocation in bytes", float64(m.Alloc))
	writeGauge(w, "goshell_goroutines", "Current number of goroutines", float64(runtime.NumGoroutine()))
	writeGauge(w, "goshell_uptime_seconds", "Server uptime in seconds", time.Since(he.startTime).Seconds())
	writeGauge(w, "goshell_event_clients", "Connected event stream clients", float64(he.eventClients()))

	for name, value := range he.counterValues() {
		writeGauge(w, "goshell_"+name, "Current "+name, float64(value))
	}
}

func writeGauge(w http.ResponseWriter, name, help string, value float64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s gauge\n", name)
	fmt.Fprintf(w, "%s %g\n", name, value)
}

func (he *HealthEndpoint) eventClients() int {
	if he.bus == nil {
		return 0
	}
	return he.bus.ClientCount()
}

func (he *HealthEndpoint) counterValues() map[string]int {
	he.mu.RLock()
	defer he.mu.RUnlock()

	values := make(map[string]int, len(he.counters))
	for name, counter := range he.counters {
		values[name] = counter()
	}
	return values
}

// getHealthStatus computes the current health status
func (he *HealthEndpoint) getHealthStatus() HealthStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	he.mu.RLock()
	components := make(map[string]ComponentHealth)
	overallHealthy := true
	hasDegraded := false

	for name, checker := range he.healthChecks {
		if err := checker.HealthCheck(); err != nil {
			components[name] = ComponentHealth{
				Status:  "unhealthy",
				Message: err.Error(),
			}
			overallHealthy = false
		} else {
			components[name] = ComponentHealth{
				Status: "healthy",
			}
		}
	}
	he.mu.RUnlock()

	if runtime.NumGoroutine() > 1000 {
		hasDegraded = true
		components["goroutines"] = ComponentHealth{
			Status:  "degraded",
			Message: "High goroutine count",
		}
	}

	status := "healthy"
	if !overallHealthy {
		status = "unhealthy"
	} else if hasDegraded {
		status = "degraded"
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Uptime:     time.Since(he.startTime).String(),
		Components: components,
		Metrics: HealthMetrics{
			MemoryUsedMB: m.Alloc / (1024 * 1024),
			Goroutines:   runtime.NumGoroutine(),
			EventClients: he.eventClients(),
			Counters:     he.counterValues(),
		},
	}
}
