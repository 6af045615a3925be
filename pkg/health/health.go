// Package health provides a concurrent health-check framework. Components
// register Check functions, and the Checker runs them in parallel to produce
// an aggregate Report suitable for Kubernetes liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status represents the health state of a component or the system overall.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Check is a function that probes a single dependency and returns its status.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth holds the result of a single component check.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report is the aggregated result of all component checks.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Pinger is satisfied by the postgres and redis clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ErrCheck turns a probe that returns an error into a Check. A failing probe
// reports onFailure, so optional dependencies can degrade the service
// instead of taking it down.
func ErrCheck(probe func(ctx context.Context) error, onFailure Status) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := probe(ctx); err != nil {
			return ComponentHealth{Status: onFailure, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// PingCheck is ErrCheck over p.Ping. A nil p reports degraded.
func PingCheck(p Pinger, onFailure Status) Check {
	if p == nil {
		return func(context.Context) ComponentHealth {
			return ComponentHealth{Status: StatusDegraded, Message: "not configured"}
		}
	}
	return ErrCheck(p.Ping, onFailure)
}

// Checker runs registered checks concurrently, each under its own timeout.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
	logger  *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		checks:  make(map[string]Check),
		timeout: 5 * time.Second,
		logger:  slog.Default().With("component", "health"),
	}
}

// Register adds or replaces the check called name.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run executes every check and folds them into one Report whose status is
// the worst component status.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make([]Check, len(names))
	sort.Strings(names)
	for i, name := range names {
		checks[i] = c.checks[name]
	}
	c.mu.RUnlock()

	results := make([]ComponentHealth, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			start := time.Now()
			results[i] = check(cctx)
			results[i].Latency = time.Since(start).Round(time.Millisecond).String()
			return nil
		})
	}
	g.Wait()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(names)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for i, name := range names {
		comp := results[i]
		report.Components[name] = comp
		switch comp.Status {
		case StatusDown:
			c.logger.Warn("component down", "name", name, "message", comp.Message)
			report.Status = StatusDown
		case StatusDegraded:
			if report.Status == StatusUp {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

// Mount adds the liveness and readiness probes to mux.
func (c *Checker) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /health/live", c.LiveHandler())
	mux.HandleFunc("GET /health/ready", c.ReadyHandler())
}

// LiveHandler answers 200 while the process can serve HTTP at all.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers 503 only when a component is down; degraded is still
// ready.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
