package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

type HealthCheck interface {
	Name() string
	Check(ctx context.Context) HealthResult
}

type HealthResult struct {
	Name     string        `json:"name"`
	Status   HealthStatus  `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type HealthChecker struct {
	checks []HealthCheck
	mu     sync.RWMutex
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make([]HealthCheck, 0)}
}

func (hc *HealthChecker) Register(check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks = append(hc.checks, check)
}

// Check runs every registered check concurrently.
func (hc *HealthChecker) Check(ctx context.Context) map[string]HealthResult {
	hc.mu.RLock()
	checks := make([]HealthCheck, len(hc.checks))
	copy(checks, hc.checks)
	hc.mu.RUnlock()

	results := make(map[string]HealthResult)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, c := range checks {
		wg.Add(1)
		go func(ch HealthCheck) {
			defer wg.Done()
			start := time.Now()
			res := ch.Check(ctx)
			res.Duration = time.Since(start)
			mu.Lock()
			results[ch.Name()] = res
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return results
}

func (hc *HealthChecker) OverallStatus(results map[string]HealthResult) HealthStatus {
	hasDegraded := false
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			hasDegraded = true
		}
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

func (hc *HealthChecker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		results := hc.Check(ctx)
		overall := hc.OverallStatus(results)
		resp := map[string]interface{}{
			"status":    overall,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    results,
		}
		w.Header().Set("Content-Type", "application/json")
		statusCode := http.StatusOK
		if overall == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(resp)
	}
}

// PingCheck reports a dependency unhealthy when its ping fails and degraded
// when it answers slower than Slow.
type PingCheck struct {
	CheckName string
	Ping      func(ctx context.Context) error
	Slow      time.Duration
	// Optional dependencies degrade instead of failing the service.
	Optional bool
}

func (p *PingCheck) Name() string { return p.CheckName }

func (p *PingCheck) Check(ctx context.Context) HealthResult {
	start := time.Now()
	err := p.Ping(ctx)
	duration := time.Since(start)
	res := HealthResult{Name: p.CheckName, Duration: duration}
	switch {
	case err != nil && p.Optional:
		res.Status = StatusDegraded
		res.Message = p.CheckName + " unavailable"
		res.Error = err.Error()
	case err != nil:
		res.Status = StatusUnhealthy
		res.Message = p.CheckName + " connection failed"
		res.Error = err.Error()
	case p.Slow > 0 && duration > p.Slow:
		res.Status = StatusDegraded
		res.Message = p.CheckName + " responding slowly"
	default:
		res.Status = StatusHealthy
		res.Message = p.CheckName + " connection healthy"
	}
	return res
}

// Database checks the ticket store.
func Database(ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{CheckName: "database", Ping: ping, Slow: 100 * time.Millisecond}
}

// Redis checks the queue info cache. Queries fall back to the store when it
// is down, so a failure only degrades.
func Redis(ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{CheckName: "redis", Ping: ping, Slow: 50 * time.Millisecond, Optional: true}
}

// Kafka checks the event broker. Broker pings do not take a context.
func Kafka(ping func() error) *PingCheck {
	return &PingCheck{
		CheckName: "kafka",
		Ping:      func(context.Context) error { return ping() },
		Slow:      500 * time.Millisecond,
		Optional:  true,
	}
}
