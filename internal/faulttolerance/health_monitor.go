package faulttolerance

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is the last known result of one named check.
type HealthCheck struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	LastCheck time.Time     `json:"last_check"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`

	fn func(ctx context.Context) error
}

// HealthMonitor periodically runs registered checks and serves their results.
type HealthMonitor struct {
	logger   *logrus.Logger
	interval time.Duration
	timeout  time.Duration

	mu     sync.RWMutex
	checks map[string]*HealthCheck
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(logger *logrus.Logger, interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthMonitor{
		logger:   logger,
		interval: interval,
		timeout:  10 * time.Second,
		checks:   make(map[string]*HealthCheck),
	}
}

// AddCheck registers a named check. Checks start out healthy.
func (hm *HealthMonitor) AddCheck(name string, fn func(ctx context.Context) error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[name] = &HealthCheck{Name: name, Status: HealthStatusHealthy, fn: fn}
	hm.logger.Infof("Added health check: %s", name)
}

// Run checks every interval until ctx is done.
func (hm *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()

	hm.RunChecks(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hm.RunChecks(ctx)
		}
	}
}

// RunChecks runs all registered checks concurrently and waits for them.
func (hm *HealthMonitor) RunChecks(ctx context.Context) {
	hm.mu.RLock()
	checks := make([]*HealthCheck, 0, len(hm.checks))
	for _, c := range hm.checks {
		checks = append(checks, c)
	}
	hm.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hm.runCheck(ctx, c)
		}()
	}
	wg.Wait()
}

func (hm *HealthMonitor) runCheck(ctx context.Context, check *HealthCheck) {
	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	start := time.Now()
	err := check.fn(ctx)
	duration := time.Since(start)

	hm.mu.Lock()
	defer hm.mu.Unlock()

	old := check.Status
	check.LastCheck = start
	check.Duration = duration
	if err != nil {
		check.Status = HealthStatusUnhealthy
		check.Error = err.Error()
		if old != HealthStatusUnhealthy {
			hm.logger.Errorf("Health check '%s' failed: %v", check.Name, err)
		}
		return
	}
	check.Status = HealthStatusHealthy
	check.Error = ""
	if old != HealthStatusHealthy {
		hm.logger.Infof("Health check '%s' recovered", check.Name)
	}
}

// Snapshot returns copies of all checks sorted by name.
func (hm *HealthMonitor) Snapshot() []HealthCheck {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	out := make([]HealthCheck, 0, len(hm.checks))
	for _, c := range hm.checks {
		cp := *c
		cp.fn = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Overall is unhealthy when any check is.
func (hm *HealthMonitor) Overall() HealthStatus {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	for _, c := range hm.checks {
		if c.Status == HealthStatusUnhealthy {
			return HealthStatusUnhealthy
		}
	}
	return HealthStatusHealthy
}

// RegisterRoutes mounts /health, /health/ready and /health/live.
func (hm *HealthMonitor) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", func(c *gin.Context) {
		overall := hm.Overall()
		code := http.StatusOK
		if overall == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    overall,
			"checks":    hm.Snapshot(),
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	r.GET("/health/ready", func(c *gin.Context) {
		if hm.Overall() == HealthStatusUnhealthy {
			c.String(http.StatusServiceUnavailable, "Not Ready")
			return
		}
		c.String(http.StatusOK, "Ready")
	})

	r.GET("/health/live", func(c *gin.Context) {
		c.String(http.StatusOK, "Live")
	})
}
