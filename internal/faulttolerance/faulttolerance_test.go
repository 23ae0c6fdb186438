package faulttolerance

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var errBoom = errors.New("boom")
var errFatal = errors.New("fatal")

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Name:        "test",
	}
}

func TestRetryerSucceedsAfterFailures(t *testing.T) {
	r := NewRetryer(fastRetryConfig(3), quietLogger())

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestRetryerExhaustsAttempts(t *testing.T) {
	r := NewRetryer(fastRetryConfig(2), quietLogger())

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Errorf("Expected wrapped errBoom, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func TestRetryerSkipsNonRetryable(t *testing.T) {
	cfg := fastRetryConfig(5)
	cfg.Retryable = func(err error) bool { return errors.Is(err, errBoom) }
	r := NewRetryer(cfg, quietLogger())

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errFatal
	})
	if err != errFatal {
		t.Errorf("Expected errFatal unwrapped, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRetryerStopsOnCancelledContext(t *testing.T) {
	r := NewRetryer(fastRetryConfig(5), quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := r.Execute(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected no calls, got %d", calls)
	}
}

func TestRetryerDelayBounds(t *testing.T) {
	r := NewRetryer(RetryConfig{
		MaxAttempts: 10,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
		Multiplier:  2,
		JitterRange: 0.5,
	}, quietLogger())

	for attempt := 1; attempt <= 10; attempt++ {
		d := r.delay(attempt)
		if d < 10*time.Millisecond || d > 75*time.Millisecond {
			t.Errorf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute, Name: "test"}, quietLogger())
	now := time.Unix(1_700_000_000, 0)
	cb.now = func() time.Time { return now }

	fail := func(ctx context.Context) error { return errBoom }
	ok := func(ctx context.Context) error { return nil }

	_ = cb.Execute(context.Background(), fail)
	if cb.State() != StateClosed {
		t.Fatalf("Expected CLOSED after one failure, got %s", cb.State())
	}
	_ = cb.Execute(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Fatalf("Expected OPEN after two failures, got %s", cb.State())
	}

	if err := cb.Execute(context.Background(), ok); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected ErrCircuitBreakerOpen, got %v", err)
	}
	if err := cb.Check(context.Background()); err == nil {
		t.Error("Expected health check to fail while open")
	}

	now = now.Add(2 * time.Minute)
	if err := cb.Execute(context.Background(), ok); err != nil {
		t.Errorf("Expected half-open trial call to pass, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected CLOSED after trial call success, got %s", cb.State())
	}
}

func TestCircuitBreakerIgnoresUncountedErrors(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 1,
		Counts:      func(err error) bool { return errors.Is(err, errBoom) },
	}, quietLogger())

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errFatal })
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected CLOSED, got %s", cb.State())
	}
}

func TestHealthMonitorRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hm := NewHealthMonitor(quietLogger(), time.Minute)
	healthy := true
	hm.AddCheck("db", func(ctx context.Context) error {
		if healthy {
			return nil
		}
		return errBoom
	})

	router := gin.New()
	hm.RegisterRoutes(router)

	tests := []struct {
		name    string
		healthy bool
		path    string
		code    int
	}{
		{"health ok", true, "/health", http.StatusOK},
		{"ready ok", true, "/health/ready", http.StatusOK},
		{"health failing", false, "/health", http.StatusServiceUnavailable},
		{"ready failing", false, "/health/ready", http.StatusServiceUnavailable},
		{"live always", false, "/health/live", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			healthy = tt.healthy
			hm.RunChecks(context.Background())

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, w.Code)
			}
		})
	}
}
