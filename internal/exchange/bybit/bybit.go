// Package bybit implements the public market endpoints of the Bybit v5 API.
// API Doc: https://bybit-exchange.github.io/docs/v5/market/kline
//
// Kline response format:
//
//	{
//	  "retCode": 0,
//	  "retMsg": "OK",
//	  "result": {
//	    "category": "spot",
//	    "symbol": "BTCUSDT",
//	    "list": [
//	      ["1670608800000", "17071", "17073", "17027", "17055.5", "268611", "15.74462667"]
//	    ]
//	  }
//	}
//
// Rows are [startTime, open, high, low, close, volume, turnover] as strings,
// newest first.
package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/navid-fn/obradar/internal/errs"
	"github.com/navid-fn/obradar/internal/faulttolerance"
)

const (
	DefaultBaseURL  = "https://api.bybit.com"
	DefaultCategory = "spot"

	klinePath       = "/v5/market/kline"
	instrumentsPath = "/v5/market/instruments-info"
)

// Application codes that signal throttling or a temporary server fault.
var transientRetCodes = map[int]bool{
	10006: true, // too many visits
	10016: true, // server error
}

// Config holds the client settings.
type Config struct {
	BaseURL        string
	Category       string
	RequestTimeout time.Duration
	UserAgent      string
}

// DefaultConfig returns settings for the public mainnet API.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		Category:       DefaultCategory,
		RequestTimeout: 30 * time.Second,
		UserAgent:      "obradar/1.0",
	}
}

// Client talks to the Bybit public market API.
// One Client, and its limiter, is shared by every partition worker.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *faulttolerance.CircuitBreaker
	logger  *logrus.Logger
}

// NewClient creates a client. The limiter is waited on before every request;
// the breaker trips only on transient failures.
func NewClient(cfg Config, limiter *rate.Limiter, logger *logrus.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Category == "" {
		cfg.Category = def.Category
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(200*time.Millisecond), 1)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{},
		limiter: limiter,
		breaker: faulttolerance.NewCircuitBreaker(faulttolerance.CircuitBreakerConfig{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			Name:        "bybit",
			Counts:      errs.IsTransient,
		}, logger),
		logger: logger,
	}
}

// Breaker exposes the circuit breaker for health checks.
func (c *Client) Breaker() *faulttolerance.CircuitBreaker {
	return c.breaker
}

// envelope is the common v5 response wrapper.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// get performs a rate limited GET and decodes result into out.
func (c *Client) get(ctx context.Context, op, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.do(ctx, op, path, params, out)
	})
	if errors.Is(err, faulttolerance.ErrCircuitBreakerOpen) {
		return &errs.TransientNetworkError{Op: op, Err: err}
	}
	return err
}

func (c *Client) do(ctx context.Context, op, path string, params url.Values, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	endpoint := c.cfg.BaseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &errs.TransientNetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &errs.TransientNetworkError{Op: op, Err: fmt.Errorf("http status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return &errs.ExchangeProtocolError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if ctx.Err() == nil && reqCtx.Err() != nil {
			return &errs.TransientNetworkError{Op: op, Err: err}
		}
		return &errs.DataIntegrityError{Reason: fmt.Sprintf("%s: malformed response: %v", op, err)}
	}

	if env.RetCode != 0 {
		if transientRetCodes[env.RetCode] {
			return &errs.TransientNetworkError{Op: op, Err: &errs.ExchangeProtocolError{Code: env.RetCode, Message: env.RetMsg}}
		}
		return &errs.ExchangeProtocolError{Code: env.RetCode, Message: env.RetMsg}
	}

	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return &errs.DataIntegrityError{Reason: fmt.Sprintf("%s: malformed result: %v", op, err)}
	}
	return nil
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
