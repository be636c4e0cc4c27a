// internal/discovery/httpclient.go
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	"go.uber.org/zap"
)

var (
	ErrRateLimit      = errors.New("rate limit exceeded (429)")
	ErrServerBusy     = errors.New("server busy (503)")
	ErrBadGateway     = errors.New("bad gateway (502)")
	ErrGatewayTimeout = errors.New("gateway timeout (504)")
)

// RetryConfig controls backoff between attempts.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    4 * time.Second,
	}
}

// RetryableClient retries transient network failures and busy responses.
type RetryableClient struct {
	client *http.Client
	config RetryConfig
	logger *zap.Logger
}

func NewRetryableClient(config RetryConfig, timeout time.Duration, logger *zap.Logger) *RetryableClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &RetryableClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 5 * time.Second,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConns:        4,
			},
		},
		config: config,
		logger: logger,
	}
}

// Do sends req, retrying with exponential backoff. A request body is only
// resent when req.GetBody is set; otherwise the first attempt is the only one.
func (c *RetryableClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	delay := c.config.BaseDelay
	attempts := c.config.MaxAttempts
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		r := req.Clone(ctx)
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("rewind request body: %w", err)
			}
			r.Body = body
		}
		resp, err := c.client.Do(r)
		switch {
		case err != nil && !retryable(err):
			return nil, err
		case err != nil:
			lastErr = err
		case retryStatus(resp.StatusCode):
			resp.Body.Close()
			lastErr = statusError(resp.StatusCode)
		default:
			return resp, nil
		}

		if attempt == attempts {
			break
		}
		c.logger.Debug("retrying request",
			zap.String("url", req.URL.String()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, c.config.MaxDelay)
	}
	return nil, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary
	}
	return false
}

func retryStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func statusError(code int) error {
	switch code {
	case http.StatusTooManyRequests:
		return ErrRateLimit
	case http.StatusBadGateway:
		return ErrBadGateway
	case http.StatusServiceUnavailable:
		return ErrServerBusy
	case http.StatusGatewayTimeout:
		return ErrGatewayTimeout
	}
	return fmt.Errorf("HTTP %d", code)
}
