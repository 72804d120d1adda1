package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// DefaultBaseURL is the production API endpoint
const DefaultBaseURL = "https://api.mercadolibre.com"

// TokenSource yields a valid bearer token for a seller account
type TokenSource interface {
	Token(ctx context.Context, seller string) (string, error)
}

// RateLimitObserver is notified each time a request waits on a 429
type RateLimitObserver interface {
	ObserveRateLimitWait(path string, wait time.Duration)
}

// Config holds marketplace API configuration
type Config struct {
	BaseURL           string
	RequestTimeout    time.Duration
	CreateTimeout     time.Duration
	RateLimitRetries  int
	RateLimitBaseWait time.Duration
}

// Client is the marketplace REST API client.
// It is safe for concurrent use.
type Client struct {
	config     Config
	tokens     TokenSource
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
	observer   RateLimitObserver
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new marketplace API client
func NewClient(cfg Config, tokens TokenSource, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = 60 * time.Second
	}
	if cfg.RateLimitRetries <= 0 {
		cfg.RateLimitRetries = 5
	}
	if cfg.RateLimitBaseWait <= 0 {
		cfg.RateLimitBaseWait = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config:     cfg,
		tokens:     tokens,
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		logger:     logger,
		sleep:      sleepContext,
	}
}

// SetRateLimitObserver registers an observer for rate-limit waits
func (c *Client) SetRateLimitObserver(o RateLimitObserver) {
	c.observer = o
}

// doRequest makes an authenticated API request. The caller owns the response body.
func (c *Client) doRequest(ctx context.Context, seller, method, path string, query url.Values, body any) (*http.Response, error) {
	token, err := c.tokens.Token(ctx, seller)
	if err != nil {
		return nil, fmt.Errorf("failed to get token for %s: %w", seller, err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// call performs a request and decodes a 2xx JSON response into out (when non-nil).
// Non-2xx responses are returned as *APIError.
func (c *Client) call(ctx context.Context, timeout time.Duration, seller, method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.doRequest(ctx, seller, method, path, query, body)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return newAPIError(resp, data)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// sendOnce performs one request under the per-request timeout and reads the whole body
// before the deadline is released.
func (c *Client) sendOnce(ctx context.Context, seller, method, path string, body any) (*http.Response, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	resp, err := c.doRequest(ctx, seller, method, path, nil, body)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, data, nil
}

// sendWithRateLimitRetry issues a write and retries it while the API answers 429.
// Each attempt gets its own request timeout. Waits honour Retry-After (seconds) and
// otherwise grow exponentially from the base wait. After the last attempt the final
// response is returned as is, so the caller surfaces the error.
func (c *Client) sendWithRateLimitRetry(ctx context.Context, seller, method, path string, body any) (*http.Response, []byte, error) {
	schedule := newRateLimitBackOff(c.config.RateLimitBaseWait)

	for attempt := 1; ; attempt++ {
		resp, data, err := c.sendOnce(ctx, seller, method, path, body)
		if err != nil {
			return nil, nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests || attempt >= c.config.RateLimitRetries {
			return resp, data, nil
		}

		wait := schedule.NextBackOff()
		if ra, ok := retryAfter(resp.Header); ok {
			wait = ra
		}

		c.logger.Warn("Rate-limited, waiting before retry",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("wait", wait),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.config.RateLimitRetries),
		)
		if c.observer != nil {
			c.observer.ObserveRateLimitWait(path, wait)
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil, nil, err
		}
	}
}

// writeWithRateLimitRetry sends a write through sendWithRateLimitRetry.
// A 404 answer is treated as nothing to do.
func (c *Client) writeWithRateLimitRetry(ctx context.Context, seller, method, path string, body any) error {
	resp, data, err := c.sendWithRateLimitRetry(ctx, seller, method, path, body)
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return newAPIError(resp, data)
	}
	return nil
}

func newRateLimitBackOff(base time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = base << 6
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func retryAfter(h http.Header) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
