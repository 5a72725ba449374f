// Package httpclient is the shared outbound JSON client for the hazard and
// price-paid adapters. Requests are paced by a token bucket and HTTP 429
// answers are retried a bounded number of times.
package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/couchcryptid/property-forecast/internal/domain"
	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"golang.org/x/time/rate"
)

// Defaults applied by New for zero Options fields.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultRate        = 5
	DefaultBurst       = 5
)

// Options tunes a Client.
type Options struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration // 429 wait is BaseDelay·attempt·2
	Rate        float64       // requests per second
	Burst       int
	UserAgent   string
}

// Client performs rate-limited GET requests that decode JSON bodies.
type Client struct {
	source      string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration
	userAgent   string
	sleep       func(ctx context.Context, d time.Duration) error
}

// New creates a client whose errors are attributed to source.
func New(source string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "property-forecast/1.0"
	}
	return &Client{
		source:      source,
		httpClient:  &http.Client{Timeout: opts.Timeout},
		limiter:     rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		userAgent:   opts.UserAgent,
		sleep:       sleepContext,
	}
}

// Source returns the name used in errors.
func (c *Client) Source() string { return c.source }

// GetJSON fetches rawURL with query appended and decodes the body into out.
// Non-200 answers become *domain.ExternalServiceError; a 429 that persists
// through every attempt wraps domain.ErrRateLimited.
func (c *Client) GetJSON(ctx context.Context, rawURL string, query url.Values, out any) error {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}

	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return c.fail(0, fmt.Errorf("rate limiter: %w", err))
		}

		resp, err := c.do(ctx, rawURL)
		if err != nil {
			return c.fail(0, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			if attempt >= c.maxAttempts {
				return c.fail(resp.StatusCode, fmt.Errorf("%w after %d attempts", domain.ErrRateLimited, attempt))
			}
			wait := c.baseDelay * time.Duration(attempt*2)
			if err := c.sleep(ctx, wait); err != nil {
				return c.fail(0, err)
			}
			continue
		}

		return c.decode(resp, out)
	}
}

func (c *Client) do(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	return resp, nil
}

func (c *Client) decode(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return c.fail(resp.StatusCode, fmt.Errorf("unexpected response: %s", body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.fail(0, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) fail(status int, err error) error {
	return &domain.ExternalServiceError{Source: c.source, StatusCode: status, Err: err}
}

// IsNotFound reports whether err is a 404 from an upstream API.
func IsNotFound(err error) bool {
	var ext *domain.ExternalServiceError
	return errors.As(err, &ext) && ext.StatusCode == http.StatusNotFound
}

// sleepContext waits d, returning ctx.Err() if the context ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if !sharedretry.SleepWithContext(ctx, d) {
		return ctx.Err()
	}
	return nil
}
