package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cesargomez89/catalogsync/internal/constants"
	"github.com/cesargomez89/catalogsync/internal/ratelimit"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// StatusError is returned by callers that treat a non-2xx response as failure.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// RequestFunc builds a fresh request for every attempt, since bodies cannot be replayed.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Client wraps an http.Client to provide rate limiting, per attempt timeouts and automatic retries.
type Client struct {
	httpClient *http.Client
	limiter    ratelimit.Limiter

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	jitter     float64
	timeout    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

func WithBackoff(base time.Duration, jitter float64) Option {
	return func(c *Client) {
		c.baseDelay = base
		c.jitter = jitter
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) { c.maxDelay = d }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithSleeper replaces the timer used between attempts, for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// NewClient creates a new rate-limited, retrying HTTP client.
func NewClient(httpClient *http.Client, limiter ratelimit.Limiter, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		}
	}
	c := &Client{
		httpClient: httpClient,
		limiter:    limiter,
		maxRetries: constants.DefaultRetryCount,
		baseDelay:  constants.DefaultRetryBase,
		maxDelay:   constants.DefaultRetryMaxDelay,
		jitter:     constants.DefaultRetryJitter,
		timeout:    constants.DefaultHTTPTimeout,
		sleep:      ratelimit.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = c.jitter
	b.MaxInterval = c.maxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do executes one logical request. Transport errors, 429 and 5xx are retried
// up to maxRetries times; any other status is returned as is. When retries run
// out on a retriable status the last response is returned with its body intact.
func (c *Client) Do(ctx context.Context, newReq RequestFunc) (*http.Response, error) {
	b := c.newBackOff()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx); err != nil {
				return nil, err
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		req, err := newReq(attemptCtx)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to build request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		delay := b.NextBackOff()

		switch {
		case err != nil:
			cancel()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err

		case !retriable(resp.StatusCode):
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
			return resp, nil

		case attempt == c.maxRetries:
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
			return resp, nil

		default:
			if resp.StatusCode == http.StatusTooManyRequests {
				if retryAfter := parseRetryAfter(resp); retryAfter > 0 {
					delay = retryAfter
				}
			}
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			cancel()
			lastErr = &StatusError{StatusCode: resp.StatusCode}
		}

		if attempt == c.maxRetries {
			break
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.maxRetries+1, lastErr)
}

func retriable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// cancelOnClose releases the attempt deadline once the caller is done with the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// parseRetryAfter reads a Retry-After header and returns the duration to wait.
func parseRetryAfter(resp *http.Response) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		return time.Until(t)
	}
	return 0
}
