package request

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"
)

// Client wraps http.Client with default headers, a per-service rate
// limiter and optional retries on selected status codes. Every outbound
// attempt, including retries, takes the limiter first.
type Client struct {
	client      *http.Client
	headers     map[string]string
	logger      zerolog.Logger
	rl          ratelimit.Limiter
	maxRetries  int
	retryStatus map[int]struct{}
}

type Option func(*Client)

func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

func WithRateLimiter(rl ratelimit.Limiter) Option {
	return func(c *Client) {
		c.rl = rl
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

func WithRetryableStatus(codes ...int) Option {
	return func(c *Client) {
		for _, code := range codes {
			c.retryStatus[code] = struct{}{}
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

func WithTransport(tr http.RoundTripper) Option {
	return func(c *Client) {
		c.client.Transport = tr
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		client:      &http.Client{Timeout: 30 * time.Second},
		headers:     make(map[string]string),
		logger:      zerolog.Nop(),
		retryStatus: make(map[int]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends the request and returns the raw response. The caller owns the
// body. Retryable statuses are retried up to maxRetries with backoff,
// honouring Retry-After when present.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for k, v := range c.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	var resp *http.Response
	var err error
	for attempt := 0; ; attempt++ {
		if c.rl != nil {
			c.rl.Take()
		}
		start := time.Now()
		resp, err = c.client.Do(req)
		if err != nil {
			return nil, err
		}
		c.logger.Trace().
			Str("method", req.Method).
			Str("url", req.URL.String()).
			Int("status", resp.StatusCode).
			Dur("elapsed", time.Since(start)).
			Msg("request")

		if _, retryable := c.retryStatus[resp.StatusCode]; !retryable || attempt >= c.maxRetries {
			return resp, nil
		}
		wait := retryWait(resp, attempt)
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if req, err = rewind(req); err != nil {
			return nil, err
		}
		c.logger.Debug().
			Str("url", req.URL.String()).
			Int("status", resp.StatusCode).
			Dur("wait", wait).
			Msg("retrying request")
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(wait):
		}
	}
}

// MakeRequest sends the request and returns the response body. Non-2xx
// statuses are returned as errors carrying the status and body text.
func (c *Client) MakeRequest(req *http.Request) ([]byte, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, string(body))
	}
	return body, nil
}

func rewind(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("cannot retry request with unrepeatable body")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	req.Body = body
	return req, nil
}

// Base backoff between retries, a var so tests can shrink it.
var retryBackoff = time.Second

func retryWait(resp *http.Response, attempt int) time.Duration {
	if after := resp.Header.Get("Retry-After"); after != "" {
		if secs, err := strconv.Atoi(after); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	wait := retryBackoff << attempt
	if wait > 10*retryBackoff {
		wait = 10 * retryBackoff
	}
	return wait
}

// JoinURL joins a base URL with additional path segments.
func JoinURL(base string, paths ...string) (string, error) {
	joined, err := url.JoinPath(base, paths...)
	if err != nil {
		return "", fmt.Errorf("joining %q: %w", base, err)
	}
	return joined, nil
}

// JSONResponse writes data as a JSON response with the given status.
func JSONResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
