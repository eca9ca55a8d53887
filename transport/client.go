// Package transport sends Haystack HTTP exchanges and hands back the status,
// headers and body without interpreting them.
package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// maxResponseSize limits the response body to prevent memory exhaustion.
const maxResponseSize = 32 * 1024 * 1024 // 32MB

// Response is a completed exchange. Non-200 statuses are not errors at
// this layer.
type Response struct {
	StatusCode int
	// Status is the status text without the code, e.g. "Unauthorized".
	Status string
	Header http.Header
	Body   string
}

// Transport sends one request and returns the server's answer.
type Transport interface {
	Send(ctx context.Context, method, url string, header http.Header, body string) (*Response, error)
}

// Client is the HTTP Transport.
type Client struct {
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. The client's cookie jar is
// left untouched.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration for GET requests.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithTimeout sets the overall timeout of a single attempt.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// New creates a Client with a cookie jar.
func New(opts ...Option) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	c := &Client{
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConnsPerHost:   4,
			},
		},
		retryConfig: DefaultRetryConfig(),
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Send performs the exchange. GET requests are retried on network failures
// and on 429/502/503/504; other methods are sent once.
func (c *Client) Send(ctx context.Context, method, url string, header http.Header, body string) (*Response, error) {
	attempts := 1
	if method == http.MethodGet && c.retryConfig.MaxAttempts > 1 {
		attempts = c.retryConfig.MaxAttempts
	}

	var (
		resp *Response
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err = c.do(ctx, method, url, header, body)
		retry := (err != nil && IsTransient(err)) || (err == nil && isTransientStatus(resp.StatusCode))
		if !retry || attempt == attempts {
			break
		}

		backoff := c.calculateBackoff(attempt)
		c.logger.Debug("Request failed, retrying",
			"url", url,
			"attempt", attempt,
			"max_attempts", attempts,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, NewNetworkError(ctx.Err())
		case <-time.After(backoff):
		}
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, method, url string, header http.Header, body string) (*Response, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create HTTP request: %w", err)
	}
	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	c.logger.Debug("REQ", "method", method, "url", url, "bytes", len(body))
	if body != "" {
		c.logger.Debug("REQ body", "body", body)
	}

	started := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("ERR", "method", method, "url", url, "error", err)
		return nil, NewNetworkError(err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewNetworkError(fmt.Errorf("read response body: %w", err))
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Status:     statusText(httpResp),
		Header:     httpResp.Header,
		Body:       string(data),
	}
	c.logger.Debug("RES",
		"method", method,
		"url", url,
		"status", resp.StatusCode,
		"bytes", len(data),
		"duration_ms", time.Since(started).Milliseconds())
	return resp, nil
}

// calculateBackoff computes exponential backoff duration with jitter.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	// +/- 25%
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// statusText strips the numeric code from "403 Forbidden".
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
