/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package webphonesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client is the core client shared by the webphone plugins. It talks to the
// host CRM application on its own origin and authenticates with the
// application's session cookie.
type Client struct {
	// HTTP client used to communicate with the application
	httpClient *http.Client

	// Origin of the hosting application (scheme://host[:port])
	BaseURL *url.URL

	// Configuration for the client
	Config *Config

	logger zerolog.Logger
}

// Config holds the configuration for the core client
type Config struct {
	// Timeout for API requests
	Timeout time.Duration

	// Default headers to include in API requests
	DefaultHeaders map[string]string

	// Custom HTTP client to use instead of the default one.
	// If nil, a client with a cookie jar and the specified Timeout is created.
	HttpClient *http.Client

	// MaxRetries is the maximum number of retries for transient errors (429, 502, 503, 504).
	// Set to 0 to disable retries. Default: 3.
	MaxRetries int

	// RetryBaseDelay is the initial delay between retries. Default: 1s.
	// Subsequent retries use exponential backoff (delay * 2^attempt).
	RetryBaseDelay time.Duration

	// SessionPath is the session query endpoint. Default: /api/auth/session.
	SessionPath string

	// Logger for SDK operations. If nil, logging is disabled.
	Logger *zerolog.Logger
}

// DefaultConfig returns a default configuration for the core client
func DefaultConfig() *Config {
	return &Config{
		Timeout:        30 * time.Second,
		DefaultHeaders: make(map[string]string),
		MaxRetries:     3,
		RetryBaseDelay: 1 * time.Second,
		SessionPath:    "/api/auth/session",
	}
}

// NewClient creates a core client for the application served at origin.
func NewClient(origin string, config *Config) (*Client, error) {
	if origin == "" {
		return nil, fmt.Errorf("origin cannot be empty")
	}

	if config == nil {
		config = DefaultConfig()
	}
	if config.SessionPath == "" {
		config.SessionPath = "/api/auth/session"
	}

	baseURL, err := url.Parse(strings.TrimRight(origin, "/"))
	if err != nil {
		return nil, err
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("origin must be an http or https URL, got %q", origin)
	}
	if baseURL.Host == "" {
		return nil, fmt.Errorf("origin %q has no host", origin)
	}

	httpClient := config.HttpClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		httpClient = &http.Client{
			Timeout: config.Timeout,
			Jar:     jar,
		}
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = *config.Logger
	}

	return &Client{
		httpClient: httpClient,
		BaseURL:    baseURL,
		Config:     config,
		logger:     logger,
	}, nil
}

// GetHTTPClient returns the HTTP client used for API requests
func (c *Client) GetHTTPClient() *http.Client {
	return c.httpClient
}

// GetLogger returns the logger used by the SDK.
func (c *Client) GetLogger() zerolog.Logger {
	return c.logger
}

// Origin returns the application origin as a string.
func (c *Client) Origin() string {
	return c.BaseURL.String()
}

// SetSessionCookie stores a session cookie for the application origin. It is
// sent on every API request and on the realtime websocket handshake.
func (c *Client) SetSessionCookie(name, value string) error {
	if c.httpClient.Jar == nil {
		return fmt.Errorf("http client has no cookie jar")
	}
	c.httpClient.Jar.SetCookies(c.BaseURL, []*http.Cookie{{
		Name:  name,
		Value: value,
		Path:  "/",
	}})
	return nil
}

// Request performs an HTTP request against the application with automatic
// retry for transient errors (429, 502, 503, 504).
// The caller is responsible for closing the response body when done.
func (c *Client) Request(method, path string, params url.Values, body interface{}) (*http.Response, error) {
	return c.RequestWithRetry(context.Background(), method, path, params, body)
}

// RequestWithContext performs a single HTTP request with the given context.
// The caller is responsible for closing the response body when done.
func (c *Client) RequestWithContext(ctx context.Context, method, path string, params url.Values, body interface{}) (*http.Response, error) {
	u, err := url.Parse(c.BaseURL.String() + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, err
	}

	if params != nil {
		u.RawQuery = params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range c.Config.DefaultHeaders {
		req.Header.Set(k, v)
	}

	return c.httpClient.Do(req)
}

// RequestWithRetry performs an HTTP request with automatic retry for transient errors.
// It retries on HTTP 429 (respecting the Retry-After header) and transient
// server errors (502, 503, 504) using exponential backoff.
// The caller is responsible for closing the response body when done.
func (c *Client) RequestWithRetry(ctx context.Context, method, path string, params url.Values, body interface{}) (*http.Response, error) {
	maxRetries := c.Config.MaxRetries
	baseDelay := c.Config.RetryBaseDelay
	if baseDelay == 0 {
		baseDelay = 1 * time.Second
	}

	var resp *http.Response
	var err error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err = c.RequestWithContext(ctx, method, path, params, body)
		if err != nil {
			return nil, err
		}

		if !isRetryableStatus(resp.StatusCode) || attempt == maxRetries {
			return resp, nil
		}

		delay := retryDelay(resp, baseDelay, attempt)
		resp.Body.Close()

		c.logger.Debug().
			Str("path", path).
			Int("status", resp.StatusCode).
			Dur("retry_in", delay).
			Msg("transient response, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return resp, err
}

// isRetryableStatus returns true for HTTP status codes that should be retried.
func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}

// retryDelay calculates the delay before the next retry attempt.
// 429 responses honour Retry-After; everything else uses baseDelay * 2^attempt.
func retryDelay(resp *http.Response, baseDelay time.Duration, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return baseDelay * (1 << uint(attempt))
}

// ParseResponse parses an HTTP response into the given interface
func ParseResponse(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return NewAPIError(resp, body)
	}

	if v == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}
