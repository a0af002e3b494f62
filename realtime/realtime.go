/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package realtime maintains the session-authenticated websocket that the
// CRM application uses to push chat and call notifications.
//
// The server associates the socket with the signed-in user through the
// session cookie sent on the handshake, so there is no credential exchange
// over the socket itself.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tejzpr/webphone-go-sdk/webphonesdk"
)

// ErrSessionNotReady is returned by Connect while the session is signed out
// or still loading.
var ErrSessionNotReady = errors.New("realtime: session is not authenticated")

// Config holds the configuration for the realtime transport
type Config struct {
	Path             string        // Well-known websocket path under the application origin
	BackoffBase      time.Duration // Delay before the first reconnect
	BackoffMax       time.Duration // Upper bound for reconnect delays
	HandshakeTimeout time.Duration // Websocket handshake timeout
	PingInterval     time.Duration // Interval between ping frames, 0 disables pings
	WriteTimeout     time.Duration // Deadline for control frame writes
	SessionTimeout   time.Duration // Timeout for the session query made before dialing
}

// DefaultConfig returns the default configuration for the realtime transport
func DefaultConfig() *Config {
	return &Config{
		Path:             "/ws",
		BackoffBase:      1 * time.Second,
		BackoffMax:       30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		WriteTimeout:     10 * time.Second,
		SessionTimeout:   10 * time.Second,
	}
}

// normalizeConfig fills zero fields from DefaultConfig. PingInterval is
// kept as given since zero disables pings.
func normalizeConfig(config *Config) *Config {
	def := DefaultConfig()
	if config == nil {
		return def
	}
	cfg := *config
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = def.SessionTimeout
	}
	return &cfg
}

// SessionProvider reports whether the application session is usable.
// *webphonesdk.Client implements it.
type SessionProvider interface {
	SessionState(ctx context.Context) (webphonesdk.SessionState, error)
}

// Envelope is an event pushed by the application.
type Envelope struct {
	Type        string          `json:"type"`
	PhoneNumber string          `json:"phoneNumber,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	CompanyID   string          `json:"companyId,omitempty"`
	UserID      string          `json:"userId,omitempty"`
}

// DecodeData unmarshals the envelope payload into v.
func (e *Envelope) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("envelope %q has no data", e.Type)
	}
	return json.Unmarshal(e.Data, v)
}

// Handler receives decoded envelopes.
type Handler func(env *Envelope)

// Client is the realtime websocket client
type Client struct {
	core    *webphonesdk.Client
	config  *Config
	logger  zerolog.Logger
	session SessionProvider
	dialer  *websocket.Dialer

	mu              sync.Mutex
	conn            *websocket.Conn
	connected       bool
	connecting      bool
	shouldReconnect bool
	attempt         int
	timer           *time.Timer
	stopPing        chan struct{}

	handlerMu sync.RWMutex
	handler   Handler

	// afterFunc schedules reconnects; replaced in tests.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// New creates a realtime client for the application behind core.
func New(core *webphonesdk.Client, config *Config) *Client {
	config = normalizeConfig(config)

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: config.HandshakeTimeout,
		Jar:              core.GetHTTPClient().Jar,
	}

	return &Client{
		core:      core,
		config:    config,
		logger:    core.GetLogger().With().Str("component", "realtime").Logger(),
		session:   core,
		dialer:    dialer,
		afterFunc: time.AfterFunc,
	}
}

// SetSessionProvider overrides the session check used before dialing.
func (c *Client) SetSessionProvider(provider SessionProvider) {
	c.mu.Lock()
	c.session = provider
	c.mu.Unlock()
}

// SetHandler replaces the message handler. The socket is left untouched;
// the next message is delivered to the new handler.
func (c *Client) SetHandler(h Handler) {
	c.handlerMu.Lock()
	c.handler = h
	c.handlerMu.Unlock()
}

// Endpoint derives the websocket URL from the application origin. The
// socket is secure exactly when the origin is.
func Endpoint(origin, path string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("invalid origin: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("origin %q has no host", origin)
	}

	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}

	ws := url.URL{Scheme: scheme, Host: u.Host, Path: path}
	return ws.String(), nil
}

// ReconnectDelay returns the wait before reconnect number attempt+1:
// min(base * 2^attempt, max).
func (c *Config) ReconnectDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := c.BackoffBase
	for i := 0; i < attempt; i++ {
		delay *= 2
		if c.BackoffMax > 0 && delay >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	if c.BackoffMax > 0 && delay > c.BackoffMax {
		return c.BackoffMax
	}
	return delay
}

// Connect opens the websocket. It is a no-op while a connection is open or
// being opened, and returns ErrSessionNotReady when the session is signed
// out or still loading. Dial failures are logged and retried with backoff
// rather than returned.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, false)
}

func (c *Client) connect(ctx context.Context, retrying bool) error {
	c.mu.Lock()
	if c.connected || c.connecting {
		c.mu.Unlock()
		return nil
	}
	if retrying && !c.shouldReconnect {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.shouldReconnect = true
	session := c.session
	c.mu.Unlock()

	if err := c.checkSession(ctx, session); err != nil {
		var queryErr *sessionQueryError
		if retrying && errors.As(err, &queryErr) {
			// The session endpoint is unreachable, not signed out. Keep
			// retrying like any other transport failure.
			c.mu.Lock()
			c.connecting = false
			c.mu.Unlock()
			c.scheduleReconnect()
			return nil
		}
		c.mu.Lock()
		c.connecting = false
		c.shouldReconnect = false
		c.mu.Unlock()
		return err
	}

	wsURL, err := Endpoint(c.core.Origin(), c.config.Path)
	if err != nil {
		c.mu.Lock()
		c.connecting = false
		c.shouldReconnect = false
		c.mu.Unlock()
		return err
	}

	c.dial(ctx, wsURL)
	return nil
}

type sessionQueryError struct {
	err error
}

func (e *sessionQueryError) Error() string {
	return fmt.Sprintf("%v: session query failed: %v", ErrSessionNotReady, e.err)
}

func (e *sessionQueryError) Unwrap() []error { return []error{ErrSessionNotReady, e.err} }

func (c *Client) checkSession(ctx context.Context, session SessionProvider) error {
	if session == nil {
		return nil
	}

	if c.config.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.SessionTimeout)
		defer cancel()
	}

	state, err := session.SessionState(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("session query failed")
		return &sessionQueryError{err: err}
	}
	if state != webphonesdk.SessionAuthenticated {
		c.logger.Debug().Str("state", string(state)).Msg("session not ready, not connecting")
		return ErrSessionNotReady
	}
	return nil
}

func (c *Client) dial(ctx context.Context, wsURL string) {
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	if !c.shouldReconnect {
		// Closed while dialing.
		c.connecting = false
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.connecting = false
		c.mu.Unlock()
		c.logger.Warn().Err(err).Str("url", wsURL).Msg("websocket dial failed")
		c.scheduleReconnect()
		return
	}

	c.conn = conn
	c.connected = true
	c.connecting = false
	c.attempt = 0
	stop := make(chan struct{})
	c.stopPing = stop
	c.mu.Unlock()

	c.logger.Info().Str("url", wsURL).Msg("websocket connected")

	if c.config.PingInterval > 0 {
		go c.startPing(conn, stop)
	}
	go c.listen(conn, stop)
}

// listen reads messages until the socket fails.
func (c *Client) listen(conn *websocket.Conn, stop chan struct{}) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, stop, err)
			return
		}
		c.dispatch(message)
	}
}

func (c *Client) dispatch(message []byte) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.Warn().Err(err).Int("bytes", len(message)).Msg("dropping malformed realtime message")
		return
	}
	if env.Type == "" {
		c.logger.Warn().Msg("dropping realtime message without type")
		return
	}

	c.handlerMu.RLock()
	h := c.handler
	c.handlerMu.RUnlock()
	if h == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("type", env.Type).Msg("realtime handler panicked")
		}
	}()
	h(&env)
}

// handleClose tears down the failed connection and schedules a reconnect
// unless the client was closed deliberately.
func (c *Client) handleClose(conn *websocket.Conn, stop chan struct{}, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	if c.stopPing == stop {
		close(stop)
		c.stopPing = nil
	}
	reconnect := c.shouldReconnect
	c.mu.Unlock()

	conn.Close()

	if !reconnect {
		return
	}
	if websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Info().Err(cause).Msg("websocket closed by server")
	} else {
		c.logger.Warn().Err(cause).Msg("websocket connection lost")
	}
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.shouldReconnect || c.timer != nil {
		return
	}

	delay := c.config.ReconnectDelay(c.attempt)
	c.attempt++
	c.logger.Info().Int("attempt", c.attempt).Dur("retry_in", delay).Msg("scheduling websocket reconnect")

	c.timer = c.afterFunc(delay, c.reconnect)
}

func (c *Client) reconnect() {
	c.mu.Lock()
	c.timer = nil
	reconnect := c.shouldReconnect
	c.mu.Unlock()

	if !reconnect {
		return
	}

	if err := c.connect(context.Background(), true); err != nil {
		c.logger.Warn().Err(err).Msg("reconnect abandoned")
	}
}

// startPing keeps the connection alive. A failed ping closes the socket,
// which hands control to the reconnect path in listen.
func (c *Client) startPing(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.config.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				conn.Close()
				return
			}
		case <-stop:
			return
		}
	}
}

// Close tears the transport down. The reconnect flag is cleared first, then
// any pending reconnect is cancelled, then the socket is closed. Safe to
// call repeatedly.
func (c *Client) Close() {
	c.mu.Lock()
	c.shouldReconnect = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.connected = false
	if c.stopPing != nil {
		close(c.stopPing)
		c.stopPing = nil
	}
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(c.config.WriteTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed"), deadline)
		_ = conn.Close()
	}
}

// IsConnected returns whether the websocket is open
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Attempt returns the number of reconnects scheduled since the last
// successful open.
func (c *Client) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}
