/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Client adapts a SIP Engine to a Store. It is the only component that
// talks to the engine: UI intent arrives through its methods and engine
// events are turned into store mutations.
type Client struct {
	config *Config
	logger zerolog.Logger
	store  *Store
	engine Engine

	mu         sync.Mutex
	resolver   Resolver
	notifier   Notifier
	registered bool
	regCreds   SipCredentials
	closed     bool

	// initMu serializes registration attempts.
	initMu sync.Mutex

	autoMu      sync.Mutex
	lastProfile *Profile

	unsubscribe []func()
	lookups     sync.WaitGroup
	now         func() time.Time
}

// New creates a Client around engine. A nil engine yields a Client in
// degraded mode: Available reports false and call control returns
// ErrEngineUnavailable.
func New(engine Engine, config *Config) *Client {
	config = normalizeConfig(config)
	logger := config.logger("calling")

	c := &Client{
		config:   config,
		logger:   logger,
		store:    NewStore(config),
		engine:   engine,
		notifier: LogNotifier{Logger: logger},
		now:      time.Now,
	}

	if engine != nil {
		em := engine.Emitter()
		c.unsubscribe = append(c.unsubscribe,
			em.On(string(EngineEventRegistration), c.guard(EngineEventRegistration, c.onRegistration)),
			em.On(string(EngineEventIncoming), c.guard(EngineEventIncoming, c.onIncoming)),
			em.On(string(EngineEventCallState), c.guard(EngineEventCallState, c.onCallState)),
			em.On(string(EngineEventRemoteMedia), c.guard(EngineEventRemoteMedia, c.onRemoteMedia)),
			em.On(string(EngineEventLocalMedia), c.guard(EngineEventLocalMedia, c.onLocalMedia)),
		)
	}
	return c
}

// Store returns the state container driven by this client.
func (c *Client) Store() *Store {
	return c.store
}

// Available reports whether a SIP engine is present.
func (c *Client) Available() bool {
	return c.engine != nil
}

// SetResolver sets the caller identity lookup used for inbound calls.
func (c *Client) SetResolver(r Resolver) {
	c.mu.Lock()
	c.resolver = r
	c.mu.Unlock()
}

// SetNotifier replaces the default log notifier.
func (c *Client) SetNotifier(n Notifier) {
	if n == nil {
		return
	}
	c.mu.Lock()
	c.notifier = n
	c.mu.Unlock()
}

func (c *Client) notify(level NoticeLevel, format string, args ...interface{}) {
	c.mu.Lock()
	n := c.notifier
	c.mu.Unlock()
	n.Notify(level, fmt.Sprintf(format, args...))
}

// Registered reports whether the engine holds a live registration.
func (c *Client) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

// ---- Registration ----

// Initialize registers the line. It returns nil without contacting the
// engine when the same credentials are already registered. An empty server
// falls back to the store's WSS server and then to Config.DefaultServer.
// Failures are returned as *AuthenticationError or *NetworkError and are
// never retried automatically.
func (c *Client) Initialize(ctx context.Context, extension, password, server string) error {
	if !c.Available() {
		return ErrEngineUnavailable
	}

	c.initMu.Lock()
	defer c.initMu.Unlock()

	server = strings.TrimSpace(server)
	if server == "" {
		server = c.store.WssServer()
	}
	if server == "" {
		server = c.config.DefaultServer
	}
	creds := SipCredentials{Extension: strings.TrimSpace(extension), Password: password, Server: server}

	if creds.Extension == "" || creds.Password == "" {
		return &AuthenticationError{Err: errors.New("extension and password are required")}
	}

	c.mu.Lock()
	if c.registered && c.regCreds == creds {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.store.SetSipCredentials(creds)
	c.store.SetConnectionStatus(ConnectionStatusConnecting)
	c.logger.Info().Object("credentials", creds).Msg("registering line")

	if err := c.engine.Register(ctx, creds); err != nil {
		err = classifyRegistrationError(server, err)
		c.mu.Lock()
		c.registered = false
		c.mu.Unlock()
		c.store.SetConnectionStatus(ConnectionStatusError)
		c.logger.Error().Err(err).Object("credentials", creds).Msg("registration failed")
		if IsAuthenticationError(err) {
			c.notify(NoticeError, "Phone registration failed: check your SIP extension and password")
		} else {
			c.notify(NoticeError, "Phone registration failed: signaling server unreachable")
		}
		return err
	}

	c.mu.Lock()
	c.registered = true
	c.regCreds = creds
	c.mu.Unlock()
	c.store.SetConnectionStatus(ConnectionStatusConnected)
	c.logger.Info().Object("credentials", creds).Msg("line registered")
	return nil
}

// AutoInitialize registers from the signed-in user's profile. It runs at
// most once per distinct profile tuple, only when SIP is enabled and both
// extension and password are set, and reports whether an attempt ran.
func (c *Client) AutoInitialize(ctx context.Context, p Profile) bool {
	c.autoMu.Lock()
	if c.lastProfile != nil && *c.lastProfile == p {
		c.autoMu.Unlock()
		return false
	}
	recorded := p
	c.lastProfile = &recorded
	c.autoMu.Unlock()

	if !p.SipEnabled || p.Extension == "" || p.Password == "" {
		c.logger.Debug().Object("profile", p).Msg("skipping auto-initialize")
		return false
	}

	if err := c.Initialize(ctx, p.Extension, p.Password, p.Server); err != nil {
		c.logger.Warn().Err(err).Msg("auto-initialize failed; waiting for manual retry")
	}
	return true
}

// ---- Call control ----

// MakeCall dials number and returns the new outbound record. Dial failures
// release the line and are returned wrapped.
func (c *Client) MakeCall(ctx context.Context, number string) (*CallRecord, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, ErrEmptyNumber
	}
	if !c.Available() {
		return nil, ErrEngineUnavailable
	}
	if !c.Registered() {
		return nil, ErrNotRegistered
	}

	rec := &CallRecord{
		ID:          uuid.New().String(),
		PhoneNumber: number,
		Direction:   CallDirectionOutbound,
		Status:      CallStatusRinging,
		StartTime:   c.now(),
	}
	if err := c.store.occupy(rec); err != nil {
		return nil, err
	}

	c.logger.Info().Str("call_id", rec.ID).Msg("dialing")
	if err := c.engine.Dial(ctx, rec.ID, number); err != nil {
		c.logger.Error().Err(err).Str("call_id", rec.ID).Msg("dial failed")
		c.notify(NoticeError, "Call to %s failed", FormatNumber(number))
		c.finish(rec.ID, CallStatusEnded, EndReasonFailed)
		return nil, fmt.Errorf("dial %s: %w", number, err)
	}
	return rec.clone(), nil
}

// ringingInbound returns the active call if it is an inbound call that is
// still ringing.
func (c *Client) ringingInbound() (*CallRecord, error) {
	cur := c.store.CurrentCall()
	if cur == nil {
		return nil, ErrNoActiveCall
	}
	if cur.Direction != CallDirectionInbound || cur.Status != CallStatusRinging {
		return nil, ErrInvalidCallState
	}
	return cur, nil
}

// AnswerCall answers the ringing inbound call.
func (c *Client) AnswerCall(ctx context.Context) error {
	if !c.Available() {
		return ErrEngineUnavailable
	}
	cur, err := c.ringingInbound()
	if err != nil {
		return err
	}

	if err := c.engine.Answer(ctx, cur.ID); err != nil {
		c.logger.Error().Err(err).Str("call_id", cur.ID).Msg("answer failed")
		c.notify(NoticeError, "Could not answer the call")
		c.abandon(ctx, cur.ID)
		c.finish(cur.ID, CallStatusEnded, EndReasonFailed)
		return fmt.Errorf("answer: %w", err)
	}

	c.store.markAnswered(cur.ID)
	c.logger.Info().Str("call_id", cur.ID).Msg("call answered")
	return nil
}

// RejectCall declines the ringing inbound call.
func (c *Client) RejectCall(ctx context.Context) error {
	if !c.Available() {
		return ErrEngineUnavailable
	}
	cur, err := c.ringingInbound()
	if err != nil {
		return err
	}

	err = c.engine.Reject(ctx, cur.ID, false)
	if err != nil {
		c.logger.Error().Err(err).Str("call_id", cur.ID).Msg("reject failed")
		c.notify(NoticeError, "Could not decline the call")
		c.abandon(ctx, cur.ID)
	}
	c.finish(cur.ID, CallStatusEnded, EndReasonRejected)
	if err != nil {
		return fmt.Errorf("reject: %w", err)
	}
	return nil
}

// HangupCall ends the active call. The line is released even if the engine
// reports an error.
func (c *Client) HangupCall(ctx context.Context) error {
	if !c.Available() {
		return ErrEngineUnavailable
	}
	cur := c.store.CurrentCall()
	if cur == nil {
		return ErrNoActiveCall
	}
	if !cur.Status.Active() {
		return ErrInvalidCallState
	}

	err := c.engine.Hangup(ctx, cur.ID)
	if err != nil {
		c.logger.Error().Err(err).Str("call_id", cur.ID).Msg("hangup failed")
		c.notify(NoticeWarning, "The call may not have ended cleanly")
	}
	c.finish(cur.ID, CallStatusEnded, EndReasonHangup)
	if err != nil {
		return fmt.Errorf("hangup: %w", err)
	}
	return nil
}

// abandon hangs the call up at the engine after a failed operation.
func (c *Client) abandon(ctx context.Context, callID string) {
	if err := c.engine.Hangup(ctx, callID); err != nil {
		c.logger.Debug().Err(err).Str("call_id", callID).Msg("best-effort hangup failed")
	}
}

// ValidDTMF reports whether r is a DTMF digit.
func ValidDTMF(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r == '*' || r == '#':
		return true
	case r >= 'A' && r <= 'D':
		return true
	}
	return false
}

// SendDTMF records digit in the dial buffer and transmits it when the
// active call is answered. In any other state the digit is only buffered.
func (c *Client) SendDTMF(ctx context.Context, digit rune) error {
	digit = unicode.ToUpper(digit)
	if !ValidDTMF(digit) {
		return ErrInvalidDigit
	}
	c.store.AppendDigit(digit)

	cur := c.store.CurrentCall()
	if cur == nil || cur.Status != CallStatusAnswered || !c.Available() {
		return nil
	}
	if err := c.engine.SendDTMF(ctx, cur.ID, digit); err != nil {
		c.logger.Warn().Err(err).Str("call_id", cur.ID).Msg("dtmf failed")
		return fmt.Errorf("send dtmf: %w", err)
	}
	return nil
}

// ToggleMute flips mute on the active call. The flag only changes once the
// engine confirms. It is a no-op unless a call is answered or held.
func (c *Client) ToggleMute(ctx context.Context) error {
	if !c.Available() {
		return ErrEngineUnavailable
	}
	callID, target, ok := c.store.BeginMute()
	if !ok {
		return nil
	}
	err := c.engine.SetMute(ctx, callID, target)
	c.store.ResolveMute(target, err)
	if err != nil {
		c.logger.Warn().Err(err).Str("call_id", callID).Bool("target", target).Msg("mute rejected")
		c.notify(NoticeWarning, "Could not change mute")
		return fmt.Errorf("mute: %w", err)
	}
	return nil
}

// ToggleHold flips hold on the active call, following ToggleMute.
func (c *Client) ToggleHold(ctx context.Context) error {
	if !c.Available() {
		return ErrEngineUnavailable
	}
	callID, target, ok := c.store.BeginHold()
	if !ok {
		return nil
	}
	err := c.engine.SetHold(ctx, callID, target)
	c.store.ResolveHold(target, err)
	if err != nil {
		c.logger.Warn().Err(err).Str("call_id", callID).Bool("target", target).Msg("hold rejected")
		c.notify(NoticeWarning, "Could not change hold")
		return fmt.Errorf("hold: %w", err)
	}
	return nil
}

// finish finalizes the call and detaches media.
func (c *Client) finish(callID string, status CallStatus, reason EndReason) {
	rec := c.store.finishCall(callID, status, reason)
	if rec == nil {
		return
	}
	local, remote := c.store.AudioElements()
	if local != nil {
		local.Detach()
	}
	if remote != nil {
		remote.Detach()
	}
	ev := c.logger.Info().Str("call_id", rec.ID).Str("status", string(rec.Status)).Str("reason", string(rec.EndReason))
	if rec.Duration != nil {
		ev = ev.Dur("duration", *rec.Duration)
	}
	ev.Msg("call finished")
}

// ---- Engine events ----

func (c *Client) guard(key EngineEventKey, fn func(interface{})) EventHandler {
	return func(data interface{}) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error().Interface("panic", r).Str("event", string(key)).Msg("engine event handler panicked")
			}
		}()
		fn(data)
	}
}

func (c *Client) onRegistration(data interface{}) {
	ev, ok := data.(RegistrationEvent)
	if !ok {
		return
	}
	if ev.Registered {
		c.store.SetConnectionStatus(ConnectionStatusConnected)
		return
	}

	c.mu.Lock()
	wasRegistered := c.registered
	c.registered = false
	c.mu.Unlock()

	if ev.Err != nil {
		c.store.SetConnectionStatus(ConnectionStatusError)
		if wasRegistered {
			c.logger.Error().Err(ev.Err).Msg("registration lost")
			c.notify(NoticeError, "Phone registration lost; reconnect from the phone settings")
		}
		return
	}
	c.store.SetConnectionStatus(ConnectionStatusDisconnected)
}

func (c *Client) onIncoming(data interface{}) {
	ev, ok := data.(IncomingCallEvent)
	if !ok || ev.CallID == "" {
		return
	}

	rec := &CallRecord{
		ID:          ev.CallID,
		PhoneNumber: ev.Number,
		DisplayName: ev.DisplayName,
		Direction:   CallDirectionInbound,
		Status:      CallStatusRinging,
		StartTime:   c.now(),
	}

	if err := c.store.occupy(rec); err != nil {
		c.logger.Warn().Str("call_id", ev.CallID).Msg("line busy, rejecting inbound call")
		if err := c.engine.Reject(context.Background(), ev.CallID, true); err != nil {
			c.logger.Warn().Err(err).Str("call_id", ev.CallID).Msg("busy reject failed")
		}
		rec.EndReason = EndReasonBusy
		c.store.recordMissed(rec)
		return
	}

	c.logger.Info().Str("call_id", rec.ID).Msg("incoming call")
	c.startLookup(rec.ID, rec.PhoneNumber)
}

// startLookup resolves the caller without blocking the incoming call.
func (c *Client) startLookup(callID, number string) {
	c.mu.Lock()
	resolver := c.resolver
	closed := c.closed
	c.mu.Unlock()
	if resolver == nil || closed || number == "" {
		return
	}

	c.lookups.Add(1)
	go func() {
		defer c.lookups.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error().Interface("panic", r).Str("call_id", callID).Msg("caller lookup panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), c.config.LookupTimeout)
		defer cancel()

		info := resolver.Resolve(ctx, number)
		if !c.store.SetCallerInfo(callID, info) {
			c.logger.Debug().Str("call_id", callID).Msg("dropping stale caller lookup")
		}
	}()
}

func (c *Client) onCallState(data interface{}) {
	ev, ok := data.(CallStateEvent)
	if !ok {
		return
	}
	cur := c.store.CurrentCall()
	if cur == nil || cur.ID != ev.CallID {
		return
	}

	switch ev.State {
	case CallStateProgress:
		c.logger.Debug().Str("call_id", ev.CallID).Msg("call progress")
	case CallStateAnswered:
		c.store.markAnswered(ev.CallID)
	case CallStateTerminated:
		reason := ev.Reason
		if reason == "" {
			reason = EndReasonRemoteHangup
		}
		status := CallStatusEnded
		if cur.Direction == CallDirectionInbound && cur.Status == CallStatusRinging &&
			(reason == EndReasonCancelled || reason == EndReasonTimeout) {
			status = CallStatusMissed
		}
		if reason == EndReasonFailed || reason == EndReasonMediaFailed {
			c.notify(NoticeError, "The call was disconnected")
		}
		c.finish(ev.CallID, status, reason)
	}
}

func (c *Client) onRemoteMedia(data interface{}) {
	ev, ok := data.(MediaEvent)
	if !ok {
		return
	}
	_, remote := c.store.AudioElements()
	c.attach("remote", remote, ev)
}

func (c *Client) onLocalMedia(data interface{}) {
	ev, ok := data.(MediaEvent)
	if !ok {
		return
	}
	local, _ := c.store.AudioElements()
	c.attach("local", local, ev)
}

func (c *Client) attach(kind string, sink AudioSink, ev MediaEvent) {
	if sink == nil {
		c.logger.Warn().Str("call_id", ev.CallID).Str("sink", kind).Msg("audio sink not bound; dropping stream")
		return
	}
	if err := sink.Attach(ev.Stream); err != nil {
		c.logger.Warn().Err(err).Str("call_id", ev.CallID).Str("sink", kind).Msg("audio attach failed")
	}
}

// ---- Teardown ----

// Shutdown hangs up any active call, unregisters and closes the engine.
// It is safe to call more than once.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	registered := c.registered
	c.registered = false
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	var errs []error
	if c.engine != nil {
		if cur := c.store.CurrentCall(); cur != nil {
			if err := c.engine.Hangup(ctx, cur.ID); err != nil {
				errs = append(errs, fmt.Errorf("hangup: %w", err))
			}
			c.finish(cur.ID, CallStatusEnded, EndReasonHangup)
		}
		if registered {
			if err := c.engine.Unregister(ctx); err != nil {
				errs = append(errs, fmt.Errorf("unregister: %w", err))
			}
		}
		for _, u := range unsub {
			u()
		}
		if err := c.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close engine: %w", err))
		}
	}

	c.lookups.Wait()
	c.store.SetConnectionStatus(ConnectionStatusDisconnected)
	return errors.Join(errs...)
}
