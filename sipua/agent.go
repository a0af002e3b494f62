/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package sipua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/tejzpr/webphone-go-sdk/calling"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("sipua: user agent closed")

// UserAgent is a single-line SIP phone. It implements calling.Engine.
type UserAgent struct {
	config  *Config
	logger  zerolog.Logger
	emitter *calling.EventEmitter

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	ua     *sipgo.UserAgent
	client *sipgo.Client
	server *sipgo.Server
	target target
	line   *Line
	calls  map[string]*Call
	closed bool
}

var _ calling.Engine = (*UserAgent)(nil)

// New creates a user agent. The sipgo stack is built on the first Register.
func New(config *Config) *UserAgent {
	cfg := normalizeConfig(config)
	ctx, cancel := context.WithCancel(context.Background())
	return &UserAgent{
		config:  cfg,
		logger:  cfg.logger(),
		emitter: calling.NewEventEmitter(),
		ctx:     ctx,
		cancel:  cancel,
		calls:   make(map[string]*Call),
	}
}

// Emitter implements calling.Engine.
func (a *UserAgent) Emitter() *calling.EventEmitter { return a.emitter }

func (a *UserAgent) emit(key calling.EngineEventKey, data interface{}) {
	a.emitter.Emit(string(key), data)
}

// ensureStackLocked builds the sipgo user agent, client and server for t,
// replacing a stack built for another server.
func (a *UserAgent) ensureStackLocked(t target) error {
	if a.ua != nil && a.target == t {
		return nil
	}
	a.closeStackLocked()

	var (
		ua  *sipgo.UserAgent
		err error
	)
	if a.config.Hostname != "" {
		ua, err = sipgo.NewUA(
			sipgo.WithUserAgent(a.config.UserAgent),
			sipgo.WithUserAgentHostname(a.config.Hostname),
		)
	} else {
		ua, err = sipgo.NewUA(sipgo.WithUserAgent(a.config.UserAgent))
	}
	if err != nil {
		return fmt.Errorf("creating sip user agent: %w", err)
	}

	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return fmt.Errorf("creating sip client: %w", err)
	}

	server, err := sipgo.NewServer(ua)
	if err != nil {
		client.Close()
		ua.Close()
		return fmt.Errorf("creating sip server: %w", err)
	}
	server.OnInvite(a.handleInvite)
	server.OnAck(a.handleAck)
	server.OnBye(a.handleBye)
	server.OnCancel(a.handleCancel)
	server.OnInfo(a.handleInfo)
	server.OnOptions(a.handleOptions)

	if addr := a.config.ListenAddr; addr != "" {
		network := strings.ToLower(t.Transport)
		if network == "tls" || network == "wss" {
			a.logger.Warn().Str("transport", network).Msg("local listener needs a certificate; skipping")
		} else {
			go func() {
				a.logger.Info().Str("addr", addr).Str("network", network).Msg("sip listener starting")
				if err := server.ListenAndServe(a.ctx, network, addr); err != nil {
					a.logger.Error().Err(err).Msg("sip listener stopped")
				}
			}()
		}
	}

	a.ua, a.client, a.server, a.target = ua, client, server, t
	return nil
}

func (a *UserAgent) closeStackLocked() {
	if a.server != nil {
		a.server.Close()
	}
	if a.client != nil {
		a.client.Close()
	}
	if a.ua != nil {
		a.ua.Close()
	}
	a.ua, a.client, a.server = nil, nil, nil
}

func (a *UserAgent) hostnameLocked() string {
	if a.config.Hostname != "" {
		return a.config.Hostname
	}
	return a.ua.Hostname()
}

// ---- registration ----

// Register implements calling.Engine. A previous registration is removed
// first.
func (a *UserAgent) Register(ctx context.Context, creds calling.SipCredentials) error {
	t, err := parseTarget(creds.Server, a.config.Transport)
	if err != nil {
		return &calling.NetworkError{Server: creds.Server, Err: err}
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	old := a.line
	a.line = nil
	a.mu.Unlock()

	if old != nil {
		if err := old.Deregister(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("removing previous registration")
		}
	}

	a.mu.Lock()
	if err := a.ensureStackLocked(t); err != nil {
		a.mu.Unlock()
		return &calling.NetworkError{Server: creds.Server, Err: err}
	}
	line := newLine(a.client, t, creds, a.hostnameLocked(), a.config, a.logger)
	a.mu.Unlock()
	line.onLost = func(err error) { a.lineLost(line, err) }

	regCtx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout)
	defer cancel()
	if err := line.Register(regCtx); err != nil {
		return err
	}

	a.mu.Lock()
	a.line = line
	a.mu.Unlock()
	return nil
}

func (a *UserAgent) lineLost(line *Line, err error) {
	a.mu.Lock()
	current := a.line == line
	if current {
		a.line = nil
	}
	a.mu.Unlock()
	if current {
		a.emit(calling.EngineEventRegistration, calling.RegistrationEvent{Registered: false, Err: err})
	}
}

// Unregister implements calling.Engine.
func (a *UserAgent) Unregister(ctx context.Context) error {
	a.mu.Lock()
	line := a.line
	a.line = nil
	a.mu.Unlock()
	if line == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.config.RequestTimeout)
	defer cancel()
	return line.Deregister(ctx)
}

// ---- calls ----

func (a *UserAgent) lookup(callID string) (*Call, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	call, ok := a.calls[callID]
	if !ok {
		return nil, calling.ErrNoActiveCall
	}
	return call, nil
}

func (a *UserAgent) removeCall(id string) {
	a.mu.Lock()
	delete(a.calls, id)
	a.mu.Unlock()
}

// finishCall ends a call without signalling and emits terminated.
func (a *UserAgent) finishCall(call *Call, reason calling.EndReason) {
	if !call.end() {
		return
	}
	a.removeCall(call.ID)
	call.closeMedia()
	call.logger.Info().Str("reason", string(reason)).Msg("call terminated")
	a.emit(calling.EngineEventCallState, calling.CallStateEvent{
		CallID: call.ID,
		State:  calling.CallStateTerminated,
		Reason: reason,
	})
}

// terminate sends BYE on an established call and emits terminated.
func (a *UserAgent) terminate(call *Call, reason calling.EndReason) {
	if call.getPhase() == phaseEstablished {
		ctx, cancel := context.WithTimeout(a.ctx, a.config.RequestTimeout)
		if err := a.bye(ctx, call); err != nil {
			call.logger.Warn().Err(err).Msg("bye failed")
		}
		cancel()
	}
	a.finishCall(call, reason)
}

func (a *UserAgent) mediaHandlers(call *Call) (func(*webrtc.TrackRemote), func()) {
	onRemote := func(track *webrtc.TrackRemote) {
		a.emit(calling.EngineEventRemoteMedia, calling.MediaEvent{
			CallID: call.ID,
			Stream: &RemoteStream{id: call.ID + "-remote", track: track},
		})
	}
	onFailed := func() {
		call.logger.Error().Msg("peer connection failed")
		go a.terminate(call, calling.EndReasonMediaFailed)
	}
	return onRemote, onFailed
}

func (a *UserAgent) emitLocal(call *Call, m *MediaEngine) {
	if ls := m.LocalStream(call.ID); ls != nil {
		a.emit(calling.EngineEventLocalMedia, calling.MediaEvent{CallID: call.ID, Stream: ls})
	}
}

// Dial implements calling.Engine. It returns once the INVITE is sent;
// progress and the outcome arrive as call_state events.
func (a *UserAgent) Dial(ctx context.Context, callID, number string) error {
	a.mu.Lock()
	line := a.line
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if line == nil {
		a.mu.Unlock()
		return calling.ErrNotRegistered
	}
	if _, dup := a.calls[callID]; dup {
		a.mu.Unlock()
		return fmt.Errorf("call %s already exists", callID)
	}
	call := newCall(callID, calling.CallDirectionOutbound, number, a.logger)
	call.phase = phaseCalling
	a.calls[callID] = call
	client := a.client
	a.mu.Unlock()

	fail := func(err error) error {
		call.end()
		a.removeCall(callID)
		call.closeMedia()
		return err
	}

	onRemote, onFailed := a.mediaHandlers(call)
	m, err := call.setupMedia(a.config.Media, onRemote, onFailed)
	if err != nil {
		return fail(err)
	}
	offer, err := m.CreateOffer(ctx)
	if err != nil {
		return fail(err)
	}

	req := a.buildInvite(line, call, number, offer)
	call.mu.Lock()
	call.invite = req
	call.localSDP = offer
	call.mu.Unlock()

	tx, err := client.TransactionRequest(a.ctx, req, sipgo.ClientRequestBuild)
	if err != nil {
		return fail(fmt.Errorf("sending invite: %w", err))
	}
	call.logger.Info().Str("number", number).Msg("invite sent")

	go a.runInvite(call, line, client, req, tx)
	return nil
}

func (a *UserAgent) buildInvite(line *Line, call *Call, number, offer string) *sip.Request {
	t := line.target
	req := sip.NewRequest(sip.INVITE, sip.Uri{Scheme: "sip", User: number, Host: t.Host, Port: t.Port})
	req.SetTransport(t.Transport)
	req.SetDestination(t.hostPort())

	from := &sip.FromHeader{Address: line.aor()}
	from.Params.Add("tag", call.localTag)
	req.AppendHeader(from)
	req.AppendHeader(&sip.ToHeader{Address: sip.Uri{Scheme: "sip", User: number, Host: t.Host}})
	req.AppendHeader(&sip.ContactHeader{Address: line.contact()})
	callID := sip.CallIDHeader(call.ID)
	req.AppendHeader(&callID)
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	req.SetBody([]byte(offer))
	return req
}

// runInvite follows an outbound INVITE transaction to its final response.
func (a *UserAgent) runInvite(call *Call, line *Line, client *sipgo.Client, req *sip.Request, tx sip.ClientTransaction) {
	authed := false
	for {
		var res *sip.Response
		select {
		case <-a.ctx.Done():
			tx.Terminate()
			return
		case <-tx.Done():
			err := tx.Err()
			tx.Terminate()
			call.logger.Warn().Err(err).Msg("invite transaction ended without final response")
			a.finishCall(call, calling.EndReasonTimeout)
			return
		case res = <-tx.Responses():
		}

		code := int(res.StatusCode)
		switch {
		case code < 180:
			continue

		case code < 200:
			call.mu.Lock()
			first := !call.progress
			call.progress = true
			call.mu.Unlock()
			if first {
				a.emit(calling.EngineEventCallState, calling.CallStateEvent{CallID: call.ID, State: calling.CallStateProgress})
			}

		case code == 401 || code == 407:
			tx.Terminate()
			if authed || call.getPhase() == phaseEnded {
				a.finishCall(call, calling.EndReasonFailed)
				return
			}
			authReq, err := challenge(req, res, line.creds.Extension, line.creds.Password)
			if err != nil {
				call.logger.Error().Err(err).Msg("invite challenge")
				a.finishCall(call, calling.EndReasonFailed)
				return
			}
			next, err := client.TransactionRequest(a.ctx, authReq,
				sipgo.ClientRequestIncreaseCSEQ,
				sipgo.ClientRequestAddVia,
			)
			if err != nil {
				call.logger.Error().Err(err).Msg("sending authenticated invite")
				a.finishCall(call, calling.EndReasonFailed)
				return
			}
			req, tx, authed = authReq, next, true
			call.mu.Lock()
			call.invite = req
			call.mu.Unlock()

		case code < 300:
			a.established(call, client, req, res)
			return

		default:
			tx.Terminate()
			call.logger.Info().Int("status", code).Str("reason", res.Reason).Msg("invite failed")
			a.finishCall(call, failureReason(code))
			return
		}
	}
}

func (a *UserAgent) established(call *Call, client *sipgo.Client, req *sip.Request, res *sip.Response) {
	if err := client.WriteRequest(buildACK(req, res)); err != nil {
		call.logger.Warn().Err(err).Msg("sending ack")
	}

	dlg := dialogFromResponse(req, res)
	call.mu.Lock()
	call.dlg = dlg
	ended := call.phase == phaseEnded
	if !ended {
		call.phase = phaseEstablished
	}
	m := call.media
	call.mu.Unlock()

	if ended || m == nil {
		// hung up while the 200 was in flight
		ctx, cancel := context.WithTimeout(a.ctx, a.config.RequestTimeout)
		defer cancel()
		if err := a.bye(ctx, call); err != nil {
			call.logger.Debug().Err(err).Msg("bye after late answer")
		}
		return
	}

	if err := m.SetRemoteAnswer(string(res.Body())); err != nil {
		call.logger.Error().Err(err).Msg("applying remote answer")
		a.terminate(call, calling.EndReasonMediaFailed)
		return
	}

	call.logger.Info().Msg("call answered")
	a.emit(calling.EngineEventCallState, calling.CallStateEvent{CallID: call.ID, State: calling.CallStateAnswered})
	a.emitLocal(call, m)
}

// inDialog sends an in-dialog request, answering a digest challenge once.
func (a *UserAgent) inDialog(ctx context.Context, call *Call, method sip.RequestMethod, body []byte, contentType string) (*sip.Request, *sip.Response, error) {
	dlg := call.dialog()
	if dlg == nil {
		return nil, nil, calling.ErrInvalidCallState
	}
	a.mu.Lock()
	client, line := a.client, a.line
	a.mu.Unlock()
	if client == nil {
		return nil, nil, ErrClosed
	}
	var user, pass string
	if line != nil {
		user, pass = line.creds.Extension, line.creds.Password
	}

	req := dlg.request(method, body, contentType)
	tx, sent, res, err := sendAuthenticated(ctx, client, req, user, pass, sipgo.ClientRequestBuild)
	if err != nil {
		return sent, nil, err
	}
	tx.Terminate()
	return sent, res, nil
}

func (a *UserAgent) bye(ctx context.Context, call *Call) error {
	_, res, err := a.inDialog(ctx, call, sip.BYE, nil, "")
	if err != nil {
		return fmt.Errorf("sending bye: %w", err)
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("bye answered %d %s", res.StatusCode, res.Reason)
	}
	return nil
}

// Answer implements calling.Engine.
func (a *UserAgent) Answer(ctx context.Context, callID string) error {
	call, err := a.lookup(callID)
	if err != nil {
		return err
	}
	if call.Direction != calling.CallDirectionInbound || call.getPhase() != phaseRinging {
		return calling.ErrInvalidCallState
	}

	call.mu.Lock()
	offer := string(call.invite.Body())
	call.mu.Unlock()

	onRemote, onFailed := a.mediaHandlers(call)
	m, err := call.setupMedia(a.config.Media, onRemote, onFailed)
	if err != nil {
		return err
	}
	if err := m.SetRemoteOffer(offer); err != nil {
		return fmt.Errorf("applying remote offer: %w", err)
	}
	answer, err := m.CreateAnswer(ctx)
	if err != nil {
		return err
	}

	call.mu.Lock()
	call.localSDP = answer
	call.mu.Unlock()

	if err := call.decide(ctx, decision{code: 200, reason: "OK", body: []byte(answer)}, true); err != nil {
		return err
	}
	call.logger.Info().Msg("call answered")
	a.emitLocal(call, m)
	return nil
}

// Reject implements calling.Engine. It does not wait for the response to
// be sent so it is safe to call from an incoming event handler.
func (a *UserAgent) Reject(ctx context.Context, callID string, busy bool) error {
	call, err := a.lookup(callID)
	if err != nil {
		return err
	}
	if call.Direction != calling.CallDirectionInbound || call.getPhase() != phaseRinging {
		return calling.ErrInvalidCallState
	}
	d := decision{code: 603, reason: "Decline"}
	if busy {
		d = decision{code: 486, reason: "Busy Here"}
	}
	return call.decide(ctx, d, false)
}

// Hangup implements calling.Engine. It cancels a pending outbound INVITE,
// declines a ringing inbound one and sends BYE otherwise.
func (a *UserAgent) Hangup(ctx context.Context, callID string) error {
	call, err := a.lookup(callID)
	if err != nil {
		return err
	}

	switch call.getPhase() {
	case phaseRinging:
		return call.decide(ctx, decision{code: 603, reason: "Decline"}, false)

	case phaseCalling:
		if !call.end() {
			return nil
		}
		a.removeCall(callID)
		call.closeMedia()

		call.mu.Lock()
		invite := call.invite
		call.mu.Unlock()
		a.mu.Lock()
		client := a.client
		a.mu.Unlock()
		if invite == nil || client == nil {
			return nil
		}
		tx, err := client.TransactionRequest(ctx, buildCancel(invite), sipgo.ClientRequestBuild)
		if err != nil {
			return fmt.Errorf("sending cancel: %w", err)
		}
		tx.Terminate()
		call.logger.Info().Msg("invite cancelled")
		return nil

	case phaseEstablished:
		if !call.end() {
			return nil
		}
		a.removeCall(callID)
		err := a.bye(ctx, call)
		call.closeMedia()
		call.logger.Info().Msg("call hung up")
		return err
	}
	return nil
}

func (a *UserAgent) answeredCall(callID string) (*Call, error) {
	call, err := a.lookup(callID)
	if err != nil {
		return nil, err
	}
	if call.getPhase() != phaseEstablished {
		return nil, calling.ErrInvalidCallState
	}
	return call, nil
}

// SendDTMF implements calling.Engine with an application/dtmf-relay INFO.
func (a *UserAgent) SendDTMF(ctx context.Context, callID string, digit rune) error {
	call, err := a.answeredCall(callID)
	if err != nil {
		return err
	}
	body, err := dtmfRelayBody(digit, a.config.DTMFDuration)
	if err != nil {
		return err
	}
	_, res, err := a.inDialog(ctx, call, sip.INFO, body, contentTypeDTMFRelay)
	if err != nil {
		return fmt.Errorf("sending dtmf: %w", err)
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("dtmf rejected: %d %s", res.StatusCode, res.Reason)
	}
	return nil
}

// SetMute implements calling.Engine. Muting is local only.
func (a *UserAgent) SetMute(ctx context.Context, callID string, muted bool) error {
	call, err := a.answeredCall(callID)
	if err != nil {
		return err
	}
	return call.setMuted(muted)
}

// SetHold implements calling.Engine with a re-INVITE offering sendonly to
// hold and sendrecv to resume.
func (a *UserAgent) SetHold(ctx context.Context, callID string, held bool) error {
	call, err := a.answeredCall(callID)
	if err != nil {
		return err
	}

	call.mu.Lock()
	local := call.localSDP
	call.mu.Unlock()

	direction := DirectionSendRecv
	if held {
		direction = DirectionSendOnly
	}
	body, err := withDirection(local, direction)
	if err != nil {
		return err
	}

	sent, res, err := a.inDialog(ctx, call, sip.INVITE, []byte(body), "application/sdp")
	if err != nil {
		return fmt.Errorf("sending re-invite: %w", err)
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("hold rejected: %d %s", res.StatusCode, res.Reason)
	}

	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client != nil {
		if err := client.WriteRequest(buildACK(sent, res)); err != nil {
			call.logger.Warn().Err(err).Msg("sending ack for re-invite")
		}
	}

	call.mu.Lock()
	call.localSDP = body
	call.held = held
	m := call.media
	call.mu.Unlock()
	if m != nil {
		m.SetHeld(held)
	}
	call.logger.Info().Bool("held", held).Msg("hold updated")
	return nil
}

// Close hangs up every call, removes the registration and stops the stack.
func (a *UserAgent) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	ids := make([]string, 0, len(a.calls))
	for id := range a.calls {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), a.config.RequestTimeout)
	defer cancel()

	var errs []error
	for _, id := range ids {
		if err := a.Hangup(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Unregister(ctx); err != nil {
		errs = append(errs, err)
	}

	a.cancel()
	a.mu.Lock()
	a.closeStackLocked()
	a.mu.Unlock()
	return errors.Join(errs...)
}

// ---- server handlers ----

func requestCallID(req *sip.Request) string {
	if h := req.CallID(); h != nil {
		return h.Value()
	}
	return ""
}

func (a *UserAgent) reply(tx sip.ServerTransaction, res *sip.Response) {
	if err := tx.Respond(res); err != nil {
		a.logger.Error().Err(err).Int("status", int(res.StatusCode)).Msg("failed to send response")
	}
}

// handleInvite runs for the life of an inbound INVITE transaction. It
// answers 180 and waits for Answer, Reject, CANCEL or the ring timeout.
func (a *UserAgent) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	if to := req.To(); to != nil {
		if _, ok := to.Params.Get("tag"); ok {
			a.handleReInvite(req, tx)
			return
		}
	}

	callID := requestCallID(req)
	a.mu.Lock()
	line := a.line
	if a.closed || line == nil || callID == "" {
		a.mu.Unlock()
		a.reply(tx, sip.NewResponseFromRequest(req, 480, "Temporarily Unavailable", nil))
		return
	}
	if _, dup := a.calls[callID]; dup {
		a.mu.Unlock()
		return
	}
	number, display := callerIdentity(req)
	call := newCall(callID, calling.CallDirectionInbound, number, a.logger)
	call.phase = phaseRinging
	call.invite = req
	a.calls[callID] = call
	t := a.target
	contact := line.contact()
	a.mu.Unlock()

	a.reply(tx, respond(req, 180, "Ringing", nil, call.localTag, nil))
	call.logger.Info().Str("number", number).Msg("incoming call")
	a.emit(calling.EngineEventIncoming, calling.IncomingCallEvent{
		CallID:      callID,
		Number:      number,
		DisplayName: display,
	})

	timer := time.NewTimer(a.config.RingTimeout)
	defer timer.Stop()

	select {
	case d := <-call.decisions:
		err := tx.Respond(respond(req, d.code, d.reason, d.body, call.localTag, &contact))
		if d.code == 200 && err == nil {
			call.mu.Lock()
			call.dlg = dialogFromRequest(req, call.localTag, contact, t)
			call.phase = phaseEstablished
			call.mu.Unlock()
		} else if call.end() {
			a.removeCall(callID)
			call.closeMedia()
		}
		d.done <- err

	case <-call.cancelled:
		a.reply(tx, respond(req, 487, "Request Terminated", nil, call.localTag, nil))
		a.finishCall(call, calling.EndReasonCancelled)
		a.abandonDecision(call)

	case <-tx.Done():
		a.finishCall(call, calling.EndReasonCancelled)
		a.abandonDecision(call)

	case <-timer.C:
		a.reply(tx, respond(req, 480, "Temporarily Unavailable", nil, call.localTag, nil))
		a.finishCall(call, calling.EndReasonTimeout)
		a.abandonDecision(call)

	case <-a.ctx.Done():
		a.reply(tx, respond(req, 480, "Temporarily Unavailable", nil, call.localTag, nil))
		if call.end() {
			a.removeCall(callID)
			call.closeMedia()
		}
		a.abandonDecision(call)
	}
}

// abandonDecision fails an Answer that raced with the end of the INVITE.
// The call must already be ended so no new decision can arrive.
func (a *UserAgent) abandonDecision(call *Call) {
	select {
	case d := <-call.decisions:
		d.done <- calling.ErrInvalidCallState
	default:
	}
}

// handleReInvite answers a hold or resume from the far end by mirroring
// the offered direction.
func (a *UserAgent) handleReInvite(req *sip.Request, tx sip.ServerTransaction) {
	call, err := a.lookup(requestCallID(req))
	if err != nil || call.getPhase() != phaseEstablished {
		a.reply(tx, sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}

	offered, err := mediaDirection(string(req.Body()))
	if err != nil {
		a.reply(tx, sip.NewResponseFromRequest(req, 488, "Not Acceptable Here", nil))
		return
	}

	call.mu.Lock()
	local := call.localSDP
	contact := sip.Uri{}
	if call.dlg != nil {
		contact = call.dlg.contact
	}
	call.mu.Unlock()

	body, err := withDirection(local, answerDirection(offered))
	if err != nil {
		a.reply(tx, sip.NewResponseFromRequest(req, 488, "Not Acceptable Here", nil))
		return
	}
	call.mu.Lock()
	call.localSDP = body
	call.mu.Unlock()

	call.logger.Info().Str("offered", offered).Msg("remote re-invite")
	a.reply(tx, respond(req, 200, "OK", []byte(body), "", &contact))
}

func (a *UserAgent) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	a.logger.Debug().Str("call_id", requestCallID(req)).Msg("ack received")
}

func (a *UserAgent) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	call, err := a.lookup(requestCallID(req))
	if err != nil {
		a.reply(tx, sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}
	a.reply(tx, sip.NewResponseFromRequest(req, 200, "OK", nil))
	a.finishCall(call, calling.EndReasonRemoteHangup)
}

func (a *UserAgent) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	call, err := a.lookup(requestCallID(req))
	if err != nil || call.getPhase() != phaseRinging {
		a.reply(tx, sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}
	a.reply(tx, sip.NewResponseFromRequest(req, 200, "OK", nil))
	call.markCancelled()
}

func (a *UserAgent) handleInfo(req *sip.Request, tx sip.ServerTransaction) {
	callID := requestCallID(req)
	if _, err := a.lookup(callID); err != nil {
		a.reply(tx, sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}
	if ct := req.ContentType(); ct != nil && strings.HasPrefix(strings.ToLower(ct.Value()), contentTypeDTMFRelay) {
		if digit, d, err := parseDTMFRelay(req.Body()); err == nil {
			a.logger.Debug().Str("call_id", callID).Str("digit", string(digit)).Dur("duration", d).Msg("remote dtmf")
		}
	}
	a.reply(tx, sip.NewResponseFromRequest(req, 200, "OK", nil))
}

func (a *UserAgent) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Accept", "application/sdp"))
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, CANCEL, BYE, OPTIONS, INFO"))
	a.reply(tx, res)
}
