/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"errors"
	"testing"
	"time"
)

var ctx = context.Background()

func TestInitialize(t *testing.T) {
	t.Run("identical credentials register once", func(t *testing.T) {
		env := newUnregisteredEnv(t)
		for i := 0; i < 3; i++ {
			if err := env.client.Initialize(ctx, "1001", "secret", "wss://sip.test:7443"); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
		}
		if n := env.engine.registrationCount(); n != 1 {
			t.Errorf("Expected 1 registration, got %d", n)
		}
		if got := env.client.Store().ConnectionStatus(); got != ConnectionStatusConnected {
			t.Errorf("Expected connected, got %q", got)
		}
	})

	t.Run("each changed field registers exactly once more", func(t *testing.T) {
		env := newUnregisteredEnv(t)
		steps := []struct {
			ext, pw, server string
			expected        int
		}{
			{"1001", "secret", "wss://a.test", 1},
			{"1002", "secret", "wss://a.test", 2},
			{"1002", "secret", "wss://a.test", 2},
			{"1002", "other", "wss://a.test", 3},
			{"1002", "other", "wss://b.test", 4},
			{"1002", "other", "wss://b.test", 4},
		}
		for i, s := range steps {
			if err := env.client.Initialize(ctx, s.ext, s.pw, s.server); err != nil {
				t.Fatalf("step %d: Unexpected error: %v", i, err)
			}
			if n := env.engine.registrationCount(); n != s.expected {
				t.Errorf("step %d: Expected %d registrations, got %d", i, s.expected, n)
			}
		}
	})

	t.Run("server falls back to store then default", func(t *testing.T) {
		env := newUnregisteredEnv(t)
		env.client.Initialize(ctx, "1001", "secret", "")
		if got := env.engine.registrations[0].Server; got != DefaultConfig().DefaultServer {
			t.Errorf("Expected default server, got %q", got)
		}

		env.client.Store().SetWssServer("wss://pbx.test")
		env.client.Initialize(ctx, "1001", "secret", "")
		if got := env.engine.registrations[1].Server; got != "wss://pbx.test" {
			t.Errorf("Expected store server, got %q", got)
		}
	})

	t.Run("authentication failure", func(t *testing.T) {
		env := newUnregisteredEnv(t)
		env.engine.registerErr = &AuthenticationError{StatusCode: 403}

		err := env.client.Initialize(ctx, "1001", "wrong", "")
		if !IsAuthenticationError(err) {
			t.Fatalf("Expected AuthenticationError, got %v", err)
		}
		if got := env.client.Store().ConnectionStatus(); got != ConnectionStatusError {
			t.Errorf("Expected error status, got %q", got)
		}
		if env.notifier.count() != 1 {
			t.Errorf("Expected one notification, got %d", env.notifier.count())
		}
		if env.client.Registered() {
			t.Error("Expected not registered")
		}
	})

	t.Run("unclassified failure becomes network error", func(t *testing.T) {
		env := newUnregisteredEnv(t)
		env.engine.registerErr = errors.New("dial tcp: connection refused")

		err := env.client.Initialize(ctx, "1001", "secret", "wss://down.test")
		if !IsNetworkError(err) {
			t.Fatalf("Expected NetworkError, got %v", err)
		}
		var netErr *NetworkError
		errors.As(err, &netErr)
		if netErr.Server != "wss://down.test" {
			t.Errorf("Expected server on error, got %q", netErr.Server)
		}
	})

	t.Run("manual retry after failure registers again", func(t *testing.T) {
		env := newUnregisteredEnv(t)
		env.engine.registerErr = errors.New("timeout")
		env.client.Initialize(ctx, "1001", "secret", "")
		env.engine.registerErr = nil
		if err := env.client.Initialize(ctx, "1001", "secret", ""); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if n := env.engine.registrationCount(); n != 2 {
			t.Errorf("Expected 2 registrations, got %d", n)
		}
	})

	t.Run("missing credentials never reach the engine", func(t *testing.T) {
		env := newUnregisteredEnv(t)
		if err := env.client.Initialize(ctx, "", "secret", ""); !IsAuthenticationError(err) {
			t.Errorf("Expected AuthenticationError, got %v", err)
		}
		if n := env.engine.registrationCount(); n != 0 {
			t.Errorf("Expected no registration, got %d", n)
		}
	})
}

func TestAutoInitialize(t *testing.T) {
	env := newUnregisteredEnv(t)
	profile := Profile{SipEnabled: false, Extension: "1001", Password: "secret"}

	if env.client.AutoInitialize(ctx, profile) {
		t.Error("Expected no attempt while SIP is disabled")
	}

	profile.SipEnabled = true
	profile.Password = ""
	if env.client.AutoInitialize(ctx, profile) {
		t.Error("Expected no attempt without a password")
	}

	profile.Password = "secret"
	if !env.client.AutoInitialize(ctx, profile) {
		t.Error("Expected an attempt for a complete profile")
	}
	if env.client.AutoInitialize(ctx, profile) {
		t.Error("Expected no attempt for the same profile")
	}
	if n := env.engine.registrationCount(); n != 1 {
		t.Errorf("Expected 1 registration, got %d", n)
	}

	t.Run("failure is not retried for the same tuple", func(t *testing.T) {
		env.engine.registerErr = &AuthenticationError{StatusCode: 401}
		profile.Password = "rotated"
		if !env.client.AutoInitialize(ctx, profile) {
			t.Fatal("Expected an attempt for the changed password")
		}
		if env.client.AutoInitialize(ctx, profile) {
			t.Error("Expected no automatic retry")
		}
		if n := env.engine.registrationCount(); n != 2 {
			t.Errorf("Expected 2 registrations, got %d", n)
		}
	})
}

func TestMakeCall(t *testing.T) {
	t.Run("empty number", func(t *testing.T) {
		env := newTestEnv(t)
		if _, err := env.client.MakeCall(ctx, "   "); !errors.Is(err, ErrEmptyNumber) {
			t.Errorf("Expected ErrEmptyNumber, got %v", err)
		}
	})

	t.Run("not registered", func(t *testing.T) {
		env := newUnregisteredEnv(t)
		if _, err := env.client.MakeCall(ctx, "+16502530000"); !errors.Is(err, ErrNotRegistered) {
			t.Errorf("Expected ErrNotRegistered, got %v", err)
		}
	})

	t.Run("creates an outbound ringing record", func(t *testing.T) {
		env := newTestEnv(t)
		rec, err := env.client.MakeCall(ctx, " +16502530000 ")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if rec.Direction != CallDirectionOutbound || rec.Status != CallStatusRinging {
			t.Errorf("Expected outbound ringing, got %s %s", rec.Direction, rec.Status)
		}
		if rec.PhoneNumber != "+16502530000" {
			t.Errorf("Expected trimmed number, got %q", rec.PhoneNumber)
		}
		if cur := env.client.Store().CurrentCall(); cur == nil || cur.ID != rec.ID {
			t.Error("Expected the record to occupy the line")
		}
		if len(env.engine.dialed) != 1 {
			t.Errorf("Expected one dial, got %d", len(env.engine.dialed))
		}

		if _, err := env.client.MakeCall(ctx, "+16502530001"); !errors.Is(err, ErrLineBusy) {
			t.Errorf("Expected ErrLineBusy for a second call, got %v", err)
		}
	})

	t.Run("dial failure releases the line", func(t *testing.T) {
		env := newTestEnv(t)
		env.engine.dialErr = errors.New("503 Service Unavailable")

		_, err := env.client.MakeCall(ctx, "+16502530000")
		if err == nil {
			t.Fatal("Expected error")
		}
		if !errors.Is(err, env.engine.dialErr) {
			t.Errorf("Expected wrapped engine error, got %v", err)
		}
		if env.client.Store().CurrentCall() != nil {
			t.Error("Expected the line to be released")
		}
		log := env.client.Store().CallLog()
		if len(log) != 1 || log[0].Status != CallStatusEnded || log[0].EndReason != EndReasonFailed {
			t.Errorf("Expected one ended/failed record, got %+v", log)
		}
		if log[0].Duration != nil {
			t.Error("Expected no duration for a call that never connected")
		}
		if env.notifier.count() != 1 {
			t.Errorf("Expected one notification, got %d", env.notifier.count())
		}
	})
}

func TestSingleActiveCall(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.client.MakeCall(ctx, "+16502530000")

	env.engine.incoming("in-1", "+442083661177", "Someone")

	cur := env.client.Store().CurrentCall()
	if cur == nil || cur.ID != rec.ID {
		t.Fatalf("Expected the outbound call to stay active, got %+v", cur)
	}
	if len(env.engine.rejected) != 1 || env.engine.rejected[0] != (rejectCall{id: "in-1", busy: true}) {
		t.Errorf("Expected busy reject of in-1, got %+v", env.engine.rejected)
	}
	log := env.client.Store().CallLog()
	if len(log) != 1 {
		t.Fatalf("Expected 1 history record, got %d", len(log))
	}
	if log[0].Status != CallStatusMissed || log[0].EndReason != EndReasonBusy || log[0].Direction != CallDirectionInbound {
		t.Errorf("Expected inbound missed/busy, got %+v", log[0])
	}

	t.Run("second inbound while first inbound rings", func(t *testing.T) {
		env := newTestEnv(t)
		env.engine.incoming("in-1", "+16502530000", "")
		env.engine.incoming("in-2", "+16502530001", "")
		if got := env.client.Store().CurrentCall().ID; got != "in-1" {
			t.Errorf("Expected in-1 to keep the line, got %q", got)
		}
	})
}

func TestAnswerAndReject(t *testing.T) {
	t.Run("no call", func(t *testing.T) {
		env := newTestEnv(t)
		if err := env.client.AnswerCall(ctx); !errors.Is(err, ErrNoActiveCall) {
			t.Errorf("Expected ErrNoActiveCall, got %v", err)
		}
		if err := env.client.RejectCall(ctx); !errors.Is(err, ErrNoActiveCall) {
			t.Errorf("Expected ErrNoActiveCall, got %v", err)
		}
	})

	t.Run("outbound call cannot be answered", func(t *testing.T) {
		env := newTestEnv(t)
		env.client.MakeCall(ctx, "+16502530000")
		if err := env.client.AnswerCall(ctx); !errors.Is(err, ErrInvalidCallState) {
			t.Errorf("Expected ErrInvalidCallState, got %v", err)
		}
		if len(env.engine.answered) != 0 {
			t.Error("Expected no engine answer")
		}
	})

	t.Run("answer", func(t *testing.T) {
		env := newTestEnv(t)
		env.engine.incoming("in-1", "+16502530000", "")
		if err := env.client.AnswerCall(ctx); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		cur := env.client.Store().CurrentCall()
		if cur.Status != CallStatusAnswered || cur.AnsweredAt == nil {
			t.Errorf("Expected answered with timestamp, got %+v", cur)
		}
		if err := env.client.AnswerCall(ctx); !errors.Is(err, ErrInvalidCallState) {
			t.Errorf("Expected ErrInvalidCallState on second answer, got %v", err)
		}
	})

	t.Run("answer failure releases the line", func(t *testing.T) {
		env := newTestEnv(t)
		env.engine.answerErr = errors.New("sdp negotiation failed")
		env.engine.incoming("in-1", "+16502530000", "")

		if err := env.client.AnswerCall(ctx); err == nil {
			t.Fatal("Expected error")
		}
		if env.client.Store().CurrentCall() != nil {
			t.Error("Expected the line to be released")
		}
		if len(env.engine.hungUp) != 1 {
			t.Errorf("Expected best-effort hangup, got %d", len(env.engine.hungUp))
		}
		if env.notifier.count() != 1 {
			t.Errorf("Expected one notification, got %d", env.notifier.count())
		}
	})

	t.Run("reject", func(t *testing.T) {
		env := newTestEnv(t)
		env.engine.incoming("in-1", "+16502530000", "")
		if err := env.client.RejectCall(ctx); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(env.engine.rejected) != 1 || env.engine.rejected[0].busy {
			t.Errorf("Expected a plain reject, got %+v", env.engine.rejected)
		}
		log := env.client.Store().CallLog()
		if len(log) != 1 || log[0].Status != CallStatusEnded || log[0].EndReason != EndReasonRejected {
			t.Errorf("Expected ended/rejected, got %+v", log)
		}
	})

	t.Run("reject failure still releases the line", func(t *testing.T) {
		env := newTestEnv(t)
		env.engine.rejectErr = errors.New("transaction terminated")
		env.engine.incoming("in-1", "+16502530000", "")
		if err := env.client.RejectCall(ctx); err == nil {
			t.Fatal("Expected error")
		}
		if env.client.Store().CurrentCall() != nil {
			t.Error("Expected the line to be released")
		}
	})
}

func TestHangupCall(t *testing.T) {
	t.Run("answered call records duration", func(t *testing.T) {
		env := newTestEnv(t)
		rec, _ := env.client.MakeCall(ctx, "+16502530000")
		env.clock.Advance(5 * time.Second)
		env.engine.state(rec.ID, CallStateAnswered, "")
		env.clock.Advance(90 * time.Second)

		if err := env.client.HangupCall(ctx); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		log := env.client.Store().CallLog()
		if len(log) != 1 {
			t.Fatalf("Expected 1 record, got %d", len(log))
		}
		if log[0].Duration == nil || *log[0].Duration != 90*time.Second {
			t.Errorf("Expected 90s duration, got %v", log[0].Duration)
		}
		if log[0].EndReason != EndReasonHangup {
			t.Errorf("Expected hangup, got %q", log[0].EndReason)
		}
	})

	t.Run("ringing call has no duration", func(t *testing.T) {
		env := newTestEnv(t)
		env.client.MakeCall(ctx, "+16502530000")
		env.client.HangupCall(ctx)
		if d := env.client.Store().CallLog()[0].Duration; d != nil {
			t.Errorf("Expected nil duration, got %v", *d)
		}
	})

	t.Run("engine error still releases the line", func(t *testing.T) {
		env := newTestEnv(t)
		env.engine.hangupErr = errors.New("no dialog")
		env.client.MakeCall(ctx, "+16502530000")
		if err := env.client.HangupCall(ctx); err == nil {
			t.Error("Expected error")
		}
		if env.client.Store().CurrentCall() != nil {
			t.Error("Expected the line to be released")
		}
	})

	t.Run("nothing to hang up", func(t *testing.T) {
		env := newTestEnv(t)
		if err := env.client.HangupCall(ctx); !errors.Is(err, ErrNoActiveCall) {
			t.Errorf("Expected ErrNoActiveCall, got %v", err)
		}
	})
}

func TestSendDTMFGating(t *testing.T) {
	env := newTestEnv(t)

	t.Run("without a call digits are only buffered", func(t *testing.T) {
		if err := env.client.SendDTMF(ctx, '1'); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if env.engine.sentDigits() != "" {
			t.Errorf("Expected nothing transmitted, got %q", env.engine.sentDigits())
		}
	})

	env.engine.incoming("in-1", "+16502530000", "")

	t.Run("ringing call buffers without transmitting", func(t *testing.T) {
		env.client.SendDTMF(ctx, '2')
		if env.engine.sentDigits() != "" {
			t.Errorf("Expected nothing transmitted, got %q", env.engine.sentDigits())
		}
	})

	env.client.AnswerCall(ctx)

	t.Run("answered call transmits new digits only", func(t *testing.T) {
		env.client.SendDTMF(ctx, '3')
		env.client.SendDTMF(ctx, 'b')
		if got := env.engine.sentDigits(); got != "3B" {
			t.Errorf("Expected 3B transmitted, got %q", got)
		}
		if got := env.client.Store().DialBuffer(); got != "123B" {
			t.Errorf("Expected buffer 123B, got %q", got)
		}
	})

	t.Run("held call does not transmit", func(t *testing.T) {
		env.client.ToggleHold(ctx)
		env.client.SendDTMF(ctx, '#')
		if got := env.engine.sentDigits(); got != "3B" {
			t.Errorf("Expected no new transmission, got %q", got)
		}
	})

	t.Run("invalid digit", func(t *testing.T) {
		if err := env.client.SendDTMF(ctx, 'x'); !errors.Is(err, ErrInvalidDigit) {
			t.Errorf("Expected ErrInvalidDigit, got %v", err)
		}
	})
}

func TestToggleMuteAndHold(t *testing.T) {
	t.Run("no-op without an answered call", func(t *testing.T) {
		env := newTestEnv(t)
		env.engine.incoming("in-1", "+16502530000", "")
		if err := env.client.ToggleMute(ctx); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
		if err := env.client.ToggleHold(ctx); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
		if len(env.engine.mutes) != 0 || len(env.engine.holds) != 0 {
			t.Error("Expected the engine not to be called")
		}
	})

	t.Run("engine confirmation flips the flag", func(t *testing.T) {
		env := newTestEnv(t)
		env.engine.incoming("in-1", "+16502530000", "")
		env.client.AnswerCall(ctx)

		env.client.ToggleMute(ctx)
		if !env.client.Store().Muted() {
			t.Error("Expected muted")
		}
		env.client.ToggleHold(ctx)
		if env.client.Store().CurrentCall().Status != CallStatusHeld {
			t.Error("Expected held")
		}
		env.client.ToggleHold(ctx)
		if env.client.Store().CurrentCall().Status != CallStatusAnswered {
			t.Error("Expected answered after resume")
		}
		if len(env.engine.holds) != 2 || !env.engine.holds[0] || env.engine.holds[1] {
			t.Errorf("Expected hold [true false], got %v", env.engine.holds)
		}
	})

	t.Run("engine rejection reverts", func(t *testing.T) {
		env := newTestEnv(t)
		env.engine.incoming("in-1", "+16502530000", "")
		env.client.AnswerCall(ctx)
		env.engine.muteErr = errors.New("track closed")
		env.engine.holdErr = errors.New("491 Request Pending")

		if err := env.client.ToggleMute(ctx); err == nil {
			t.Error("Expected mute error")
		}
		if err := env.client.ToggleHold(ctx); err == nil {
			t.Error("Expected hold error")
		}
		snap := env.client.Store().Snapshot()
		if snap.Muted || snap.MutePending || snap.Held || snap.HoldPending {
			t.Errorf("Expected flags reverted, got %+v", snap)
		}
		if snap.CurrentCall.Status != CallStatusAnswered {
			t.Errorf("Expected answered, got %q", snap.CurrentCall.Status)
		}
		if env.notifier.count() != 2 {
			t.Errorf("Expected 2 notifications, got %d", env.notifier.count())
		}
	})
}

func TestEngineEvents(t *testing.T) {
	t.Run("registration lost", func(t *testing.T) {
		env := newTestEnv(t)
		env.engine.emitter.Emit(string(EngineEventRegistration), RegistrationEvent{Err: errors.New("refresh failed")})
		if got := env.client.Store().ConnectionStatus(); got != ConnectionStatusError {
			t.Errorf("Expected error, got %q", got)
		}
		if env.client.Registered() {
			t.Error("Expected not registered")
		}
		if env.notifier.count() != 1 {
			t.Errorf("Expected one notification, got %d", env.notifier.count())
		}
	})

	t.Run("unregistered", func(t *testing.T) {
		env := newTestEnv(t)
		env.engine.emitter.Emit(string(EngineEventRegistration), RegistrationEvent{})
		if got := env.client.Store().ConnectionStatus(); got != ConnectionStatusDisconnected {
			t.Errorf("Expected disconnected, got %q", got)
		}
	})

	t.Run("outbound remote answer then remote hangup", func(t *testing.T) {
		env := newTestEnv(t)
		rec, _ := env.client.MakeCall(ctx, "+16502530000")
		env.engine.state(rec.ID, CallStateProgress, "")
		if env.client.Store().CurrentCall().Status != CallStatusRinging {
			t.Error("Expected progress to keep ringing")
		}
		env.engine.state(rec.ID, CallStateAnswered, "")
		env.clock.Advance(7 * time.Second)
		env.engine.state(rec.ID, CallStateTerminated, "")

		log := env.client.Store().CallLog()
		if len(log) != 1 || log[0].Status != CallStatusEnded || log[0].EndReason != EndReasonRemoteHangup {
			t.Fatalf("Expected ended/remote-hangup, got %+v", log)
		}
		if log[0].Duration == nil || *log[0].Duration != 7*time.Second {
			t.Errorf("Expected 7s, got %v", log[0].Duration)
		}
	})

	t.Run("outbound busy is ended not missed", func(t *testing.T) {
		env := newTestEnv(t)
		rec, _ := env.client.MakeCall(ctx, "+16502530000")
		env.engine.state(rec.ID, CallStateTerminated, EndReasonBusy)
		if got := env.client.Store().CallLog()[0].Status; got != CallStatusEnded {
			t.Errorf("Expected ended, got %q", got)
		}
	})

	t.Run("events for other calls are ignored", func(t *testing.T) {
		env := newTestEnv(t)
		env.engine.incoming("in-1", "+16502530000", "")
		env.engine.state("ghost", CallStateTerminated, EndReasonCancelled)
		if env.client.Store().CurrentCall() == nil {
			t.Error("Expected in-1 to stay active")
		}
	})

	t.Run("media attaches to bound sinks and detaches on end", func(t *testing.T) {
		env := newTestEnv(t)
		local, remote := &fakeSink{}, &fakeSink{}
		env.client.Store().SetAudioElements(local, remote)
		env.engine.incoming("in-1", "+16502530000", "")
		env.client.AnswerCall(ctx)

		env.engine.emitter.Emit(string(EngineEventRemoteMedia), MediaEvent{CallID: "in-1", Stream: fakeStream("remote")})
		env.engine.emitter.Emit(string(EngineEventLocalMedia), MediaEvent{CallID: "in-1", Stream: fakeStream("local")})
		if len(remote.streams) != 1 || remote.streams[0].ID() != "remote" {
			t.Errorf("Expected remote stream attached, got %v", remote.streams)
		}
		if len(local.streams) != 1 || local.streams[0].ID() != "local" {
			t.Errorf("Expected local stream attached, got %v", local.streams)
		}

		env.client.HangupCall(ctx)
		if local.detached != 1 || remote.detached != 1 {
			t.Errorf("Expected both sinks detached, got local=%d remote=%d", local.detached, remote.detached)
		}
	})

	t.Run("media without sinks is dropped", func(t *testing.T) {
		env := newTestEnv(t)
		env.engine.incoming("in-1", "+16502530000", "")
		env.engine.emitter.Emit(string(EngineEventRemoteMedia), MediaEvent{CallID: "in-1", Stream: fakeStream("remote")})
	})

	t.Run("malformed payload does not panic", func(t *testing.T) {
		env := newTestEnv(t)
		env.engine.emitter.Emit(string(EngineEventIncoming), "not an event")
		env.engine.emitter.Emit(string(EngineEventCallState), nil)
		if env.client.Store().CurrentCall() != nil {
			t.Error("Expected no call")
		}
	})
}

func TestCallerLookup(t *testing.T) {
	t.Run("result applied to the ringing call", func(t *testing.T) {
		env := newTestEnv(t)
		resolver := &fakeResolver{info: CallerInfo{Found: true, Type: CallerTypePolicy, ID: "p1", FirstName: "Ada"}}
		env.client.SetResolver(resolver)

		env.engine.incoming("in-1", "+16502530000", "")
		waitFor(t, "caller info", func() bool {
			_, ok := env.client.Store().CallerInfo()
			return ok
		})
		info, _ := env.client.Store().CallerInfo()
		if info.ID != "p1" {
			t.Errorf("Expected p1, got %+v", info)
		}
	})

	t.Run("stale result is dropped", func(t *testing.T) {
		env := newTestEnv(t)
		resolver := &fakeResolver{info: CallerInfo{Found: true, ID: "q1", Type: CallerTypeQuote}, gate: make(chan struct{})}
		env.client.SetResolver(resolver)

		env.engine.incoming("in-1", "+16502530000", "")
		// The incoming call is visible before the lookup finishes.
		if env.client.Store().CurrentCall() == nil {
			t.Fatal("Expected ringing call while lookup is pending")
		}
		env.engine.state("in-1", CallStateTerminated, EndReasonCancelled)
		close(resolver.gate)
		env.client.lookups.Wait()

		if _, ok := env.client.Store().CallerInfo(); ok {
			t.Error("Expected stale lookup to be dropped")
		}
	})
}

func TestShutdown(t *testing.T) {
	env := newTestEnv(t)
	env.engine.incoming("in-1", "+16502530000", "")
	env.client.AnswerCall(ctx)

	if err := env.client.Shutdown(ctx); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := env.client.Shutdown(ctx); err != nil {
		t.Fatalf("Unexpected error on second shutdown: %v", err)
	}

	if len(env.engine.hungUp) != 1 {
		t.Errorf("Expected active call hung up, got %d", len(env.engine.hungUp))
	}
	if env.engine.unregistered != 1 || env.engine.closed != 1 {
		t.Errorf("Expected one unregister and close, got %d and %d", env.engine.unregistered, env.engine.closed)
	}
	if got := env.client.Store().ConnectionStatus(); got != ConnectionStatusDisconnected {
		t.Errorf("Expected disconnected, got %q", got)
	}

	env.engine.incoming("late", "+16502530000", "")
	if env.client.Store().CurrentCall() != nil {
		t.Error("Expected engine events to be ignored after shutdown")
	}
}

func TestUnavailableEngine(t *testing.T) {
	client := New(nil, nil)
	if client.Available() {
		t.Fatal("Expected unavailable")
	}
	if err := client.Initialize(ctx, "1001", "pw", ""); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("Expected ErrEngineUnavailable, got %v", err)
	}
	if _, err := client.MakeCall(ctx, "+16502530000"); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("Expected ErrEngineUnavailable, got %v", err)
	}
	if err := client.AnswerCall(ctx); !errors.Is(err, ErrEngineUnavailable) {
		t.Errorf("Expected ErrEngineUnavailable, got %v", err)
	}
	if err := client.Shutdown(ctx); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}
