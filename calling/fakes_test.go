/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"sync"
	"testing"
	"time"
)

type rejectCall struct {
	id   string
	busy bool
}

// fakeEngine records every call and returns the configured errors.
type fakeEngine struct {
	mu      sync.Mutex
	emitter *EventEmitter

	registerErr error
	dialErr     error
	answerErr   error
	rejectErr   error
	hangupErr   error
	dtmfErr     error
	muteErr     error
	holdErr     error

	registrations []SipCredentials
	dialed        []string
	answered      []string
	rejected      []rejectCall
	hungUp        []string
	digits        []rune
	mutes         []bool
	holds         []bool
	unregistered  int
	closed        int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{emitter: NewEventEmitter()}
}

func (f *fakeEngine) Register(ctx context.Context, creds SipCredentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations = append(f.registrations, creds)
	return f.registerErr
}

func (f *fakeEngine) Unregister(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered++
	return nil
}

func (f *fakeEngine) Dial(ctx context.Context, callID, number string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialed = append(f.dialed, number)
	return f.dialErr
}

func (f *fakeEngine) Answer(ctx context.Context, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, callID)
	return f.answerErr
}

func (f *fakeEngine) Reject(ctx context.Context, callID string, busy bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, rejectCall{id: callID, busy: busy})
	return f.rejectErr
}

func (f *fakeEngine) Hangup(ctx context.Context, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hungUp = append(f.hungUp, callID)
	return f.hangupErr
}

func (f *fakeEngine) SendDTMF(ctx context.Context, callID string, digit rune) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.digits = append(f.digits, digit)
	return f.dtmfErr
}

func (f *fakeEngine) SetMute(ctx context.Context, callID string, muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutes = append(f.mutes, muted)
	return f.muteErr
}

func (f *fakeEngine) SetHold(ctx context.Context, callID string, held bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holds = append(f.holds, held)
	return f.holdErr
}

func (f *fakeEngine) Emitter() *EventEmitter { return f.emitter }

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeEngine) registrationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registrations)
}

func (f *fakeEngine) sentDigits() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.digits)
}

func (f *fakeEngine) incoming(id, number, name string) {
	f.emitter.Emit(string(EngineEventIncoming), IncomingCallEvent{CallID: id, Number: number, DisplayName: name})
}

func (f *fakeEngine) state(id string, state CallState, reason EndReason) {
	f.emitter.Emit(string(EngineEventCallState), CallStateEvent{CallID: id, State: state, Reason: reason})
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []string
}

func (n *recordingNotifier) Notify(level NoticeLevel, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, message)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeResolver struct {
	info  CallerInfo
	gate  chan struct{}
	mu    sync.Mutex
	calls []string
}

func (r *fakeResolver) Resolve(ctx context.Context, number string) CallerInfo {
	r.mu.Lock()
	r.calls = append(r.calls, number)
	r.mu.Unlock()
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return CallerInfo{}
		}
	}
	return r.info
}

type fakeSink struct {
	mu       sync.Mutex
	streams  []AudioStream
	detached int
}

func (s *fakeSink) Attach(stream AudioStream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = append(s.streams, stream)
	return nil
}

func (s *fakeSink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detached++
}

type fakeStream string

func (s fakeStream) ID() string { return string(s) }

type testEnv struct {
	client   *Client
	engine   *fakeEngine
	notifier *recordingNotifier
	clock    *fakeClock
}

// newTestEnv returns a client whose line is already registered.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newUnregisteredEnv(t)
	if err := env.client.Initialize(context.Background(), "1001", "secret", "wss://sip.test:7443"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return env
}

func newUnregisteredEnv(t *testing.T) *testEnv {
	t.Helper()
	engine := newFakeEngine()
	client := New(engine, nil)
	notifier := &recordingNotifier{}
	client.SetNotifier(notifier)
	clock := newFakeClock()
	client.now = clock.Now
	client.store.now = clock.Now
	return &testEnv{client: client, engine: engine, notifier: notifier, clock: clock}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
