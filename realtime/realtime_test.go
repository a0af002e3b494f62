/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tejzpr/webphone-go-sdk/webphonesdk"
)

type fakeSession struct {
	mu    sync.Mutex
	state webphonesdk.SessionState
	err   error
	calls int
}

func (f *fakeSession) SessionState(ctx context.Context) (webphonesdk.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.state, f.err
}

func (f *fakeSession) set(state webphonesdk.SessionState, err error) {
	f.mu.Lock()
	f.state, f.err = state, err
	f.mu.Unlock()
}

type wsServer struct {
	*httptest.Server
	conns chan *websocket.Conn
	count int32
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{conns: make(chan *websocket.Conn, 16)}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		if c, err := r.Cookie("session"); err != nil || c.Value != "s1" {
			http.Error(w, "no session", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		atomic.AddInt32(&s.count, 1)
		s.conns <- conn
	}))
	return s
}

func (s *wsServer) next(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for websocket connection")
		return nil
	}
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.BackoffBase = 10 * time.Millisecond
	cfg.BackoffMax = 40 * time.Millisecond
	cfg.PingInterval = 0
	return cfg
}

func newTestClient(t *testing.T, origin string, session SessionProvider) *Client {
	t.Helper()
	core, err := webphonesdk.NewClient(origin, nil)
	if err != nil {
		t.Fatalf("Failed to create core client: %v", err)
	}
	if err := core.SetSessionCookie("session", "s1"); err != nil {
		t.Fatalf("Failed to set cookie: %v", err)
	}
	c := New(core, testConfig())
	c.SetSessionProvider(session)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Path != "/ws" {
		t.Errorf("Expected Path /ws, got %q", cfg.Path)
	}
	if cfg.BackoffBase != 1*time.Second {
		t.Errorf("Expected BackoffBase 1s, got %v", cfg.BackoffBase)
	}
	if cfg.BackoffMax != 30*time.Second {
		t.Errorf("Expected BackoffMax 30s, got %v", cfg.BackoffMax)
	}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		origin   string
		expected string
		wantErr  bool
	}{
		{"https://crm.example.com", "wss://crm.example.com/ws", false},
		{"http://localhost:3000", "ws://localhost:3000/ws", false},
		{"https://crm.example.com:8443/dashboard", "wss://crm.example.com:8443/ws", false},
		{"not a url", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.origin, func(t *testing.T) {
			got, err := Endpoint(tc.origin, "/ws")
			if tc.wantErr {
				if err == nil {
					t.Errorf("Expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestReconnectDelay(t *testing.T) {
	cfg := DefaultConfig()
	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for attempt, want := range expected {
		if got := cfg.ReconnectDelay(attempt); got != want {
			t.Errorf("attempt %d: Expected %v, got %v", attempt, want, got)
		}
	}
	if got := cfg.ReconnectDelay(500); got != 30*time.Second {
		t.Errorf("Expected cap at 30s for large attempts, got %v", got)
	}
}

func TestNewFillsPartialConfig(t *testing.T) {
	core, _ := webphonesdk.NewClient("http://localhost:3000", nil)
	partial := &Config{Path: "/events"}
	c := New(core, partial)

	if c.config.Path != "/events" {
		t.Errorf("Expected Path /events, got %q", c.config.Path)
	}
	if got := c.config.ReconnectDelay(0); got != 1*time.Second {
		t.Errorf("Expected first delay 1s, got %v", got)
	}
	if got := c.config.ReconnectDelay(10); got != 30*time.Second {
		t.Errorf("Expected delay capped at 30s, got %v", got)
	}
	if c.config.PingInterval != 0 {
		t.Errorf("Expected pings left disabled, got %v", c.config.PingInterval)
	}
	if partial.BackoffBase != 0 {
		t.Error("Expected caller config left untouched")
	}
}

func TestScheduleReconnectBackoffSequence(t *testing.T) {
	core, _ := webphonesdk.NewClient("http://localhost:3000", nil)
	c := New(core, DefaultConfig())

	var delays []time.Duration
	c.afterFunc = func(d time.Duration, f func()) *time.Timer {
		delays = append(delays, d)
		return time.AfterFunc(time.Hour, f)
	}

	c.mu.Lock()
	c.shouldReconnect = true
	c.mu.Unlock()

	for i := 0; i < 7; i++ {
		c.scheduleReconnect()
		c.mu.Lock()
		if c.timer == nil {
			c.mu.Unlock()
			t.Fatalf("Expected a pending timer after close %d", i+1)
		}
		c.timer.Stop()
		c.timer = nil
		c.mu.Unlock()
	}

	// Nth close waits min(1000*2^(N-1), 30000) ms.
	for n := 1; n <= len(delays); n++ {
		want := time.Duration(1000*(1<<(n-1))) * time.Millisecond
		if want > 30*time.Second {
			want = 30 * time.Second
		}
		if delays[n-1] != want {
			t.Errorf("close %d: Expected delay %v, got %v", n, want, delays[n-1])
		}
	}
	if c.Attempt() != 7 {
		t.Errorf("Expected attempt 7, got %d", c.Attempt())
	}

	t.Run("only one timer pending at a time", func(t *testing.T) {
		before := len(delays)
		c.scheduleReconnect()
		c.scheduleReconnect()
		if len(delays) != before+1 {
			t.Errorf("Expected a single schedule, got %d", len(delays)-before)
		}
		c.Close()
	})

	t.Run("no schedule after teardown", func(t *testing.T) {
		before := len(delays)
		c.scheduleReconnect()
		if len(delays) != before {
			t.Error("Expected no reconnect to be scheduled after Close")
		}
	})
}

func TestConnectRefusedWithoutSession(t *testing.T) {
	server := newWSServer(t)
	defer server.Close()

	tests := []struct {
		name  string
		state webphonesdk.SessionState
		err   error
	}{
		{"unauthenticated", webphonesdk.SessionUnauthenticated, nil},
		{"loading", webphonesdk.SessionLoading, nil},
		{"query failure", "", errors.New("connection refused")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			session := &fakeSession{state: tc.state, err: tc.err}
			c := newTestClient(t, server.URL, session)

			err := c.Connect(context.Background())
			if !errors.Is(err, ErrSessionNotReady) {
				t.Fatalf("Expected ErrSessionNotReady, got %v", err)
			}
			if c.IsConnected() {
				t.Error("Expected client to stay disconnected")
			}
		})
	}

	if n := atomic.LoadInt32(&server.count); n != 0 {
		t.Errorf("Expected no websocket connections, got %d", n)
	}
}

func TestConnectDeliversEnvelopes(t *testing.T) {
	server := newWSServer(t)
	defer server.Close()

	c := newTestClient(t, server.URL, &fakeSession{state: webphonesdk.SessionAuthenticated})
	defer c.Close()

	first := make(chan *Envelope, 4)
	c.SetHandler(func(env *Envelope) { first <- env })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	serverConn := server.next(t)
	defer serverConn.Close()

	if !c.IsConnected() {
		t.Fatal("Expected client to be connected")
	}

	t.Run("second connect is a no-op", func(t *testing.T) {
		if err := c.Connect(context.Background()); err != nil {
			t.Errorf("Expected nil error, got %v", err)
		}
	})

	t.Run("malformed payload is dropped", func(t *testing.T) {
		if err := serverConn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		msg := `{"type":"incoming_call","phoneNumber":"+14155550123","companyId":"c1","data":{"callSid":"CA1"}}`
		if err := serverConn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write failed: %v", err)
		}

		select {
		case env := <-first:
			if env.Type != "incoming_call" {
				t.Errorf("Expected type incoming_call, got %q", env.Type)
			}
			if env.PhoneNumber != "+14155550123" {
				t.Errorf("Expected phone number, got %q", env.PhoneNumber)
			}
			if env.CompanyID != "c1" {
				t.Errorf("Expected companyId c1, got %q", env.CompanyID)
			}
			var data struct {
				CallSid string `json:"callSid"`
			}
			if err := env.DecodeData(&data); err != nil {
				t.Fatalf("DecodeData failed: %v", err)
			}
			if data.CallSid != "CA1" {
				t.Errorf("Expected callSid CA1, got %q", data.CallSid)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for envelope")
		}
	})

	t.Run("handler swap keeps the socket", func(t *testing.T) {
		second := make(chan *Envelope, 1)
		c.SetHandler(func(env *Envelope) { second <- env })

		if err := serverConn.WriteMessage(websocket.TextMessage, []byte(`{"type":"new_message"}`)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		select {
		case env := <-second:
			if env.Type != "new_message" {
				t.Errorf("Expected new_message, got %q", env.Type)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for envelope on swapped handler")
		}
		select {
		case env := <-first:
			t.Errorf("Old handler received %q after swap", env.Type)
		default:
		}
		if n := atomic.LoadInt32(&server.count); n != 1 {
			t.Errorf("Expected one connection, got %d", n)
		}
	})
}

func TestReconnectAfterDrop(t *testing.T) {
	server := newWSServer(t)
	defer server.Close()

	c := newTestClient(t, server.URL, &fakeSession{state: webphonesdk.SessionAuthenticated})
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	first := server.next(t)
	first.Close()

	second := server.next(t)
	defer second.Close()

	waitFor(t, "reconnect", c.IsConnected)
	if c.Attempt() != 0 {
		t.Errorf("Expected attempt counter reset to 0 after open, got %d", c.Attempt())
	}
}

func TestReconnectStopsWhenSessionEnds(t *testing.T) {
	server := newWSServer(t)
	defer server.Close()

	session := &fakeSession{state: webphonesdk.SessionAuthenticated}
	c := newTestClient(t, server.URL, session)
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	conn := server.next(t)

	session.set(webphonesdk.SessionUnauthenticated, nil)
	conn.Close()

	waitFor(t, "reconnect loop to stop", func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return !c.shouldReconnect && c.timer == nil && !c.connecting
	})
	if n := atomic.LoadInt32(&server.count); n != 1 {
		t.Errorf("Expected no reconnect after sign-out, got %d connections", n)
	}
}

func TestCloseTeardown(t *testing.T) {
	server := newWSServer(t)
	defer server.Close()

	c := newTestClient(t, server.URL, &fakeSession{state: webphonesdk.SessionAuthenticated})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	conn := server.next(t)
	defer conn.Close()

	c.Close()
	if c.IsConnected() {
		t.Error("Expected disconnected after Close")
	}

	// The server side sees the close and nothing reconnects.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected server read to fail after client close")
	}

	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&server.count); n != 1 {
		t.Errorf("Expected no reconnect after Close, got %d connections", n)
	}

	t.Run("idempotent", func(t *testing.T) {
		c.Close()
		c.Close()
	})
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	// Nothing listens on this origin, so every dial fails and schedules a retry.
	c := newTestClient(t, "http://127.0.0.1:1", &fakeSession{state: webphonesdk.SessionAuthenticated})

	var scheduled int32
	c.afterFunc = func(d time.Duration, f func()) *time.Timer {
		atomic.AddInt32(&scheduled, 1)
		return time.AfterFunc(time.Hour, f)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Expected dial failure to be swallowed, got %v", err)
	}
	if atomic.LoadInt32(&scheduled) != 1 {
		t.Fatalf("Expected one reconnect scheduled, got %d", scheduled)
	}

	c.Close()
	c.mu.Lock()
	pending := c.timer
	flag := c.shouldReconnect
	c.mu.Unlock()
	if pending != nil {
		t.Error("Expected pending timer to be cleared")
	}
	if flag {
		t.Error("Expected shouldReconnect to be false")
	}

	// A timer that already fired must not reconnect.
	c.reconnect()
	if c.IsConnected() {
		t.Error("Expected no connection after teardown")
	}
}
