/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestStore() (*Store, *fakeClock) {
	s := NewStore(nil)
	clock := newFakeClock()
	s.now = clock.Now
	return s, clock
}

func inboundRecord(id string) *CallRecord {
	return &CallRecord{ID: id, PhoneNumber: "+16502530000", Direction: CallDirectionInbound, Status: CallStatusRinging}
}

func TestStoreSetCurrentCall(t *testing.T) {
	s, clock := newTestStore()

	if err := s.SetCurrentCall(inboundRecord("a")); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	cur := s.CurrentCall()
	if cur == nil || cur.ID != "a" {
		t.Fatalf("Expected call a, got %+v", cur)
	}
	if !cur.StartTime.Equal(clock.Now()) {
		t.Errorf("Expected start time to default to now, got %v", cur.StartTime)
	}

	t.Run("occupied slot is not overwritten", func(t *testing.T) {
		err := s.SetCurrentCall(inboundRecord("b"))
		if !errors.Is(err, ErrLineBusy) {
			t.Fatalf("Expected ErrLineBusy, got %v", err)
		}
		if got := s.CurrentCall().ID; got != "a" {
			t.Errorf("Expected call a to remain, got %q", got)
		}
	})

	t.Run("returned record is a copy", func(t *testing.T) {
		cp := s.CurrentCall()
		cp.Status = CallStatusEnded
		if s.CurrentCall().Status != CallStatusRinging {
			t.Error("Expected store record to be unaffected by caller mutation")
		}
	})

	t.Run("nil clears the slot", func(t *testing.T) {
		if err := s.SetCurrentCall(nil); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if s.CurrentCall() != nil {
			t.Error("Expected empty slot")
		}
		if len(s.CallLog()) != 0 {
			t.Error("Expected clearing the slot not to write history")
		}
	})
}

func TestStoreConnectionStatusIdempotent(t *testing.T) {
	s, _ := newTestStore()
	var events []ConnectionStatus
	s.Subscribe(EventConnectionStatus, func(data interface{}) {
		events = append(events, data.(ConnectionStatus))
	})

	s.SetConnectionStatus(ConnectionStatusConnecting)
	s.SetConnectionStatus(ConnectionStatusConnecting)
	s.SetConnectionStatus(ConnectionStatusConnected)

	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d: %v", len(events), events)
	}
	if s.ConnectionStatus() != ConnectionStatusConnected {
		t.Errorf("Expected connected, got %q", s.ConnectionStatus())
	}
}

func TestStoreFinishCall(t *testing.T) {
	t.Run("answered call gets a duration", func(t *testing.T) {
		s, clock := newTestStore()
		s.SetCurrentCall(inboundRecord("a"))
		clock.Advance(3 * time.Second)
		s.markAnswered("a")
		clock.Advance(42 * time.Second)

		rec := s.finishCall("a", CallStatusEnded, EndReasonHangup)
		if rec == nil {
			t.Fatal("Expected final record")
		}
		if rec.Duration == nil || *rec.Duration != 42*time.Second {
			t.Errorf("Expected duration 42s, got %v", rec.Duration)
		}
		if s.CurrentCall() != nil {
			t.Error("Expected slot to be released")
		}
	})

	t.Run("held call still gets a duration", func(t *testing.T) {
		s, clock := newTestStore()
		s.SetCurrentCall(inboundRecord("a"))
		s.markAnswered("a")
		_, target, _ := s.BeginHold()
		s.ResolveHold(target, nil)
		clock.Advance(10 * time.Second)

		rec := s.finishCall("a", CallStatusEnded, EndReasonRemoteHangup)
		if rec.Duration == nil || *rec.Duration != 10*time.Second {
			t.Errorf("Expected duration 10s, got %v", rec.Duration)
		}
	})

	t.Run("missed call has no duration", func(t *testing.T) {
		s, clock := newTestStore()
		s.SetCurrentCall(inboundRecord("a"))
		clock.Advance(20 * time.Second)

		rec := s.finishCall("a", CallStatusMissed, EndReasonCancelled)
		if rec.Duration != nil {
			t.Errorf("Expected nil duration, got %v", *rec.Duration)
		}
		if rec.Status != CallStatusMissed {
			t.Errorf("Expected missed, got %q", rec.Status)
		}
	})

	t.Run("unknown call id is ignored", func(t *testing.T) {
		s, _ := newTestStore()
		s.SetCurrentCall(inboundRecord("a"))
		if rec := s.finishCall("other", CallStatusEnded, EndReasonHangup); rec != nil {
			t.Errorf("Expected nil, got %+v", rec)
		}
		if s.CurrentCall() == nil {
			t.Error("Expected active call to remain")
		}
	})

	t.Run("unanswered end clears caller info", func(t *testing.T) {
		s, _ := newTestStore()
		s.SetCurrentCall(inboundRecord("a"))
		s.SetCallerInfo("a", CallerInfo{Found: true, Type: CallerTypeQuote, ID: "q1"})
		s.finishCall("a", CallStatusMissed, EndReasonTimeout)
		if _, ok := s.CallerInfo(); ok {
			t.Error("Expected caller info to be cleared")
		}
	})
}

func TestStoreHistoryWindow(t *testing.T) {
	s, _ := newTestStore()
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("c%d", i)
		s.SetCurrentCall(inboundRecord(id))
		s.finishCall(id, CallStatusMissed, EndReasonCancelled)
	}

	recent := s.RecentCalls()
	if len(recent) != 5 {
		t.Fatalf("Expected 5 recent calls, got %d", len(recent))
	}
	if recent[0].ID != "c6" || recent[4].ID != "c2" {
		t.Errorf("Expected newest first c6..c2, got %s..%s", recent[0].ID, recent[4].ID)
	}
	if got := len(s.CallLog()); got != 7 {
		t.Errorf("Expected full log of 7, got %d", got)
	}
	for _, rec := range s.CallLog() {
		if !rec.Status.Terminal() {
			t.Errorf("Expected only terminal records in history, got %q", rec.Status)
		}
	}

	t.Run("clear keeps active call", func(t *testing.T) {
		s.SetCurrentCall(inboundRecord("live"))
		s.ClearCallHistory()
		if len(s.CallLog()) != 0 {
			t.Error("Expected empty history")
		}
		if s.CurrentCall() == nil {
			t.Error("Expected active call to survive")
		}
	})
}

func TestStoreMuteRequestConfirm(t *testing.T) {
	s, _ := newTestStore()

	if _, _, ok := s.BeginMute(); ok {
		t.Error("Expected mute to be a no-op without a call")
	}

	s.SetCurrentCall(inboundRecord("a"))
	if _, _, ok := s.BeginMute(); ok {
		t.Error("Expected mute to be a no-op while ringing")
	}

	s.markAnswered("a")
	id, target, ok := s.BeginMute()
	if !ok || id != "a" || !target {
		t.Fatalf("Expected (a, true, true), got (%q, %v, %v)", id, target, ok)
	}
	if s.Muted() {
		t.Error("Expected flag unchanged until confirmation")
	}
	if !s.Snapshot().MutePending {
		t.Error("Expected pending flag")
	}
	if _, _, ok := s.BeginMute(); ok {
		t.Error("Expected second toggle to wait for the first")
	}

	s.ResolveMute(target, nil)
	if !s.Muted() {
		t.Error("Expected muted after confirmation")
	}

	_, target, _ = s.BeginMute()
	s.ResolveMute(target, errors.New("rejected"))
	if !s.Muted() {
		t.Error("Expected rejected unmute to leave the call muted")
	}
	if s.Snapshot().MutePending {
		t.Error("Expected pending flag cleared after rejection")
	}
}

func TestStoreHoldMovesStatus(t *testing.T) {
	s, _ := newTestStore()
	s.SetCurrentCall(inboundRecord("a"))
	s.markAnswered("a")

	_, target, _ := s.BeginHold()
	s.ResolveHold(target, nil)
	if s.CurrentCall().Status != CallStatusHeld {
		t.Errorf("Expected held, got %q", s.CurrentCall().Status)
	}

	_, target, _ = s.BeginHold()
	s.ResolveHold(target, errors.New("not now"))
	if s.CurrentCall().Status != CallStatusHeld || !s.Held() {
		t.Error("Expected rejected resume to keep the call held")
	}

	_, target, _ = s.BeginHold()
	s.ResolveHold(target, nil)
	if s.CurrentCall().Status != CallStatusAnswered {
		t.Errorf("Expected answered after resume, got %q", s.CurrentCall().Status)
	}
}

func TestStoreDialpad(t *testing.T) {
	s, _ := newTestStore()
	if !s.ToggleDialpad() || !s.DialpadVisible() {
		t.Error("Expected dial pad visible after first toggle")
	}
	if s.ToggleDialpad() {
		t.Error("Expected dial pad hidden after second toggle")
	}

	s.AppendDigit('1')
	s.AppendDigit('#')
	if s.DialBuffer() != "1#" {
		t.Errorf("Expected 1#, got %q", s.DialBuffer())
	}
	s.ClearDialBuffer()
	if s.DialBuffer() != "" {
		t.Errorf("Expected empty buffer, got %q", s.DialBuffer())
	}
}

func TestStoreCallerInfo(t *testing.T) {
	s, _ := newTestStore()
	s.SetCurrentCall(inboundRecord("a"))

	if s.SetCallerInfo("stale", CallerInfo{Found: true}) {
		t.Error("Expected result for another call to be dropped")
	}
	if !s.SetCallerInfo("a", CallerInfo{Found: true, ID: "p9", Type: CallerTypePolicy}) {
		t.Fatal("Expected result for the active call to be stored")
	}
	info, ok := s.CallerInfo()
	if !ok || info.ID != "p9" {
		t.Errorf("Expected p9, got %+v", info)
	}
	s.ClearCallerInfo()
	if _, ok := s.CallerInfo(); ok {
		t.Error("Expected caller info cleared")
	}
}

func TestStoreEventOrdering(t *testing.T) {
	s, _ := newTestStore()
	var got []StoreEvent
	record := func(name StoreEvent) EventHandler {
		return func(interface{}) { got = append(got, name) }
	}
	for _, name := range []StoreEvent{EventCallUpdated, EventCallEnded, EventHistoryChanged, EventDialBuffer} {
		s.Subscribe(name, record(name))
	}

	// A subscriber that writes back into the store must not deadlock, and
	// its change is delivered after the events already queued.
	s.Subscribe(EventCallEnded, func(interface{}) { s.AppendDigit('9') })

	s.SetCurrentCall(inboundRecord("a"))
	s.finishCall("a", CallStatusMissed, EndReasonCancelled)

	expected := []StoreEvent{EventCallUpdated, EventHistoryChanged, EventCallEnded, EventCallUpdated, EventDialBuffer}
	if len(got) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("event %d: Expected %q, got %q", i, expected[i], got[i])
		}
	}
}

func TestStoreSubscriberPanicIsContained(t *testing.T) {
	s, _ := newTestStore()
	delivered := 0
	s.Subscribe(EventDialpad, func(interface{}) { delivered++ })
	s.Subscribe(EventDialpad, func(interface{}) { panic("boom") })

	s.ToggleDialpad()
	s.ToggleDialpad()
	if delivered != 2 {
		t.Errorf("Expected events to keep flowing after a subscriber panic, got %d deliveries", delivered)
	}
}

func TestStoreConfigurationSetters(t *testing.T) {
	s, _ := newTestStore()
	local, remote := &fakeSink{}, &fakeSink{}
	s.SetAudioElements(local, remote)
	gotLocal, gotRemote := s.AudioElements()
	if gotLocal != local || gotRemote != remote {
		t.Error("Expected bound sinks to be returned")
	}

	s.SetWssServer("  wss://pbx.example.com:7443 ")
	if s.WssServer() != "wss://pbx.example.com:7443" {
		t.Errorf("Expected trimmed server, got %q", s.WssServer())
	}
	creds := SipCredentials{Extension: "1001", Password: "pw"}
	s.SetSipCredentials(creds)
	if s.SipCredentials() != creds {
		t.Errorf("Expected %+v, got %+v", creds, s.SipCredentials())
	}
}
