/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Snapshot is a consistent copy of the store.
type Snapshot struct {
	ConnectionStatus ConnectionStatus
	CurrentCall      *CallRecord
	Muted            bool
	MutePending      bool
	Held             bool
	HoldPending      bool
	DialpadVisible   bool
	DialBuffer       string
	RecentCalls      []CallRecord
	CallerInfo       *CallerInfo
}

type storeEvent struct {
	name StoreEvent
	data interface{}
}

// Store is the single source of truth for call state in one session. The
// Client mutates call state; presentation code reads it and subscribes to
// changes.
//
// Events are delivered after the store lock is released, in the order the
// changes were made. Handlers may call back into the store.
type Store struct {
	mu     sync.Mutex
	logger zerolog.Logger
	window int
	now    func() time.Time

	status      ConnectionStatus
	current     *CallRecord
	muted       bool
	mutePending bool
	held        bool
	holdPending bool
	dialpad     bool
	dialBuffer  strings.Builder
	history     []*CallRecord // newest first
	callerInfo  *CallerInfo

	localSink  AudioSink
	remoteSink AudioSink
	creds      SipCredentials
	wssServer  string

	emitter  *EventEmitter
	queue    []storeEvent
	flushing bool
}

// NewStore creates an empty store.
func NewStore(config *Config) *Store {
	config = normalizeConfig(config)
	return &Store{
		logger:  config.logger("calling"),
		window:  config.HistoryWindow,
		now:     time.Now,
		status:  ConnectionStatusDisconnected,
		emitter: NewEventEmitter(),
	}
}

// Subscribe registers h for event and returns a function that removes it.
func (s *Store) Subscribe(event StoreEvent, h EventHandler) func() {
	return s.emitter.On(string(event), h)
}

// enqueue must be called with s.mu held.
func (s *Store) enqueue(name StoreEvent, data interface{}) {
	s.queue = append(s.queue, storeEvent{name: name, data: data})
}

// unlockAndFlush releases s.mu and delivers queued events. A goroutine that
// finds another one flushing leaves its events for that one.
func (s *Store) unlockAndFlush() {
	if s.flushing {
		s.mu.Unlock()
		return
	}
	s.flushing = true
	for len(s.queue) > 0 {
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.deliver(ev)
		s.mu.Lock()
	}
	s.flushing = false
	s.mu.Unlock()
}

func (s *Store) deliver(ev storeEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("event", string(ev.name)).Msg("store subscriber panicked")
		}
	}()
	s.emitter.Emit(string(ev.name), ev.data)
}

// ---- Connection ----

// ConnectionStatus returns the registration status.
func (s *Store) ConnectionStatus() ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetConnectionStatus records the registration status. Setting the current
// value again is a no-op.
func (s *Store) SetConnectionStatus(status ConnectionStatus) {
	s.mu.Lock()
	if s.status == status {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.enqueue(EventConnectionStatus, status)
	s.unlockAndFlush()
}

// ---- Active call ----

// CurrentCall returns a copy of the active call, or nil.
func (s *Store) CurrentCall() *CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.clone()
}

// SetCurrentCall places rec in the active slot, or clears the slot when rec
// is nil. The slot is never overwritten: setting a record while one is
// active returns ErrLineBusy.
func (s *Store) SetCurrentCall(rec *CallRecord) error {
	if rec == nil {
		s.mu.Lock()
		if s.current != nil {
			s.clearSlotLocked()
			s.enqueue(EventCallUpdated, (*CallRecord)(nil))
		}
		s.unlockAndFlush()
		return nil
	}
	if err := s.occupy(rec); err != nil {
		s.logger.Error().Str("call_id", rec.ID).Err(err).Msg("refusing to replace the active call")
		return err
	}
	return nil
}

func (s *Store) occupy(rec *CallRecord) error {
	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return ErrLineBusy
	}
	s.current = rec.clone()
	if s.current.StartTime.IsZero() {
		s.current.StartTime = s.now()
	}
	if s.current.Status == "" {
		s.current.Status = CallStatusRinging
	}
	s.muted, s.mutePending = false, false
	s.held, s.holdPending = false, false
	s.callerInfo = nil
	s.enqueue(EventCallUpdated, s.current.clone())
	s.unlockAndFlush()
	return nil
}

// clearSlotLocked empties the slot and the per-call flags.
func (s *Store) clearSlotLocked() {
	s.current = nil
	s.muted, s.mutePending = false, false
	s.held, s.holdPending = false, false
}

// markAnswered moves a ringing call to answered. Calls already answered or
// held are left alone.
func (s *Store) markAnswered(callID string) bool {
	s.mu.Lock()
	if s.current == nil || s.current.ID != callID || s.current.Status != CallStatusRinging {
		s.mu.Unlock()
		return false
	}
	now := s.now()
	s.current.Status = CallStatusAnswered
	s.current.AnsweredAt = &now
	s.enqueue(EventCallUpdated, s.current.clone())
	s.unlockAndFlush()
	return true
}

// finishCall moves the active call with callID to a terminal status,
// appends it to history and releases the slot. It returns the final record,
// or nil if callID is not the active call.
func (s *Store) finishCall(callID string, status CallStatus, reason EndReason) *CallRecord {
	s.mu.Lock()
	if s.current == nil || s.current.ID != callID {
		s.mu.Unlock()
		return nil
	}

	rec := s.current
	rec.Status = status
	rec.EndReason = reason
	if status == CallStatusEnded && rec.AnsweredAt != nil {
		d := s.now().Sub(*rec.AnsweredAt)
		rec.Duration = &d
	}

	s.clearSlotLocked()
	s.appendHistoryLocked(rec)
	if rec.AnsweredAt == nil && s.callerInfo != nil {
		s.callerInfo = nil
		s.enqueue(EventCallerInfo, (*CallerInfo)(nil))
	}

	final := rec.clone()
	s.enqueue(EventCallEnded, final.clone())
	s.enqueue(EventCallUpdated, (*CallRecord)(nil))
	s.unlockAndFlush()
	return final
}

// recordMissed appends a call that never occupied the slot.
func (s *Store) recordMissed(rec *CallRecord) {
	s.mu.Lock()
	r := rec.clone()
	if r.StartTime.IsZero() {
		r.StartTime = s.now()
	}
	r.Status = CallStatusMissed
	r.Duration = nil
	s.appendHistoryLocked(r)
	s.unlockAndFlush()
}

func (s *Store) appendHistoryLocked(rec *CallRecord) {
	s.history = append([]*CallRecord{rec}, s.history...)
	s.enqueue(EventHistoryChanged, nil)
}

// ---- Mute / Hold ----

// BeginMute starts a mute toggle. It returns the call, the requested value
// and ok=false when no answered or held call exists or a toggle is pending.
func (s *Store) BeginMute() (callID string, target bool, ok bool) {
	s.mu.Lock()
	if s.current == nil || !s.inCallLocked() || s.mutePending {
		s.mu.Unlock()
		return "", false, false
	}
	s.mutePending = true
	callID, target = s.current.ID, !s.muted
	s.enqueue(EventMute, ToggleState{Value: s.muted, Pending: true})
	s.unlockAndFlush()
	return callID, target, true
}

// ResolveMute completes a mute toggle. A nil err confirms target; any
// error leaves the flag as it was.
func (s *Store) ResolveMute(target bool, err error) {
	s.mu.Lock()
	if !s.mutePending {
		s.mu.Unlock()
		return
	}
	s.mutePending = false
	if err == nil {
		s.muted = target
	}
	s.enqueue(EventMute, ToggleState{Value: s.muted})
	s.unlockAndFlush()
}

// BeginHold starts a hold toggle, following the rules of BeginMute.
func (s *Store) BeginHold() (callID string, target bool, ok bool) {
	s.mu.Lock()
	if s.current == nil || !s.inCallLocked() || s.holdPending {
		s.mu.Unlock()
		return "", false, false
	}
	s.holdPending = true
	callID, target = s.current.ID, !s.held
	s.enqueue(EventHold, ToggleState{Value: s.held, Pending: true})
	s.unlockAndFlush()
	return callID, target, true
}

// ResolveHold completes a hold toggle. A confirmed hold also moves the call
// between answered and held.
func (s *Store) ResolveHold(target bool, err error) {
	s.mu.Lock()
	if !s.holdPending {
		s.mu.Unlock()
		return
	}
	s.holdPending = false
	if err == nil {
		s.held = target
		if s.current != nil && s.inCallLocked() {
			if target {
				s.current.Status = CallStatusHeld
			} else {
				s.current.Status = CallStatusAnswered
			}
			s.enqueue(EventCallUpdated, s.current.clone())
		}
	}
	s.enqueue(EventHold, ToggleState{Value: s.held})
	s.unlockAndFlush()
}

func (s *Store) inCallLocked() bool {
	return s.current.Status == CallStatusAnswered || s.current.Status == CallStatusHeld
}

// Muted reports the confirmed mute flag.
func (s *Store) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Held reports the confirmed hold flag.
func (s *Store) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// ---- Dial pad ----

// ToggleDialpad flips dial pad visibility and returns the new value.
func (s *Store) ToggleDialpad() bool {
	s.mu.Lock()
	s.dialpad = !s.dialpad
	v := s.dialpad
	s.enqueue(EventDialpad, v)
	s.unlockAndFlush()
	return v
}

// DialpadVisible reports dial pad visibility.
func (s *Store) DialpadVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialpad
}

// AppendDigit adds a digit to the dial buffer.
func (s *Store) AppendDigit(d rune) {
	s.mu.Lock()
	s.dialBuffer.WriteRune(d)
	s.enqueue(EventDialBuffer, s.dialBuffer.String())
	s.unlockAndFlush()
}

// DialBuffer returns the digits entered so far.
func (s *Store) DialBuffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialBuffer.String()
}

// ClearDialBuffer empties the dial buffer.
func (s *Store) ClearDialBuffer() {
	s.mu.Lock()
	if s.dialBuffer.Len() == 0 {
		s.mu.Unlock()
		return
	}
	s.dialBuffer.Reset()
	s.enqueue(EventDialBuffer, "")
	s.unlockAndFlush()
}

// ---- History ----

// RecentCalls returns up to the configured window of finished calls,
// newest first.
func (s *Store) RecentCalls() []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyHistoryLocked(s.window)
}

// CallLog returns every finished call, newest first.
func (s *Store) CallLog() []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyHistoryLocked(len(s.history))
}

func (s *Store) copyHistoryLocked(limit int) []CallRecord {
	if limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]CallRecord, 0, limit)
	for _, rec := range s.history[:limit] {
		out = append(out, *rec.clone())
	}
	return out
}

// ClearCallHistory empties the history. The active call is unaffected.
func (s *Store) ClearCallHistory() {
	s.mu.Lock()
	s.history = nil
	s.enqueue(EventHistoryChanged, nil)
	s.unlockAndFlush()
}

// ---- Caller identity ----

// CallerInfo returns the lookup result for the active call.
func (s *Store) CallerInfo() (CallerInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callerInfo == nil {
		return CallerInfo{}, false
	}
	return *s.callerInfo, true
}

// SetCallerInfo stores a lookup result if callID is still the active call.
// Stale results are dropped and reported with false.
func (s *Store) SetCallerInfo(callID string, info CallerInfo) bool {
	s.mu.Lock()
	if s.current == nil || s.current.ID != callID {
		s.mu.Unlock()
		return false
	}
	cp := info
	s.callerInfo = &cp
	s.enqueue(EventCallerInfo, &info)
	s.unlockAndFlush()
	return true
}

// ClearCallerInfo drops the lookup result.
func (s *Store) ClearCallerInfo() {
	s.mu.Lock()
	if s.callerInfo == nil {
		s.mu.Unlock()
		return
	}
	s.callerInfo = nil
	s.enqueue(EventCallerInfo, (*CallerInfo)(nil))
	s.unlockAndFlush()
}

// ---- Configuration ----

// SetAudioElements binds the sinks call media is attached to. It must be
// called before calls are placed or answered.
func (s *Store) SetAudioElements(local, remote AudioSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localSink = local
	s.remoteSink = remote
}

// AudioElements returns the bound sinks.
func (s *Store) AudioElements() (local, remote AudioSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localSink, s.remoteSink
}

// SetSipCredentials stores credentials for the next Initialize.
func (s *Store) SetSipCredentials(creds SipCredentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
}

// SipCredentials returns the stored credentials.
func (s *Store) SipCredentials() SipCredentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

// SetWssServer stores the signaling server for the next Initialize.
func (s *Store) SetWssServer(server string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wssServer = strings.TrimSpace(server)
}

// WssServer returns the stored signaling server.
func (s *Store) WssServer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wssServer
}

// Snapshot returns a copy of the whole store.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ConnectionStatus: s.status,
		CurrentCall:      s.current.clone(),
		Muted:            s.muted,
		MutePending:      s.mutePending,
		Held:             s.held,
		HoldPending:      s.holdPending,
		DialpadVisible:   s.dialpad,
		DialBuffer:       s.dialBuffer.String(),
		RecentCalls:      s.copyHistoryLocked(s.window),
	}
	if s.callerInfo != nil {
		info := *s.callerInfo
		snap.CallerInfo = &info
	}
	return snap
}
