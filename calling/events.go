/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import "sync"

// ---- Store Events ----

// StoreEvent identifies a change published by the Store
type StoreEvent string

const (
	EventConnectionStatus StoreEvent = "connection_status" // ConnectionStatus
	EventCallUpdated      StoreEvent = "call_updated"      // *CallRecord, nil when the slot clears
	EventCallEnded        StoreEvent = "call_ended"        // *CallRecord
	EventHistoryChanged   StoreEvent = "history_changed"   // nil
	EventCallerInfo       StoreEvent = "caller_info"       // *CallerInfo, nil when cleared
	EventDialpad          StoreEvent = "dialpad"           // bool
	EventDialBuffer       StoreEvent = "dial_buffer"       // string
	EventMute             StoreEvent = "mute"              // ToggleState
	EventHold             StoreEvent = "hold"              // ToggleState
)

// ToggleState is the payload of mute and hold events.
type ToggleState struct {
	Value   bool
	Pending bool
}

// ---- Engine Events ----

// EngineEventKey identifies an event emitted by an Engine
type EngineEventKey string

const (
	EngineEventRegistration EngineEventKey = "registration" // RegistrationEvent
	EngineEventIncoming     EngineEventKey = "incoming"     // IncomingCallEvent
	EngineEventCallState    EngineEventKey = "call_state"   // CallStateEvent
	EngineEventRemoteMedia  EngineEventKey = "remote_media" // MediaEvent
	EngineEventLocalMedia   EngineEventKey = "local_media"  // MediaEvent
)

// RegistrationEvent reports a change of the line registration.
type RegistrationEvent struct {
	Registered bool
	Err        error
}

// IncomingCallEvent announces a new inbound call.
type IncomingCallEvent struct {
	CallID      string
	Number      string
	DisplayName string
}

// CallState is the engine-level phase of a call
type CallState string

const (
	CallStateProgress   CallState = "progress"
	CallStateAnswered   CallState = "answered"
	CallStateTerminated CallState = "terminated"
)

// CallStateEvent reports a call phase change. Reason is set for terminated.
type CallStateEvent struct {
	CallID string
	State  CallState
	Reason EndReason
}

// MediaEvent carries a stream for a call.
type MediaEvent struct {
	CallID string
	Stream AudioStream
}

// ---- Event Emitter ----

// EventHandler is a callback function for events
type EventHandler func(data interface{})

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventEmitter provides a simple event pub/sub system
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   uint64
}

// NewEventEmitter creates a new EventEmitter
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers: make(map[string][]subscription),
	}
}

// On registers an event handler for a specific event type and returns a
// function that removes it.
func (e *EventEmitter) On(event string, handler EventHandler) func() {
	if handler == nil {
		return func() {}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.handlers[event] = append(e.handlers[event], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(event, id) })
	}
}

func (e *EventEmitter) remove(event string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.handlers[event]
	for i, s := range subs {
		if s.id == id {
			e.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(e.handlers[event]) == 0 {
		delete(e.handlers, event)
	}
}

// Off removes all handlers for a specific event type
func (e *EventEmitter) Off(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, event)
}

// Emit fires an event, calling all registered handlers
func (e *EventEmitter) Emit(event string, data interface{}) {
	e.mu.RLock()
	subs := make([]subscription, len(e.handlers[event]))
	copy(subs, e.handlers[event])
	e.mu.RUnlock()

	for _, s := range subs {
		s.handler(data)
	}
}
