/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"

	"github.com/rs/zerolog"
)

// Engine is the SIP/WebRTC user agent behind the Client. Only the Client
// calls it.
//
// Call IDs are chosen by the Client for outbound calls and by the engine for
// inbound ones. Events are published on Emitter using the EngineEvent keys
// and must not be emitted while the engine holds its own locks.
type Engine interface {
	Register(ctx context.Context, creds SipCredentials) error
	Unregister(ctx context.Context) error

	Dial(ctx context.Context, callID, number string) error
	Answer(ctx context.Context, callID string) error
	Reject(ctx context.Context, callID string, busy bool) error
	Hangup(ctx context.Context, callID string) error

	SendDTMF(ctx context.Context, callID string, digit rune) error
	SetMute(ctx context.Context, callID string, muted bool) error
	SetHold(ctx context.Context, callID string, held bool) error

	Emitter() *EventEmitter
	Close() error
}

// Resolver looks a phone number up against CRM records. Failures are
// reported as Found=false.
type Resolver interface {
	Resolve(ctx context.Context, number string) CallerInfo
}

// NoticeLevel is the severity of a user-facing notification
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notifier shows transient, dismissible messages to the user.
type Notifier interface {
	Notify(level NoticeLevel, message string)
}

// LogNotifier writes notifications to a logger. It is the default when no
// UI notifier is set.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(level NoticeLevel, message string) {
	var ev *zerolog.Event
	switch level {
	case NoticeError:
		ev = n.Logger.Error()
	case NoticeWarning:
		ev = n.Logger.Warn()
	default:
		ev = n.Logger.Info()
	}
	ev.Str("notice", string(level)).Msg(message)
}
