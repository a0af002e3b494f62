/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"strings"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// ---- Enums / Constants ----

// ConnectionStatus is the state of the SIP registration
type ConnectionStatus string

const (
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusConnecting   ConnectionStatus = "connecting"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusError        ConnectionStatus = "error"
)

// CallDirection indicates whether a call is inbound or outbound
type CallDirection string

const (
	CallDirectionInbound  CallDirection = "inbound"
	CallDirectionOutbound CallDirection = "outbound"
)

// CallStatus is the phase of a call record
type CallStatus string

const (
	CallStatusRinging  CallStatus = "ringing"
	CallStatusAnswered CallStatus = "answered"
	CallStatusHeld     CallStatus = "held"
	CallStatusMissed   CallStatus = "missed"
	CallStatusEnded    CallStatus = "ended"
)

// Active reports whether a call in this status occupies the line.
func (s CallStatus) Active() bool {
	return s == CallStatusRinging || s == CallStatusAnswered || s == CallStatusHeld
}

// Terminal reports whether the status is final.
func (s CallStatus) Terminal() bool {
	return s == CallStatusMissed || s == CallStatusEnded
}

// EndReason explains why a call reached a terminal status
type EndReason string

const (
	EndReasonHangup       EndReason = "hangup"
	EndReasonRemoteHangup EndReason = "remote-hangup"
	EndReasonRejected     EndReason = "rejected"
	EndReasonCancelled    EndReason = "cancelled"
	EndReasonBusy         EndReason = "busy"
	EndReasonFailed       EndReason = "failed"
	EndReasonTimeout      EndReason = "timeout"
	EndReasonMediaFailed  EndReason = "media-failed"
)

// CallerType is the CRM entity a caller matched
type CallerType string

const (
	CallerTypeQuote  CallerType = "quote"
	CallerTypePolicy CallerType = "policy"
)

// ---- Call Records ----

// CallRecord represents one call, active or historical.
type CallRecord struct {
	ID          string         `json:"id"`
	PhoneNumber string         `json:"phoneNumber"`
	DisplayName string         `json:"displayName,omitempty"`
	Direction   CallDirection  `json:"direction"`
	Status      CallStatus     `json:"status"`
	StartTime   time.Time      `json:"startTime"`
	AnsweredAt  *time.Time     `json:"answeredAt,omitempty"`
	Duration    *time.Duration `json:"duration,omitempty"`
	EndReason   EndReason      `json:"endReason,omitempty"`
}

func (r *CallRecord) clone() *CallRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.AnsweredAt != nil {
		t := *r.AnsweredAt
		cp.AnsweredAt = &t
	}
	if r.Duration != nil {
		d := *r.Duration
		cp.Duration = &d
	}
	return &cp
}

// CallerInfo correlates a phone number with a CRM quote or policy.
type CallerInfo struct {
	Found     bool       `json:"found"`
	Type      CallerType `json:"type,omitempty"`
	ID        string     `json:"id,omitempty"`
	FirstName string     `json:"firstName,omitempty"`
	LastName  string     `json:"lastName,omitempty"`
}

// FullName joins the first and last name.
func (c CallerInfo) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// Route returns the application path of the matched record, or "" when
// nothing matched.
func (c CallerInfo) Route() string {
	if !c.Found || c.ID == "" {
		return ""
	}
	switch c.Type {
	case CallerTypeQuote:
		return "/quotes/" + c.ID
	case CallerTypePolicy:
		return "/policies/" + c.ID
	}
	return ""
}

// Label returns the client kind shown under the caller name.
func (c CallerInfo) Label() string {
	switch c.Type {
	case CallerTypeQuote:
		return "Quote Client"
	case CallerTypePolicy:
		return "Policy Client"
	}
	return ""
}

// ---- Credentials ----

// SipCredentials are the registration inputs for the engine. Server is an
// optional signaling URL override.
type SipCredentials struct {
	Extension string
	Password  string
	Server    string
}

// MarshalZerologObject logs presence flags only.
func (s SipCredentials) MarshalZerologObject(e *zerolog.Event) {
	e.Bool("has_extension", s.Extension != "").
		Bool("has_password", s.Password != "").
		Str("server", s.Server)
}

// Profile is the SIP section of the signed-in user's profile.
type Profile struct {
	SipEnabled bool
	Extension  string
	Password   string
	Server     string
}

// MarshalZerologObject logs presence flags only.
func (p Profile) MarshalZerologObject(e *zerolog.Event) {
	e.Bool("sip_enabled", p.SipEnabled).
		Bool("has_extension", p.Extension != "").
		Bool("has_password", p.Password != "").
		Str("server", p.Server)
}

// ---- Audio ----

// AudioStream is one direction of call audio handed to a sink.
type AudioStream interface {
	ID() string
}

// RemoteAudio is the far end's audio. Sinks read RTP packets until an
// error is returned.
type RemoteAudio interface {
	AudioStream
	ReadRTP() (*rtp.Packet, error)
}

// LocalAudio is the outgoing audio. Sinks push captured RTP packets into it.
// Writes are dropped while the call is muted.
type LocalAudio interface {
	AudioStream
	WriteRTP(pkt *rtp.Packet) error
}

// AudioSink is an output the adapter attaches call media to.
type AudioSink interface {
	Attach(stream AudioStream) error
	Detach()
}
