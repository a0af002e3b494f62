/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package sipua is the SIP/WebRTC user agent behind calling.Client. It
// registers a line over sipgo, runs INVITE dialogs and negotiates audio with
// a pion peer connection.
package sipua

import (
	"time"

	"github.com/rs/zerolog"
)

// Config holds the user agent configuration
type Config struct {
	// Transport is used when the server address does not imply one
	// ("udp", "tcp", "tls", "ws" or "wss").
	Transport string

	// UserAgent is sent in the User-Agent header.
	UserAgent string

	// Hostname is the host placed in Contact headers. Empty uses the
	// sipgo default.
	Hostname string

	// ListenAddr, when set, also serves requests on a local listener for
	// servers that send INVITEs to the registered contact instead of the
	// registration flow.
	ListenAddr string

	// RegisterExpiry is the expiry requested in REGISTER.
	RegisterExpiry time.Duration

	// RequestTimeout bounds a single transaction.
	RequestTimeout time.Duration

	// RingTimeout ends an unanswered inbound call with 480.
	RingTimeout time.Duration

	// DTMFDuration is the tone length sent in INFO bodies.
	DTMFDuration time.Duration

	// Media configures the peer connection of every call.
	Media *MediaConfig

	Logger *zerolog.Logger
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Transport:      "udp",
		UserAgent:      "WebPhone",
		RegisterExpiry: 300 * time.Second,
		RequestTimeout: 10 * time.Second,
		RingTimeout:    60 * time.Second,
		DTMFDuration:   160 * time.Millisecond,
		Media:          DefaultMediaConfig(),
	}
}

func normalizeConfig(c *Config) *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.Transport == "" {
		out.Transport = d.Transport
	}
	if out.UserAgent == "" {
		out.UserAgent = d.UserAgent
	}
	if out.RegisterExpiry <= 0 {
		out.RegisterExpiry = d.RegisterExpiry
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = d.RequestTimeout
	}
	if out.RingTimeout <= 0 {
		out.RingTimeout = d.RingTimeout
	}
	if out.DTMFDuration <= 0 {
		out.DTMFDuration = d.DTMFDuration
	}
	if out.Media == nil {
		out.Media = d.Media
	}
	return &out
}

func (c *Config) logger() zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return c.Logger.With().Str("component", "sipua").Logger()
}
