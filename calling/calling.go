/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package calling is the call-control core of the softphone.
//
// A Store holds the session's call state, a Client adapts a SIP Engine to
// that state, and a Presenter drives the incoming-call surface. One of each
// is created per signed-in session; nothing here is a package-level
// singleton.
//
// Audio sinks must be bound with Store.SetAudioElements before placing or
// answering calls. Media that arrives with no sink bound is dropped with a
// warning.
package calling

import (
	"time"

	"github.com/rs/zerolog"
)

// Config holds the configuration for the calling core
type Config struct {
	// DefaultServer is the signaling URL used when neither the caller nor
	// the store provides one.
	DefaultServer string

	// HistoryWindow caps RecentCalls.
	HistoryWindow int

	// NavigationDelay is the wait between answering and opening the
	// matched CRM record.
	NavigationDelay time.Duration

	// LookupTimeout bounds a caller identity lookup.
	LookupTimeout time.Duration

	// Logger is the base logger. Nil disables logging.
	Logger *zerolog.Logger
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DefaultServer:   "wss://sip.example.com:7443",
		HistoryWindow:   5,
		NavigationDelay: 500 * time.Millisecond,
		LookupTimeout:   5 * time.Second,
	}
}

func (c *Config) logger(component string) zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return c.Logger.With().Str("component", component).Logger()
}

func normalizeConfig(config *Config) *Config {
	if config == nil {
		return DefaultConfig()
	}
	cfg := *config
	defaults := DefaultConfig()
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaults.HistoryWindow
	}
	if cfg.NavigationDelay <= 0 {
		cfg.NavigationDelay = defaults.NavigationDelay
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaults.LookupTimeout
	}
	return &cfg
}
