/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package calleridentity matches inbound phone numbers against CRM quote
// and policy records.
//
// The client side is a Resolver: HTTPResolver asks the CRM application,
// CachedResolver puts a Redis cache in front of any Resolver. The server
// side is a Store (PostgresStore in production) exposed through NewHandler.
//
// A lookup never fails from the caller's point of view. Network, decode and
// storage errors are logged and reported as not-found.
package calleridentity

import (
	"context"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"github.com/rs/zerolog"
	"github.com/tejzpr/webphone-go-sdk/calling"
	"golang.org/x/time/rate"
)

// Resolver looks a phone number up against CRM records.
type Resolver interface {
	Resolve(ctx context.Context, number string) calling.CallerInfo
}

// Config holds the configuration for caller identity lookups
type Config struct {
	// LookupPath is the application endpoint queried by HTTPResolver.
	LookupPath string

	// Timeout bounds a single lookup including any rate limiter wait.
	Timeout time.Duration

	// Rate and Burst throttle HTTPResolver.
	Rate  rate.Limit
	Burst int

	// Region is the default region for numbers without a country code.
	Region string

	// HitTTL and MissTTL control how long CachedResolver keeps results.
	HitTTL  time.Duration
	MissTTL time.Duration

	// KeyPrefix is prepended to the normalized number for cache keys.
	KeyPrefix string

	// Logger is the base logger. Nil disables logging.
	Logger *zerolog.Logger
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LookupPath: "/api/calls/lookup-caller",
		Timeout:    5 * time.Second,
		Rate:       rate.Limit(5),
		Burst:      5,
		Region:     calling.DefaultRegion,
		HitTTL:     10 * time.Minute,
		MissTTL:    time.Minute,
		KeyPrefix:  "callerid:",
	}
}

func normalizeConfig(config *Config) *Config {
	if config == nil {
		return DefaultConfig()
	}
	cfg := *config
	defaults := DefaultConfig()
	if cfg.LookupPath == "" {
		cfg.LookupPath = defaults.LookupPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.Rate <= 0 {
		cfg.Rate = defaults.Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}
	if cfg.Region == "" {
		cfg.Region = defaults.Region
	}
	if cfg.HitTTL <= 0 {
		cfg.HitTTL = defaults.HitTTL
	}
	if cfg.MissTTL <= 0 {
		cfg.MissTTL = defaults.MissTTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaults.KeyPrefix
	}
	return &cfg
}

func (c *Config) logger(component string) zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return c.Logger.With().Str("component", component).Logger()
}

// Normalize returns number in E.164 form. Numbers that do not parse are
// reduced to their digits, keeping a leading plus. Empty input gives "".
func Normalize(number, region string) string {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return ""
	}
	if num, err := phonenumbers.Parse(trimmed, region); err == nil && phonenumbers.IsPossibleNumber(num) {
		return phonenumbers.Format(num, phonenumbers.E164)
	}

	var b strings.Builder
	for i, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 || b.String() == "+" {
		return ""
	}
	return b.String()
}

// matchKeys returns the digit strings a stored phone may equal: the full
// E.164 digits and, when known, the national significant number.
func matchKeys(number, region string) []string {
	e164 := Normalize(number, region)
	if e164 == "" {
		return nil
	}
	keys := []string{strings.TrimPrefix(e164, "+")}
	if num, err := phonenumbers.Parse(e164, region); err == nil {
		if national := phonenumbers.GetNationalSignificantNumber(num); national != "" && national != keys[0] {
			keys = append(keys, national)
		}
	}
	return keys
}

// valid reports whether info is a usable match.
func valid(info calling.CallerInfo) bool {
	if !info.Found || strings.TrimSpace(info.ID) == "" {
		return false
	}
	return info.Type == calling.CallerTypeQuote || info.Type == calling.CallerTypePolicy
}
