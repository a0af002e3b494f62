/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package config loads process settings for the webphone binaries from a
// .env file and WEBPHONE_ environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/tejzpr/webphone-go-sdk/calling"
)

// Prefix is prepended to every environment variable name.
const Prefix = "WEBPHONE_"

// Config holds all settings shared by the binaries
type Config struct {
	// Origin of the CRM application, e.g. https://crm.example.com.
	Origin string
	// SessionCookie is "name=value" for the application session.
	SessionCookie string

	LogLevel   string
	ListenAddr string

	SIPEnabled   bool
	SIPExtension string
	SIPPassword  string
	SIPServer    string
	SIPTransport string

	RedisAddr   string
	PostgresDSN string

	// LookupRate is the caller lookup budget per second.
	LookupRate  float64
	LookupBurst int

	CORSOrigins []string

	ShutdownTimeout time.Duration
}

// Load reads files (default ".env") if present, then the environment.
// Variables already set in the environment win over file values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	cfg := &Config{
		Origin:        getEnv("ORIGIN", ""),
		SessionCookie: getEnv("SESSION_COOKIE", ""),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		SIPExtension:  getEnv("SIP_EXTENSION", ""),
		SIPPassword:   getEnv("SIP_PASSWORD", ""),
		SIPServer:     getEnv("SIP_SERVER", ""),
		SIPTransport:  strings.ToLower(getEnv("SIP_TRANSPORT", "udp")),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
	}

	var err error
	if cfg.SIPEnabled, err = getBool("SIP_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.LookupRate, err = getFloat("LOOKUP_RATE", 5); err != nil {
		return nil, err
	}
	if cfg.LookupBurst, err = getInt("LOOKUP_BURST", 5); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 20*time.Second); err != nil {
		return nil, err
	}
	for _, o := range strings.Split(getEnv("CORS_ORIGINS", ""), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.Origin != "" {
		u, err := url.Parse(c.Origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("origin must be an http(s) URL, got %q", c.Origin)
		}
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	if c.SessionCookie != "" && !strings.Contains(c.SessionCookie, "=") {
		return fmt.Errorf("session cookie must be name=value")
	}
	if c.SIPEnabled && (c.SIPExtension == "" || c.SIPPassword == "") {
		return fmt.Errorf("sip enabled requires extension and password")
	}
	switch c.SIPTransport {
	case "udp", "tcp", "tls", "ws", "wss":
	default:
		return fmt.Errorf("sip transport must be udp, tcp, tls, ws or wss, got %q", c.SIPTransport)
	}
	if c.LookupRate <= 0 {
		return fmt.Errorf("lookup rate must be positive, got %v", c.LookupRate)
	}
	if c.LookupBurst < 1 {
		return fmt.Errorf("lookup burst must be at least 1, got %d", c.LookupBurst)
	}
	return nil
}

// Logger builds the process logger at the configured level.
func (c *Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
}

// Credentials returns the SIP credentials, or false when SIP is disabled.
func (c *Config) Credentials() (calling.SipCredentials, bool) {
	if !c.SIPEnabled {
		return calling.SipCredentials{}, false
	}
	return calling.SipCredentials{
		Extension: c.SIPExtension,
		Password:  c.SIPPassword,
		Server:    c.SIPServer,
	}, true
}

// Cookie splits SessionCookie into name and value.
func (c *Config) Cookie() (name, value string, ok bool) {
	return strings.Cut(c.SessionCookie, "=")
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(Prefix + key)); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s%s: %w", Prefix, key, err)
	}
	return v, nil
}

func getInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", Prefix, key, err)
	}
	return v, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", Prefix, key, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", Prefix, key, err)
	}
	return v, nil
}
