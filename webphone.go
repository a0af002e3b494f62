/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package webphone wires the softphone components together for one
// signed-in CRM session.
package webphone

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tejzpr/webphone-go-sdk/calleridentity"
	"github.com/tejzpr/webphone-go-sdk/calling"
	"github.com/tejzpr/webphone-go-sdk/realtime"
	"github.com/tejzpr/webphone-go-sdk/sipua"
	"github.com/tejzpr/webphone-go-sdk/webphonesdk"
)

// ErrClosed is reported by components obtained after Close.
var ErrClosed = errors.New("webphone: client is closed")

// closedSession refuses every realtime connect once the WebPhone is closed.
type closedSession struct{}

func (closedSession) SessionState(ctx context.Context) (webphonesdk.SessionState, error) {
	return webphonesdk.SessionUnauthenticated, ErrClosed
}

// WebPhone is the top-level client for a webphone session
type WebPhone struct {
	// Core client for the CRM application
	core *webphonesdk.Client

	// Optional per-plugin configuration, read on first use
	RealtimeConfig       *realtime.Config
	CallingConfig        *calling.Config
	SIPConfig            *sipua.Config
	CallerIdentityConfig *calleridentity.Config

	// Optional lookup cache; nil means every lookup hits the application
	CallerCache calleridentity.KV

	mu             sync.Mutex
	realtimeClient *realtime.Client
	phone          *calling.Client
	resolver       calleridentity.Resolver
	closed         bool
}

// NewClient creates a WebPhone for the application served at origin.
func NewClient(origin string, config *webphonesdk.Config) (*WebPhone, error) {
	core, err := webphonesdk.NewClient(origin, config)
	if err != nil {
		return nil, err
	}
	return &WebPhone{core: core}, nil
}

// Core returns the underlying application client.
func (w *WebPhone) Core() *webphonesdk.Client {
	return w.core
}

func (w *WebPhone) logger() *zerolog.Logger {
	l := w.core.GetLogger()
	return &l
}

// Realtime returns the realtime websocket client. After Close its Connect
// fails with ErrClosed.
func (w *WebPhone) Realtime() *realtime.Client {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.realtimeClient == nil {
		w.realtimeClient = realtime.New(w.core, w.RealtimeConfig)
		if w.closed {
			w.realtimeClient.SetSessionProvider(closedSession{})
		}
	}
	return w.realtimeClient
}

// CallerIdentity returns the caller lookup, cached when CallerCache is set.
func (w *WebPhone) CallerIdentity() calleridentity.Resolver {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resolverLocked()
}

func (w *WebPhone) resolverLocked() calleridentity.Resolver {
	if w.resolver != nil {
		return w.resolver
	}
	cfg := w.CallerIdentityConfig
	if cfg == nil {
		cfg = calleridentity.DefaultConfig()
	}
	if cfg.Logger == nil {
		c := *cfg
		c.Logger = w.logger()
		cfg = &c
	}
	var r calleridentity.Resolver = calleridentity.NewHTTPResolver(w.core, cfg)
	if w.CallerCache != nil {
		r = calleridentity.NewCachedResolver(r, w.CallerCache, cfg)
	}
	w.resolver = r
	return r
}

// Phone returns the call-control client backed by a SIP user agent. A
// phone first requested after Close has no engine.
func (w *WebPhone) Phone() *calling.Client {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.phone != nil {
		return w.phone
	}

	sipCfg := sipua.DefaultConfig()
	if w.SIPConfig != nil {
		c := *w.SIPConfig
		sipCfg = &c
	}
	if sipCfg.Logger == nil {
		sipCfg.Logger = w.logger()
	}

	callCfg := calling.DefaultConfig()
	if w.CallingConfig != nil {
		c := *w.CallingConfig
		callCfg = &c
	}
	if callCfg.Logger == nil {
		callCfg.Logger = w.logger()
	}

	if w.closed {
		w.phone = calling.New(nil, callCfg)
		return w.phone
	}
	w.phone = calling.New(sipua.New(sipCfg), callCfg)
	w.phone.SetResolver(w.resolverLocked())
	return w.phone
}

// Store returns the call session state of Phone.
func (w *WebPhone) Store() *calling.Store {
	return w.Phone().Store()
}

// Close shuts the phone down and closes the realtime socket. It is safe to
// call more than once.
func (w *WebPhone) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	phone, rt := w.phone, w.realtimeClient
	w.mu.Unlock()

	var errs []error
	if phone != nil {
		if err := phone.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("phone: %w", err))
		}
	}
	if rt != nil {
		rt.SetSessionProvider(closedSession{})
		rt.Close()
	}
	return errors.Join(errs...)
}
