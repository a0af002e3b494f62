/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Command realtime-probe connects to the application's realtime socket with
// a session cookie and logs every envelope until interrupted.
//
// Usage:
//
//	WEBPHONE_ORIGIN=https://crm.example.com WEBPHONE_SESSION_COOKIE=sid=... realtime-probe
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	webphone "github.com/tejzpr/webphone-go-sdk"
	"github.com/tejzpr/webphone-go-sdk/config"
	"github.com/tejzpr/webphone-go-sdk/realtime"
	"github.com/tejzpr/webphone-go-sdk/webphonesdk"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	log := cfg.Logger()

	if cfg.Origin == "" {
		log.Fatal().Msg("WEBPHONE_ORIGIN is required")
	}

	core := webphonesdk.DefaultConfig()
	core.Logger = &log
	w, err := webphone.NewClient(cfg.Origin, core)
	if err != nil {
		log.Fatal().Err(err).Msg("creating client")
	}
	if name, value, ok := cfg.Cookie(); ok {
		if err := w.Core().SetSessionCookie(name, value); err != nil {
			log.Fatal().Err(err).Msg("setting session cookie")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := w.Realtime()
	rt.SetHandler(func(env *realtime.Envelope) {
		log.Info().
			Str("type", env.Type).
			Str("phone_number", env.PhoneNumber).
			Str("company_id", env.CompanyID).
			RawJSON("data", nonEmpty(env.Data)).
			Msg("envelope")
	})

	if err := rt.Connect(ctx); err != nil {
		if errors.Is(err, realtime.ErrSessionNotReady) {
			log.Fatal().Msg("session is not signed in; check WEBPHONE_SESSION_COOKIE")
		}
		log.Fatal().Err(err).Msg("connecting")
	}
	log.Info().Str("origin", cfg.Origin).Msg("listening, press Ctrl+C to stop")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	if err := w.Close(context.Background()); err != nil {
		log.Error().Err(err).Msg("close")
	}
}

func nonEmpty(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
