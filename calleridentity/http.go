/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calleridentity

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tejzpr/webphone-go-sdk/calling"
	"github.com/tejzpr/webphone-go-sdk/webphonesdk"
	"golang.org/x/time/rate"
)

// HTTPResolver asks the CRM application who is calling. Requests carry the
// core client's session cookie and are throttled by a token bucket.
type HTTPResolver struct {
	client  *webphonesdk.Client
	config  *Config
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu         sync.Mutex
	pauseUntil time.Time
	now        func() time.Time
}

// NewHTTPResolver creates a resolver backed by the application's lookup
// endpoint.
func NewHTTPResolver(client *webphonesdk.Client, config *Config) *HTTPResolver {
	cfg := normalizeConfig(config)
	return &HTTPResolver{
		client:  client,
		config:  cfg,
		limiter: rate.NewLimiter(cfg.Rate, cfg.Burst),
		logger:  cfg.logger("calleridentity"),
		now:     time.Now,
	}
}

// Resolve implements Resolver.
func (r *HTTPResolver) Resolve(ctx context.Context, number string) calling.CallerInfo {
	number = strings.TrimSpace(number)
	if number == "" {
		return calling.CallerInfo{}
	}

	if wait := r.paused(); wait > 0 {
		r.logger.Debug().Dur("retry_in", wait).Msg("lookup paused by server")
		return calling.CallerInfo{}
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	// Wait fails immediately when the reservation would outlive ctx.
	if err := r.limiter.Wait(ctx); err != nil {
		r.logger.Debug().Err(err).Msg("lookup throttled")
		return calling.CallerInfo{}
	}

	params := url.Values{}
	params.Set("phoneNumber", number)
	resp, err := r.client.RequestWithContext(ctx, http.MethodGet, r.config.LookupPath, params, nil)
	if err != nil {
		r.logger.Warn().Err(err).Msg("caller lookup failed")
		return calling.CallerInfo{}
	}

	var info calling.CallerInfo
	if err := webphonesdk.ParseResponse(resp, &info); err != nil {
		r.failed(err)
		return calling.CallerInfo{}
	}
	if !valid(info) {
		return calling.CallerInfo{}
	}
	r.logger.Debug().Str("type", string(info.Type)).Str("id", info.ID).Msg("caller resolved")
	return info
}

// paused returns how long lookups stay suspended after a 429.
func (r *HTTPResolver) paused() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pauseUntil.Sub(r.now())
}

func (r *HTTPResolver) failed(err error) {
	switch {
	case webphonesdk.IsRateLimited(err):
		var apiErr *webphonesdk.APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			r.mu.Lock()
			r.pauseUntil = r.now().Add(apiErr.RetryAfter)
			r.mu.Unlock()
		}
		r.logger.Warn().Err(err).Msg("caller lookup rate limited")
	case webphonesdk.IsAuthError(err), webphonesdk.IsForbidden(err):
		r.logger.Warn().Err(err).Msg("caller lookup rejected, session expired?")
	case webphonesdk.IsNotFound(err):
		r.logger.Error().Err(err).Str("path", r.config.LookupPath).Msg("caller lookup endpoint missing")
	default:
		r.logger.Warn().Err(err).Msg("caller lookup failed")
	}
}
