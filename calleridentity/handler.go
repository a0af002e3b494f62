/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calleridentity

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/tejzpr/webphone-go-sdk/calling"
)

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves the caller lookup API.
type Server struct {
	router *chi.Mux
	store  Store
	path   string
	logger zerolog.Logger
}

// NewHandler mounts the lookup endpoint at config.LookupPath and a
// /healthz probe.
func NewHandler(store Store, config *Config) *Server {
	cfg := normalizeConfig(config)
	s := &Server{
		router: chi.NewRouter(),
		store:  store,
		path:   cfg.LookupPath,
		logger: cfg.logger("calleridentity-server"),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying chi.Mux for mounting extra routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get(s.path, s.handleLookup)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	number := strings.TrimSpace(r.URL.Query().Get("phoneNumber"))
	if number == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "phoneNumber is required"})
		return
	}

	info, err := s.store.LookupCaller(r.Context(), number)
	if err != nil {
		s.logger.Error().Err(err).Msg("caller lookup failed")
		writeJSON(w, http.StatusOK, calling.CallerInfo{})
		return
	}
	if !valid(info) {
		info = calling.CallerInfo{}
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
