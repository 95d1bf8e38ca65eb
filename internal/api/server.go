// SPDX-License-Identifier: MIT

// Package api exposes the player-facing HTTP surface: search, download,
// translation and the SSE activity stream.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/submaker/submaker/internal/activity"
	"github.com/submaker/submaker/internal/config"
	"github.com/submaker/submaker/internal/log"
	"github.com/submaker/submaker/internal/providers"
	"github.com/submaker/submaker/internal/resilience"
	"github.com/submaker/submaker/internal/search"
	"github.com/submaker/submaker/internal/translate"
)

// Server wires the HTTP handlers to the service layer.
type Server struct {
	settings   config.Settings
	engine     *search.Engine
	downloader *providers.Downloader
	translator *translate.Service
	bus        *activity.Bus
	tracker    *activity.Tracker
	breakers   *resilience.Registry
	ready      func() error
	logger     zerolog.Logger
}

// Deps carries everything the server needs; nil fields disable the
// corresponding endpoints with a 503.
type Deps struct {
	Settings   config.Settings
	Engine     *search.Engine
	Downloader *providers.Downloader
	Translator *translate.Service
	Bus        *activity.Bus
	Tracker    *activity.Tracker
	Breakers   *resilience.Registry
	Ready      func() error
}

func NewServer(d Deps) *Server {
	return &Server{
		settings:   d.Settings,
		engine:     d.Engine,
		downloader: d.Downloader,
		translator: d.Translator,
		bus:        d.Bus,
		tracker:    d.Tracker,
		breakers:   d.Breakers,
		ready:      d.Ready,
		logger:     log.WithComponent("api"),
	}
}

// Router builds the chi mux with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(httprate.LimitByIP(120, time.Minute))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/subtitles/{mediaType}/{id}", s.handleSearch)
	r.Get("/subtitles/{mediaType}/{id}/{extra}", s.handleSearch)
	r.Get("/subtitle/download", s.handleDownload)
	r.Post("/translate", s.handleTranslate)
	r.Get("/translation/{baseKey}", s.handleTranslation)
	r.Get("/activity", s.handleActivity)
	r.Get("/session-stats", s.handleSessionStats)

	return otelhttp.NewHandler(r, "submaker.api")
}

// requestLogger emits one structured line per request, after the fact.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// SSE connections log on their own; a multi-minute "request"
			// duration here would only mislead.
			if r.URL.Path == "/activity" {
				return
			}
			logger.Info().
				Str("event", "http.request").
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request served")
		})
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
