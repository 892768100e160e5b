// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftlab/feedcore/internal/middleware"
)

// RouterConfig tunes the HTTP surface.
type RouterConfig struct {
	// RateLimitReqs requests per RateLimitWindow per client IP on the
	// data endpoints. Zero disables limiting.
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// DefaultRouterConfig returns production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RateLimitReqs:   300,
		RateLimitWindow: time.Minute,
	}
}

// NewRouter assembles the chi route tree. Health and metrics endpoints sit
// outside the rate limit so monitoring never gets throttled.
func NewRouter(cfg RouterConfig, h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimitReqs > 0 {
			window := cfg.RateLimitWindow
			if window == 0 {
				window = time.Minute
			}
			r.Use(httprate.Limit(
				cfg.RateLimitReqs,
				window,
				httprate.WithKeyFuncs(httprate.KeyByRealIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, req *http.Request) {
					respondError(w, req, http.StatusTooManyRequests, CodeTooManyRequests, "rate limit exceeded")
				}),
			))
		}
		r.Use(middleware.Metrics)

		r.Post("/signals", h.CollectSignal)
		r.Post("/consumption", h.TrackConsumption)

		r.Post("/clips", h.UpsertClip)
		r.Post("/follows", h.Follow)
		r.Delete("/follows", h.Unfollow)

		r.Route("/feedback/{userID}", func(r chi.Router) {
			r.Post("/init", h.InitFeedbackLoop)
			r.Delete("/", h.DeleteUserData)
			r.Get("/batch", h.CurrentBatch)
			r.Get("/state", h.LoopState)
		})

		r.Route("/retraining", func(r chi.Router) {
			r.Get("/performance/{algorithm}", h.PerformanceHistory)
			r.Get("/triggers", h.Triggers)
			r.Get("/schedules", h.Schedules)
		})

		r.Get("/status", h.Status)
	})

	return r
}
