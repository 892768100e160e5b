// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/driftlab/feedcore/internal/catalog"
	"github.com/driftlab/feedcore/internal/logging"
	"github.com/driftlab/feedcore/internal/pipeline"
	"github.com/driftlab/feedcore/internal/rank"
	"github.com/driftlab/feedcore/internal/scheduler"
	"github.com/driftlab/feedcore/internal/signals"
)

// FeedEngine is the feedback-loop surface the handlers need.
// Satisfied by *rank.Controller.
type FeedEngine interface {
	InitializeFeedbackLoop(ctx context.Context, userID string) (*rank.ClipsBatch, error)
	TrackClipConsumption(ctx context.Context, userID string, ev rank.ConsumptionEvent) error
	CurrentBatch(userID string) (*rank.ClipsBatch, error)
	LoopState(userID string) (*rank.FeedbackLoopState, error)
	DeleteUserData(ctx context.Context, userID string) error
	ActiveUsers() int
}

// SignalIntake accepts user signals. Satisfied by *signals.Collector.
type SignalIntake interface {
	Collect(ctx context.Context, sig signals.UserSignal) (signals.UserSignal, error)
	Forget(userID string)
}

// RetrainingView is the scheduler's read-only surface.
// Satisfied by *scheduler.Scheduler.
type RetrainingView interface {
	PerformanceHistory(alg pipeline.AlgorithmType) ([]scheduler.ModelPerformanceMetrics, error)
	Triggers() []scheduler.Trigger
	ActiveTriggers() []scheduler.Trigger
	Schedules() []scheduler.Schedule
	CurrentStatus() scheduler.Status
}

// DataView is the pipeline's read-only surface. Satisfied by
// *pipeline.Pipeline.
type DataView interface {
	BufferedPoints() int
}

// CatalogAdmin is the content ingestion surface. Satisfied by
// *catalog.Catalog.
type CatalogAdmin interface {
	UpsertClip(ctx context.Context, clip catalog.Clip) error
	Follow(ctx context.Context, userID, authorID string) error
	Unfollow(ctx context.Context, userID, authorID string) error
	Clips() int
}

// Handlers holds the HTTP handlers and their collaborators.
type Handlers struct {
	engine     FeedEngine
	intake     SignalIntake
	retraining RetrainingView
	data       DataView
	catalog    CatalogAdmin

	// ReadyCheck probes the persistence substrate for the readiness
	// endpoint. Nil means always ready.
	ReadyCheck func(ctx context.Context) error

	startedAt time.Time
}

// NewHandlers wires the handler set.
func NewHandlers(engine FeedEngine, intake SignalIntake, retraining RetrainingView, data DataView, cat CatalogAdmin) *Handlers {
	return &Handlers{
		engine:     engine,
		intake:     intake,
		retraining: retraining,
		data:       data,
		catalog:    cat,
		startedAt:  time.Now(),
	}
}

// SignalRequest is the POST /api/v1/signals body.
type SignalRequest struct {
	UserID      string            `json:"user_id"`
	SignalType  string            `json:"signal_type"`
	ContentID   string            `json:"content_id"`
	ContentType string            `json:"content_type"`
	Action      string            `json:"action"`
	Context     map[string]string `json:"context"`
	SessionID   string            `json:"session_id"`
}

// CollectSignal accepts one user signal, applies the per-user rate limit,
// and hands it to the batching layer.
func (h *Handlers) CollectSignal(w http.ResponseWriter, r *http.Request) {
	var req SignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, "malformed JSON body")
		return
	}

	stamped, err := h.intake.Collect(r.Context(), signals.UserSignal{
		UserID:      req.UserID,
		SignalType:  signals.SignalType(req.SignalType),
		ContentID:   req.ContentID,
		ContentType: req.ContentType,
		Action:      req.Action,
		Context:     req.Context,
		SessionID:   req.SessionID,
	})
	switch {
	case err == nil:
		respondOK(w, r, stamped)
	case errors.Is(err, signals.ErrRateLimited):
		respondError(w, r, http.StatusTooManyRequests, CodeTooManyRequests, "signal rate limit exceeded")
	default:
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, err.Error())
	}
}

// ConsumptionRequest is the POST /api/v1/consumption body. DwellTimeMs is
// in milliseconds.
type ConsumptionRequest struct {
	UserID          string   `json:"user_id"`
	ClipID          string   `json:"clip_id"`
	WatchPercentage float64  `json:"watch_percentage"`
	LoopCount       int      `json:"loop_count"`
	DwellTimeMs     int64    `json:"dwell_time_ms"`
	Actions         []string `json:"actions"`
	Terminal        bool     `json:"terminal"`
}

// TrackConsumption applies one consumption event to the user's active
// batch. Completing the last clip of a batch triggers the next one.
func (h *Handlers) TrackConsumption(w http.ResponseWriter, r *http.Request) {
	var req ConsumptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, "malformed JSON body")
		return
	}
	if req.UserID == "" || req.ClipID == "" {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, "user_id and clip_id are required")
		return
	}

	actions := make([]rank.EngagementAction, 0, len(req.Actions))
	for _, a := range req.Actions {
		actions = append(actions, rank.EngagementAction(a))
	}

	err := h.engine.TrackClipConsumption(r.Context(), req.UserID, rank.ConsumptionEvent{
		ClipID:          req.ClipID,
		WatchPercentage: req.WatchPercentage,
		LoopCount:       req.LoopCount,
		DwellTime:       time.Duration(req.DwellTimeMs) * time.Millisecond,
		Actions:         actions,
		Terminal:        req.Terminal,
	})
	switch {
	case err == nil:
		respondOK(w, r, map[string]string{"status": "recorded"})
	case errors.Is(err, rank.ErrNoState), errors.Is(err, rank.ErrNoActiveBatch), errors.Is(err, rank.ErrUnknownBatch):
		respondError(w, r, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, rank.ErrLoopExhausted):
		respondError(w, r, http.StatusConflict, CodeConflict, err.Error())
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("Consumption tracking failed")
		respondError(w, r, http.StatusInternalServerError, CodeInternalError, "failed to record consumption")
	}
}

// InitFeedbackLoop builds the candidate pool and first batch for a user.
// Idempotent: an already-initialized user gets their current batch back.
func (h *Handlers) InitFeedbackLoop(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	batch, err := h.engine.InitializeFeedbackLoop(r.Context(), userID)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("user_id", userID).Msg("Feedback loop init failed")
		respondError(w, r, http.StatusInternalServerError, CodeInternalError, "failed to initialize feedback loop")
		return
	}
	respondOK(w, r, batch)
}

// DeleteUserData purges a user's batches, state, pool, weights, and
// history.
func (h *Handlers) DeleteUserData(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.engine.DeleteUserData(r.Context(), userID); err != nil {
		if errors.Is(err, rank.ErrNoState) {
			respondError(w, r, http.StatusNotFound, CodeNotFound, err.Error())
			return
		}
		respondError(w, r, http.StatusInternalServerError, CodeInternalError, "failed to delete user data")
		return
	}
	h.intake.Forget(userID)
	respondOK(w, r, map[string]string{"status": "deleted"})
}

// CurrentBatch returns the user's active batch.
func (h *Handlers) CurrentBatch(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	batch, err := h.engine.CurrentBatch(userID)
	if err != nil {
		respondError(w, r, http.StatusNotFound, CodeNotFound, err.Error())
		return
	}
	respondOK(w, r, batch)
}

// LoopState returns the user's feedback-loop state snapshot.
func (h *Handlers) LoopState(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	state, err := h.engine.LoopState(userID)
	if err != nil {
		respondError(w, r, http.StatusNotFound, CodeNotFound, err.Error())
		return
	}
	respondOK(w, r, state)
}

// PerformanceHistory returns the capped evaluation history for one
// algorithm.
func (h *Handlers) PerformanceHistory(w http.ResponseWriter, r *http.Request) {
	alg := pipeline.AlgorithmType(chi.URLParam(r, "algorithm"))
	hist, err := h.retraining.PerformanceHistory(alg)
	if err != nil {
		respondError(w, r, http.StatusNotFound, CodeNotFound, err.Error())
		return
	}
	respondOK(w, r, hist)
}

// Triggers returns retraining triggers; ?active=true filters to latched
// ones.
func (h *Handlers) Triggers(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("active") == "true" {
		respondOK(w, r, h.retraining.ActiveTriggers())
		return
	}
	respondOK(w, r, h.retraining.Triggers())
}

// Schedules returns the per-algorithm retraining schedules.
func (h *Handlers) Schedules(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, h.retraining.Schedules())
}

// UpsertClip registers or replaces a catalog clip.
func (h *Handlers) UpsertClip(w http.ResponseWriter, r *http.Request) {
	var clip catalog.Clip
	if err := json.NewDecoder(r.Body).Decode(&clip); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, "malformed JSON body")
		return
	}
	if err := h.catalog.UpsertClip(r.Context(), clip); err != nil {
		if errors.Is(err, catalog.ErrInvalidClip) {
			respondError(w, r, http.StatusBadRequest, CodeBadRequest, err.Error())
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).Str("clip", clip.ID).Msg("Clip upsert failed")
		respondError(w, r, http.StatusInternalServerError, CodeInternalError, "failed to store clip")
		return
	}
	respondOK(w, r, map[string]string{"status": "stored", "clip_id": clip.ID})
}

// FollowRequest is the POST and DELETE /api/v1/follows body.
type FollowRequest struct {
	UserID   string `json:"user_id"`
	AuthorID string `json:"author_id"`
}

// Follow records a follow relation used by the social-graph strategy.
func (h *Handlers) Follow(w http.ResponseWriter, r *http.Request) {
	h.applyFollow(w, r, h.catalog.Follow)
}

// Unfollow removes a follow relation.
func (h *Handlers) Unfollow(w http.ResponseWriter, r *http.Request) {
	h.applyFollow(w, r, h.catalog.Unfollow)
}

func (h *Handlers) applyFollow(w http.ResponseWriter, r *http.Request, apply func(context.Context, string, string) error) {
	var req FollowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, "malformed JSON body")
		return
	}
	if req.UserID == "" || req.AuthorID == "" {
		respondError(w, r, http.StatusBadRequest, CodeBadRequest, "user_id and author_id are required")
		return
	}
	if err := apply(r.Context(), req.UserID, req.AuthorID); err != nil {
		respondError(w, r, http.StatusInternalServerError, CodeInternalError, "failed to update follow relation")
		return
	}
	respondOK(w, r, map[string]string{"status": "ok"})
}

// SystemStatus is the GET /api/v1/status payload.
type SystemStatus struct {
	ActiveUsers    int              `json:"active_users"`
	BufferedPoints int              `json:"buffered_points"`
	CatalogClips   int              `json:"catalog_clips"`
	Scheduler      scheduler.Status `json:"scheduler"`
	UptimeSeconds  int64            `json:"uptime_seconds"`
}

// Status returns a side-effect-free snapshot of the whole system.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, SystemStatus{
		ActiveUsers:    h.engine.ActiveUsers(),
		BufferedPoints: h.data.BufferedPoints(),
		CatalogClips:   h.catalog.Clips(),
		Scheduler:      h.retraining.CurrentStatus(),
		UptimeSeconds:  int64(time.Since(h.startedAt).Seconds()),
	})
}

// HealthLive reports process liveness.
func (h *Handlers) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, map[string]string{"status": "alive"})
}

// HealthReady reports readiness: the persistence substrate must answer.
func (h *Handlers) HealthReady(w http.ResponseWriter, r *http.Request) {
	if h.ReadyCheck != nil {
		if err := h.ReadyCheck(r.Context()); err != nil {
			respondError(w, r, http.StatusServiceUnavailable, CodeInternalError, "store not ready")
			return
		}
	}
	respondOK(w, r, map[string]string{"status": "ready"})
}
