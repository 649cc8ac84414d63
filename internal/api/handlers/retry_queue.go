package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"alertrelay/internal/core"
	"alertrelay/internal/types"
)

const (
	defaultRetryListLimit = 50
	maxRetryListLimit     = 500
)

// RetryQueueRepo is the subset of db.RetryQueueRepository used by the
// dead-letter endpoints.
type RetryQueueRepo interface {
	ListByStatus(ctx context.Context, status types.RetryStatus, limit int) ([]types.RetryQueueEntry, error)
	GetByID(ctx context.Context, id string) (*types.RetryQueueEntry, error)
	Requeue(ctx context.Context, id string, now time.Time) error
}

// RetryQueueHandler lets operators inspect the retry queue and replay
// dead-lettered deliveries.
type RetryQueueHandler struct {
	repo   RetryQueueRepo
	clock  types.Clock
	logger *slog.Logger
}

// NewRetryQueueHandler creates a RetryQueueHandler.
func NewRetryQueueHandler(repo RetryQueueRepo, clock types.Clock, l *slog.Logger) *RetryQueueHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if l == nil {
		l = slog.Default()
	}
	return &RetryQueueHandler{repo: repo, clock: clock, logger: l}
}

// RegisterRoutes mounts the retry queue endpoints on a /v1 router.
func (h *RetryQueueHandler) RegisterRoutes(r chi.Router) {
	r.Route("/retry-queue", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/requeue", h.Requeue)
	})
}

// List handles GET /v1/retry-queue. The status filter defaults to
// dead_letter.
func (h *RetryQueueHandler) List(w http.ResponseWriter, r *http.Request) {
	status := types.RetryStatusDeadLetter
	if s := r.URL.Query().Get("status"); s != "" {
		status = types.RetryStatus(s)
		if !status.IsValid() {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidParameter,
				"status must be one of: queued processing sent dead_letter",
				nil,
			))
			return
		}
	}

	limit := defaultRetryListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 || n > maxRetryListLimit {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidParameter,
				fmt.Sprintf("limit must be a number between 1 and %d", maxRetryListLimit),
				nil,
			))
			return
		}
		limit = n
	}

	entries, err := h.repo.ListByStatus(r.Context(), status, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list retry entries",
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		core.Error(w, r, err)
		return
	}
	if entries == nil {
		entries = []types.RetryQueueEntry{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: entries,
		Meta: &core.ResponseMeta{Count: len(entries), Limit: limit},
	})
}

// Get handles GET /v1/retry-queue/{id}.
func (h *RetryQueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: entry})
}

// Requeue handles POST /v1/retry-queue/{id}/requeue. Only dead-lettered
// entries can be requeued; they restart with a fresh attempt budget and are
// due immediately.
func (h *RetryQueueHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.repo.Requeue(r.Context(), id, h.clock.Now()); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "retry entry requeued",
		slog.String("retry_id", id),
		slog.String("producer", types.GetProducer(r.Context())),
	)

	entry, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: entry})
}
