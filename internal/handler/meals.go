package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/calorily/internal/analysis"
	"github.com/sakif/calorily/internal/apperror"
	"github.com/sakif/calorily/internal/eventbus"
	"github.com/sakif/calorily/internal/model"
	"github.com/sakif/calorily/internal/views"
)

// MealService is the slice of service.MealService the HTTP layer uses.
type MealService interface {
	InsertManualMeal(ctx context.Context, in model.ManualMeal) (*model.Meal, error)
	BeginCapturedMealUploads(ctx context.Context, imageRefs []string) ([]string, error)
	UpdateMeal(ctx context.Context, id int64, patch model.MealPatch) (*model.Meal, error)
	DeleteMeal(ctx context.Context, id int64) error
	ToggleFavorite(ctx context.Context, id int64) (bool, error)
	Pending() []model.PendingMeal
	DismissPending(mealID string) error
	RetryPending(ctx context.Context, mealID string) (string, error)
	Complete(ctx context.Context, c analysis.Completion) error
	SubscribeToChanges(h eventbus.Handler) eventbus.Subscription
	SubscribeToPending(h eventbus.Handler) eventbus.Subscription
	Unsubscribe(sub eventbus.Subscription) bool
}

// SnapshotSource serves precomputed lists. views.Projection implements it.
type SnapshotSource interface {
	Snapshot() views.Snapshot
}

// MealHandler serves the meal log API.
type MealHandler struct {
	meals     MealService
	views     *views.Views
	snapshots SnapshotSource
	dailyGoal float64
	logger    *slog.Logger
}

// NewMealHandler creates a MealHandler. dailyGoal is the calorie target shown
// by the summary endpoint (0 hides progress).
func NewMealHandler(meals MealService, v *views.Views, dailyGoal float64, logger *slog.Logger) *MealHandler {
	return &MealHandler{meals: meals, views: v, dailyGoal: dailyGoal, logger: logger}
}

// WithSnapshots enables GET /snapshot, served from src without touching the
// database.
func (h *MealHandler) WithSnapshots(src SnapshotSource) *MealHandler {
	h.snapshots = src
	return h
}

// HandleCreateManual saves a hand-entered meal.
//
// HTTP: POST /api/meals
// BODY: {"name":"Porridge","carbs":50,"proteins":10,"fats":8,"imagePath":"/photos/p.jpg"}
func (h *MealHandler) HandleCreateManual(w http.ResponseWriter, r *http.Request) {
	var in model.ManualMeal
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}
	meal, err := h.meals.InsertManualMeal(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, meal)
}

type uploadRequest struct {
	Images []string `json:"images"`
}

type uploadResponse struct {
	MealIDs []string `json:"mealIds"`
}

// HandleUpload starts analysis uploads for one or more photos. It answers
// as soon as the pending entries exist; progress arrives on /api/events.
//
// HTTP: POST /api/meals/uploads
// BODY: {"images": ["/photos/lunch.jpg"]}
func (h *MealHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	ids, err := h.meals.BeginCapturedMealUploads(r.Context(), req.Images)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, uploadResponse{MealIDs: ids})
}

// HandleUpdate applies a sparse edit.
//
// HTTP: PATCH /api/meals/{id}
func (h *MealHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var patch model.MealPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, h.logger, err)
		return
	}
	meal, err := h.meals.UpdateMeal(r.Context(), id, patch)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, meal)
}

// HandleDelete removes a meal. Unknown ids still get 204.
//
// HTTP: DELETE /api/meals/{id}
func (h *MealHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.meals.DeleteMeal(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleToggleFavorite flips the favorite flag.
//
// HTTP: POST /api/meals/{id}/favorite
func (h *MealHandler) HandleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	fav, err := h.meals.ToggleFavorite(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"favorite": fav})
}

// HandleToday, HandleWeek and HandleFavorites list meals, newest first.
//
// HTTP: GET /api/meals/today, /api/meals/week, /api/meals/favorites
func (h *MealHandler) HandleToday(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.views.Today)
}

func (h *MealHandler) HandleWeek(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.views.LastWeek)
}

func (h *MealHandler) HandleFavorites(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.views.Favorites)
}

func (h *MealHandler) list(w http.ResponseWriter, r *http.Request, query func(context.Context) ([]model.Meal, error)) {
	meals, err := query(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, meals)
}

// HandleTimeline is today's feed with pending meals on top.
//
// HTTP: GET /api/timeline
func (h *MealHandler) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	entries, err := h.views.Timeline(r.Context(), h.meals)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleSummary reports today's totals against the calorie goal.
//
// HTTP: GET /api/summary/today
func (h *MealHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.views.DailySummary(r.Context(), h.dailyGoal)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleSnapshot returns today, the last week and favorites in one
// consistent read.
//
// HTTP: GET /api/snapshot
func (h *MealHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshots.Snapshot())
}

// HandlePending lists meals that are uploading or were rejected.
//
// HTTP: GET /api/pending
func (h *MealHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.meals.Pending())
}

// HandleDismissPending discards a pending meal, cancelling its upload.
//
// HTTP: DELETE /api/pending/{mealID}
func (h *MealHandler) HandleDismissPending(w http.ResponseWriter, r *http.Request) {
	mealID := r.PathValue("mealID")
	if mealID == "" {
		writeError(w, h.logger, apperror.ValidationFailed("mealID", "meal id is required"))
		return
	}
	if err := h.meals.DismissPending(mealID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type retryResponse struct {
	MealID string `json:"mealId"`
}

// HandleRetryPending re-uploads the photo of a rejected pending meal under a
// new meal id.
//
// HTTP: POST /api/pending/{mealID}/retry
func (h *MealHandler) HandleRetryPending(w http.ResponseWriter, r *http.Request) {
	mealID := r.PathValue("mealID")
	if mealID == "" {
		writeError(w, h.logger, apperror.ValidationFailed("mealID", "meal id is required"))
		return
	}
	newID, err := h.meals.RetryPending(r.Context(), mealID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, retryResponse{MealID: newID})
}

func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ValidationFailed("id", "id must be a positive integer")
	}
	return id, nil
}
