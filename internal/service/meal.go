// Package service contains the meal sync orchestrator.
//
// THE LAYERS:
//
//	Handler / CLI  → parse input, render output
//	MealService    → the per-meal state machine (this package)
//	Repository     → durable rows + image files (internal/repository/sqlite)
//
// THE STATE MACHINE (keyed by meal_id):
//
//	CAPTURED ──▶ UPLOADING ──ack──▶ ANALYZING ──completion──▶ COMPLETE
//	                │  ▲                 │
//	     transient  └──┘                 └──failure──▶ FAILED
//	                │
//	     rejected   └──▶ ERROR (overlay only, user dismisses)
//
// CAPTURED and UPLOADING live in the overlay; ANALYZING onwards is a durable
// row. Every upload runs on its own goroutine. The only place that goroutine
// waits on the network is Submit, and it holds no lock while it does.
//
// CANCELLATION:
// Deleting or dismissing a meal tombstones its meal_id. The tombstone is
// checked before the post-upload insert and before applying a completion, so
// a deleted meal can't come back no matter how late the network answers.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/sakif/calorily/internal/analysis"
	"github.com/sakif/calorily/internal/apperror"
	"github.com/sakif/calorily/internal/eventbus"
	"github.com/sakif/calorily/internal/model"
	"github.com/sakif/calorily/internal/overlay"
	"github.com/sakif/calorily/internal/repository"
)

// DefaultRetryDelay is the fixed backoff between attempts after a transient
// upload failure.
const DefaultRetryDelay = 5 * time.Second

// MaxNameLength bounds meal names typed by the user.
const MaxNameLength = 200

// Options are MealService's dependencies. Repo, Overlay, Bus, Submitter and
// Tokens are required.
type Options struct {
	Repo      repository.MealRepository
	Overlay   *overlay.Overlay
	Bus       *eventbus.Bus
	Submitter analysis.Submitter
	Tokens    oauth2.TokenSource

	RetryDelay time.Duration
	Logger     *slog.Logger
}

// MealService drives meals from capture to a completed analysis.
type MealService struct {
	repo       repository.MealRepository
	overlay    *overlay.Overlay
	bus        *eventbus.Bus
	submitter  analysis.Submitter
	tokens     oauth2.TokenSource
	retryDelay time.Duration
	logger     *slog.Logger
	now        func() time.Time

	// mu guards the three maps and closed.
	mu         sync.Mutex
	inflight   map[string]*upload
	tombstones map[string]struct{}
	buffered   map[string]analysis.Completion
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sub    eventbus.Subscription
}

// upload is one meal between capture and its durable insert.
type upload struct {
	mealID     string
	imageRef   string
	capturedAt time.Time
	cancel     context.CancelFunc

	// mu is held across the tombstone check and the insert, and by
	// DismissPending, so a dismissal can't slip in between the two.
	mu        sync.Mutex
	committed bool
}

// NewMealService wires the orchestrator and subscribes it to store changes.
//
// Construct it BEFORE any view subscribes to the bus: its handler removes the
// overlay entry for a freshly inserted meal, and handlers run in subscription
// order, so views never see the overlay entry and the row at the same time.
func NewMealService(opts Options) *MealService {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &MealService{
		repo:       opts.Repo,
		overlay:    opts.Overlay,
		bus:        opts.Bus,
		submitter:  opts.Submitter,
		tokens:     opts.Tokens,
		retryDelay: opts.RetryDelay,
		logger:     opts.Logger,
		now:        time.Now,
		inflight:   make(map[string]*upload),
		tombstones: make(map[string]struct{}),
		buffered:   make(map[string]analysis.Completion),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.sub = s.bus.Subscribe(eventbus.TopicMeals, s.onMealChange)
	return s
}

// Close cancels every in-flight upload and waits for the goroutines to exit.
// Overlay entries of cancelled uploads are left as they are.
func (s *MealService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.bus.Unsubscribe(s.sub)
}

// =========================================================================
// CAPTURE → UPLOAD
// =========================================================================

// BeginCapturedMealUpload starts the state machine for one photo and returns
// the new meal_id. The overlay entry exists by the time this returns; the
// upload itself continues in the background.
func (s *MealService) BeginCapturedMealUpload(ctx context.Context, imageRef string) (string, error) {
	if strings.TrimSpace(imageRef) == "" {
		return "", apperror.ValidationFailed("imageRef", "an image is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	u := &upload{
		mealID:     uuid.NewString(),
		imageRef:   imageRef,
		capturedAt: s.now(),
	}
	uctx, cancel := context.WithCancel(s.ctx)
	u.cancel = cancel

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return "", errors.New("service: meal service is closed")
	}
	s.inflight[u.mealID] = u
	s.wg.Add(1)
	s.mu.Unlock()

	s.overlay.Add(u.mealID, imageRef)
	s.logger.Info("meal captured",
		slog.String("meal_id", u.mealID),
		slog.String("image", imageRef),
	)

	go s.run(uctx, u)
	return u.mealID, nil
}

// BeginCapturedMealUploads starts one upload per image (the share sheet and
// the multi-select picker hand over several at once). Nothing starts unless
// every reference is non-empty.
func (s *MealService) BeginCapturedMealUploads(ctx context.Context, imageRefs []string) ([]string, error) {
	if len(imageRefs) == 0 {
		return nil, apperror.ValidationFailed("imageRefs", "at least one image is required")
	}
	for i, ref := range imageRefs {
		if strings.TrimSpace(ref) == "" {
			return nil, apperror.ValidationFailed("imageRefs", fmt.Sprintf("image %d is empty", i))
		}
	}

	ids := make([]string, 0, len(imageRefs))
	for _, ref := range imageRefs {
		id, err := s.BeginCapturedMealUpload(ctx, ref)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// run is the UPLOADING loop for one meal.
func (s *MealService) run(ctx context.Context, u *upload) {
	defer s.wg.Done()
	defer u.cancel()

	for attempt := 1; ; attempt++ {
		err := s.submit(ctx, u)

		switch {
		case err == nil:
			s.commit(ctx, u)
			return

		case ctx.Err() != nil:
			s.logger.Info("upload cancelled",
				slog.String("meal_id", u.mealID),
				slog.Int("attempt", attempt),
			)
			s.forget(u.mealID)
			return

		case errors.Is(err, apperror.ErrTransient):
			s.logger.Warn("upload failed, retrying",
				slog.String("meal_id", u.mealID),
				slog.Int("attempt", attempt),
				slog.Duration("retry_in", s.retryDelay),
				slog.String("error", err.Error()),
			)
			if !sleep(ctx, s.retryDelay) {
				s.logger.Info("upload cancelled while waiting to retry", slog.String("meal_id", u.mealID))
				s.forget(u.mealID)
				return
			}

		default:
			s.reject(u, err)
			return
		}
	}
}

// submit performs one upload attempt. Anything that isn't a connectivity
// problem comes back as a rejection.
func (s *MealService) submit(ctx context.Context, u *upload) error {
	image, err := os.ReadFile(u.imageRef)
	if err != nil {
		return &apperror.AppError{Err: apperror.ErrRejected, Message: "Failed to read image", Cause: err}
	}

	tok, err := s.tokens.Token()
	if err != nil {
		return &apperror.AppError{Err: apperror.ErrRejected, Message: "Not signed in to the analysis service", Cause: err}
	}

	err = s.submitter.Submit(ctx, analysis.SubmitRequest{
		MealID: u.mealID,
		Image:  image,
		Token:  tok.AccessToken,
	})
	if err != nil && !errors.Is(err, apperror.ErrTransient) && !errors.Is(err, apperror.ErrRejected) && ctx.Err() == nil {
		// Unclassified errors from a Submitter are treated as rejections;
		// retrying something we don't understand forever helps nobody.
		return &apperror.AppError{Err: apperror.ErrRejected, Message: apperror.Message(err), Cause: err}
	}
	return err
}

// commit is the UPLOADING → ANALYZING transition: the first durable write.
func (s *MealService) commit(ctx context.Context, u *upload) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if s.isTombstoned(u.mealID) {
		s.logger.Info("upload acknowledged for a dismissed meal, not saving",
			slog.String("meal_id", u.mealID))
		s.forget(u.mealID)
		s.overlay.Remove(u.mealID)
		return
	}

	meal := &model.Meal{
		MealID:    u.mealID,
		Status:    model.StatusAnalyzing,
		Timestamp: u.capturedAt.Unix(),
	}
	// The service already has the photo. Shutting down now must not lose the
	// row, so the insert ignores cancellation. The overlay entry is hidden
	// before the row commits, so no reader ever sees both.
	hide := repository.BeforeCommit(func() { s.overlay.Hide(u.mealID) })
	if _, err := s.repo.Insert(context.WithoutCancel(ctx), meal, u.imageRef, hide); err != nil {
		s.logger.Error("saving uploaded meal",
			slog.String("meal_id", u.mealID),
			slog.String("error", err.Error()),
		)
		s.forget(u.mealID)
		s.overlay.SetError(u.mealID, apperror.Message(err))
		return
	}

	// onMealChange usually removed the hidden entry already; this covers a
	// bus with no subscription.
	s.overlay.Remove(u.mealID)
	u.committed = true

	s.mu.Lock()
	delete(s.inflight, u.mealID)
	pending, ok := s.buffered[u.mealID]
	delete(s.buffered, u.mealID)
	s.mu.Unlock()

	s.logger.Info("meal uploaded",
		slog.String("meal_id", u.mealID),
		slog.Int64("id", meal.ID),
	)

	if ok {
		s.logger.Info("applying buffered completion", slog.String("meal_id", u.mealID))
		if err := s.applyCompletion(context.WithoutCancel(ctx), pending); err != nil {
			s.logger.Error("applying buffered completion",
				slog.String("meal_id", u.mealID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reject is the UPLOADING → ERROR transition. No row is ever created.
func (s *MealService) reject(u *upload, err error) {
	s.forget(u.mealID)
	msg := apperror.Message(err)
	s.logger.Warn("upload rejected",
		slog.String("meal_id", u.mealID),
		slog.String("error", err.Error()),
	)
	s.overlay.SetError(u.mealID, msg)
}

// forget drops the in-flight record and any completion buffered for it.
func (s *MealService) forget(mealID string) {
	s.mu.Lock()
	delete(s.inflight, mealID)
	if _, ok := s.buffered[mealID]; ok {
		delete(s.buffered, mealID)
		s.logger.Info("discarding buffered completion", slog.String("meal_id", mealID))
	}
	s.mu.Unlock()
}

// DismissPending removes an overlay entry. If its upload is still running the
// meal_id is tombstoned and the upload cancelled, so it never becomes a row.
func (s *MealService) DismissPending(mealID string) error {
	s.mu.Lock()
	u, inflight := s.inflight[mealID]
	s.mu.Unlock()

	if inflight {
		u.mu.Lock()
		if u.committed {
			u.mu.Unlock()
			return apperror.NotFound("pending meal", mealID)
		}
		s.tombstone(mealID)
		u.mu.Unlock()
	}

	if !s.overlay.Remove(mealID) && !inflight {
		return apperror.NotFound("pending meal", mealID)
	}
	s.logger.Info("pending meal dismissed", slog.String("meal_id", mealID))
	return nil
}

// RetryPending starts a fresh upload for a rejected overlay entry and drops
// the old entry. The new upload gets a new meal_id, which is returned.
func (s *MealService) RetryPending(ctx context.Context, mealID string) (string, error) {
	entry, ok := s.overlay.Get(mealID)
	if !ok {
		return "", apperror.NotFound("pending meal", mealID)
	}
	if entry.Status != model.StatusError {
		return "", apperror.Conflict("pending meal", mealID)
	}

	newID, err := s.BeginCapturedMealUpload(ctx, entry.ImageURI)
	if err != nil {
		return "", err
	}
	s.overlay.Remove(mealID)
	s.logger.Info("pending meal retried",
		slog.String("meal_id", mealID),
		slog.String("new_meal_id", newID),
	)
	return newID, nil
}

// Pending returns the overlay entries, oldest first.
func (s *MealService) Pending() []model.PendingMeal {
	return s.overlay.List()
}

// =========================================================================
// COMPLETIONS
// =========================================================================

// Complete delivers an out-of-band analysis result.
//
// A completion for a meal that is still uploading is held and applied right
// after its insert. A completion for a deleted or unknown meal is logged and
// dropped without error. Applying the same completion twice changes nothing.
func (s *MealService) Complete(ctx context.Context, c analysis.Completion) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if _, dead := s.tombstones[c.MealID]; dead {
		s.mu.Unlock()
		s.logger.Info("discarding completion for deleted meal", slog.String("meal_id", c.MealID))
		return nil
	}
	if _, uploading := s.inflight[c.MealID]; uploading {
		s.buffered[c.MealID] = c
		s.mu.Unlock()
		s.logger.Info("completion arrived before upload finished, buffering",
			slog.String("meal_id", c.MealID))
		return nil
	}
	s.mu.Unlock()

	return s.applyCompletion(ctx, c)
}

// applyCompletion is ANALYZING → COMPLETE or ANALYZING → FAILED.
func (s *MealService) applyCompletion(ctx context.Context, c analysis.Completion) error {
	if s.isTombstoned(c.MealID) {
		s.logger.Info("discarding completion for deleted meal", slog.String("meal_id", c.MealID))
		return nil
	}

	meal, err := s.repo.GetByMealID(ctx, c.MealID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Info("discarding completion for unknown meal", slog.String("meal_id", c.MealID))
			return nil
		}
		return err
	}

	var patch model.MealPatch
	if c.Failed() {
		if meal.Status == model.StatusComplete {
			s.logger.Info("ignoring failure for an already complete meal", slog.String("meal_id", c.MealID))
			return nil
		}
		if meal.Status == model.StatusFailed && meal.ErrorMessage != nil && *meal.ErrorMessage == c.FailureReason {
			return nil
		}
		patch = model.MealPatch{
			Status:       model.Ptr(model.StatusFailed),
			ErrorMessage: model.Ptr(apperror.AnalysisFailed(c.FailureReason).Message),
		}
	} else {
		if meal.Status == model.StatusComplete && reflect.DeepEqual(meal.LastAnalysis, c.Analysis) {
			return nil
		}
		patch = completionPatch(meal, c)
	}

	if err := s.repo.Update(ctx, c.MealID, patch); err != nil {
		switch {
		case errors.Is(err, apperror.ErrNotFound):
			// Deleted between the read and the write.
			s.logger.Info("discarding completion for deleted meal", slog.String("meal_id", c.MealID))
			return nil
		case errors.Is(err, apperror.ErrConflict):
			s.logger.Warn("completion does not apply to meal",
				slog.String("meal_id", c.MealID),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return err
	}

	s.logger.Info("analysis applied",
		slog.String("meal_id", c.MealID),
		slog.Bool("failed", c.Failed()),
	)
	return nil
}

// completionPatch fills name and macros from the analysis, but only where the
// user hasn't typed something in already. Macros the service derived itself
// win over the ingredient sum.
func completionPatch(meal *model.Meal, c analysis.Completion) model.MealPatch {
	a := c.Analysis
	totals := a.Totals()
	if c.DerivedMacros != nil {
		totals = *c.DerivedMacros
	}
	patch := model.MealPatch{
		Status:       model.Ptr(model.StatusComplete),
		LastAnalysis: a,
	}
	if meal.ErrorMessage != nil {
		patch.ErrorMessage = model.Ptr("")
	}
	if meal.Name == nil && a.MealName != "" {
		patch.Name = model.Ptr(a.MealName)
	}
	if meal.Carbs == nil {
		patch.Carbs = model.Ptr(totals.Carbs)
	}
	if meal.Proteins == nil {
		patch.Proteins = model.Ptr(totals.Proteins)
	}
	if meal.Fats == nil {
		patch.Fats = model.Ptr(totals.Fats)
	}
	return patch
}

// =========================================================================
// USER ACTIONS ON DURABLE MEALS
// =========================================================================

// InsertManualMeal saves a meal the user typed in. It skips analysis and is
// complete from the start.
func (s *MealService) InsertManualMeal(ctx context.Context, in model.ManualMeal) (*model.Meal, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperror.ValidationFailed("name", "name is required")
	}
	if len(name) > MaxNameLength {
		return nil, apperror.ValidationFailed("name", fmt.Sprintf("name must be at most %d characters", MaxNameLength))
	}
	if err := validateMacros(in.Carbs, in.Proteins, in.Fats); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.ImagePath) == "" {
		return nil, apperror.ValidationFailed("imagePath", "an image is required")
	}

	meal := &model.Meal{
		MealID:    uuid.NewString(),
		Name:      model.Ptr(name),
		Carbs:     model.Ptr(in.Carbs),
		Proteins:  model.Ptr(in.Proteins),
		Fats:      model.Ptr(in.Fats),
		Favorite:  in.Favorite,
		Status:    model.StatusComplete,
		Timestamp: in.Timestamp,
	}
	if _, err := s.repo.Insert(ctx, meal, in.ImagePath); err != nil {
		return nil, err
	}

	s.logger.Info("manual meal added",
		slog.String("meal_id", meal.MealID),
		slog.Int64("id", meal.ID),
	)
	return meal, nil
}

// UpdateMeal applies a user edit.
//
// Status only changes if the caller asks for it, with one exception: editing
// the nutrition of a failed (or errored) meal means the user has fixed it by
// hand, so it becomes complete.
func (s *MealService) UpdateMeal(ctx context.Context, id int64, patch model.MealPatch) (*model.Meal, error) {
	if patch.Name != nil {
		trimmed := strings.TrimSpace(*patch.Name)
		if trimmed == "" {
			return nil, apperror.ValidationFailed("name", "name cannot be empty")
		}
		if len(trimmed) > MaxNameLength {
			return nil, apperror.ValidationFailed("name", fmt.Sprintf("name must be at most %d characters", MaxNameLength))
		}
		patch.Name = &trimmed
	}
	if err := validateMacros(deref(patch.Carbs), deref(patch.Proteins), deref(patch.Fats)); err != nil {
		return nil, err
	}
	if patch.Status != nil && !patch.Status.Durable() {
		return nil, apperror.ValidationFailed("status", fmt.Sprintf("unknown status %q", *patch.Status))
	}

	meal, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Status == nil && patch.TouchesAnalysis() &&
		(meal.Status == model.StatusFailed || meal.Status == model.StatusError) {
		patch.Status = model.Ptr(model.StatusComplete)
		if patch.ErrorMessage == nil {
			patch.ErrorMessage = model.Ptr("")
		}
	}

	if err := s.repo.Update(ctx, meal.MealID, patch); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// ToggleFavorite flips the favorite flag and returns the new value.
func (s *MealService) ToggleFavorite(ctx context.Context, id int64) (bool, error) {
	meal, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	next := !meal.Favorite
	if err := s.repo.Update(ctx, meal.MealID, model.MealPatch{Favorite: &next}); err != nil {
		return false, err
	}
	return next, nil
}

// DeleteMeal removes a durable meal and tombstones its meal_id so a
// completion still on its way is dropped. A failed delete leaves no
// tombstone: the row is still there and its analysis should still land.
// Deleting an unknown id succeeds.
func (s *MealService) DeleteMeal(ctx context.Context, id int64) error {
	meal, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.tombstone(meal.MealID)
	s.logger.Info("meal deleted", slog.String("meal_id", meal.MealID), slog.Int64("id", id))
	return nil
}

// SubscribeToChanges registers h for durable store changes.
func (s *MealService) SubscribeToChanges(h eventbus.Handler) eventbus.Subscription {
	return s.bus.Subscribe(eventbus.TopicMeals, h)
}

// SubscribeToPending registers h for overlay changes.
func (s *MealService) SubscribeToPending(h eventbus.Handler) eventbus.Subscription {
	return s.bus.Subscribe(eventbus.TopicPending, h)
}

// Unsubscribe removes a handler registered through this service.
func (s *MealService) Unsubscribe(sub eventbus.Subscription) bool {
	return s.bus.Unsubscribe(sub)
}

// =========================================================================
// HELPERS
// =========================================================================

// onMealChange keeps the overlay and the store disjoint: the moment a row is
// announced, its overlay entry goes.
func (s *MealService) onMealChange(ev eventbus.Event) error {
	change, ok := ev.Payload.(model.MealChange)
	if !ok {
		return fmt.Errorf("service: unexpected payload %T on %s", ev.Payload, ev.Topic)
	}
	if change.Op == model.OpInserted {
		s.overlay.Remove(change.MealID)
	}
	return nil
}

// tombstone marks mealID as deleted and cancels its upload, if any.
// Tombstones are never cleared; meal_ids are random and never reused.
func (s *MealService) tombstone(mealID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tombstones[mealID] = struct{}{}
	delete(s.buffered, mealID)
	if u, ok := s.inflight[mealID]; ok {
		u.cancel()
	}
}

func (s *MealService) isTombstoned(mealID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tombstones[mealID]
	return ok
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func validateMacros(values ...float64) error {
	names := []string{"carbs", "proteins", "fats"}
	for i, v := range values {
		if v < 0 {
			return apperror.ValidationFailed(names[i], names[i]+" cannot be negative")
		}
	}
	return nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
