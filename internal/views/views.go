// Package views derives read models from the durable store.
//
// Views hold no state of their own. Every method is a fresh query over
// repository.MealRepository.QueryRange, so a view is always at least as
// recent as the last change notification seen before it was called.
// Projection adds a cached copy that is recomputed on every notification.
package views

import (
	"context"
	"time"

	"github.com/sakif/calorily/internal/model"
	"github.com/sakif/calorily/internal/repository"
)

// PendingSource is anything that can list overlay entries (the orchestrator
// or the overlay itself).
type PendingSource interface {
	Pending() []model.PendingMeal
}

// Views computes the meal lists the UI shows.
type Views struct {
	repo repository.MealRepository
	now  func() time.Time
	loc  *time.Location
}

// New creates Views that use the local time zone to decide where a day
// starts.
func New(repo repository.MealRepository) *Views {
	return &Views{repo: repo, now: time.Now, loc: time.Local}
}

// WithClock returns a copy using a different clock and zone. Tests use it to
// pin "today".
func (v *Views) WithClock(now func() time.Time, loc *time.Location) *Views {
	c := *v
	c.now = now
	if loc != nil {
		c.loc = loc
	}
	return &c
}

// StartOfDay is midnight of the current day in the view's zone.
func (v *Views) StartOfDay() time.Time {
	n := v.now().In(v.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, v.loc)
}

// Today returns meals logged since midnight, newest first.
func (v *Views) Today(ctx context.Context) ([]model.Meal, error) {
	return v.repo.QueryRange(ctx, v.StartOfDay().Unix())
}

// LastWeek returns meals from the start of the day six days ago onwards:
// today plus the six days before it.
func (v *Views) LastWeek(ctx context.Context) ([]model.Meal, error) {
	return v.repo.QueryRange(ctx, v.StartOfDay().AddDate(0, 0, -6).Unix())
}

// Favorites returns every favorite meal ever logged, newest first.
func (v *Views) Favorites(ctx context.Context) ([]model.Meal, error) {
	all, err := v.repo.QueryRange(ctx, 0)
	if err != nil {
		return nil, err
	}
	favs := make([]model.Meal, 0, len(all))
	for _, m := range all {
		if m.Favorite {
			favs = append(favs, m)
		}
	}
	return favs, nil
}

// TimelineEntry is either a durable meal or a pending one, never both.
type TimelineEntry struct {
	Meal    *model.Meal        `json:"meal,omitempty"`
	Pending *model.PendingMeal `json:"pending,omitempty"`
}

// MealID returns the correlation key of whichever half is set.
func (e TimelineEntry) MealID() string {
	if e.Meal != nil {
		return e.Meal.MealID
	}
	if e.Pending != nil {
		return e.Pending.MealID
	}
	return ""
}

// Timeline is today's feed: pending meals first (newest first), then today's
// durable meals. A pending entry whose meal_id already has a row is left
// out, so one meal never shows twice.
func (v *Views) Timeline(ctx context.Context, pending PendingSource) ([]TimelineEntry, error) {
	meals, err := v.Today(ctx)
	if err != nil {
		return nil, err
	}

	durable := make(map[string]struct{}, len(meals))
	for _, m := range meals {
		durable[m.MealID] = struct{}{}
	}

	var overlay []model.PendingMeal
	if pending != nil {
		overlay = pending.Pending()
	}

	entries := make([]TimelineEntry, 0, len(overlay)+len(meals))
	// Pending() is oldest first; the feed is newest first.
	for i := len(overlay) - 1; i >= 0; i-- {
		p := overlay[i]
		if _, ok := durable[p.MealID]; ok {
			continue
		}
		entries = append(entries, TimelineEntry{Pending: &p})
	}
	for i := range meals {
		entries = append(entries, TimelineEntry{Meal: &meals[i]})
	}
	return entries, nil
}

// Summary is today's intake against the daily goal.
type Summary struct {
	Date      string       `json:"date"`
	Meals     int          `json:"meals"`
	Macros    model.Macros `json:"macros"`
	Calories  float64      `json:"calories"`
	Goal      float64      `json:"goal"`
	Remaining float64      `json:"remaining"`
	// Progress is Calories/Goal, 0 when no goal is set. It may exceed 1.
	Progress float64 `json:"progress"`
}

// DailySummary totals today's meals. Meals still being analyzed count as
// zero until their nutrition arrives.
func (v *Views) DailySummary(ctx context.Context, goal float64) (Summary, error) {
	meals, err := v.Today(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(v.StartOfDay(), meals, goal), nil
}

// Summarize is DailySummary over an already-fetched list.
func Summarize(day time.Time, meals []model.Meal, goal float64) Summary {
	var total model.Macros
	for i := range meals {
		total = total.Add(meals[i].Macros())
	}
	s := Summary{
		Date:     day.Format(time.DateOnly),
		Meals:    len(meals),
		Macros:   total,
		Calories: total.Calories(),
		Goal:     goal,
	}
	if goal > 0 {
		s.Remaining = goal - s.Calories
		s.Progress = s.Calories / goal
	}
	return s
}
