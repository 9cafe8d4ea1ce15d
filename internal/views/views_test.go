package views

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/calorily/internal/eventbus"
	"github.com/sakif/calorily/internal/model"
	"github.com/sakif/calorily/internal/repository/sqlite"
)

// now is pinned to mid-afternoon on 10 May 2024, UTC.
var now = time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return now }

type env struct {
	db    *sqlite.DB
	bus   *eventbus.Bus
	views *Views
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := eventbus.New(logger)
	dir := t.TempDir()
	db, err := sqlite.New(sqlite.Config{
		Path:     filepath.Join(dir, "meals.db"),
		ImageDir: filepath.Join(dir, "images"),
	}, bus, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &env{db: db, bus: bus, views: New(db).WithClock(fixedClock, time.UTC)}
}

func (e *env) add(t *testing.T, mealID string, at time.Time, fav bool, carbs, proteins, fats float64) *model.Meal {
	t.Helper()
	src := filepath.Join(t.TempDir(), mealID+".jpg")
	require.NoError(t, os.WriteFile(src, []byte(mealID), 0o600))
	m := &model.Meal{
		MealID:    mealID,
		Status:    model.StatusComplete,
		Timestamp: at.Unix(),
		Favorite:  fav,
		Carbs:     model.Ptr(carbs),
		Proteins:  model.Ptr(proteins),
		Fats:      model.Ptr(fats),
	}
	_, err := e.db.Insert(context.Background(), m, src)
	require.NoError(t, err)
	return m
}

func ids(meals []model.Meal) []string {
	out := make([]string, len(meals))
	for i, m := range meals {
		out[i] = m.MealID
	}
	return out
}

func TestStartOfDay(t *testing.T) {
	v := New(nil).WithClock(fixedClock, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), v.StartOfDay())

	tokyo := time.FixedZone("JST", 9*3600)
	v = v.WithClock(fixedClock, tokyo)
	// 15:00 UTC is already 00:00 on the 11th in Tokyo.
	assert.Equal(t, time.Date(2024, 5, 11, 0, 0, 0, 0, tokyo), v.StartOfDay())
}

func TestTodayAndLastWeek(t *testing.T) {
	e := newEnv(t)
	midnight := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	e.add(t, "lunch", now.Add(-2*time.Hour), false, 1, 1, 1)
	e.add(t, "midnight", midnight, false, 1, 1, 1)
	e.add(t, "yesterday", midnight.Add(-time.Minute), false, 1, 1, 1)
	e.add(t, "six-days-ago", midnight.AddDate(0, 0, -6), false, 1, 1, 1)
	e.add(t, "seven-days-ago", midnight.AddDate(0, 0, -6).Add(-time.Second), false, 1, 1, 1)

	today, err := e.views.Today(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"lunch", "midnight"}, ids(today))

	week, err := e.views.LastWeek(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"lunch", "midnight", "yesterday", "six-days-ago"}, ids(week))
}

func TestFavorites(t *testing.T) {
	e := newEnv(t)
	e.add(t, "old-fav", now.AddDate(-1, 0, 0), true, 0, 0, 0)
	e.add(t, "plain", now.Add(-time.Hour), false, 0, 0, 0)
	e.add(t, "new-fav", now.Add(-time.Minute), true, 0, 0, 0)

	favs, err := e.views.Favorites(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"new-fav", "old-fav"}, ids(favs))
}

type pendingList []model.PendingMeal

func (p pendingList) Pending() []model.PendingMeal { return p }

func TestTimeline_DropsPendingThatIsDurable(t *testing.T) {
	e := newEnv(t)
	e.add(t, "durable", now.Add(-time.Hour), false, 0, 0, 0)

	pending := pendingList{
		{MealID: "older-pending", Status: model.StatusError, CreatedAt: now.Add(-time.Minute)},
		{MealID: "durable", Status: model.StatusUploading, CreatedAt: now.Add(-30 * time.Second)},
		{MealID: "newer-pending", Status: model.StatusUploading, CreatedAt: now},
	}

	entries, err := e.views.Timeline(context.Background(), pending)
	require.NoError(t, err)

	var got []string
	for _, en := range entries {
		got = append(got, en.MealID())
		assert.False(t, en.Meal != nil && en.Pending != nil)
	}
	assert.Equal(t, []string{"newer-pending", "older-pending", "durable"}, got)
	assert.NotNil(t, entries[2].Meal)
}

func TestDailySummary(t *testing.T) {
	e := newEnv(t)
	e.add(t, "breakfast", now.Add(-6*time.Hour), false, 50, 10, 10) // 200+40+90 = 330
	e.add(t, "lunch", now.Add(-2*time.Hour), false, 60, 30, 20)     // 240+120+180 = 540
	e.add(t, "yesterday", now.AddDate(0, 0, -1), false, 500, 500, 500)

	s, err := e.views.DailySummary(context.Background(), 2000)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-10", s.Date)
	assert.Equal(t, 2, s.Meals)
	assert.Equal(t, model.Macros{Carbs: 110, Proteins: 40, Fats: 30}, s.Macros)
	assert.InDelta(t, 870, s.Calories, 0.001)
	assert.InDelta(t, 1130, s.Remaining, 0.001)
	assert.InDelta(t, 0.435, s.Progress, 0.0001)
}

func TestSummarize_NoGoal(t *testing.T) {
	s := Summarize(now, nil, 0)
	assert.Zero(t, s.Progress)
	assert.Zero(t, s.Remaining)
	assert.Zero(t, s.Meals)
}

func TestProjection_FollowsStoreChanges(t *testing.T) {
	e := newEnv(t)
	e.add(t, "first", now.Add(-time.Hour), false, 0, 0, 0)

	p, err := NewProjection(context.Background(), e.views, e.bus, nil)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, []string{"first"}, ids(p.Snapshot().Today))

	second := e.add(t, "second", now.Add(-time.Minute), false, 0, 0, 0)
	// Publish is synchronous, so the snapshot is already current.
	assert.Equal(t, []string{"second", "first"}, ids(p.Snapshot().Today))

	require.NoError(t, e.db.Update(context.Background(), "second", model.MealPatch{Favorite: model.Ptr(true)}))
	assert.Equal(t, []string{"second"}, ids(p.Snapshot().Favorites))

	require.NoError(t, e.db.Delete(context.Background(), second.ID))
	snap := p.Snapshot()
	assert.Equal(t, []string{"first"}, ids(snap.Today))
	assert.Empty(t, snap.Favorites)
	assert.Equal(t, now, snap.At)

	p.Close()
	e.add(t, "after-close", now, false, 0, 0, 0)
	assert.Equal(t, []string{"first"}, ids(p.Snapshot().Today))
}
