// Package repository declares the storage contracts the rest of the app
// programs against. The sqlite subpackage is the only implementation; tests
// in other packages can swap in fakes.
package repository

import (
	"context"
	"time"

	"github.com/sakif/calorily/internal/model"
)

// MealRepository is the durable meal store.
//
// Every mutating method runs inside one transaction and, on success,
// publishes a model.MealChange on the event bus. Mutations for the same
// meal_id never interleave.
type MealRepository interface {
	// Insert copies sourceImage into store-owned storage and creates the row.
	// It fills in meal.ID, meal.ImagePath and (if zero) meal.Timestamp.
	Insert(ctx context.Context, meal *model.Meal, sourceImage string, opts ...InsertOption) (int64, error)

	// Update applies a sparse patch to the row identified by mealID.
	Update(ctx context.Context, mealID string, patch model.MealPatch) error

	// Delete removes the row and its image. Missing ids are not an error.
	Delete(ctx context.Context, id int64) error

	// QueryRange returns rows with timestamp >= since, newest first.
	QueryRange(ctx context.Context, since int64) ([]model.Meal, error)

	GetByID(ctx context.Context, id int64) (*model.Meal, error)
	GetByMealID(ctx context.Context, mealID string) (*model.Meal, error)
}

// InsertOptions are the optional knobs of MealRepository.Insert.
type InsertOptions struct {
	// BeforeCommit runs after the row is written but before the transaction
	// commits, while no reader can see the row yet.
	BeforeCommit func()
}

// InsertOption sets a field of InsertOptions.
type InsertOption func(*InsertOptions)

// BeforeCommit registers fn to run right before the insert commits. fn must
// not call back into the repository.
func BeforeCommit(fn func()) InsertOption {
	return func(o *InsertOptions) {
		o.BeforeCommit = fn
	}
}

// ApplyInsertOptions folds opts into an InsertOptions value.
func ApplyInsertOptions(opts []InsertOption) InsertOptions {
	var o InsertOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Sweeper removes image files that no row references.
type Sweeper interface {
	SweepOrphans(ctx context.Context, minAge time.Duration) (int, error)
}
