// Package model defines the meal types shared by the store, the orchestrator
// and the views.
package model

// MealStatus is the lifecycle state of a meal.
//
// Durable rows move through analyzing → complete | failed. "error" marks a
// meal whose upload was rejected and "uploading" only ever appears on
// pending (not yet durable) entries.
type MealStatus string

const (
	StatusUploading MealStatus = "uploading"
	StatusAnalyzing MealStatus = "analyzing"
	StatusComplete  MealStatus = "complete"
	StatusError     MealStatus = "error"
	StatusFailed    MealStatus = "failed"
)

// Durable reports whether s may be stored on a MealRecord row.
func (s MealStatus) Durable() bool {
	switch s {
	case StatusAnalyzing, StatusComplete, StatusError, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether a row in state s may move to next.
//
// TRANSITION TABLE:
//
//	analyzing → complete | failed | error
//	error     → analyzing | complete | failed
//	failed    → complete            (user typed the nutrition in by hand)
//	complete  → (nothing but itself)
//
// Staying in the same state is always allowed; that is what makes a repeated
// analysis completion a no-op instead of an error.
func (s MealStatus) CanTransitionTo(next MealStatus) bool {
	if !next.Durable() {
		return false
	}
	if s == next {
		return true
	}
	switch s {
	case StatusAnalyzing:
		return next == StatusComplete || next == StatusFailed || next == StatusError
	case StatusError:
		return next == StatusAnalyzing || next == StatusComplete || next == StatusFailed
	case StatusFailed:
		return next == StatusComplete
	}
	return false
}

// Meal is one durable row in the meals table, one per logical meal.
//
// The nutrition fields are pointers because they are NULL until the analysis
// comes back (or the user types them in). A nil pointer serializes as a
// missing JSON field, so the UI can tell "unknown" from zero.
type Meal struct {
	ID           int64         `json:"id"`
	MealID       string        `json:"mealId"`
	ImagePath    string        `json:"imagePath"`
	Name         *string       `json:"name,omitempty"`
	Carbs        *float64      `json:"carbs,omitempty"`
	Proteins     *float64      `json:"proteins,omitempty"`
	Fats         *float64      `json:"fats,omitempty"`
	Timestamp    int64         `json:"timestamp"` // unix seconds, set once at insert
	Favorite     bool          `json:"favorite"`
	Status       MealStatus    `json:"status"`
	LastAnalysis *MealAnalysis `json:"lastAnalysis,omitempty"`
	ErrorMessage *string       `json:"errorMessage,omitempty"`
}

// Macros returns the meal's macronutrients, treating unknown values as zero.
func (m *Meal) Macros() Macros {
	return Macros{
		Carbs:    deref(m.Carbs),
		Proteins: deref(m.Proteins),
		Fats:     deref(m.Fats),
	}
}

// Calories is shorthand for m.Macros().Calories().
func (m *Meal) Calories() float64 {
	return m.Macros().Calories()
}

// MealPatch is a sparse update: only non-nil fields are written.
//
// WHY POINTERS?
// A plain float64 can't tell "set carbs to 0" apart from "don't touch carbs".
// A nil pointer means "leave it alone"; a pointer to 0 means "set it to 0".
type MealPatch struct {
	Name         *string       `json:"name,omitempty"`
	Carbs        *float64      `json:"carbs,omitempty"`
	Proteins     *float64      `json:"proteins,omitempty"`
	Fats         *float64      `json:"fats,omitempty"`
	Favorite     *bool         `json:"favorite,omitempty"`
	Status       *MealStatus   `json:"status,omitempty"`
	LastAnalysis *MealAnalysis `json:"lastAnalysis,omitempty"`
	ErrorMessage *string       `json:"errorMessage,omitempty"`
}

// IsEmpty reports whether the patch would change nothing.
func (p MealPatch) IsEmpty() bool {
	return p.Name == nil && p.Carbs == nil && p.Proteins == nil && p.Fats == nil &&
		p.Favorite == nil && p.Status == nil && p.LastAnalysis == nil && p.ErrorMessage == nil
}

// TouchesAnalysis reports whether the patch edits fields that the analysis
// service would otherwise own (name, macros, ingredient breakdown).
func (p MealPatch) TouchesAnalysis() bool {
	return p.Name != nil || p.Carbs != nil || p.Proteins != nil || p.Fats != nil || p.LastAnalysis != nil
}

// ManualMeal is a user-entered meal that skips the analysis service.
type ManualMeal struct {
	Name      string  `json:"name"`
	Carbs     float64 `json:"carbs"`
	Proteins  float64 `json:"proteins"`
	Fats      float64 `json:"fats"`
	Favorite  bool    `json:"favorite"`
	ImagePath string  `json:"imagePath"` // source image to copy into the store
	Timestamp int64   `json:"timestamp,omitempty"`
}

// Ptr returns a pointer to v. Handy for building MealPatch literals.
func Ptr[T any](v T) *T {
	return &v
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
