// Package analysis talks to the remote meal analysis service.
//
// The service works in two halves. Submit uploads a photo and gets back an
// acknowledgment (or a refusal). Minutes later the result arrives out of band
// as a Completion, correlated to the upload only by meal_id.
package analysis

import (
	"context"
	"strings"

	"github.com/sakif/calorily/internal/apperror"
	"github.com/sakif/calorily/internal/model"
)

// SubmitRequest is one upload.
type SubmitRequest struct {
	MealID string
	Image  []byte
	Token  string // bearer token, passed through untouched
}

// Submitter uploads a meal photo for analysis.
//
// Submit returns nil on acknowledgment. Failures wrap apperror.ErrTransient
// (connectivity, safe to retry with the same meal_id) or apperror.ErrRejected
// (the service refused the upload; retrying won't help).
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) error
}

// SubmitterFunc adapts a function to the Submitter interface.
type SubmitterFunc func(ctx context.Context, req SubmitRequest) error

func (f SubmitterFunc) Submit(ctx context.Context, req SubmitRequest) error {
	return f(ctx, req)
}

// Completion is the out-of-band result for one meal: either an Analysis or a
// FailureReason, never both.
type Completion struct {
	MealID        string              `json:"meal_id"`
	Analysis      *model.MealAnalysis `json:"analysis,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
	// DerivedMacros are the service's own totals for the meal. When present
	// they are used instead of summing the ingredients.
	DerivedMacros *model.Macros `json:"derived_macros,omitempty"`
}

// Failed reports whether the service gave up on this meal.
func (c Completion) Failed() bool {
	return c.Analysis == nil
}

// Validate checks the completion is well formed.
func (c Completion) Validate() error {
	if strings.TrimSpace(c.MealID) == "" {
		return apperror.ValidationFailed("meal_id", "meal_id is required")
	}
	if c.Analysis != nil && c.FailureReason != "" {
		return apperror.ValidationFailed("failure_reason", "a completion carries an analysis or a failure reason, not both")
	}
	if c.Analysis == nil && strings.TrimSpace(c.FailureReason) == "" {
		return apperror.ValidationFailed("analysis", "analysis or failure_reason is required")
	}
	if c.Analysis != nil && c.Analysis.MealID != "" && c.Analysis.MealID != c.MealID {
		return apperror.ValidationFailed("analysis.meal_id", "analysis meal_id does not match")
	}
	if m := c.DerivedMacros; m != nil {
		if c.Analysis == nil {
			return apperror.ValidationFailed("derived_macros", "derived_macros needs an analysis")
		}
		if m.Carbs < 0 || m.Proteins < 0 || m.Fats < 0 {
			return apperror.ValidationFailed("derived_macros", "macros cannot be negative")
		}
	}
	return nil
}
