package apperror

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

// TABLE-DRIVEN TESTS:
// One slice of cases, one loop, one assertion. Adding a new error kind
// means adding one struct to the slice.

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("meal", "42"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("name", "name is required"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Conflict wraps ErrConflict",
			err:       Conflict("meal", "abc"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "Storage wraps ErrStorage",
			err:       Storage("inserting meal", errors.New("disk full")),
			target:    ErrStorage,
			wantMatch: true,
		},
		{
			name:      "Storage also exposes its cause",
			err:       Storage("copying image", os.ErrNotExist),
			target:    os.ErrNotExist,
			wantMatch: true,
		},
		{
			name:      "Transient wraps ErrTransient",
			err:       Transient(errors.New("connection refused")),
			target:    ErrTransient,
			wantMatch: true,
		},
		{
			name:      "Rejected wraps ErrRejected",
			err:       Rejected("bad image"),
			target:    ErrRejected,
			wantMatch: true,
		},
		{
			name:      "AnalysisFailed wraps ErrAnalysisFailed",
			err:       AnalysisFailed("no food detected"),
			target:    ErrAnalysisFailed,
			wantMatch: true,
		},
		{
			name:      "wrapped with fmt.Errorf still matches",
			err:       fmt.Errorf("updating meal: %w", NotFound("meal", "abc")),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("meal", "42"),
			target:    ErrValidation,
			wantMatch: false,
		},
		{
			name:      "Rejected does NOT match ErrTransient",
			err:       Rejected("bad image"),
			target:    ErrTransient,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("meal", "42"),
			wantMessage: "meal not found with id 42",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("name", "name is required"),
			wantMessage: "name is required",
		},
		{
			name:        "Storage names the operation",
			err:         Storage("inserting meal", errors.New("disk full")),
			wantMessage: "storage failure while inserting meal",
		},
		{
			name:        "Rejected falls back to a default message",
			err:         Rejected(""),
			wantMessage: "Failed to upload image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestMessage(t *testing.T) {
	wrapped := fmt.Errorf("upload: %w", Rejected("image too large"))
	if got := Message(wrapped); got != "image too large" {
		t.Errorf("Message() = %q, want %q", got, "image too large")
	}
	if got := Message(errors.New("plain")); got != "plain" {
		t.Errorf("Message() = %q, want %q", got, "plain")
	}
	if got := Message(nil); got != "" {
		t.Errorf("Message(nil) = %q, want empty", got)
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("image_path", "image is required")

	if err.Field != "image_path" {
		t.Errorf("Field = %q, want %q", err.Field, "image_path")
	}
}
