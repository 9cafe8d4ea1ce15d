package model

import "time"

// PendingMeal is an optimistic, in-memory-only entry for a meal whose upload
// hasn't been acknowledged yet (or was rejected). It is never persisted.
//
// As soon as the durable row for MealID lands, the entry is removed, so a UI
// never renders both for the same meal.
type PendingMeal struct {
	MealID       string     `json:"mealId"`
	ImageURI     string     `json:"imageUri"`
	Status       MealStatus `json:"status"` // "uploading" or "error"
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// ChangeOp names what happened in a MealChange notification.
type ChangeOp string

const (
	OpInserted ChangeOp = "inserted"
	OpUpdated  ChangeOp = "updated"
	OpDeleted  ChangeOp = "deleted"

	OpPendingAdded   ChangeOp = "pending_added"
	OpPendingUpdated ChangeOp = "pending_updated"
	OpPendingRemoved ChangeOp = "pending_removed"
)

// MealChange is the payload published on the event bus whenever the store or
// the pending overlay changes. ID is zero for pending-only changes.
type MealChange struct {
	Op     ChangeOp `json:"op"`
	ID     int64    `json:"id,omitempty"`
	MealID string   `json:"mealId"`
}
