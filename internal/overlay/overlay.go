// Package overlay holds optimistic meal entries: meals the user just captured
// whose upload hasn't been acknowledged yet, or was rejected.
//
// An entry lives only in memory. It is created the instant a photo is handed
// to the orchestrator and removed the moment the durable row commits, so the
// UI shows the meal immediately without ever showing it twice.
package overlay

import (
	"sort"
	"sync"
	"time"

	"github.com/sakif/calorily/internal/eventbus"
	"github.com/sakif/calorily/internal/model"
)

// Overlay is safe for concurrent use. Every change is announced on
// eventbus.TopicPending after the lock is released.
type Overlay struct {
	mu      sync.RWMutex
	entries map[string]model.PendingMeal
	// hidden entries are about to become durable rows. Readers skip them so
	// a meal is never visible as both.
	hidden    map[string]struct{}
	publisher eventbus.Publisher
	now       func() time.Time
}

// New creates an empty overlay. publisher may be nil.
func New(publisher eventbus.Publisher) *Overlay {
	return &Overlay{
		entries:   make(map[string]model.PendingMeal),
		hidden:    make(map[string]struct{}),
		publisher: publisher,
		now:       time.Now,
	}
}

// Add creates an "uploading" entry for mealID and returns it.
// Adding an id that is already present replaces the entry.
func (o *Overlay) Add(mealID, imageURI string) model.PendingMeal {
	entry := model.PendingMeal{
		MealID:    mealID,
		ImageURI:  imageURI,
		Status:    model.StatusUploading,
		CreatedAt: o.now(),
	}

	o.mu.Lock()
	o.entries[mealID] = entry
	delete(o.hidden, mealID)
	o.mu.Unlock()

	o.publish(model.OpPendingAdded, mealID)
	return entry
}

// Hide makes the entry invisible to Get, List and Len without removing it.
// The orchestrator hides an entry just before its row commits; Remove or
// SetError follow. It reports false if there is no entry.
func (o *Overlay) Hide(mealID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.entries[mealID]; !ok {
		return false
	}
	o.hidden[mealID] = struct{}{}
	return true
}

// SetError marks the entry as rejected, making it visible again if it was
// hidden. It reports false if there is no entry for mealID (it was dismissed
// or already became durable).
func (o *Overlay) SetError(mealID, message string) bool {
	o.mu.Lock()
	entry, ok := o.entries[mealID]
	if ok {
		entry.Status = model.StatusError
		entry.ErrorMessage = message
		o.entries[mealID] = entry
		delete(o.hidden, mealID)
	}
	o.mu.Unlock()

	if ok {
		o.publish(model.OpPendingUpdated, mealID)
	}
	return ok
}

// Remove drops the entry. It reports whether one existed; removing twice is
// harmless and only the first call publishes.
func (o *Overlay) Remove(mealID string) bool {
	o.mu.Lock()
	_, ok := o.entries[mealID]
	delete(o.entries, mealID)
	delete(o.hidden, mealID)
	o.mu.Unlock()

	if ok {
		o.publish(model.OpPendingRemoved, mealID)
	}
	return ok
}

func (o *Overlay) Get(mealID string) (model.PendingMeal, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if _, hidden := o.hidden[mealID]; hidden {
		return model.PendingMeal{}, false
	}
	entry, ok := o.entries[mealID]
	return entry, ok
}

// List returns a snapshot of all entries, oldest first.
func (o *Overlay) List() []model.PendingMeal {
	o.mu.RLock()
	list := make([]model.PendingMeal, 0, len(o.entries))
	for id, e := range o.entries {
		if _, hidden := o.hidden[id]; hidden {
			continue
		}
		list = append(list, e)
	}
	o.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].MealID < list[j].MealID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

func (o *Overlay) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.entries) - len(o.hidden)
}

func (o *Overlay) publish(op model.ChangeOp, mealID string) {
	if o.publisher == nil {
		return
	}
	o.publisher.Publish(eventbus.TopicPending, model.MealChange{Op: op, MealID: mealID})
}
