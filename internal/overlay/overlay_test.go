package overlay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/calorily/internal/eventbus"
	"github.com/sakif/calorily/internal/model"
)

type recorder struct {
	mu      sync.Mutex
	topics  []string
	changes []model.MealChange
}

func (r *recorder) Publish(topic string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.changes = append(r.changes, payload.(model.MealChange))
}

func TestAdd(t *testing.T) {
	rec := &recorder{}
	o := New(rec)

	entry := o.Add("m1", "/tmp/a.jpg")
	assert.Equal(t, model.StatusUploading, entry.Status)
	assert.False(t, entry.CreatedAt.IsZero())

	got, ok := o.Get("m1")
	require.True(t, ok)
	assert.Equal(t, entry, got)

	assert.Equal(t, []string{eventbus.TopicPending}, rec.topics)
	assert.Equal(t, model.MealChange{Op: model.OpPendingAdded, MealID: "m1"}, rec.changes[0])
}

func TestSetError(t *testing.T) {
	rec := &recorder{}
	o := New(rec)
	o.Add("m1", "/tmp/a.jpg")

	assert.True(t, o.SetError("m1", "Failed to upload image"))
	got, _ := o.Get("m1")
	assert.Equal(t, model.StatusError, got.Status)
	assert.Equal(t, "Failed to upload image", got.ErrorMessage)

	assert.False(t, o.SetError("missing", "x"))
	assert.Len(t, rec.changes, 2)
	assert.Equal(t, model.OpPendingUpdated, rec.changes[1].Op)
}

func TestRemove(t *testing.T) {
	rec := &recorder{}
	o := New(rec)
	o.Add("m1", "/tmp/a.jpg")

	assert.True(t, o.Remove("m1"))
	assert.False(t, o.Remove("m1"))
	_, ok := o.Get("m1")
	assert.False(t, ok)
	assert.Equal(t, 0, o.Len())

	require.Len(t, rec.changes, 2)
	assert.Equal(t, model.OpPendingRemoved, rec.changes[1].Op)
}

func TestHide(t *testing.T) {
	rec := &recorder{}
	o := New(rec)
	o.Add("m1", "/tmp/a.jpg")
	o.Add("m2", "/tmp/b.jpg")

	require.True(t, o.Hide("m1"))
	assert.False(t, o.Hide("missing"))

	_, ok := o.Get("m1")
	assert.False(t, ok)
	assert.Equal(t, 1, o.Len())
	list := o.List()
	require.Len(t, list, 1)
	assert.Equal(t, "m2", list[0].MealID)
	// Hiding announces nothing; the Remove that follows does.
	assert.Len(t, rec.changes, 2)

	assert.True(t, o.Remove("m1"))
	assert.Equal(t, model.OpPendingRemoved, rec.changes[2].Op)
	assert.Equal(t, 1, o.Len())
}

func TestHide_SetErrorShowsAgain(t *testing.T) {
	o := New(nil)
	o.Add("m1", "/tmp/a.jpg")
	o.Hide("m1")

	require.True(t, o.SetError("m1", "Failed to save meal"))
	got, ok := o.Get("m1")
	require.True(t, ok)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Equal(t, 1, o.Len())
}

func TestList_OldestFirst(t *testing.T) {
	o := New(nil)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	o.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	o.Add("c", "c.jpg")
	o.Add("a", "a.jpg")
	o.Add("b", "b.jpg")

	list := o.List()
	require.Len(t, list, 3)
	assert.Equal(t, "c", list[0].MealID)
	assert.Equal(t, "a", list[1].MealID)
	assert.Equal(t, "b", list[2].MealID)
}

func TestConcurrentAccess(t *testing.T) {
	o := New(eventbus.New(nil))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			o.Add(id, id+".jpg")
			o.SetError(id, "nope")
			o.List()
			o.Remove(id)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, o.Len())
}
