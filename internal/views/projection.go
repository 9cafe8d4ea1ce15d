package views

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/calorily/internal/eventbus"
	"github.com/sakif/calorily/internal/model"
)

// Snapshot is one consistent computation of every list.
type Snapshot struct {
	Today     []model.Meal `json:"today"`
	LastWeek  []model.Meal `json:"lastWeek"`
	Favorites []model.Meal `json:"favorites"`
	At        time.Time    `json:"at"`
}

// Projection keeps a Snapshot current by recomputing it synchronously on
// every store change. Reads never hit the database.
type Projection struct {
	views  *Views
	bus    *eventbus.Bus
	logger *slog.Logger

	// refresh serializes recomputation; mu guards snap.
	refresh sync.Mutex
	mu      sync.RWMutex
	snap    Snapshot
	sub     eventbus.Subscription
}

// NewProjection computes the first snapshot and subscribes to store changes.
func NewProjection(ctx context.Context, views *Views, bus *eventbus.Bus, logger *slog.Logger) (*Projection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Projection{views: views, bus: bus, logger: logger}
	if err := p.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("views: initial projection: %w", err)
	}
	p.sub = bus.Subscribe(eventbus.TopicMeals, p.onChange)
	return p, nil
}

// Close stops following changes. The last snapshot stays readable.
func (p *Projection) Close() {
	p.bus.Unsubscribe(p.sub)
}

// Snapshot returns the latest computation. The slices are shared; callers
// must not modify them.
func (p *Projection) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

// Refresh recomputes the snapshot now.
func (p *Projection) Refresh(ctx context.Context) error {
	p.refresh.Lock()
	defer p.refresh.Unlock()

	today, err := p.views.Today(ctx)
	if err != nil {
		return err
	}
	week, err := p.views.LastWeek(ctx)
	if err != nil {
		return err
	}
	favs, err := p.views.Favorites(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.snap = Snapshot{Today: today, LastWeek: week, Favorites: favs, At: p.views.now()}
	p.mu.Unlock()
	return nil
}

func (p *Projection) onChange(ev eventbus.Event) error {
	if err := p.Refresh(context.Background()); err != nil {
		return fmt.Errorf("views: refreshing after %v: %w", ev.Payload, err)
	}
	return nil
}
