package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls  atomic.Int32
	minAge time.Duration
	err    error
}

func (c *countingSweeper) SweepOrphans(_ context.Context, minAge time.Duration) (int, error) {
	c.calls.Add(1)
	c.minAge = minAge
	return 0, c.err
}

func TestOrphanSweeper_RunsAtStartupAndPeriodically(t *testing.T) {
	store := &countingSweeper{}
	s := NewOrphanSweeper(store, 5*time.Millisecond, time.Minute, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return store.calls.Load() >= 3 }, waitFor, tick)
	cancel()
	require.NoError(t, <-done)
}

func TestOrphanSweeper_OnceWithoutInterval(t *testing.T) {
	store := &countingSweeper{err: errors.New("disk on fire")}
	s := NewOrphanSweeper(store, 0, time.Minute, discardLogger())

	require.NoError(t, s.Run(context.Background()), "sweep failures are logged, not returned")
	assert.Equal(t, int32(1), store.calls.Load())
	assert.Equal(t, time.Minute, store.minAge)
}
