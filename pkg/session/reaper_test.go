package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	reaperTestMemoryLimit = int64(1000)
	reaperTestInterval    = 10 * time.Millisecond
)

// fakePurger records PurgeStale invocations.
type fakePurger struct {
	mu    sync.Mutex
	calls int
	last  time.Time
}

func (f *fakePurger) PurgeStale(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = now
	return 2
}

func (f *fakePurger) called() (int, time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.last
}

func backdateActivity(t *testing.T, reg *Registry, id string, age time.Duration) {
	t.Helper()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	sess, ok := reg.sessions[id]
	require.True(t, ok, "session %s should be active", id)
	sess.LastActivity = time.Now().Add(-age)
}

func backdateTombstone(t *testing.T, reg *Registry, id string, age time.Duration) {
	t.Helper()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	ts, ok := reg.tombstones[id]
	require.True(t, ok, "tombstone %s should exist", id)
	ts.ExpiredAt = time.Now().Add(-age)
}

func tombstoneReason(reg *Registry, id string) (Reason, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	ts, ok := reg.tombstones[id]
	if !ok {
		return "", false
	}
	return ts.Reason, true
}

func TestReaper_EvictsIdleSessions(t *testing.T) {
	reg, factory := newTestRegistry(t, testConfig())
	reaper := NewReaper(reg, testLogger())
	ctx := context.Background()

	idle, _, err := reg.Resolve(ctx, "")
	require.NoError(t, err)
	_, _, err = reg.Resolve(ctx, "")
	require.NoError(t, err)

	backdateActivity(t, reg, idle.ID, 2*testIdleTimeout)
	reaper.Sweep(ctx)

	assert.Equal(t, 1, reg.Stats().Active, "only the idle session should be evicted")
	assert.True(t, factory.createdAt(0).wasClosed(), "evicted resource should be closed")
	assert.False(t, factory.createdAt(1).wasClosed())

	reason, ok := tombstoneReason(reg, idle.ID)
	require.True(t, ok, "idle eviction should leave a tombstone")
	assert.Equal(t, ReasonIdleTimeout, reason)
}

func TestReaper_ActivityResetsIdleClock(t *testing.T) {
	reg, _ := newTestRegistry(t, testConfig())
	reaper := NewReaper(reg, testLogger())
	ctx := context.Background()

	sess, _, err := reg.Resolve(ctx, "")
	require.NoError(t, err)
	backdateActivity(t, reg, sess.ID, 2*testIdleTimeout)

	// A request for the session lands before the sweep.
	_, _, err = reg.Resolve(ctx, sess.ID)
	require.NoError(t, err)
	reaper.Sweep(ctx)

	assert.Equal(t, 1, reg.Stats().Active, "refreshed session must not be evicted")
}

func TestReaper_IdleEvictionFreesCapacity(t *testing.T) {
	config := testConfig()
	config.MaxSessions = 1
	reg, _ := newTestRegistry(t, config)
	reaper := NewReaper(reg, testLogger())
	ctx := context.Background()

	sess, _, err := reg.Resolve(ctx, "")
	require.NoError(t, err)

	_, _, err = reg.Resolve(ctx, "")
	require.Error(t, err, "registry should be full")

	backdateActivity(t, reg, sess.ID, 2*testIdleTimeout)
	reaper.Sweep(ctx)

	_, outcome, err := reg.Resolve(ctx, "")
	require.NoError(t, err, "idle eviction should free the slot")
	assert.Equal(t, OutcomeCreated, outcome)
}

func TestReaper_EvictsOverMemorySessions(t *testing.T) {
	config := testConfig()
	config.MemoryLimitBytes = reaperTestMemoryLimit
	reg, factory := newTestRegistry(t, config)
	reaper := NewReaper(reg, testLogger())
	ctx := context.Background()

	heavy, _, err := reg.Resolve(ctx, "")
	require.NoError(t, err)
	_, _, err = reg.Resolve(ctx, "")
	require.NoError(t, err)
	factory.createdAt(0).setHeap(2 * reaperTestMemoryLimit)
	factory.createdAt(1).setHeap(reaperTestMemoryLimit / 2)

	reaper.Sweep(ctx)

	assert.Equal(t, 1, reg.Stats().Active, "only the over-limit session should be evicted")
	assert.True(t, factory.createdAt(0).wasClosed())

	reason, ok := tombstoneReason(reg, heavy.ID)
	require.True(t, ok)
	assert.Equal(t, ReasonMemoryLimit, reason)
}

func TestReaper_MemoryProbeFailureNeverEvicts(t *testing.T) {
	config := testConfig()
	config.MemoryLimitBytes = reaperTestMemoryLimit
	reg, factory := newTestRegistry(t, config)
	reaper := NewReaper(reg, testLogger())
	ctx := context.Background()

	_, _, err := reg.Resolve(ctx, "")
	require.NoError(t, err)
	factory.createdAt(0).setHeapErr(errors.New("page is gone"))

	reaper.Sweep(ctx)

	assert.Equal(t, 1, reg.Stats().Active,
		"unknown memory usage must never evict")
	assert.Positive(t, factory.createdAt(0).probed(), "probe should have been attempted")
}

func TestReaper_MemoryCheckDisabledByDefault(t *testing.T) {
	reg, factory := newTestRegistry(t, testConfig())
	reaper := NewReaper(reg, testLogger())
	ctx := context.Background()

	_, _, err := reg.Resolve(ctx, "")
	require.NoError(t, err)
	factory.createdAt(0).setHeap(1 << 40)

	reaper.Sweep(ctx)

	assert.Equal(t, 1, reg.Stats().Active)
	assert.Zero(t, factory.createdAt(0).probed(),
		"disabled memory limit should skip probing entirely")
}

func TestReaper_IdleEvictedSessionsAreNotProbed(t *testing.T) {
	config := testConfig()
	config.MemoryLimitBytes = reaperTestMemoryLimit
	reg, factory := newTestRegistry(t, config)
	reaper := NewReaper(reg, testLogger())
	ctx := context.Background()

	sess, _, err := reg.Resolve(ctx, "")
	require.NoError(t, err)
	factory.createdAt(0).setHeap(2 * reaperTestMemoryLimit)
	backdateActivity(t, reg, sess.ID, 2*testIdleTimeout)

	reaper.Sweep(ctx)

	reason, ok := tombstoneReason(reg, sess.ID)
	require.True(t, ok)
	assert.Equal(t, ReasonIdleTimeout, reason, "idle eviction should win over memory")
	assert.Zero(t, factory.createdAt(0).probed(),
		"a session already evicted for idleness must not be probed")
}

func TestReaper_PurgesExpiredTombstones(t *testing.T) {
	reg, _ := newTestRegistry(t, testConfig())
	reaper := NewReaper(reg, testLogger())
	ctx := context.Background()

	sess, _, err := reg.Resolve(ctx, "")
	require.NoError(t, err)
	require.NoError(t, reg.Disconnect(ctx, sess.ID))
	backdateTombstone(t, reg, sess.ID, 2*DefaultTombstoneTTL)

	reaper.Sweep(ctx)
	assert.Equal(t, 0, reg.Stats().Tombstones)

	// With the tombstone gone the id has no history left to recover.
	_, outcome, err := reg.Resolve(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome,
		"a purged id should admit as brand new, not recovered")
}

func TestReaper_TombstoneRetainedWithinTTL(t *testing.T) {
	reg, _ := newTestRegistry(t, testConfig())
	reaper := NewReaper(reg, testLogger())
	ctx := context.Background()

	sess, _, err := reg.Resolve(ctx, "")
	require.NoError(t, err)
	require.NoError(t, reg.Disconnect(ctx, sess.ID))

	reaper.Sweep(ctx)
	assert.Equal(t, 1, reg.Stats().Tombstones, "fresh tombstones survive the sweep")
}

func TestReaper_SingleSweepRunsAllCollections(t *testing.T) {
	config := testConfig()
	config.MemoryLimitBytes = reaperTestMemoryLimit
	reg, factory := newTestRegistry(t, config)
	purger := &fakePurger{}
	reaper := NewReaper(reg, testLogger(), purger)
	ctx := context.Background()

	// One idle session, one over-memory session, one expired tombstone.
	idle, _, err := reg.Resolve(ctx, "")
	require.NoError(t, err)
	heavy, _, err := reg.Resolve(ctx, "")
	require.NoError(t, err)
	gone, _, err := reg.Resolve(ctx, "")
	require.NoError(t, err)
	require.NoError(t, reg.Disconnect(ctx, gone.ID))

	backdateActivity(t, reg, idle.ID, 2*testIdleTimeout)
	factory.createdAt(1).setHeap(2 * reaperTestMemoryLimit)
	backdateTombstone(t, reg, gone.ID, 2*DefaultTombstoneTTL)

	reaper.Sweep(ctx)

	stats := reg.Stats()
	assert.Equal(t, 0, stats.Active, "both live sessions should be evicted")
	assert.Equal(t, 2, stats.Tombstones, "evictions tombstone, expired tombstone purged")

	idleReason, ok := tombstoneReason(reg, idle.ID)
	require.True(t, ok)
	assert.Equal(t, ReasonIdleTimeout, idleReason)

	heavyReason, ok := tombstoneReason(reg, heavy.ID)
	require.True(t, ok)
	assert.Equal(t, ReasonMemoryLimit, heavyReason)

	calls, _ := purger.called()
	assert.Equal(t, 1, calls, "registered purgers ride the sweep")
}

func TestReaper_CallsPurgers(t *testing.T) {
	reg, _ := newTestRegistry(t, testConfig())
	first, second := &fakePurger{}, &fakePurger{}
	reaper := NewReaper(reg, testLogger(), first, second)

	reaper.Sweep(context.Background())

	for _, p := range []*fakePurger{first, second} {
		calls, last := p.called()
		assert.Equal(t, 1, calls)
		assert.WithinDuration(t, time.Now(), last, time.Second)
	}
}

func TestReaper_StartSweepsPeriodically(t *testing.T) {
	config := testConfig()
	config.SweepInterval = reaperTestInterval
	reg, _ := newTestRegistry(t, config)
	reaper := NewReaper(reg, testLogger())
	ctx := context.Background()

	sess, _, err := reg.Resolve(ctx, "")
	require.NoError(t, err)
	backdateActivity(t, reg, sess.ID, 2*testIdleTimeout)

	reaper.Start(ctx)
	defer reaper.Close()

	assert.Eventually(t, func() bool {
		return reg.Stats().Active == 0
	}, time.Second, reaperTestInterval, "ticker sweep should evict the idle session")
}

func TestReaper_CloseStopsSweepLoop(t *testing.T) {
	config := testConfig()
	config.SweepInterval = reaperTestInterval
	reg, _ := newTestRegistry(t, config)
	reaper := NewReaper(reg, testLogger())

	reaper.Start(context.Background())
	reaper.Close()

	// After Close the loop is gone; an idle session stays put.
	sess, _, err := reg.Resolve(context.Background(), "")
	require.NoError(t, err)
	backdateActivity(t, reg, sess.ID, 2*testIdleTimeout)
	time.Sleep(3 * reaperTestInterval)
	assert.Equal(t, 1, reg.Stats().Active)
}

func TestReaper_CloseWithoutStart(t *testing.T) {
	reg, _ := newTestRegistry(t, testConfig())
	reaper := NewReaper(reg, testLogger())

	assert.NotPanics(t, reaper.Close)
}
