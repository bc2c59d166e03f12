// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package quota

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatstream/internal/model"
)

// =============================================================================
// GATE TESTS
// =============================================================================

func TestGate_ConsumeUntilExhausted(t *testing.T) {
	gate := NewGate(WithLimits(3, DefaultAccountLimit))
	anon := model.AnonymousIdentity("tok-1")

	for i := 0; i < 3; i++ {
		require.True(t, gate.TryConsume(anon).Allowed(), "unit %d should be granted", i)
	}

	assert.False(t, gate.CanSend(anon))
	assert.Equal(t, Exhausted, gate.TryConsume(anon), "exhausted identity must be rejected")

	usage := gate.GetUsage(anon)
	assert.Equal(t, 3, usage.Used)
	assert.Equal(t, 0, usage.Remaining())
}

func TestGate_IdentitiesAreIndependent(t *testing.T) {
	gate := NewGate(WithLimits(1, 1))

	require.True(t, gate.TryConsume(model.AnonymousIdentity("a")).Allowed())
	assert.True(t, gate.TryConsume(model.AnonymousIdentity("b")).Allowed(),
		"exhausting one identity must not affect another")
	assert.True(t, gate.TryConsume(model.AccountIdentity("a")).Allowed(),
		"anonymous and account identities with equal keys are distinct")
}

func TestGate_UnlimitedPlan(t *testing.T) {
	gate := NewGate(WithLimits(Unlimited, Unlimited))
	id := model.AccountIdentity("power-user")

	for i := 0; i < 25; i++ {
		if !gate.CanSend(id) {
			t.Fatal("unlimited identity should always pass CanSend")
		}
		gate.TryConsume(id)
	}
	assert.Equal(t, Unlimited, gate.GetUsage(id).Remaining())
}

// =============================================================================
// ATOMICITY
// =============================================================================

func TestGate_ConcurrentConsumeIsAtomic(t *testing.T) {
	// N remaining units and N+1 concurrent TryConsume calls: exactly N
	// succeed, never N+1.
	const remaining = 5
	gate := NewGate(WithLimits(remaining, DefaultAccountLimit))
	id := model.AnonymousIdentity("racer")

	var granted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < remaining+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if gate.TryConsume(id).Allowed() {
				granted.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int32(remaining), granted.Load())
	assert.Equal(t, remaining, gate.GetUsage(id).Used)
}

func TestGate_BurstThrottleIsDistinctFromExhaustion(t *testing.T) {
	gate := NewGate(
		WithLimits(DefaultAnonymousLimit, DefaultAccountLimit),
		WithBurst(1, 2),
	)
	id := model.AnonymousIdentity("rapid")

	require.True(t, gate.TryConsume(id).Allowed())
	require.True(t, gate.TryConsume(id).Allowed())

	// The window has plenty of room; only the short-term allowance is spent.
	assert.Equal(t, Throttled, gate.TryConsume(id))
	assert.True(t, gate.CanSend(id), "throttling must not look like an exhausted window")
	assert.Equal(t, 2, gate.GetUsage(id).Used, "a throttled send must not consume a unit")
}

// =============================================================================
// WINDOW ROLLOVER
// =============================================================================

func TestGate_AnonymousWindowRollsDaily(t *testing.T) {
	now := time.Date(2025, 3, 10, 23, 50, 0, 0, time.UTC)
	gate := NewGate(
		WithLimits(1, DefaultAccountLimit),
		WithClock(func() time.Time { return now }),
	)
	id := model.AnonymousIdentity("tok-1")

	require.True(t, gate.TryConsume(id).Allowed())
	require.False(t, gate.TryConsume(id).Allowed())

	// Midnight passes.
	now = now.Add(20 * time.Minute)
	assert.True(t, gate.TryConsume(id).Allowed(), "daily window should reset at midnight")
}

func TestGate_AccountWindowRollsMonthly(t *testing.T) {
	now := time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)
	gate := NewGate(
		WithLimits(DefaultAnonymousLimit, 1),
		WithClock(func() time.Time { return now }),
	)
	id := model.AccountIdentity("acct-1")

	require.True(t, gate.TryConsume(id).Allowed())
	require.False(t, gate.TryConsume(id).Allowed())

	// Next day, same month boundary crossed.
	now = time.Date(2025, 4, 1, 0, 1, 0, 0, time.UTC)
	assert.True(t, gate.TryConsume(id).Allowed(), "monthly window should reset on month change")

	// Within the same month nothing resets.
	now = now.Add(24 * time.Hour)
	assert.Equal(t, Exhausted, gate.TryConsume(id))
}

// =============================================================================
// DURABLE BACKING
// =============================================================================

// memUsageStore is an in-memory Store, mirroring the counter semantics of the
// SQLite implementation.
type memUsageStore struct {
	mu    sync.Mutex
	used  map[string]int
	start map[string]time.Time
}

func newMemUsageStore() *memUsageStore {
	return &memUsageStore{
		used:  make(map[string]int),
		start: make(map[string]time.Time),
	}
}

func (s *memUsageStore) GetUsage(key string) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used[key], s.start[key], nil
}

func (s *memUsageStore) ConsumeOne(key string, windowStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.start[key].Equal(windowStart) {
		s.used[key] = 0
		s.start[key] = windowStart
	}
	s.used[key]++
	return nil
}

func TestGate_UsageSurvivesRestart(t *testing.T) {
	backing := newMemUsageStore()
	id := model.AnonymousIdentity("tok-1")

	first := NewGate(WithLimits(3, DefaultAccountLimit), WithStore(backing))
	require.True(t, first.TryConsume(id).Allowed())
	require.True(t, first.TryConsume(id).Allowed())

	// A fresh gate over the same backing picks up the spent units.
	second := NewGate(WithLimits(3, DefaultAccountLimit), WithStore(backing))
	assert.Equal(t, 2, second.GetUsage(id).Used)
	require.True(t, second.TryConsume(id).Allowed())
	assert.Equal(t, Exhausted, second.TryConsume(id), "restart must not refill the window")
}

func TestGate_StaleStoredWindowStartsFresh(t *testing.T) {
	backing := newMemUsageStore()
	id := model.AnonymousIdentity("tok-1")

	yesterday := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	exhausted := NewGate(
		WithLimits(1, DefaultAccountLimit),
		WithStore(backing),
		WithClock(func() time.Time { return yesterday }),
	)
	require.True(t, exhausted.TryConsume(id).Allowed())
	require.False(t, exhausted.TryConsume(id).Allowed())

	today := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	fresh := NewGate(
		WithLimits(1, DefaultAccountLimit),
		WithStore(backing),
		WithClock(func() time.Time { return today }),
	)
	assert.True(t, fresh.TryConsume(id).Allowed(),
		"a counter stored under a past day's window must not carry over")
}
