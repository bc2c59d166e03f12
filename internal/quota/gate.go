// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package quota provides admission control for new generations.
//
// Each quota identity (anonymous session token or authenticated account)
// carries a windowed message counter: anonymous identities roll daily,
// accounts monthly. TryConsume is atomic per identity, so concurrent sends
// can never double-spend the last unit. Quota exhaustion is an expected
// business state, reported as a rejection rather than an error.
package quota

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/chatstream/internal/model"
)

// =============================================================================
// PLAN LIMITS
// =============================================================================

// Unlimited disables the window ceiling for an identity.
const Unlimited = -1

const (
	// DefaultAnonymousLimit is messages per day for anonymous sessions.
	DefaultAnonymousLimit = 10

	// DefaultAccountLimit is messages per month for authenticated accounts.
	DefaultAccountLimit = 1500
)

// Decision is the outcome of an admission check. Exhaustion and throttling
// are distinct: an exhausted window does not recover until it rolls, while a
// throttled identity succeeds again moments later.
type Decision int

const (
	// Granted admits the message; one unit was consumed.
	Granted Decision = iota

	// Exhausted rejects: the window ceiling is spent.
	Exhausted

	// Throttled rejects: the short-term burst allowance is exceeded even
	// though the window has room.
	Throttled
)

// Allowed reports whether the message was admitted.
func (d Decision) Allowed() bool {
	return d == Granted
}

// String returns the decision name, for logging.
func (d Decision) String() string {
	switch d {
	case Granted:
		return "granted"
	case Exhausted:
		return "exhausted"
	case Throttled:
		return "throttled"
	default:
		return "unknown"
	}
}

// Store persists window counters so quota survives restarts. The SQLite
// persistence bridge implements it; the gate itself works without one.
type Store interface {
	// GetUsage loads the identity's counter and window start. An unknown
	// identity reports zero usage and a zero window start.
	GetUsage(identityKey string) (used int, windowStart time.Time, err error)

	// ConsumeOne records one consumed unit; a changed window start resets
	// the stored counter to one.
	ConsumeOne(identityKey string, windowStart time.Time) error
}

// Usage is one identity's counters inside the current window.
type Usage struct {
	Used        int
	Limit       int
	WindowStart time.Time
}

// Remaining returns the units left in the window, or Unlimited.
func (u Usage) Remaining() int {
	if u.Limit == Unlimited {
		return Unlimited
	}
	remaining := u.Limit - u.Used
	if remaining < 0 {
		return 0
	}
	return remaining
}

// =============================================================================
// QUOTA GATE
// =============================================================================

// Gate decides whether a new generation may start. All mutation goes through
// TryConsume, which holds the gate lock across the read-check-increment so
// two concurrent calls can never both take the last unit.
type Gate struct {
	mu      sync.Mutex
	records map[string]*record

	anonymousLimit int
	accountLimit   int

	// limiters smooth per-identity bursts independent of the window
	// counter, so a rapid-fire client gets queued rather than racing the
	// counter.
	limiters  map[string]*rate.Limiter
	burstRate rate.Limit
	burstSize int

	store Store // optional durable backing for the counters

	now func() time.Time // injectable clock for window tests
}

type record struct {
	used        int
	limit       int
	windowStart time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithLimits overrides the per-class ceilings. Unlimited disables one.
func WithLimits(anonymous, account int) Option {
	return func(g *Gate) {
		g.anonymousLimit = anonymous
		g.accountLimit = account
	}
}

// WithBurst overrides the per-identity burst allowance that smooths
// rapid-fire sends independent of the window counter.
func WithBurst(r rate.Limit, size int) Option {
	return func(g *Gate) {
		g.burstRate = r
		g.burstSize = size
	}
}

// WithStore backs the counters with durable storage, so usage carries
// across restarts instead of resetting with the process.
func WithStore(s Store) Option {
	return func(g *Gate) {
		g.store = s
	}
}

// WithClock injects a clock, for window rollover tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// NewGate creates a gate with default plan limits.
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		records:        make(map[string]*record),
		limiters:       make(map[string]*rate.Limiter),
		anonymousLimit: DefaultAnonymousLimit,
		accountLimit:   DefaultAccountLimit,
		// One send per second sustained, bursts of twenty. Generous enough
		// that the window counter, not the limiter, is the binding limit in
		// normal use.
		burstRate: rate.Limit(1),
		burstSize: 20,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CanSend reports whether the identity has quota left, without consuming.
func (g *Gate) CanSend(identity model.Identity) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.recordFor(identity)
	if rec.limit == Unlimited {
		return true
	}
	return rec.used < rec.limit
}

// TryConsume atomically takes one unit of quota. Rejections are expected
// states, not errors, and the two causes stay distinguishable so callers can
// message them differently.
func (g *Gate) TryConsume(identity model.Identity) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.recordFor(identity)
	if rec.limit != Unlimited && rec.used >= rec.limit {
		return Exhausted
	}

	// Burst smoothing: a denied reservation means the identity is sending
	// faster than the short-term allowance, independent of the window.
	if !g.limiterFor(identity).Allow() {
		return Throttled
	}

	rec.used++

	// Durability is best effort: a failed write costs at most one unit of
	// drift after a restart, never a wrong in-process decision.
	if g.store != nil {
		_ = g.store.ConsumeOne(identity.String(), rec.windowStart)
	}
	return Granted
}

// GetUsage returns the identity's counters in the current window.
func (g *Gate) GetUsage(identity model.Identity) Usage {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec := g.recordFor(identity)
	return Usage{Used: rec.used, Limit: rec.limit, WindowStart: rec.windowStart}
}

// =============================================================================
// WINDOW MANAGEMENT
// =============================================================================

// recordFor returns the identity's record, creating it or rolling its
// window as needed. Caller must hold g.mu.
func (g *Gate) recordFor(identity model.Identity) *record {
	key := identity.String()
	now := g.now()

	rec, ok := g.records[key]
	if !ok {
		rec = &record{
			limit:       g.limitFor(identity),
			windowStart: now,
		}
		if g.store != nil {
			if used, start, err := g.store.GetUsage(key); err == nil && !start.IsZero() {
				rec.used = used
				rec.windowStart = start
			}
		}
		if g.windowExpired(identity, rec.windowStart, now) {
			rec.used = 0
			rec.windowStart = now
		}
		g.records[key] = rec
		return rec
	}

	if g.windowExpired(identity, rec.windowStart, now) {
		rec.used = 0
		rec.windowStart = now
	}
	return rec
}

// windowExpired reports whether the identity's window has rolled over:
// daily for anonymous sessions, monthly for accounts.
func (g *Gate) windowExpired(identity model.Identity, start, now time.Time) bool {
	switch identity.Kind {
	case model.IdentityAnonymous:
		return now.YearDay() != start.YearDay() || now.Year() != start.Year()
	default:
		return now.Month() != start.Month() || now.Year() != start.Year()
	}
}

func (g *Gate) limitFor(identity model.Identity) int {
	if identity.Kind == model.IdentityAnonymous {
		return g.anonymousLimit
	}
	return g.accountLimit
}

// limiterFor returns the per-identity burst limiter. Caller must hold g.mu.
func (g *Gate) limiterFor(identity model.Identity) *rate.Limiter {
	key := identity.String()
	lim, ok := g.limiters[key]
	if !ok {
		lim = rate.NewLimiter(g.burstRate, g.burstSize)
		g.limiters[key] = lim
	}
	return lim
}
