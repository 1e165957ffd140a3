// Package governor decides whether a new agent session may start, based on
// sliding-window session counts and today's spend in the cost ledger.
package governor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/store"
)

// Limits are read fresh for every admission check.
type Limits struct {
	MaxSessionsPerHour int
	MaxSessionsPerDay  int
	MaxDailyCostUSD    float64
	Location           *time.Location
}

// CostSource reports ledger spend since an instant.
type CostSource interface {
	CostSince(ctx context.Context, since time.Time) (float64, error)
}

// RateLimiter counts session starts over the last hour and the last 24 hours.
type RateLimiter struct {
	mu     sync.Mutex
	starts []time.Time
	now    func() time.Time
}

// NewRateLimiter creates a limiter. now may be nil for time.Now.
func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{now: now}
}

// Seed loads historical start times, e.g. from the session ledger at startup.
func (r *RateLimiter) Seed(starts []time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, starts...)
	r.pruneLocked(r.now())
}

// Reserve checks both windows and, if allowed, records a start. Check and
// record happen under one lock so concurrent triggers cannot both slip in.
func (r *RateLimiter) Reserve(maxPerHour, maxPerDay int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.pruneLocked(now)

	hourAgo := now.Add(-time.Hour)
	lastHour := 0
	for _, t := range r.starts {
		if !t.Before(hourAgo) {
			lastHour++
		}
	}
	if lastHour >= maxPerHour {
		return &internal.GateError{
			Gate:   "rate",
			Reason: fmt.Sprintf("Rate limit: %d sessions in the last hour (max %d)", lastHour, maxPerHour),
		}
	}
	if len(r.starts) >= maxPerDay {
		return &internal.GateError{
			Gate:   "rate",
			Reason: fmt.Sprintf("Rate limit: %d sessions in the last 24 hours (max %d)", len(r.starts), maxPerDay),
		}
	}

	r.starts = append(r.starts, now)
	return nil
}

// Count returns how many starts fall inside the 24h window.
func (r *RateLimiter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(r.now())
	return len(r.starts)
}

func (r *RateLimiter) pruneLocked(now time.Time) {
	dayAgo := now.Add(-24 * time.Hour)
	i := 0
	for i < len(r.starts) && r.starts[i].Before(dayAgo) {
		i++
	}
	if i > 0 {
		r.starts = append(r.starts[:0], r.starts[i:]...)
	}
}

// Governor combines the cost gate and the rate limiter.
type Governor struct {
	costs  CostSource
	rate   *RateLimiter
	limits func() Limits
	now    func() time.Time
}

// New creates a Governor. limits is called on every Admit so config reloads
// apply immediately.
func New(costs CostSource, rate *RateLimiter, limits func() Limits, now func() time.Time) *Governor {
	if now == nil {
		now = time.Now
	}
	if rate == nil {
		rate = NewRateLimiter(now)
	}
	return &Governor{costs: costs, rate: rate, limits: limits, now: now}
}

// CheckCost reports a GateError once today's spend reached the ceiling.
func (g *Governor) CheckCost(ctx context.Context) error {
	lim := g.limits()
	loc := lim.Location
	if loc == nil {
		loc = time.UTC
	}
	spent, err := g.costs.CostSince(ctx, store.StartOfDay(g.now().In(loc)))
	if err != nil {
		return fmt.Errorf("failed to read daily cost: %w", err)
	}
	if spent >= lim.MaxDailyCostUSD {
		return &internal.GateError{
			Gate:   "cost",
			Reason: fmt.Sprintf("Daily cost limit reached ($%.2f / $%.2f)", spent, lim.MaxDailyCostUSD),
		}
	}
	return nil
}

// Admit runs the cost gate, then reserves a rate slot. Any refusal is a
// *internal.GateError and no slot is consumed.
func (g *Governor) Admit(ctx context.Context) error {
	if err := g.CheckCost(ctx); err != nil {
		return err
	}
	lim := g.limits()
	return g.rate.Reserve(lim.MaxSessionsPerHour, lim.MaxSessionsPerDay)
}

// Rate exposes the limiter, e.g. for seeding.
func (g *Governor) Rate() *RateLimiter {
	return g.rate
}
