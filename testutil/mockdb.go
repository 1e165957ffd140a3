package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/iksnae/chief-of-staff/internal/store"
)

// Epoch is the default start time of test clocks: a Monday morning.
var Epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Clock is a settable clock for deterministic tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// NewStore opens an in-memory store driven by a fake clock starting at Epoch.
// The store is closed when the test ends.
func NewStore(t *testing.T) (*store.Store, *Clock) {
	t.Helper()
	s, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	clock := NewClock(Epoch)
	s.SetClock(clock.Now)
	return s, clock
}

// CreateSession inserts a running session started at the clock's time.
func CreateSession(t *testing.T, s *store.Store, clock *Clock, id string, trigger store.Trigger) {
	t.Helper()
	if err := s.CreateSession(context.Background(), id, trigger, clock.Now()); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
}

// RecordCost inserts a cost ledger entry at the clock's time.
func RecordCost(t *testing.T, s *store.Store, model string, usd float64) {
	t.Helper()
	if err := s.RecordCost(context.Background(), store.CostEntry{Model: model, CostUSD: usd, Operation: "test"}); err != nil {
		t.Fatalf("Failed to record cost: %v", err)
	}
}
