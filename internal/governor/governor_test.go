package governor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type costs struct {
	spent float64
	since time.Time
	err   error
}

func (c *costs) CostSince(_ context.Context, since time.Time) (float64, error) {
	c.since = since
	return c.spent, c.err
}

func limits(perHour, perDay int, maxCost float64) func() Limits {
	return func() Limits {
		return Limits{MaxSessionsPerHour: perHour, MaxSessionsPerDay: perDay, MaxDailyCostUSD: maxCost}
	}
}

func TestRateLimiter_HourWindow(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRateLimiter(c.Now)

	for i := 0; i < 6; i++ {
		require.NoError(t, r.Reserve(6, 50))
		c.Advance(time.Minute)
	}

	err := r.Reserve(6, 50)
	var gate *internal.GateError
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, "Rate limit: 6 sessions in the last hour (max 6)", gate.Reason)

	// The first start leaves the hour window after 60 minutes.
	c.Advance(55 * time.Minute)
	assert.NoError(t, r.Reserve(6, 50))
}

func TestRateLimiter_DayWindow(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	r := NewRateLimiter(c.Now)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Reserve(10, 3))
		c.Advance(2 * time.Hour)
	}
	err := r.Reserve(10, 3)
	require.Error(t, err)
	assert.Equal(t, "Rate limit: 3 sessions in the last 24 hours (max 3)", err.Error())

	c.Advance(20 * time.Hour)
	assert.NoError(t, r.Reserve(10, 3))
	assert.Equal(t, 3, r.Count())
}

func TestRateLimiter_ConcurrentReserve(t *testing.T) {
	r := NewRateLimiter(nil)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Reserve(5, 100) == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, ok)
}

func TestRateLimiter_Seed(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRateLimiter(c.Now)
	r.Seed([]time.Time{
		c.Now().Add(-30 * time.Hour),
		c.Now().Add(-10 * time.Minute),
		c.Now().Add(-5 * time.Minute),
	})
	assert.Equal(t, 2, r.Count())
	assert.Error(t, r.Reserve(2, 50))
}

func TestGovernor_CostGate(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 1, 15, 30, 0, 0, time.UTC)}
	src := &costs{spent: 10}
	g := New(src, nil, limits(6, 50, 10), c.Now)

	err := g.Admit(context.Background())
	var gate *internal.GateError
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, "cost", gate.Gate)
	assert.Equal(t, "Daily cost limit reached ($10.00 / $10.00)", gate.Reason)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), src.since)
	assert.Equal(t, 0, g.Rate().Count(), "a cost refusal consumes no rate slot")

	src.spent = 9.99
	assert.NoError(t, g.Admit(context.Background()))
	assert.Equal(t, 1, g.Rate().Count())
}

func TestGovernor_CostGateUsesLocalDay(t *testing.T) {
	loc := time.FixedZone("PDT", -7*3600)
	c := &clock{t: time.Date(2026, 5, 2, 3, 0, 0, 0, time.UTC)} // 20:00 on May 1 local
	src := &costs{}
	g := New(src, nil, func() Limits {
		return Limits{MaxSessionsPerHour: 1, MaxSessionsPerDay: 1, MaxDailyCostUSD: 1, Location: loc}
	}, c.Now)

	require.NoError(t, g.CheckCost(context.Background()))
	assert.True(t, src.since.Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, loc)))
}

func TestGovernor_CostReadFailure(t *testing.T) {
	g := New(&costs{err: errors.New("disk")}, nil, limits(1, 1, 1), nil)
	err := g.Admit(context.Background())
	require.Error(t, err)
	assert.False(t, internal.IsGateError(err))
}

func TestCooldown(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	cd := NewCooldown(c.Now)

	require.NoError(t, cd.Try("manual run", 15*time.Second))
	c.Advance(10 * time.Second)
	err := cd.Try("manual run", 15*time.Second)
	require.Error(t, err)
	assert.Equal(t, "Please wait 5s before triggering manual run again", err.Error())
	assert.NoError(t, cd.Try("other", 15*time.Second))

	c.Advance(5 * time.Second)
	assert.NoError(t, cd.Try("manual run", 15*time.Second))
}
