package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestLoad_MissingFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err, "defaults should be written to disk")
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	raw := `
user:
  full_name: Ada Lovelace
agent:
  autonomy_mode: executive
  manual_run_cooldown: 30s
api:
  max_daily_cost_usd: 2.5
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Ada Lovelace", cfg.User.FullName)
	assert.Equal(t, "Founder", cfg.User.Role, "unset keys keep defaults")
	assert.Equal(t, ModeExecutive, cfg.Agent.AutonomyMode)
	assert.Equal(t, 30*time.Second, cfg.Agent.ManualRunCooldown)
	assert.Equal(t, 6, cfg.Agent.MaxSessionsPerHour)
	assert.Equal(t, 20, cfg.Agent.MaxToolCallsPerSession)
	assert.InDelta(t, 2.5, cfg.API.MaxDailyCostUSD, 1e-9)
	assert.Equal(t, "claude-opus-4-6", cfg.API.AgentModel)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bad mode", "agent:\n  autonomy_mode: reckless\n"},
		{"bad sweep", "schedule:\n  morning_sweep: \"25:99\"\n"},
		{"zero tool calls", "agent:\n  max_tool_calls_per_session: 0\n"},
		{"bad timezone", "user:\n  timezone: Mars/Olympus\n"},
		{"not yaml", "agent: [unterminated\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			require.NoError(t, os.WriteFile(path, []byte(tt.raw), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("05:30")
	require.NoError(t, err)
	assert.Equal(t, 5, h)
	assert.Equal(t, 30, m)

	_, _, err = ParseClock("5pm")
	assert.Error(t, err)
}

func TestUserContext(t *testing.T) {
	cfg := Default()
	cfg.User.FullName = "Sam Rivera"
	cfg.User.Role = "CEO"
	cfg.User.Company = "Acme"
	cfg.User.CompanyDescription = "Robotics for farms"
	assert.Equal(t, "Sam Rivera, CEO of Acme. Robotics for farms", cfg.UserContext())
}

func TestLive_WatchReloads(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), FileName)
	cfg, err := Load(path)
	require.NoError(t, err)
	live := NewLive(path, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	changed := make(chan *Config, 1)
	done := make(chan error, 1)
	go func() {
		done <- live.Watch(ctx, func(c *Config) {
			select {
			case changed <- c:
			default:
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	updated := Default()
	updated.Agent.AutonomyMode = ModeConservative
	require.NoError(t, Save(path, updated))

	select {
	case c := <-changed:
		assert.Equal(t, ModeConservative, c.Agent.AutonomyMode)
		assert.Equal(t, ModeConservative, live.Current().Agent.AutonomyMode)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}

	cancel()
	require.NoError(t, <-done)
}
