package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Autonomy modes accepted by the safety classifier.
const (
	ModeConservative = "conservative"
	ModeBalanced     = "balanced"
	ModeExecutive    = "executive"
)

// FileName is the config file name inside the data directory.
const FileName = "config.yaml"

// Config is the full application configuration.
type Config struct {
	User        UserConfig        `yaml:"user"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Email       EmailConfig       `yaml:"email"`
	API         APIConfig         `yaml:"api"`
	Agent       AgentConfig       `yaml:"agent"`
	MeetingPrep MeetingPrepConfig `yaml:"meeting_prep"`
	VIPContacts []VIPContact      `yaml:"vip_contacts"`
	Providers   []ProviderConfig  `yaml:"providers"`
	Server      ServerConfig      `yaml:"server"`
	Sources     SourcesConfig     `yaml:"sources"`
}

type UserConfig struct {
	Name               string `yaml:"name"`
	FullName           string `yaml:"full_name"`
	Role               string `yaml:"role"`
	Company            string `yaml:"company"`
	CompanyDescription string `yaml:"company_description"`
	Timezone           string `yaml:"timezone"`
	Bio                string `yaml:"bio"`
	CommunicationStyle string `yaml:"communication_style"`
	SignOff            string `yaml:"sign_off"`
}

type ScheduleConfig struct {
	MorningSweep           string `yaml:"morning_sweep"`
	EveningSweep           string `yaml:"evening_sweep"`
	RefreshIntervalMinutes int    `yaml:"refresh_interval_minutes"`
	GoalCheckMinutes       int    `yaml:"goal_check_minutes"`
}

type EmailConfig struct {
	LookbackHours int      `yaml:"lookback_hours"`
	MaxEmails     int      `yaml:"max_emails"`
	NoisePatterns []string `yaml:"noise_patterns"`
}

type APIConfig struct {
	BaseURL         string                `yaml:"base_url"`
	APIKeyEnv       string                `yaml:"api_key_env"`
	AgentModel      string                `yaml:"agent_model"`
	ChatModel       string                `yaml:"chat_model"`
	TriageModel     string                `yaml:"triage_model"`
	BriefingModel   string                `yaml:"briefing_model"`
	DraftModel      string                `yaml:"draft_model"`
	MaxTokens       int                   `yaml:"max_tokens"`
	MaxDailyCostUSD float64               `yaml:"max_daily_cost_usd"`
	Pricing         map[string]ModelPrice `yaml:"pricing,omitempty"`
}

// ModelPrice is the USD price per million tokens.
type ModelPrice struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

type AgentConfig struct {
	MaxSessionsPerHour     int           `yaml:"max_sessions_per_hour"`
	MaxSessionsPerDay      int           `yaml:"max_sessions_per_day"`
	MaxToolCallsPerSession int           `yaml:"max_tool_calls_per_session"`
	AutonomyMode           string        `yaml:"autonomy_mode"`
	ManualRunCooldown      time.Duration `yaml:"manual_run_cooldown"`
	MaxChatMessageChars    int           `yaml:"max_chat_message_chars"`
	JournalContextEntries  int           `yaml:"journal_context_entries"`
	PendingContextEntries  int           `yaml:"pending_context_entries"`
	ContextFile            string        `yaml:"context_file,omitempty"`
	MemoryRetentionDays    int           `yaml:"memory_retention_days"`
}

type MeetingPrepConfig struct {
	Enabled       bool `yaml:"enabled"`
	MinutesBefore int  `yaml:"minutes_before"`
}

type VIPContact struct {
	Pattern string `yaml:"pattern"`
	Label   string `yaml:"label"`
	Tone    string `yaml:"tone,omitempty"`
}

// ProviderConfig describes an external tool provider launched as a subprocess.
type ProviderConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

type SourcesConfig struct {
	// LocalFile is a YAML workspace holding emails, events and tasks.
	LocalFile string `yaml:"local_file,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		User: UserConfig{
			Name:               "User",
			FullName:           "Your Name",
			Role:               "Founder",
			Company:            "Your Company",
			Timezone:           "UTC",
			CommunicationStyle: "Professional and concise",
			SignOff:            "User",
		},
		Schedule: ScheduleConfig{
			MorningSweep:           "05:30",
			EveningSweep:           "18:00",
			RefreshIntervalMinutes: 30,
			GoalCheckMinutes:       30,
		},
		Email: EmailConfig{
			LookbackHours: 12,
			MaxEmails:     50,
			NoisePatterns: []string{"unsubscribe", "newsletter", "no-reply", "noreply", "marketing"},
		},
		API: APIConfig{
			BaseURL:         "https://api.anthropic.com/v1",
			APIKeyEnv:       "ANTHROPIC_API_KEY",
			AgentModel:      "claude-opus-4-6",
			ChatModel:       "claude-sonnet-4-5-20250929",
			TriageModel:     "claude-haiku-4-5-20251001",
			BriefingModel:   "claude-sonnet-4-5-20250929",
			DraftModel:      "claude-sonnet-4-5-20250929",
			MaxTokens:       4096,
			MaxDailyCostUSD: 10.0,
		},
		Agent: AgentConfig{
			MaxSessionsPerHour:     6,
			MaxSessionsPerDay:      50,
			MaxToolCallsPerSession: 20,
			AutonomyMode:           ModeBalanced,
			ManualRunCooldown:      15 * time.Second,
			MaxChatMessageChars:    50000,
			JournalContextEntries:  2,
			PendingContextEntries:  50,
			MemoryRetentionDays:    30,
		},
		MeetingPrep: MeetingPrepConfig{
			Enabled:       true,
			MinutesBefore: 15,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:7420",
		},
	}
}

// DefaultDataDir returns ~/.chief-of-staff.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".chief-of-staff"), nil
}

// Load reads the config at path, merging it over the defaults. A missing file
// is created with the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks values the engine cannot run without.
func (c *Config) Validate() error {
	var errs []error
	switch c.Agent.AutonomyMode {
	case ModeConservative, ModeBalanced, ModeExecutive:
	default:
		errs = append(errs, fmt.Errorf("agent.autonomy_mode must be conservative, balanced or executive, got %q", c.Agent.AutonomyMode))
	}
	if c.Agent.MaxSessionsPerHour <= 0 || c.Agent.MaxSessionsPerDay <= 0 {
		errs = append(errs, errors.New("agent session limits must be positive"))
	}
	if c.Agent.MaxToolCallsPerSession <= 0 {
		errs = append(errs, errors.New("agent.max_tool_calls_per_session must be positive"))
	}
	if c.API.MaxDailyCostUSD <= 0 {
		errs = append(errs, errors.New("api.max_daily_cost_usd must be positive"))
	}
	for _, field := range []struct{ name, value string }{
		{"schedule.morning_sweep", c.Schedule.MorningSweep},
		{"schedule.evening_sweep", c.Schedule.EveningSweep},
	} {
		if _, _, err := ParseClock(field.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
		}
	}
	if _, err := time.LoadLocation(c.User.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("user.timezone: %w", err))
	}
	return errors.Join(errs...)
}

// Location returns the user's timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.User.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// APIKey reads the model API key from the configured environment variable.
func (c *Config) APIKey() string {
	return strings.TrimSpace(os.Getenv(c.API.APIKeyEnv))
}

// UserContext is the one-paragraph identity used in prompts.
func (c *Config) UserContext() string {
	u := c.User
	ctx := fmt.Sprintf("%s, %s of %s", u.FullName, u.Role, u.Company)
	if u.CompanyDescription != "" {
		ctx += ". " + u.CompanyDescription
	}
	if u.Bio != "" {
		ctx += "\n\n" + u.Bio
	}
	return ctx
}

// ParseClock parses an "HH:MM" wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour(), t.Minute(), nil
}
