package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/config"
	"github.com/iksnae/chief-of-staff/internal/store"
)

// ContextFileName is the editable agent identity file in the data directory.
const ContextFileName = "agent-context.md"

// minFeedbackSamples is how many decisions an action type needs before it
// shows up in the learned block.
const minFeedbackSamples = 3

const planningInstructions = `

## Approach
Before taking action:
1. Assess what information you need
2. Plan your sequence of actions
3. Consider risks and what could go wrong
Then execute step by step.`

// PromptBuilder assembles system prompts. Every part except the identity is
// best-effort: a failing query drops that part, never the prompt.
type PromptBuilder struct {
	store       *store.Store
	cfg         *config.Live
	contextPath string
	now         func() time.Time
}

// NewPromptBuilder creates a builder. contextPath may be empty, in which case
// the generated identity is used without touching the filesystem.
func NewPromptBuilder(s *store.Store, cfg *config.Live, contextPath string, now func() time.Time) *PromptBuilder {
	if now == nil {
		now = time.Now
	}
	return &PromptBuilder{store: s, cfg: cfg, contextPath: contextPath, now: now}
}

// Autonomous builds the system prompt for a scheduled or manual session.
func (p *PromptBuilder) Autonomous(ctx context.Context, trigger store.Trigger) string {
	cfg := p.cfg.Current()
	var b strings.Builder
	b.WriteString(p.Identity())
	b.WriteString(p.learned(ctx))
	b.WriteString(p.goals(ctx))
	b.WriteString(p.memory(ctx, cfg, "Pending Items"))
	b.WriteString(planningInstructions)
	b.WriteString("\n")
	b.WriteString(p.timeContext(cfg))
	fmt.Fprintf(&b, "\nTrigger: %s", trigger)
	return b.String()
}

// Chat builds the system prompt for an interactive chat turn.
func (p *PromptBuilder) Chat(ctx context.Context) string {
	cfg := p.cfg.Current()
	var b strings.Builder
	b.WriteString(p.Identity())
	b.WriteString(p.learned(ctx))
	b.WriteString(p.goals(ctx))
	b.WriteString(p.memory(ctx, cfg, "Pending Items Being Tracked"))
	b.WriteString("\n")
	b.WriteString(p.timeContext(cfg))
	fmt.Fprintf(&b, "\n\nYou are chatting with %s in real-time. Be concise and helpful. "+
		"Use your tools to fetch real data when asked. You can check emails, calendar, tasks, "+
		"draft replies, manage memory, and more.", cfg.User.Name)
	return b.String()
}

// Identity returns the agent context file, creating it with the generated
// default when missing. Any filesystem failure falls back to the default.
func (p *PromptBuilder) Identity() string {
	def := DefaultContext(p.cfg.Current())
	if p.contextPath == "" {
		return def
	}

	data, err := os.ReadFile(p.contextPath)
	if errors.Is(err, os.ErrNotExist) {
		internal.BestEffort(context.Background(), "write agent context", func(context.Context) error {
			if err := os.MkdirAll(filepath.Dir(p.contextPath), 0755); err != nil {
				return err
			}
			return os.WriteFile(p.contextPath, []byte(def), 0644)
		})
		return def
	}
	if err != nil {
		internal.LogWarn("failed to read agent context %s: %v", p.contextPath, err)
		return def
	}
	return string(data)
}

// DefaultContext is the generated identity used until the user edits the
// context file.
func DefaultContext(cfg *config.Config) string {
	u := cfg.User
	var b strings.Builder
	fmt.Fprintf(&b, "# Agent Context\n\n## Identity\nYou are the Chief of Staff AI for %s, %s of %s.\n", u.FullName, u.Role, u.Company)

	if u.CompanyDescription != "" || u.Bio != "" {
		b.WriteString("\n## Company Context\n")
		if u.CompanyDescription != "" {
			b.WriteString(u.CompanyDescription + "\n")
		}
		if u.Bio != "" {
			b.WriteString("\n" + u.Bio + "\n")
		}
	}

	signOff := u.SignOff
	if signOff == "" {
		signOff = u.Name
	}
	fmt.Fprintf(&b, `
## Communication Style
- %s
- Formal for investors and VCs
- Professional for clients
- Casual for internal team
- Sign off as %q
`, u.CommunicationStyle, signOff)

	if len(cfg.VIPContacts) > 0 {
		b.WriteString("\n## Key Contact Categories\n")
		for _, vip := range cfg.VIPContacts {
			b.WriteString("- **" + vip.Label + "**")
			if vip.Tone != "" {
				b.WriteString(": " + vip.Tone)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString(`
## Rules
- NEVER send emails without human approval
- Calendar modifications need approval
- You may create tasks and show notifications freely
- Keep API costs reasonable
- Be proactive about flagging urgent items
`)
	return b.String()
}

// learned summarizes past approval decisions. It is informational only.
func (p *PromptBuilder) learned(ctx context.Context) string {
	stats := internal.BestEffortValue(ctx, "learned context", p.store.AllFeedbackStats)
	if len(stats) == 0 {
		return ""
	}

	actions := make([]string, 0, len(stats))
	for action := range stats {
		actions = append(actions, action)
	}
	sort.Strings(actions)

	var lines []string
	for _, action := range actions {
		s := stats[action]
		if s.Total < minFeedbackSamples {
			continue
		}
		line := fmt.Sprintf("- **%s**: %d%% approved", action, percent(float64(s.Approved)/float64(s.Total)))
		if edit := percent(s.EditRate); edit > 0 {
			line += fmt.Sprintf(", %d%% edited before approval", edit)
		}
		if s.Rejected > 0 {
			line += fmt.Sprintf(", %d rejected", s.Rejected)
		}
		lines = append(lines, line+fmt.Sprintf(" (%d total)", s.Total))
	}
	if len(lines) == 0 {
		return ""
	}
	return "\n\n## Learned from Past Decisions\n" + strings.Join(lines, "\n") + "\n"
}

func (p *PromptBuilder) goals(ctx context.Context) string {
	goals := internal.BestEffortValue(ctx, "goals context", func(ctx context.Context) ([]store.Goal, error) {
		return p.store.Goals(ctx, true)
	})
	if len(goals) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n## Active Goals\n")
	for _, g := range goals {
		fmt.Fprintf(&b, "- **%s**: %s", g.Title, g.Description)
		if g.LastStatus != "" {
			fmt.Fprintf(&b, " (last check: %s)", g.LastStatus)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (p *PromptBuilder) memory(ctx context.Context, cfg *config.Config, pendingHeader string) string {
	journals := internal.BestEffortValue(ctx, "journal context", func(ctx context.Context) ([]store.MemoryEntry, error) {
		return p.store.SearchMemory(ctx, store.MemoryJournal, cfg.Agent.JournalContextEntries)
	})
	pending := internal.BestEffortValue(ctx, "pending context", func(ctx context.Context) ([]store.MemoryEntry, error) {
		return p.store.SearchMemory(ctx, store.MemoryPending, cfg.Agent.PendingContextEntries)
	})

	var b strings.Builder
	if len(journals) > 0 {
		b.WriteString("\n\n## Recent Session Journals\n")
		for _, j := range journals {
			fmt.Fprintf(&b, "- %s: %s\n", j.Key, j.Value)
		}
	}
	if len(pending) > 0 {
		fmt.Fprintf(&b, "\n\n## %s\n", pendingHeader)
		for _, item := range pending {
			fmt.Fprintf(&b, "- %s: %s\n", item.Key, item.Value)
		}
	}
	return b.String()
}

func (p *PromptBuilder) timeContext(cfg *config.Config) string {
	now := p.now().In(cfg.Location())
	period := "morning"
	switch h := now.Hour(); {
	case h >= 17:
		period = "evening"
	case h >= 12:
		period = "afternoon"
	}
	return fmt.Sprintf("\nCurrent time: %s (%s)", now.Format("Monday 15:04"), period)
}

func percent(f float64) int {
	return int(math.Round(f * 100))
}
