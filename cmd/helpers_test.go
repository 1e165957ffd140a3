package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/iksnae/chief-of-staff/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// execute runs the root command with args, resetting every flag first so
// state from earlier tests does not leak in.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// seedDataDir creates a data directory holding one finished morning sweep
// with two logged actions.
func seedDataDir(t *testing.T) string {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "")
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, dbFileName))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	started := time.Date(2026, 3, 2, 5, 30, 0, 0, time.UTC)
	if err := st.CreateSession(ctx, "sess-1", store.TriggerMorningSweep, started); err != nil {
		t.Fatalf("create session: %v", err)
	}
	for _, a := range []store.Action{
		{SessionID: "sess-1", ToolName: "get_inbox", Input: []byte(`{"limit":20}`), Output: "3 emails", Status: store.ActionExecuted, CreatedAt: started.Add(time.Second)},
		{SessionID: "sess-1", ToolName: "send_email", Input: []byte(`{"to":"dana@example.com"}`), Status: store.ActionPendingApproval, CreatedAt: started.Add(2 * time.Second)},
	} {
		if _, err := st.LogAction(ctx, a); err != nil {
			t.Fatalf("log action: %v", err)
		}
	}
	if err := st.FinishSession(ctx, "sess-1", store.SessionCompleted, "Triaged the inbox.", "", started.Add(time.Minute)); err != nil {
		t.Fatalf("finish session: %v", err)
	}
	return dir
}
