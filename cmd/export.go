package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iksnae/chief-of-staff/internal"
	"github.com/iksnae/chief-of-staff/internal/export"
	"github.com/iksnae/chief-of-staff/internal/store"
	"github.com/spf13/cobra"
)

var (
	format      string
	outputDir   string
	exportLast  int
	exportToOut bool
)

// exportCmd writes session transcripts to files.
var exportCmd = &cobra.Command{
	Use:   "export [session-id...]",
	Short: "Export session transcripts to files",
	Long: `Export sessions to md, json, jsonl or yaml.

Chat sessions are exported as their conversation, tool round trips included.
Agent sessions are exported as their action ledger. Name sessions by ID, or
use --last to export the most recent ones. Use 'chief-of-staff sessions list'
to see available session IDs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		exporter, err := export.NewExporter(format)
		if err != nil {
			return err
		}
		if len(args) == 0 && exportLast <= 0 {
			return fmt.Errorf("name at least one session ID or use --last")
		}
		if exportToOut && len(args) != 1 {
			return fmt.Errorf("--stdout exports exactly one session")
		}

		return withApp(cmd.Context(), func(a *app) error {
			ctx := cmd.Context()
			ids := args
			if len(ids) == 0 {
				recent, err := a.store.RecentSessions(ctx, exportLast)
				if err != nil {
					return err
				}
				for _, s := range recent {
					ids = append(ids, s.ID)
				}
			}

			if exportToOut {
				sess, err := loadTranscript(ctx, a.store, ids[0])
				if err != nil {
					return err
				}
				return exporter.Export(sess, cmd.OutOrStdout())
			}

			if err := os.MkdirAll(outputDir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			exported := 0
			err := internal.ShowProgress(ctx, fmt.Sprintf("Exporting %d session(s) to %s", len(ids), outputDir), func(ctx context.Context) error {
				for _, id := range ids {
					sess, err := loadTranscript(ctx, a.store, id)
					if err != nil {
						internal.LogError("Failed to load session %s: %v", id, err)
						continue
					}
					path := filepath.Join(outputDir, fmt.Sprintf("session_%s.%s", id, exporter.Extension()))
					if err := writeExport(exporter, sess, path); err != nil {
						internal.LogError("Failed to export session %s: %v", id, err)
						continue
					}
					exported++
				}
				return nil
			})
			if err != nil {
				return err
			}
			if exported < len(ids) {
				return fmt.Errorf("exported %d of %d session(s)", exported, len(ids))
			}
			internal.PrintSuccess(fmt.Sprintf("Export complete: %d session(s) exported to %s", exported, outputDir))
			return nil
		})
	},
}

func loadTranscript(ctx context.Context, s *store.Store, id string) (*internal.Session, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	actions, err := s.SessionActions(ctx, id)
	if err != nil {
		return nil, err
	}
	var chat []store.ChatMessage
	if sess.Trigger == store.TriggerChat {
		if chat, err = s.ChatHistory(ctx, id); err != nil {
			return nil, err
		}
	}
	return export.Transcript(sess, actions, chat), nil
}

func writeExport(exporter export.Exporter, sess *internal.Session, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return &internal.ExportError{Format: exporter.Extension(), Path: path, Err: err}
	}
	if err := exporter.Export(sess, file); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return &internal.ExportError{Format: exporter.Extension(), Path: path, Err: err}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&format, "format", "f", "md", "Export format (md, json, jsonl, yaml)")
	exportCmd.Flags().StringVarP(&outputDir, "out", "o", "./exports", "Output directory")
	exportCmd.Flags().IntVar(&exportLast, "last", 0, "Export the N most recent sessions")
	exportCmd.Flags().BoolVar(&exportToOut, "stdout", false, "Write a single session to stdout")
}
