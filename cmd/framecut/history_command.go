package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"framecut/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var kind, status string
	var limit int
	var clear, asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded exports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := openHistory(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if store == nil {
				return errors.New("history is disabled (paths.history_db is empty)")
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if clear {
				removed, err := store.Clear(cmd.Context())
				if err != nil {
					return fmt.Errorf("clear history: %w", err)
				}
				fmt.Fprintf(out, "Removed %d entries\n", removed)
				return nil
			}

			entries, err := store.List(cmd.Context(), history.Filter{Kind: kind, Status: status, Limit: limit})
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}
			if asJSON {
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No exports recorded")
				return nil
			}

			fmt.Fprintln(out, renderHistoryTable(entries))
			summary, err := store.Summarize(cmd.Context())
			if err != nil {
				return fmt.Errorf("summarize history: %w", err)
			}
			fmt.Fprintf(out, "%d exports: %d complete, %d failed, %s written\n",
				summary.Total, summary.Complete, summary.Failed, humanize.IBytes(uint64(summary.Bytes)))
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Only show one kind (trim, frames, convert, merge)")
	cmd.Flags().StringVar(&status, "status", "", "Only show complete or error entries")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries (0 for all)")
	cmd.Flags().BoolVar(&clear, "clear", false, "Delete every recorded entry")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderHistoryTable(entries []history.Entry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		outcome := e.Filename
		if e.Status == history.StatusError {
			outcome = e.ErrorKind
		}
		size := "-"
		if e.Size > 0 {
			size = humanize.IBytes(uint64(e.Size))
		}
		rows = append(rows, []string{
			shortID(e.ID),
			e.Kind,
			e.Status,
			outcome,
			size,
			e.Duration.Round(10 * time.Millisecond).String(),
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return renderTable(
		[]string{"ID", "Kind", "Status", "Output", "Size", "Took", "Created"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
