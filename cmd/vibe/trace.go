package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vibe-run/vibe/internal/runlog"
)

func traceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace <run-id>",
		Short: "Print the recorded LM interaction log for a past run",
		Long:  "Trace replays a run's recorded do/vibe/compress interactions in order, each tagged with its sequence id, from the verbose event log.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Runlog.Enabled {
				return fmt.Errorf("the run log is disabled; set VIBE_RUNLOG_DSN or enable runlog in config")
			}
			ctx := context.Background()
			store, err := runlog.NewStore(ctx, cfg.Runlog.DSN)
			if err != nil {
				return fmt.Errorf("connect run log store: %w", err)
			}
			defer store.Close()

			events, err := store.ListByRun(ctx, args[0])
			if err != nil {
				return fmt.Errorf("list run events: %w", err)
			}
			if len(events) == 0 {
				fmt.Printf("no recorded events for run %s\n", args[0])
				return nil
			}
			for _, e := range events {
				fmt.Printf("[%s] %s model=%s\n", e.SeqID, e.OperationType, e.ModelVar)
				fmt.Printf("  prompt:   %s\n", truncate(e.Prompt, 200))
				if e.ErrorMessage != "" {
					fmt.Printf("  error:    %s\n", e.ErrorMessage)
				} else {
					fmt.Printf("  response: %s\n", truncate(e.Response, 200))
				}
			}
			return nil
		},
	}
	return cmd
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
