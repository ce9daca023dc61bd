package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent recorded workflow events",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			store, err := a.historyStore()
			if err != nil {
				return fmt.Errorf("open history store: %w", err)
			}
			if store == nil {
				fmt.Println("history recording is disabled in config")
				return nil
			}
			defer func() { _ = store.Close() }()

			events, err := store.Query(context.Background(), a.cfg.Forge.Repository, time.Now().Add(-since))
			if err != nil {
				return err
			}
			for _, e := range events {
				fmt.Printf("%s  #%-5d %-18s %s\n", e.Timestamp.Format(time.RFC3339), e.Issue, e.Kind, e.Detail)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "how far back to query")
	return cmd
}
