package main

import (
	"fmt"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/avery-oss/loom/internal/dashboard"
)

func newDashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Launch the read-only status dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			store, err := a.historyStore()
			if err != nil {
				return fmt.Errorf("open history store: %w", err)
			}
			var querier dashboard.HistoryQuerier
			if store != nil {
				defer func() { _ = store.Close() }()
				querier = store
			}

			statusPath := filepath.Join(a.cfg.Workflow.StateDir, "status.json")
			model := dashboard.New(statusPath, a.cfg.Forge.Repository, querier, a.cfg.Dashboard.RefreshInterval)
			_, err = tea.NewProgram(model).Run()
			return err
		},
	}
}
