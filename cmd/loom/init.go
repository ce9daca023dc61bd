package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/avery-oss/loom/internal/config"
	"github.com/avery-oss/loom/internal/forge"
)

func newInitCmd() *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write default config and create workflow labels on the forge",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("config already exists at %s\n", path)
			} else {
				cfg := config.Default()
				if interactive {
					if err := promptForRepo(cfg); err != nil {
						return err
					}
				}
				if err := config.Save(cfg, path); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
				fmt.Printf("wrote default config to %s\n", path)
			}

			a, err := loadApp()
			if err != nil {
				return err
			}
			if a.cfg.Forge.Repository == "" {
				fmt.Println("forge.repository is unset; edit the config and re-run init to create labels")
				return nil
			}
			return createWorkflowLabels(a.client, a.cfg.Forge.Repository)
		},
	}
	cmd.Flags().BoolVar(&interactive, "interactive", false, "prompt for the target repository")
	return cmd
}

func promptForRepo(cfg *config.Config) error {
	fmt.Print("forge repository (owner/name): ")
	var repo string
	if _, err := fmt.Scanln(&repo); err != nil {
		return fmt.Errorf("read repository: %w", err)
	}
	cfg.Forge.Repository = repo
	return nil
}

func createWorkflowLabels(client *forge.Client, repo string) error {
	ctx := context.Background()
	existing, err := client.ListLabels(ctx, repo)
	if err != nil {
		return fmt.Errorf("list labels: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, l := range existing {
		have[l.Name] = true
	}
	for _, name := range forge.WorkflowLabels {
		if have[name] {
			continue
		}
		if err := client.CreateLabel(ctx, repo, name, "ededed", "loom workflow label"); err != nil {
			return fmt.Errorf("create label %s: %w", name, err)
		}
		fmt.Printf("created label %s\n", name)
	}
	return nil
}
