package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/avery-oss/loom/internal/statusfile"
)

func newStatusCmd() *cobra.Command {
	var jsonOut bool
	var logLines int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			statusPath := filepath.Join(a.cfg.Workflow.StateDir, "status.json")
			s, err := statusfile.Read(statusPath)
			if err != nil {
				if jsonOut {
					fmt.Println(`{"running": false}`)
				} else {
					fmt.Println("daemon is not running")
				}
				os.Exit(1)
				return nil
			}
			if jsonOut {
				data, _ := json.MarshalIndent(s, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			fmt.Printf("repo:         %s\n", s.Repo)
			fmt.Printf("pid:          %d\n", s.PID)
			fmt.Printf("ticks:        %d\n", s.TickCount)
			fmt.Printf("last tick:    %s\n", s.LastTickAt)
			if s.CurrentIssue != 0 {
				fmt.Printf("active issue: #%d (%s)\n", s.CurrentIssue, s.CurrentPhase)
			}
			if s.LastError != "" {
				fmt.Printf("last error:   %s\n", s.LastError)
			}
			if logLines > 0 {
				lines, err := tailLines(daemonLogPath(a.cfg.Workflow.StateDir), logLines)
				if err != nil {
					fmt.Printf("\n(log unavailable: %v)\n", err)
					return nil
				}
				fmt.Println()
				for _, l := range lines {
					fmt.Println(l)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit status as JSON")
	cmd.Flags().IntVar(&logLines, "log", 0, "number of trailing daemon log lines to include")
	return cmd
}

// tailLines returns the last n lines of the file at path. Trailing newlines
// are trimmed first; blank lines before them are kept and counted.
func tailLines(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(all) <= n {
		return all, nil
	}
	return all[len(all)-n:], nil
}
