package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/avery-oss/loom/internal/statusfile"
)

func newOpenCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "open [issue]",
		Short: "Attach to the multiplexer session/window for an issue",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			ctx := context.Background()
			daemonPID, _ := statusfile.ReadPID(pidFilePath(a.cfg.Workflow.StateDir))
			sessionName, attached := a.sessions.FindSessionForAttach(ctx, a.cfg.Forge.Repository, daemonPID)
			if !attached {
				return fmt.Errorf("no session found for %s", a.cfg.Forge.Repository)
			}

			if list {
				windows, err := a.sessions.ListIssueWindows(ctx, sessionName)
				if err != nil {
					return err
				}
				for _, w := range windows {
					fmt.Printf("issue #%d -> %s\n", w.IssueNumber, w.Title)
				}
				return nil
			}

			if len(args) == 0 {
				return attachTmux(sessionName, "")
			}
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid issue number %q", args[0])
			}
			windowID, ok := a.sessions.FindIssueWindow(ctx, sessionName, n)
			if !ok {
				return fmt.Errorf("no window found for issue %d", n)
			}
			return attachTmux(sessionName, windowID)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list issue windows instead of attaching")
	return cmd
}

func attachTmux(sessionName, windowID string) error {
	target := sessionName
	if windowID != "" {
		target = sessionName + ":" + windowID
	}
	c := exec.Command("tmux", "attach-session", "-t", target)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}
