package main

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/avery-oss/loom/internal/statusfile"
)

func newStopCmd() *cobra.Command {
	var force bool
	var timeoutSeconds int
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon, gracefully by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			pidPath := pidFilePath(a.cfg.Workflow.StateDir)
			pid, ok := statusfile.ReadPID(pidPath)
			if !ok {
				fmt.Println("no running daemon found")
				return nil
			}
			if force {
				return syscall.Kill(pid, syscall.SIGKILL)
			}

			stoppingFile := filepath.Join(a.cfg.Workflow.StateDir, "stopping")
			if err := os.WriteFile(stoppingFile, nil, 0o644); err != nil {
				return fmt.Errorf("write stopping sentinel: %w", err)
			}
			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal daemon: %w", err)
			}

			deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
			for time.Now().Before(deadline) {
				if _, ok := statusfile.ReadPID(pidPath); !ok {
					fmt.Println("daemon stopped")
					return nil
				}
				time.Sleep(200 * time.Millisecond)
			}
			fmt.Println("timed out waiting for graceful stop, sending SIGKILL")
			return syscall.Kill(pid, syscall.SIGKILL)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "send SIGKILL immediately")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 30, "seconds to wait for graceful shutdown")
	return cmd
}
