package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avery-oss/loom/internal/banner"
	"github.com/avery-oss/loom/internal/digest"
	"github.com/avery-oss/loom/internal/issue"
	"github.com/avery-oss/loom/internal/logging"
	"github.com/avery-oss/loom/internal/notify"
	"github.com/avery-oss/loom/internal/statusfile"
)

func newStartCmd() *cobra.Command {
	var daemon bool
	var noTmux bool
	cmd := &cobra.Command{
		Use:   "start [issue]",
		Short: "Run the control loop, or one-shot a specific issue",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			if noTmux {
				cfg := *a.cfg
				cfg.Workflow.UseMultiplexer = false
				a.cfg = &cfg
			}

			banner.StartupBanner(version, a.cfg.Forge.Repository, a.cfg.Workflow.StateDir)

			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid issue number %q", args[0])
				}
				return runOneShot(a, n)
			}
			return runDaemon(a)
		},
	}
	cmd.Flags().BoolVar(&daemon, "daemon", false, "has no effect; the control loop always runs in the foreground")
	cmd.Flags().BoolVar(&noTmux, "no-tmux", false, "force direct subprocess mode, skipping the multiplexer")
	return cmd
}

func pidFilePath(stateDir string) string { return filepath.Join(stateDir, "loom.pid") }

func daemonLogPath(stateDir string) string { return filepath.Join(stateDir, "logs", "daemon.log") }

func runDaemon(a *app) error {
	pidPath := pidFilePath(a.cfg.Workflow.StateDir)
	if pid, ok := statusfile.ReadPID(pidPath); ok {
		return fmt.Errorf("daemon already running with pid %d (remove %s if stale)", pid, pidPath)
	}

	// The daemon writes rotating logs to the state directory rather than the
	// console, unless the operator configured an explicit output elsewhere.
	if a.cfg.Logging.Output == "" || a.cfg.Logging.Output == "stdout" {
		logPath := daemonLogPath(a.cfg.Workflow.StateDir)
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		if err := logging.Init(&logging.Config{
			Level:  a.cfg.Logging.Level,
			Format: a.cfg.Logging.Format,
			Output: logPath,
		}); err != nil {
			return fmt.Errorf("init daemon logging: %w", err)
		}
	}
	if err := statusfile.WritePID(pidPath, os.Getpid()); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = os.Remove(pidPath) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	loop, store, err := a.buildLoop()
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	if a.cfg.Digest.Enabled {
		if store == nil {
			logging.WithComponent("start").Warn("digest enabled but history is disabled, skipping digest job")
		} else {
			notifier := notify.New(a.cfg.Notify.WebhookURL, a.cfg.Notify.Enabled)
			job, err := digest.New(store, notifier, a.cfg.Forge.Repository, a.cfg.Digest.Schedule)
			if err != nil {
				return fmt.Errorf("build digest job: %w", err)
			}
			job.Start()
			defer job.Stop()
		}
	}

	return loop.Run(ctx)
}

func runOneShot(a *app, issueNumber int) error {
	ctx := context.Background()
	i, err := a.client.GetIssue(ctx, a.cfg.Forge.Repository, issueNumber)
	if err != nil {
		return fmt.Errorf("get issue %d: %w", issueNumber, err)
	}

	store, err := a.historyStore()
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}
	var hist issue.HistoryRecorder
	if store != nil {
		hist = store
	}

	processor := a.buildProcessor(hist)
	result, err := processor.Process(ctx, a.cfg.Forge.Repository, i)
	if err != nil {
		return fmt.Errorf("process issue %d: %w", issueNumber, err)
	}
	if result.Skipped {
		fmt.Printf("issue %d skipped: %s\n", issueNumber, result.SkipReason)
		return nil
	}
	if result.WorkflowSkipped {
		fmt.Printf("issue %d: no command configured for phase %s, label advanced only\n", issueNumber, result.Phase)
		return nil
	}
	fmt.Printf("issue %d: dispatched phase %s\n", issueNumber, result.Phase)
	return nil
}
