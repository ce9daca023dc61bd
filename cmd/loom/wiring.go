package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/avery-oss/loom/internal/automerge"
	"github.com/avery-oss/loom/internal/cleaner"
	"github.com/avery-oss/loom/internal/config"
	"github.com/avery-oss/loom/internal/control"
	"github.com/avery-oss/loom/internal/forge"
	"github.com/avery-oss/loom/internal/history"
	"github.com/avery-oss/loom/internal/issue"
	"github.com/avery-oss/loom/internal/lock"
	"github.com/avery-oss/loom/internal/logging"
	"github.com/avery-oss/loom/internal/mux"
	"github.com/avery-oss/loom/internal/notify"
	"github.com/avery-oss/loom/internal/phase"
	"github.com/avery-oss/loom/internal/phaseexec"
	"github.com/avery-oss/loom/internal/queue"
	"github.com/avery-oss/loom/internal/session"
)

// app bundles everything a command needs once config is loaded.
type app struct {
	cfg      *config.Config
	client   *forge.Client
	muxClient mux.Client
	sessions *session.Manager
	locker   *lock.Locker
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return filepath.Join(config.DefaultStateDir(), "config.yml")
}

func loadApp() (*app, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config invalid: %w", err)
	}
	if err := logging.Init(&logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	token, err := forge.ResolveToken(forge.AuthMethod(cfg.Forge.AuthMethod), cfg.Forge.Token)
	if err != nil {
		return nil, err
	}
	client := forge.NewClient(cfg.Forge.BaseURL, token)

	muxClient := mux.Client(mux.New(""))
	locker, err := lock.New(cfg.Workflow.StateDir, cfg.Workflow.LockStaleness)
	if err != nil {
		return nil, err
	}
	sessions := session.New(muxClient, locker)

	if err := os.MkdirAll(cfg.Workflow.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	return &app{cfg: cfg, client: client, muxClient: muxClient, sessions: sessions, locker: locker}, nil
}

// buildProcessor wires IssueProcessor and everything it depends on. hist may
// be nil, disabling history recording.
func (a *app) buildProcessor(hist issue.HistoryRecorder) *issue.Processor {
	commands := func(p phase.Phase) (phaseexec.Spec, bool) {
		pc, ok := a.cfg.Phases[string(p)]
		if !ok || pc.Command == "" {
			return phaseexec.Spec{}, false
		}
		return phaseexec.Spec{Command: pc.Command, Args: pc.Args, ParameterTemplate: pc.Parameter}, true
	}
	executor := phaseexec.New(a.sessions, a.muxClient, a.cfg.Workflow.CommandDelay)
	notifier := notify.New(a.cfg.Notify.WebhookURL, a.cfg.Notify.Enabled)
	return issue.New(a.client, a.locker, executor, notifier, hist, commands, execMode(a.cfg))
}

// buildLoop wires every package the control loop depends on into a
// control.Loop, matching the daemon's dependency graph: forge.Client at the
// root, consumed by queue/issue/automerge/cleaner, all driven by one Loop.
// It returns the opened history.Store (nil if history is disabled) so the
// caller can close it on shutdown.
func (a *app) buildLoop() (*control.Loop, *history.Store, error) {
	store, err := a.historyStore()
	if err != nil {
		return nil, nil, fmt.Errorf("open history store: %w", err)
	}

	// Assigning a nil *history.Store straight to an interface variable would
	// produce a non-nil interface wrapping a nil pointer, so each narrowed
	// HistoryRecorder is only populated when history is actually enabled.
	var forIssue issue.HistoryRecorder
	var forMerge automerge.HistoryRecorder
	var forClean cleaner.HistoryRecorder
	var forControl control.HistoryRecorder
	if store != nil {
		forIssue = store
		forMerge = store
		forClean = store
		forControl = store
	}

	queueSvc := queue.New(a.client)
	processor := a.buildProcessor(forIssue)
	merger := automerge.New(a.client, forMerge)
	cln := cleaner.New(a.client, a.muxClient, a.sessions, forClean, a.cfg.Workflow.CleanupInterval)

	opts := control.Options{
		Repo:             a.cfg.Forge.Repository,
		Interval:         a.cfg.Workflow.Interval,
		StateDir:         a.cfg.Workflow.StateDir,
		AutoMergeEnabled: a.cfg.Workflow.AutoMerge,
		CleanupEnabled:   a.cfg.Workflow.CleanupEnabled,
		Sessions: func() []string {
			name := session.SessionName(a.cfg.Forge.Repository)
			if a.muxClient.HasSession(context.Background(), name) {
				return []string{name}
			}
			return nil
		},
	}
	return control.New(a.client, queueSvc, processor, merger, cln, forControl, opts), store, nil
}

func execMode(cfg *config.Config) phaseexec.Mode {
	if cfg.Workflow.UseMultiplexer {
		return phaseexec.Multiplexer
	}
	return phaseexec.Direct
}

func (a *app) historyStore() (*history.Store, error) {
	if !a.cfg.History.Enabled {
		return nil, nil
	}
	return history.Open(a.cfg.History.Path)
}
