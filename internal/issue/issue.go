// Package issue implements the per-issue processing step: determine the
// phase implied by an issue's labels, CAS into the in-progress label, and
// hand off to PhaseExecutor. This is the daemon's unit of work: the control
// loop calls it at most once per tick, for the first issue left after it
// filters out the non-processable ones.
package issue

import (
	"context"
	"log/slog"
	"time"

	"github.com/avery-oss/loom/internal/forge"
	"github.com/avery-oss/loom/internal/history"
	"github.com/avery-oss/loom/internal/logging"
	"github.com/avery-oss/loom/internal/lock"
	"github.com/avery-oss/loom/internal/notify"
	"github.com/avery-oss/loom/internal/phase"
	"github.com/avery-oss/loom/internal/phaseexec"
)

// ForgeClient is the subset of forge.Client IssueProcessor needs.
type ForgeClient interface {
	UpdateLabelsWithCheck(ctx context.Context, repo string, number int, from, to string) (bool, error)
}

// HistoryRecorder is the subset of history.Store IssueProcessor appends
// through. Nil disables recording entirely.
type HistoryRecorder interface {
	Append(ctx context.Context, e history.Event) error
}

// CommandLookup resolves a phase to its configured command, reporting false
// if the phase has no command configured (the "workflow_skipped" path).
type CommandLookup func(p phase.Phase) (phaseexec.Spec, bool)

// Result is the outcome of processing one issue.
type Result struct {
	Skipped         bool
	SkipReason      string
	WorkflowSkipped bool
	Phase           phase.Phase
	ExecResult      *phaseexec.Result
}

// Processor implements the six-step per-issue flow.
type Processor struct {
	client   ForgeClient
	locker   *lock.Locker
	executor *phaseexec.Executor
	notifier *notify.Notifier
	history  HistoryRecorder
	commands CommandLookup
	mode     phaseexec.Mode
	log      *slog.Logger
}

// New builds a Processor. history may be nil, disabling event recording.
func New(client ForgeClient, locker *lock.Locker, executor *phaseexec.Executor, notifier *notify.Notifier, hist HistoryRecorder, commands CommandLookup, mode phaseexec.Mode) *Processor {
	return &Processor{
		client:   client,
		locker:   locker,
		executor: executor,
		notifier: notifier,
		history:  hist,
		commands: commands,
		mode:     mode,
		log:      logging.WithComponent("issue"),
	}
}

// record appends e to the history store, logging and discarding any
// failure — a history-store outage must never affect workflow behavior.
func (p *Processor) record(ctx context.Context, e history.Event) {
	if p.history == nil {
		return
	}
	if err := p.history.Append(ctx, e); err != nil {
		p.log.Warn("failed to record history event", slog.Any("error", err))
	}
}

// lockTimeout bounds how long a tick waits to acquire the per-issue lock
// before giving up, per the "short timeout (<=5s)" requirement.
const lockTimeout = 5 * time.Second

// Process runs the six-step flow for one issue in repo.
func (p *Processor) Process(ctx context.Context, repo string, i *forge.Issue) (*Result, error) {
	ph, ok := phase.DeterminePhase(i.Labels)
	if !ok {
		return &Result{Skipped: true, SkipReason: "in-progress or unknown"}, nil
	}

	edge, ok := phase.EdgeFor(ph)
	if !ok {
		return &Result{Skipped: true, SkipReason: "no transition for phase"}, nil
	}

	spec, configured := p.commands(ph)
	if !configured {
		ok, err := p.client.UpdateLabelsWithCheck(ctx, repo, i.Number, edge.From, edge.To)
		if err != nil {
			p.record(ctx, history.Event{Timestamp: time.Now(), Repo: repo, Issue: i.Number, Kind: "phase_transition_error", FromLabel: edge.From, ToLabel: edge.To, Detail: err.Error()})
			return nil, err
		}
		if !ok {
			return &Result{Skipped: true, SkipReason: "label state changed"}, nil
		}
		p.record(ctx, history.Event{Timestamp: time.Now(), Repo: repo, Issue: i.Number, Kind: "phase_transition", FromLabel: edge.From, ToLabel: edge.To, Detail: "label advanced, no command configured"})
		return &Result{WorkflowSkipped: true, Phase: ph}, nil
	}

	h, err := p.locker.Acquire(ctx, lock.IssueKey(repo, i.Number), lockTimeout)
	if err != nil {
		return nil, err
	}
	defer func() { _ = h.Release() }()

	cased, err := p.client.UpdateLabelsWithCheck(ctx, repo, i.Number, edge.From, edge.To)
	if err != nil {
		p.record(ctx, history.Event{Timestamp: time.Now(), Repo: repo, Issue: i.Number, Kind: "phase_transition_error", FromLabel: edge.From, ToLabel: edge.To, Detail: err.Error()})
		return nil, err
	}
	if !cased {
		return &Result{Skipped: true, SkipReason: "label state changed"}, nil
	}
	p.record(ctx, history.Event{Timestamp: time.Now(), Repo: repo, Issue: i.Number, Kind: "phase_transition", FromLabel: edge.From, ToLabel: edge.To, Detail: "dispatched " + spec.Command})

	p.notifier.Notify(ctx, notify.Event{
		Type:  "phase_start",
		Repo:  repo,
		Issue: i.Number,
		Phase: string(ph),
	})

	execResult, err := p.executor.Run(ctx, p.mode, repo, i.Number, spec)
	if err != nil {
		p.log.Warn("phase execution failed", slog.Int("issue", i.Number), slog.String("phase", string(ph)), slog.Any("error", err))
		p.record(ctx, history.Event{Timestamp: time.Now(), Repo: repo, Issue: i.Number, Kind: "phase_exec_error", FromLabel: edge.From, ToLabel: edge.To, Detail: err.Error()})
		return &Result{Phase: ph}, err
	}

	p.log.Info("processed issue", slog.Int("issue", i.Number), slog.String("phase", string(ph)))
	return &Result{Phase: ph, ExecResult: execResult}, nil
}
