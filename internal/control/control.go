// Package control implements the top-level tick loop: fetch, queue,
// auto-merge, clean, process, record status, sleep. It is a single-process,
// cooperative loop — no goroutine runs workflow-affecting code concurrently
// with a tick.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/avery-oss/loom/internal/automerge"
	"github.com/avery-oss/loom/internal/blocking"
	"github.com/avery-oss/loom/internal/cleaner"
	"github.com/avery-oss/loom/internal/forge"
	"github.com/avery-oss/loom/internal/history"
	"github.com/avery-oss/loom/internal/issue"
	"github.com/avery-oss/loom/internal/logging"
	"github.com/avery-oss/loom/internal/phase"
	"github.com/avery-oss/loom/internal/queue"
	"github.com/avery-oss/loom/internal/statusfile"
)

// ForgeClient is the subset of forge.Client the control loop itself calls
// directly (ListOpenIssues for the fetch/refresh steps).
type ForgeClient interface {
	ListOpenIssues(ctx context.Context, repo string) ([]*forge.Issue, error)
}

// IssueProcessor is the narrowed interface to issue.Processor.
type IssueProcessor interface {
	Process(ctx context.Context, repo string, i *forge.Issue) (*issue.Result, error)
}

// Queuer is the narrowed interface to queue.Service.
type Queuer interface {
	QueueNext(ctx context.Context, repo string, issues []*forge.Issue) (*forge.Issue, error)
}

// AutoMerger is the narrowed interface to automerge.AutoMerger.
type AutoMerger interface {
	Run(ctx context.Context, repo string) (*automerge.Report, error)
}

// WindowCleaner is the narrowed interface to cleaner.Cleaner.
type WindowCleaner interface {
	Sweep(ctx context.Context, repo string, sessions []string) (*cleaner.Report, error)
}

// HistoryRecorder is the subset of history.Store the control loop appends
// through directly, for the anomaly condition it alone observes. Nil
// disables recording entirely.
type HistoryRecorder interface {
	Append(ctx context.Context, e history.Event) error
}

// Options configures one Loop.
type Options struct {
	Repo             string
	Interval         time.Duration
	StateDir         string
	AutoMergeEnabled bool
	CleanupEnabled   bool
	Sessions         func() []string // lists multiplexer sessions this daemon owns
}

// Loop drives the per-tick algorithm.
type Loop struct {
	forge     ForgeClient
	queueSvc  Queuer
	processor IssueProcessor
	merger    AutoMerger
	cleaner   WindowCleaner
	history   HistoryRecorder
	opts      Options
	log       *slog.Logger

	tickCount int64
}

// New builds a Loop. hist may be nil, disabling event recording.
func New(forgeClient ForgeClient, queueSvc Queuer, processor IssueProcessor, merger AutoMerger, windowCleaner WindowCleaner, hist HistoryRecorder, opts Options) *Loop {
	if opts.Interval <= 0 {
		opts.Interval = 20 * time.Second
	}
	return &Loop{
		forge:     forgeClient,
		queueSvc:  queueSvc,
		processor: processor,
		merger:    merger,
		cleaner:   windowCleaner,
		history:   hist,
		opts:      opts,
		log:       logging.WithComponent("control"),
	}
}

// record appends e to the history store, logging and discarding any
// failure — a history-store outage must never affect workflow behavior.
func (l *Loop) record(ctx context.Context, e history.Event) {
	if l.history == nil {
		return
	}
	if err := l.history.Append(ctx, e); err != nil {
		l.log.Warn("failed to record history event", slog.Any("error", err))
	}
}

func (l *Loop) stoppingFile() string {
	return filepath.Join(l.opts.StateDir, "stopping")
}

// Run blocks, ticking until ctx is canceled or the stopping sentinel file
// appears. It returns nil on a clean shutdown.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if l.sentinelPresent() {
			l.log.Info("stopping sentinel observed, exiting")
			return nil
		}

		err := l.Tick(ctx)
		if err != nil {
			l.log.Error("tick failed", slog.Any("error", err))
		}

		sleepFor := nextSleepDuration(err, l.opts.Interval)
		if sleepFor > l.opts.Interval {
			l.log.Warn("rate limited, sleeping until reset", slog.Duration("sleep", sleepFor))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleepFor):
		}
	}
}

// nextSleepDuration returns how long Run should sleep before the next tick.
// A KindRateLimited error lengthens the sleep to the forge's reset time plus
// one second when that wait is longer than the configured interval; a
// shorter wait, any other error or a nil error keeps the configured interval.
func nextSleepDuration(tickErr error, interval time.Duration) time.Duration {
	fe, ok := tickErr.(*forge.Error)
	if !ok || fe.Kind != forge.KindRateLimited {
		return interval
	}
	wait := time.Until(time.Unix(fe.ResetAt, 0)) + time.Second
	if wait > interval {
		return wait
	}
	return interval
}

func (l *Loop) sentinelPresent() bool {
	_, err := os.Stat(l.stoppingFile())
	return err == nil
}

// Tick runs exactly one iteration of the algorithm.
func (l *Loop) Tick(ctx context.Context) error {
	l.tickCount++
	status := &statusfile.Status{
		PID:        os.Getpid(),
		Repo:       l.opts.Repo,
		LastTickAt: time.Now(),
		TickCount:  l.tickCount,
	}
	defer l.writeStatus(status)

	issues, err := l.forge.ListOpenIssues(ctx, l.opts.Repo)
	if err != nil {
		status.LastError = err.Error()
		return err
	}

	todoCount := 0
	for _, i := range issues {
		if forge.HasLabel(i.Labels, forge.LabelTodo) {
			todoCount++
		}
	}
	if todoCount > 0 && !blocking.Blocking(issues) {
		promoted, err := l.queueSvc.QueueNext(ctx, l.opts.Repo, issues)
		if err != nil {
			l.log.Warn("queue_next_issue failed", slog.Any("error", err))
		} else if promoted != nil {
			issues, err = l.forge.ListOpenIssues(ctx, l.opts.Repo)
			if err != nil {
				status.LastError = err.Error()
				return err
			}
		}
	}

	processable := processableIssues(issues)

	if l.opts.AutoMergeEnabled && l.merger != nil {
		report, err := l.merger.Run(ctx, l.opts.Repo)
		if err != nil {
			l.log.Warn("automerge run failed", slog.Any("error", err))
		} else {
			status.LastAutoMerge = &statusfile.AutoMergeSummary{Merged: len(report.Merged), Failed: len(report.Failed)}
		}
	}

	if l.opts.CleanupEnabled && l.cleaner != nil && l.opts.Sessions != nil {
		if _, err := l.cleaner.Sweep(ctx, l.opts.Repo, l.opts.Sessions()); err != nil {
			l.log.Warn("cleanup sweep failed", slog.Any("error", err))
		}
	}

	if len(processable) > 0 {
		candidate := processable[0]
		if count := blocking.CountActive(issues); count > 1 {
			l.log.Warn("anomaly: more than one active issue, skipping tick", slog.Int("count", count))
			l.record(ctx, history.Event{Timestamp: time.Now(), Repo: l.opts.Repo, Kind: "anomaly", Detail: fmt.Sprintf("more than one active issue (%d), skipped tick", count)})
		} else {
			result, err := l.processor.Process(ctx, l.opts.Repo, candidate)
			if err != nil {
				status.LastError = err.Error()
				l.log.Warn("issue processing failed", slog.Int("issue", candidate.Number), slog.Any("error", err))
			} else if result != nil {
				status.CurrentIssue = candidate.Number
				status.CurrentPhase = string(result.Phase)
			}
		}
	}

	return nil
}

// processableIssues returns issues whose determined phase is neither null
// nor the bare plan phase (todo->queued is driven by queueing, not
// IssueProcessor), sorted ascending by issue number.
func processableIssues(issues []*forge.Issue) []*forge.Issue {
	var out []*forge.Issue
	for _, i := range issues {
		p, ok := phase.DeterminePhase(i.Labels)
		if !ok || p == phase.PlanPhase {
			continue
		}
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Number < out[b].Number })
	return out
}

func (l *Loop) writeStatus(s *statusfile.Status) {
	if l.opts.StateDir == "" {
		return
	}
	path := filepath.Join(l.opts.StateDir, "status.json")
	if err := statusfile.Write(path, s); err != nil {
		l.log.Warn("failed to write status record", slog.Any("error", err))
	}
}
