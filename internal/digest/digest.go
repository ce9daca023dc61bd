// Package digest periodically summarizes recent workflow activity from the
// history store and delivers it through the notifier. It runs on its own
// cron schedule, isolated from the tick loop: a slow or failing digest run
// must never delay or block a workflow tick.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/avery-oss/loom/internal/history"
	"github.com/avery-oss/loom/internal/logging"
	"github.com/avery-oss/loom/internal/notify"
)

// Report summarizes one digest window.
type Report struct {
	Repo           string
	WindowStart    time.Time
	WindowEnd      time.Time
	PhaseCount     int
	MergeCount     int
	CleanupCount   int
	ErrorCount     int
	IssuesTouched  []int
}

// String renders report as a short human-readable summary line set.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "digest for %s (%s - %s)\n", r.Repo, r.WindowStart.Format(time.RFC3339), r.WindowEnd.Format(time.RFC3339))
	fmt.Fprintf(&b, "phases: %d, merges: %d, cleanups: %d, errors: %d\n", r.PhaseCount, r.MergeCount, r.CleanupCount, r.ErrorCount)
	fmt.Fprintf(&b, "issues touched: %v\n", r.IssuesTouched)
	return b.String()
}

// Store is the subset of history.Store the digest needs.
type Store interface {
	Query(ctx context.Context, repo string, since time.Time) ([]history.Event, error)
}

// Job runs the cron-scheduled digest.
type Job struct {
	store    Store
	notifier *notify.Notifier
	repo     string
	cron     *cron.Cron
	log      *slog.Logger
	lastRun  time.Time
}

// New builds a Job. schedule is a standard 5-field cron expression.
func New(store Store, notifier *notify.Notifier, repo, schedule string) (*Job, error) {
	j := &Job{
		store:    store,
		notifier: notifier,
		repo:     repo,
		cron:     cron.New(),
		log:      logging.WithComponent("digest"),
		lastRun:  time.Now(),
	}
	if _, err := j.cron.AddFunc(schedule, j.runOnce); err != nil {
		return nil, fmt.Errorf("digest: invalid schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins the cron scheduler in the background.
func (j *Job) Start() { j.cron.Start() }

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (j *Job) Stop() { <-j.cron.Stop().Done() }

func (j *Job) runOnce() {
	ctx := context.Background()
	report, err := j.Build(ctx, j.lastRun, time.Now())
	j.lastRun = time.Now()
	if err != nil {
		j.log.Warn("failed to build digest", slog.Any("error", err))
		return
	}
	j.notifier.Notify(ctx, notify.Event{Type: "digest", Repo: j.repo, Message: report.String()})
}

// Build queries the history store for events from since through until (both
// ends inclusive) and aggregates them into a Report.
func (j *Job) Build(ctx context.Context, since, until time.Time) (*Report, error) {
	events, err := j.store.Query(ctx, j.repo, since)
	if err != nil {
		return nil, fmt.Errorf("digest: query: %w", err)
	}

	report := &Report{Repo: j.repo, WindowStart: since, WindowEnd: until}
	seen := make(map[int]bool)
	for _, e := range events {
		if e.Timestamp.After(until) {
			continue
		}
		switch e.Kind {
		case "phase_transition":
			report.PhaseCount++
		case "merge":
			report.MergeCount++
		case "cleanup":
			report.CleanupCount++
		case "error", "phase_transition_error", "phase_exec_error", "merge_failed":
			report.ErrorCount++
		}
		if e.Issue != 0 && !seen[e.Issue] {
			seen[e.Issue] = true
			report.IssuesTouched = append(report.IssuesTouched, e.Issue)
		}
	}
	return report, nil
}
