// Package cleaner implements the closed-window sweep: issue windows whose
// issue has closed are removed from the multiplexer session, reclaiming
// panes the daemon will never revisit.
package cleaner

import (
	"context"
	"log/slog"
	"time"

	"github.com/avery-oss/loom/internal/forge"
	"github.com/avery-oss/loom/internal/history"
	"github.com/avery-oss/loom/internal/logging"
	"github.com/avery-oss/loom/internal/mux"
	"github.com/avery-oss/loom/internal/session"
)

// DefaultInterval is how often the sweep is allowed to run.
const DefaultInterval = 300 * time.Second

// ForgeClient is the subset of forge.Client the cleaner needs.
type ForgeClient interface {
	ListClosedIssues(ctx context.Context, repo string) ([]*forge.Issue, error)
}

// HistoryRecorder is the subset of history.Store the cleaner appends
// through. Nil disables recording entirely.
type HistoryRecorder interface {
	Append(ctx context.Context, e history.Event) error
}

// Cleaner removes multiplexer windows for issues that have closed.
type Cleaner struct {
	client   ForgeClient
	mux      mux.Client
	sessions *session.Manager
	history  HistoryRecorder
	interval time.Duration
	lastRun  time.Time
	now      func() time.Time
	log      *slog.Logger
}

// New builds a Cleaner. interval <= 0 uses DefaultInterval. hist may be
// nil, disabling event recording.
func New(client ForgeClient, muxClient mux.Client, sessions *session.Manager, hist HistoryRecorder, interval time.Duration) *Cleaner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Cleaner{
		client:   client,
		mux:      muxClient,
		sessions: sessions,
		history:  hist,
		interval: interval,
		now:      time.Now,
		log:      logging.WithComponent("cleaner"),
	}
}

// record appends e to the history store, logging and discarding any
// failure — a history-store outage must never affect workflow behavior.
func (c *Cleaner) record(ctx context.Context, e history.Event) {
	if c.history == nil {
		return
	}
	if err := c.history.Append(ctx, e); err != nil {
		c.log.Warn("failed to record history event", slog.Any("error", err))
	}
}

// Report summarizes one sweep.
type Report struct {
	Ran     bool
	Removed []string // "session/window"
}

// Sweep runs the sweep if enough time has elapsed since the last run for
// this Cleaner instance, closing windows whose issue number is in the
// closed set. Sessions named outside the orchestrator's naming convention
// are ignored by the caller, which must only pass sessions it manages.
func (c *Cleaner) Sweep(ctx context.Context, repo string, sessions []string) (*Report, error) {
	now := c.now()
	if !c.lastRun.IsZero() && now.Sub(c.lastRun) < c.interval {
		return &Report{Ran: false}, nil
	}
	c.lastRun = now

	closed, err := c.client.ListClosedIssues(ctx, repo)
	if err != nil {
		return nil, err
	}
	closedSet := make(map[int]bool, len(closed))
	for _, i := range closed {
		closedSet[i.Number] = true
	}

	report := &Report{Ran: true}
	for _, s := range sessions {
		windows, err := c.sessions.ListIssueWindows(ctx, s)
		if err != nil {
			c.log.Warn("failed to list windows", slog.String("session", s), slog.Any("error", err))
			continue
		}
		for _, w := range windows {
			if !closedSet[w.IssueNumber] {
				continue
			}
			if err := c.mux.KillWindow(ctx, s, w.Title); err != nil {
				c.log.Warn("failed to kill window", slog.String("session", s), slog.String("window", w.Title), slog.Any("error", err))
				continue
			}
			report.Removed = append(report.Removed, s+"/"+w.Title)
			c.record(ctx, history.Event{Timestamp: c.now(), Repo: repo, Issue: w.IssueNumber, Kind: "cleanup", Detail: "removed window " + s + "/" + w.Title})
		}
	}
	return report, nil
}
