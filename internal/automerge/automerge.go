// Package automerge implements the lgtm-labeled pull-request merge sweep.
// It runs once per tick when enabled, independent of IssueProcessor.
package automerge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avery-oss/loom/internal/forge"
	"github.com/avery-oss/loom/internal/history"
	"github.com/avery-oss/loom/internal/logging"
)

// ForgeClient is the subset of forge.Client AutoMerger needs.
type ForgeClient interface {
	SearchPRsWithLabels(ctx context.Context, repo string, labels []string) ([]*forge.PullRequest, error)
	GetPR(ctx context.Context, repo string, number int) (*forge.PullRequest, error)
	MergePR(ctx context.Context, repo string, number int, method string) (*forge.MergeResult, error)
	CloseIssueWithLabel(ctx context.Context, repo string, number int, label string) error
}

// HistoryRecorder is the subset of history.Store AutoMerger appends
// through. Nil disables recording entirely.
type HistoryRecorder interface {
	Append(ctx context.Context, e history.Event) error
}

// Failure records why a pull request was not merged.
type Failure struct {
	Number int
	Reason string
}

// Report is the tick's merge outcome.
type Report struct {
	Merged []int
	Failed []Failure
}

// AutoMerger scans lgtm-labeled pull requests and merges the mergeable ones.
type AutoMerger struct {
	client  ForgeClient
	history HistoryRecorder
	log     *slog.Logger
}

// New builds an AutoMerger. hist may be nil, disabling event recording.
func New(client ForgeClient, hist HistoryRecorder) *AutoMerger {
	return &AutoMerger{client: client, history: hist, log: logging.WithComponent("automerge")}
}

// record appends e to the history store, logging and discarding any
// failure — a history-store outage must never affect workflow behavior.
func (a *AutoMerger) record(ctx context.Context, e history.Event) {
	if a.history == nil {
		return
	}
	if err := a.history.Append(ctx, e); err != nil {
		a.log.Warn("failed to record history event", slog.Any("error", err))
	}
}

// unmergeableStates are mergeable_state values automerge refuses to touch
// even when mergeable reports true (GitHub can report these transiently).
var unmergeableStates = map[string]bool{"dirty": true, "blocked": true}

// Run scans repo's lgtm-labeled pull requests and merges each one that is
// mergeable, closing its linked issue with the merged label on success.
func (a *AutoMerger) Run(ctx context.Context, repo string) (*Report, error) {
	prs, err := a.client.SearchPRsWithLabels(ctx, repo, []string{forge.LabelLGTM})
	if err != nil {
		return nil, fmt.Errorf("automerge: search: %w", err)
	}

	report := &Report{}
	for _, pr := range prs {
		full, err := a.client.GetPR(ctx, repo, pr.Number)
		if err != nil {
			report.Failed = append(report.Failed, Failure{Number: pr.Number, Reason: err.Error()})
			continue
		}

		if full.Mergeable != nil && !*full.Mergeable {
			report.Failed = append(report.Failed, Failure{Number: full.Number, Reason: "not mergeable"})
			continue
		}
		if unmergeableStates[full.MergeableState] {
			report.Failed = append(report.Failed, Failure{Number: full.Number, Reason: "mergeable_state=" + full.MergeableState})
			continue
		}

		if _, err := a.client.MergePR(ctx, repo, full.Number, "squash"); err != nil {
			report.Failed = append(report.Failed, Failure{Number: full.Number, Reason: err.Error()})
			a.log.Warn("merge failed", slog.Int("pr", full.Number), slog.Any("error", err))
			a.record(ctx, history.Event{Timestamp: time.Now(), Repo: repo, Issue: full.Number, Kind: "merge_failed", Detail: err.Error()})
			continue
		}

		report.Merged = append(report.Merged, full.Number)
		a.record(ctx, history.Event{Timestamp: time.Now(), Repo: repo, Issue: full.Number, Kind: "merge", Detail: "squash merged"})
		if linked := forge.PRLinkedIssue(full); linked != 0 {
			if err := a.client.CloseIssueWithLabel(ctx, repo, linked, forge.LabelMerged); err != nil {
				a.log.Warn("failed to close linked issue", slog.Int("issue", linked), slog.Any("error", err))
			} else {
				a.record(ctx, history.Event{Timestamp: time.Now(), Repo: repo, Issue: linked, Kind: "phase_transition", ToLabel: forge.LabelMerged, Detail: "closed via merged pr #" + fmt.Sprint(full.Number)})
			}
		}
		a.log.Info("merged pull request", slog.Int("pr", full.Number))
	}
	return report, nil
}
