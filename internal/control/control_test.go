package control

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avery-oss/loom/internal/automerge"
	"github.com/avery-oss/loom/internal/cleaner"
	"github.com/avery-oss/loom/internal/forge"
	"github.com/avery-oss/loom/internal/history"
	"github.com/avery-oss/loom/internal/issue"
	"github.com/avery-oss/loom/internal/phase"
)

type fakeHistory struct {
	events []history.Event
}

func (f *fakeHistory) Append(ctx context.Context, e history.Event) error {
	f.events = append(f.events, e)
	return nil
}

type fakeForge struct {
	pages [][]*forge.Issue
	calls int
}

func (f *fakeForge) ListOpenIssues(ctx context.Context, repo string) ([]*forge.Issue, error) {
	idx := f.calls
	if idx >= len(f.pages) {
		idx = len(f.pages) - 1
	}
	f.calls++
	return f.pages[idx], nil
}

type fakeQueuer struct {
	promote *forge.Issue
	called  bool
}

func (f *fakeQueuer) QueueNext(ctx context.Context, repo string, issues []*forge.Issue) (*forge.Issue, error) {
	f.called = true
	return f.promote, nil
}

type fakeProcessor struct {
	processed []int
	result    *issue.Result
}

func (f *fakeProcessor) Process(ctx context.Context, repo string, i *forge.Issue) (*issue.Result, error) {
	f.processed = append(f.processed, i.Number)
	if f.result != nil {
		return f.result, nil
	}
	return &issue.Result{Phase: phase.ImplementPhase}, nil
}

type fakeMerger struct{ ran bool }

func (f *fakeMerger) Run(ctx context.Context, repo string) (*automerge.Report, error) {
	f.ran = true
	return &automerge.Report{}, nil
}

type fakeCleaner struct{ ran bool }

func (f *fakeCleaner) Sweep(ctx context.Context, repo string, sessions []string) (*cleaner.Report, error) {
	f.ran = true
	return &cleaner.Report{Ran: true}, nil
}

func issueWithLabel(n int, label string) *forge.Issue {
	return &forge.Issue{Number: n, Labels: []forge.Label{{Name: label}}}
}

func TestTick_ProcessesLowestNumberedProcessableIssue(t *testing.T) {
	f := &fakeForge{pages: [][]*forge.Issue{{
		issueWithLabel(9, forge.LabelReady),
		issueWithLabel(3, forge.LabelReviewRequested),
	}}}
	q := &fakeQueuer{}
	p := &fakeProcessor{}
	opts := Options{Repo: "acme/widgets", StateDir: t.TempDir()}
	loop := New(f, q, p, nil, nil, nil, opts)

	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(p.processed) != 1 || p.processed[0] != 3 {
		t.Fatalf("expected issue 3 processed first, got %v", p.processed)
	}
}

func TestTick_RefreshesIssuesAfterPromotion(t *testing.T) {
	promoted := issueWithLabel(5, forge.LabelQueued)
	f := &fakeForge{pages: [][]*forge.Issue{
		{issueWithLabel(5, forge.LabelTodo)},
		{promoted},
	}}
	q := &fakeQueuer{promote: promoted}
	p := &fakeProcessor{}
	opts := Options{Repo: "acme/widgets", StateDir: t.TempDir()}
	loop := New(f, q, p, nil, nil, nil, opts)

	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if f.calls != 2 {
		t.Fatalf("expected a refresh fetch after promotion, got %d calls", f.calls)
	}
}

func TestTick_AnomalySkipsProcessingWhenMultipleActive(t *testing.T) {
	f := &fakeForge{pages: [][]*forge.Issue{{
		issueWithLabel(1, forge.LabelDoing),
		issueWithLabel(2, forge.LabelReviewing),
	}}}
	q := &fakeQueuer{}
	p := &fakeProcessor{}
	hist := &fakeHistory{}
	opts := Options{Repo: "acme/widgets", StateDir: t.TempDir()}
	loop := New(f, q, p, nil, nil, hist, opts)

	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(p.processed) != 0 {
		t.Fatalf("expected no processing under anomaly, got %v", p.processed)
	}
	if len(hist.events) != 1 || hist.events[0].Kind != "anomaly" {
		t.Fatalf("expected one anomaly history event, got %+v", hist.events)
	}
}

func TestTick_RunsAutoMergeAndCleanupWhenEnabled(t *testing.T) {
	f := &fakeForge{pages: [][]*forge.Issue{{}}}
	q := &fakeQueuer{}
	p := &fakeProcessor{}
	merger := &fakeMerger{}
	cln := &fakeCleaner{}
	opts := Options{
		Repo:             "acme/widgets",
		StateDir:         t.TempDir(),
		AutoMergeEnabled: true,
		CleanupEnabled:   true,
		Sessions:         func() []string { return []string{"workflow-acme-widgets"} },
	}
	loop := New(f, q, p, merger, cln, nil, opts)

	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !merger.ran || !cln.ran {
		t.Fatalf("expected both automerge and cleanup to run: merger=%v cleaner=%v", merger.ran, cln.ran)
	}
}

func TestTick_WritesStatusFile(t *testing.T) {
	f := &fakeForge{pages: [][]*forge.Issue{{issueWithLabel(4, forge.LabelReady)}}}
	q := &fakeQueuer{}
	p := &fakeProcessor{}
	dir := t.TempDir()
	opts := Options{Repo: "acme/widgets", StateDir: dir}
	loop := New(f, q, p, nil, nil, nil, opts)

	if err := loop.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "status.json")); err != nil {
		t.Fatalf("expected status.json to be written: %v", err)
	}
}

func TestNextSleepDuration_KeepsIntervalOnNilError(t *testing.T) {
	got := nextSleepDuration(nil, 20*time.Second)
	if got != 20*time.Second {
		t.Fatalf("expected interval unchanged, got %v", got)
	}
}

func TestNextSleepDuration_KeepsIntervalOnNonRateLimitError(t *testing.T) {
	got := nextSleepDuration(errors.New("boom"), 20*time.Second)
	if got != 20*time.Second {
		t.Fatalf("expected interval unchanged, got %v", got)
	}
}

func TestNextSleepDuration_OverridesIntervalOnRateLimited(t *testing.T) {
	resetAt := time.Now().Add(time.Hour).Unix()
	err := &forge.Error{Kind: forge.KindRateLimited, ResetAt: resetAt}

	got := nextSleepDuration(err, 20*time.Second)

	want := time.Until(time.Unix(resetAt, 0)) + time.Second
	if got < want-time.Second || got > want+time.Second {
		t.Fatalf("expected sleep near %v, got %v", want, got)
	}
}

func TestNextSleepDuration_KeepsIntervalWhenResetAlreadyPast(t *testing.T) {
	resetAt := time.Now().Add(-time.Hour).Unix()
	err := &forge.Error{Kind: forge.KindRateLimited, ResetAt: resetAt}

	got := nextSleepDuration(err, 20*time.Second)
	if got != 20*time.Second {
		t.Fatalf("expected interval to win when reset is already past, got %v", got)
	}
}
