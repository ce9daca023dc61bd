package issue

import (
	"context"
	"testing"
	"time"

	"github.com/avery-oss/loom/internal/forge"
	"github.com/avery-oss/loom/internal/history"
	"github.com/avery-oss/loom/internal/lock"
	"github.com/avery-oss/loom/internal/mux"
	"github.com/avery-oss/loom/internal/notify"
	"github.com/avery-oss/loom/internal/phase"
	"github.com/avery-oss/loom/internal/phaseexec"
	"github.com/avery-oss/loom/internal/session"
)

type fakeClient struct {
	casResult bool
	casErr    error
	calls     []string
}

func (f *fakeClient) UpdateLabelsWithCheck(ctx context.Context, repo string, number int, from, to string) (bool, error) {
	f.calls = append(f.calls, from+"->"+to)
	return f.casResult, f.casErr
}

type fakeHistory struct {
	events []history.Event
}

func (f *fakeHistory) Append(ctx context.Context, e history.Event) error {
	f.events = append(f.events, e)
	return nil
}

func newProcessor(t *testing.T, client ForgeClient, commands CommandLookup) *Processor {
	t.Helper()
	return newProcessorWithHistory(t, client, commands, nil)
}

func newProcessorWithHistory(t *testing.T, client ForgeClient, commands CommandLookup, hist HistoryRecorder) *Processor {
	t.Helper()
	locker, err := lock.New(t.TempDir(), time.Minute)
	if err != nil {
		t.Fatalf("lock.New: %v", err)
	}
	muxClient := mux.NewFake()
	sessions := session.New(muxClient, locker)
	executor := phaseexec.New(sessions, muxClient, time.Millisecond)
	notifier := notify.New("", false)
	return New(client, locker, executor, notifier, hist, commands, phaseexec.Direct)
}

func noCommands(phase.Phase) (phaseexec.Spec, bool) { return phaseexec.Spec{}, false }

func TestProcess_InProgressLabelSkips(t *testing.T) {
	client := &fakeClient{casResult: true}
	p := newProcessor(t, client, noCommands)

	i := &forge.Issue{Number: 1, Labels: []forge.Label{{Name: forge.LabelDoing}}}
	result, err := p.Process(context.Background(), "acme/widgets", i)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !result.Skipped || len(client.calls) != 0 {
		t.Fatalf("expected skip with no CAS attempt, got %+v calls=%v", result, client.calls)
	}
}

func TestProcess_UnconfiguredPhaseCASOnly(t *testing.T) {
	client := &fakeClient{casResult: true}
	p := newProcessor(t, client, noCommands)

	i := &forge.Issue{Number: 2, Labels: []forge.Label{{Name: forge.LabelTodo}}}
	result, err := p.Process(context.Background(), "acme/widgets", i)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !result.WorkflowSkipped {
		t.Fatalf("expected workflow_skipped, got %+v", result)
	}
	if len(client.calls) != 1 || client.calls[0] != forge.LabelTodo+"->"+forge.LabelQueued {
		t.Fatalf("unexpected CAS calls: %v", client.calls)
	}
}

func TestProcess_LostRaceReturnsSkip(t *testing.T) {
	client := &fakeClient{casResult: false}
	commands := func(p phase.Phase) (phaseexec.Spec, bool) {
		return phaseexec.Spec{Command: "echo"}, true
	}
	p := newProcessor(t, client, commands)

	i := &forge.Issue{Number: 3, Labels: []forge.Label{{Name: forge.LabelReady}}}
	result, err := p.Process(context.Background(), "acme/widgets", i)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !result.Skipped || result.SkipReason != "label state changed" {
		t.Fatalf("expected label-changed skip, got %+v", result)
	}
}

func TestProcess_ConfiguredCommandDispatches(t *testing.T) {
	client := &fakeClient{casResult: true}
	commands := func(p phase.Phase) (phaseexec.Spec, bool) {
		return phaseexec.Spec{Command: "echo", ParameterTemplate: "{{issue-number}}"}, true
	}
	p := newProcessor(t, client, commands)

	i := &forge.Issue{Number: 9, Labels: []forge.Label{{Name: forge.LabelReady}}}
	result, err := p.Process(context.Background(), "acme/widgets", i)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Phase != phase.ImplementPhase || result.ExecResult == nil {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(client.calls) != 1 || client.calls[0] != forge.LabelReady+"->"+forge.LabelDoing {
		t.Fatalf("unexpected CAS calls: %v", client.calls)
	}
}

func TestProcess_RecordsHistoryEventOnDispatch(t *testing.T) {
	client := &fakeClient{casResult: true}
	commands := func(p phase.Phase) (phaseexec.Spec, bool) {
		return phaseexec.Spec{Command: "echo", ParameterTemplate: "{{issue-number}}"}, true
	}
	hist := &fakeHistory{}
	p := newProcessorWithHistory(t, client, commands, hist)

	i := &forge.Issue{Number: 9, Labels: []forge.Label{{Name: forge.LabelReady}}}
	if _, err := p.Process(context.Background(), "acme/widgets", i); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(hist.events) != 1 {
		t.Fatalf("expected one history event, got %+v", hist.events)
	}
	e := hist.events[0]
	if e.FromLabel != forge.LabelReady || e.ToLabel != forge.LabelDoing || e.Kind != "phase_transition" {
		t.Fatalf("unexpected history event: %+v", e)
	}
}
