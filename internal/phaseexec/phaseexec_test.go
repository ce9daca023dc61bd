package phaseexec

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/avery-oss/loom/internal/lock"
	"github.com/avery-oss/loom/internal/mux"
	"github.com/avery-oss/loom/internal/session"
)

func TestBuildArgv_SubstitutesIssueNumber(t *testing.T) {
	spec := Spec{Command: "plan-agent", Args: []string{"--repo", "acme/widgets"}, ParameterTemplate: "{{issue-number}}"}
	argv := BuildArgv(spec, 42)
	want := []string{"plan-agent", "--repo", "acme/widgets", "42"}
	if strings.Join(argv, " ") != strings.Join(want, " ") {
		t.Fatalf("BuildArgv = %v, want %v", argv, want)
	}
}

func newExecutor(t *testing.T) (*Executor, *mux.Fake) {
	t.Helper()
	locker, err := lock.New(t.TempDir(), time.Minute)
	if err != nil {
		t.Fatalf("lock.New: %v", err)
	}
	muxClient := mux.NewFake()
	sessions := session.New(muxClient, locker)
	return New(sessions, muxClient, time.Millisecond), muxClient
}

func TestRun_MultiplexerSendsArgvToPane(t *testing.T) {
	exec, muxClient := newExecutor(t)
	spec := Spec{Command: "plan-agent", ParameterTemplate: "{{issue-number}}"}

	result, err := exec.Run(context.Background(), Multiplexer, "acme/widgets", 7, spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Session == "" || result.Window != "issue-7" || result.Pane == "" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(muxClient.Sent) != 1 || muxClient.Sent[0].Text != "plan-agent 7" {
		t.Fatalf("unexpected sent keys: %+v", muxClient.Sent)
	}
}

func TestRun_FallsBackToDirectWhenMultiplexerMissing(t *testing.T) {
	exec, muxClient := newExecutor(t)
	muxClient.SetInstalled(false)
	spec := Spec{Command: "echo", Args: []string{"hello"}}

	result, err := exec.Run(context.Background(), Multiplexer, "acme/widgets", 1, spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Session != "" {
		t.Fatalf("expected direct-mode result, got multiplexer fields: %+v", result)
	}
	if !result.ExitOK {
		t.Fatalf("expected echo to succeed, got %+v", result)
	}
}

func TestRun_DirectModeCapturesOutput(t *testing.T) {
	exec, _ := newExecutor(t)
	spec := Spec{Command: "echo", Args: []string{"hi-{{issue-number}}"}}

	result, err := exec.Run(context.Background(), Direct, "acme/widgets", 3, spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(result.Output, "hi-3") {
		t.Fatalf("expected output to contain substituted arg, got %q", result.Output)
	}
}
