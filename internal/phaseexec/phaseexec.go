// Package phaseexec turns a phase's configured command into a running
// process: a tmux pane in multiplexer mode, or a direct subprocess otherwise.
// It is fire-and-forget in multiplexer mode — it never waits for the spawned
// agent to finish; completion is signaled by the next relabel, observed on a
// later tick.
package phaseexec

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/avery-oss/loom/internal/logging"
	"github.com/avery-oss/loom/internal/mux"
	"github.com/avery-oss/loom/internal/session"
)

// Mode selects how a phase command is run.
type Mode int

const (
	Multiplexer Mode = iota
	Direct
)

// DefaultStartupDelay is how long the executor waits after creating a pane
// before sending argv, giving the shell time to initialize.
const DefaultStartupDelay = 3 * time.Second

// Spec is one phase's configured command.
type Spec struct {
	Command          string
	Args             []string
	ParameterTemplate string // e.g. "{{issue-number}}"
}

// Result carries where/how a phase ran.
type Result struct {
	Session string
	Window  string
	Pane    string
	Output  string
	ExitOK  bool
}

// Executor runs phase commands, either into a multiplexer pane or as a
// direct subprocess.
type Executor struct {
	sessions     *session.Manager
	mux          mux.Client
	startupDelay time.Duration
	log          *slog.Logger
}

// New builds an Executor. sessions and muxClient may be nil if only direct
// mode is ever used.
func New(sessions *session.Manager, muxClient mux.Client, startupDelay time.Duration) *Executor {
	if startupDelay <= 0 {
		startupDelay = DefaultStartupDelay
	}
	return &Executor{sessions: sessions, mux: muxClient, startupDelay: startupDelay, log: logging.WithComponent("phaseexec")}
}

// BuildArgv substitutes {{issue-number}} in spec.ParameterTemplate and
// spec.Args and assembles the final argv.
func BuildArgv(spec Spec, issueNumber int) []string {
	n := strconv.Itoa(issueNumber)
	substitute := func(s string) string {
		return strings.ReplaceAll(s, "{{issue-number}}", n)
	}
	argv := make([]string, 0, len(spec.Args)+2)
	argv = append(argv, spec.Command)
	for _, a := range spec.Args {
		argv = append(argv, substitute(a))
	}
	if spec.ParameterTemplate != "" {
		argv = append(argv, substitute(spec.ParameterTemplate))
	}
	return argv
}

// Run dispatches spec for issueNumber in the given repo, using mode. In
// Multiplexer mode it falls back to Direct automatically when no multiplexer
// client is installed (spec's "multiplexer missing" error case).
func (e *Executor) Run(ctx context.Context, mode Mode, repo string, issueNumber int, spec Spec) (*Result, error) {
	argv := BuildArgv(spec, issueNumber)

	if mode == Multiplexer && e.sessions != nil && e.mux != nil && e.mux.Installed() {
		return e.runMultiplexer(ctx, repo, issueNumber, argv)
	}
	if mode == Multiplexer {
		e.log.Warn("multiplexer unavailable, falling back to direct mode", slog.Int("issue", issueNumber))
	}
	return e.runDirect(ctx, argv)
}

func (e *Executor) runMultiplexer(ctx context.Context, repo string, issueNumber int, argv []string) (*Result, error) {
	sessionName, _, err := e.sessions.FindOrCreateSession(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("phaseexec: session: %w", err)
	}
	window, _, err := e.sessions.FindOrCreateIssueWindow(ctx, sessionName, issueNumber)
	if err != nil {
		return nil, fmt.Errorf("phaseexec: window: %w", err)
	}
	pane, err := e.sessions.CreatePhasePane(ctx, sessionName, window, false, session.DefaultMaxPanes)
	if err != nil {
		return nil, fmt.Errorf("phaseexec: pane: %w", err)
	}

	select {
	case <-time.After(e.startupDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	cmdline := strings.Join(argv, " ")
	if err := e.mux.SendKeys(ctx, sessionName, window, pane, cmdline); err != nil {
		return nil, fmt.Errorf("phaseexec: send keys: %w", err)
	}
	e.log.Info("dispatched phase command to pane",
		slog.String("session", sessionName), slog.String("window", window), slog.String("pane", pane))
	return &Result{Session: sessionName, Window: window, Pane: pane}, nil
}

func (e *Executor) runDirect(ctx context.Context, argv []string) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("phaseexec: empty argv")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	result := &Result{Output: out.String(), ExitOK: err == nil}
	if err != nil {
		e.log.Warn("direct phase command exited non-zero", slog.Any("error", err))
	}
	return result, nil
}
