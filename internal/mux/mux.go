// Package mux wraps an external terminal-multiplexer CLI (tmux-compatible):
// sessions, windows, panes, key injection, and output capture. Every
// operation shells out; HasSession reports failure as false, and the other
// operations return the command's error. The multiplexer boundary is the
// real API surface, hidden behind this interface so tests can substitute a
// fake.
package mux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrNotInstalled names the "multiplexer binary not on PATH" condition. The
// operations of Real do not return it; callers (PhaseExecutor) check
// Installed() to downgrade to direct subprocess mode.
var ErrNotInstalled = fmt.Errorf("multiplexer: binary not on PATH")

// Pane describes one entry from list-panes.
type Pane struct {
	ID        string
	StartTime time.Time
}

// Window describes one entry from list-windows.
type Window struct {
	ID   string
	Name string
}

// Client is the interface PhaseExecutor and SessionManager program against;
// Real is the production implementation, Fake is the in-memory test double.
type Client interface {
	Installed() bool
	HasSession(ctx context.Context, name string) bool
	CreateSession(ctx context.Context, name string) error
	KillSession(ctx context.Context, name string) error
	CreateWindow(ctx context.Context, session, name string) error
	KillWindow(ctx context.Context, session, window string) error
	ListWindows(ctx context.Context, session string) ([]Window, error)
	ListPanes(ctx context.Context, session, window string) ([]Pane, error)
	SplitWindow(ctx context.Context, session, window string, vertical bool) (paneID string, err error)
	KillPane(ctx context.Context, session, paneID string) error
	SelectLayout(ctx context.Context, session, window, layout string) error
	SendKeys(ctx context.Context, session, window, pane, text string) error
	CapturePane(ctx context.Context, session, window, pane string) (string, error)
}

// Real shells out to the binary named by Bin (default "tmux").
type Real struct {
	Bin string
}

// New returns a Real client using the given binary name, or "tmux" if empty.
func New(bin string) *Real {
	if bin == "" {
		bin = "tmux"
	}
	return &Real{Bin: bin}
}

func (r *Real) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.Bin, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

// Installed reports whether the multiplexer binary resolves on PATH.
func (r *Real) Installed() bool {
	_, err := exec.LookPath(r.Bin)
	return err == nil
}

func (r *Real) HasSession(ctx context.Context, name string) bool {
	_, err := r.run(ctx, "has-session", "-t", name)
	return err == nil
}

func (r *Real) CreateSession(ctx context.Context, name string) error {
	_, err := r.run(ctx, "new-session", "-d", "-s", name)
	return err
}

func (r *Real) KillSession(ctx context.Context, name string) error {
	_, err := r.run(ctx, "kill-session", "-t", name)
	return err
}

func (r *Real) CreateWindow(ctx context.Context, session, name string) error {
	_, err := r.run(ctx, "new-window", "-t", session, "-n", name)
	return err
}

func (r *Real) KillWindow(ctx context.Context, session, window string) error {
	target := session + ":" + window
	_, err := r.run(ctx, "kill-window", "-t", target)
	return err
}

func (r *Real) ListWindows(ctx context.Context, session string) ([]Window, error) {
	out, err := r.run(ctx, "list-windows", "-t", session, "-F", "#{window_id}\t#{window_name}")
	if err != nil {
		return nil, err
	}
	var windows []Window
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		windows = append(windows, Window{ID: parts[0], Name: parts[1]})
	}
	return windows, nil
}

func (r *Real) ListPanes(ctx context.Context, session, window string) ([]Pane, error) {
	target := session + ":" + window
	out, err := r.run(ctx, "list-panes", "-t", target, "-F", "#{pane_id}\t#{pane_start_command_time}")
	if err != nil {
		return nil, err
	}
	var panes []Pane
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		epoch, convErr := strconv.ParseInt(parts[1], 10, 64)
		if convErr != nil {
			continue
		}
		panes = append(panes, Pane{ID: parts[0], StartTime: time.Unix(epoch, 0)})
	}
	return panes, nil
}

func (r *Real) SplitWindow(ctx context.Context, session, window string, vertical bool) (string, error) {
	target := session + ":" + window
	flag := "-h"
	if vertical {
		flag = "-v"
	}
	out, err := r.run(ctx, "split-window", flag, "-t", target, "-P", "-F", "#{pane_id}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (r *Real) KillPane(ctx context.Context, session, paneID string) error {
	_, err := r.run(ctx, "kill-pane", "-t", paneID)
	return err
}

func (r *Real) SelectLayout(ctx context.Context, session, window, layout string) error {
	target := session + ":" + window
	_, err := r.run(ctx, "select-layout", "-t", target, layout)
	return err
}

func (r *Real) SendKeys(ctx context.Context, session, window, pane, text string) error {
	target := session + ":" + window + "." + pane
	_, err := r.run(ctx, "send-keys", "-t", target, text, "Enter")
	return err
}

func (r *Real) CapturePane(ctx context.Context, session, window, pane string) (string, error) {
	target := session + ":" + window + "." + pane
	return r.run(ctx, "capture-pane", "-t", target, "-p")
}
