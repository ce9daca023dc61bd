package mux

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Fake is an in-memory Client used by tests for SessionManager and
// PhaseExecutor so they never shell out to a real multiplexer binary.
type Fake struct {
	installed bool
	sessions  map[string]bool
	windows   map[string][]Window        // session -> windows
	panes     map[string]map[string][]Pane // session -> window -> panes
	nextPane  int
	Sent      []SentKeys
}

// SentKeys records one SendKeys call for assertions in tests.
type SentKeys struct {
	Session, Window, Pane, Text string
}

// NewFake returns a Fake that reports as installed.
func NewFake() *Fake {
	return &Fake{
		installed: true,
		sessions:  make(map[string]bool),
		windows:   make(map[string][]Window),
		panes:     make(map[string]map[string][]Pane),
	}
}

// SetInstalled controls what Installed() reports, for exercising the
// direct-mode fallback path.
func (f *Fake) SetInstalled(v bool) { f.installed = v }

func (f *Fake) Installed() bool { return f.installed }

func (f *Fake) HasSession(ctx context.Context, name string) bool { return f.sessions[name] }

func (f *Fake) CreateSession(ctx context.Context, name string) error {
	f.sessions[name] = true
	return nil
}

func (f *Fake) KillSession(ctx context.Context, name string) error {
	delete(f.sessions, name)
	delete(f.windows, name)
	delete(f.panes, name)
	return nil
}

func (f *Fake) CreateWindow(ctx context.Context, session, name string) error {
	id := fmt.Sprintf("@%d", len(f.windows[session])+1)
	f.windows[session] = append(f.windows[session], Window{ID: id, Name: name})
	if f.panes[session] == nil {
		f.panes[session] = make(map[string][]Pane)
	}
	return nil
}

func (f *Fake) KillWindow(ctx context.Context, session, window string) error {
	windows := f.windows[session]
	for i, w := range windows {
		if w.Name == window {
			f.windows[session] = append(windows[:i], windows[i+1:]...)
			break
		}
	}
	delete(f.panes[session], window)
	return nil
}

func (f *Fake) ListWindows(ctx context.Context, session string) ([]Window, error) {
	return append([]Window(nil), f.windows[session]...), nil
}

func (f *Fake) ListPanes(ctx context.Context, session, window string) ([]Pane, error) {
	panes := f.panes[session][window]
	sorted := append([]Pane(nil), panes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartTime.Before(sorted[j].StartTime) })
	return sorted, nil
}

// AddPane seeds a pane directly, for pane-cap eviction tests that need
// specific start times.
func (f *Fake) AddPane(session, window string, p Pane) {
	if f.panes[session] == nil {
		f.panes[session] = make(map[string][]Pane)
	}
	f.panes[session][window] = append(f.panes[session][window], p)
}

func (f *Fake) SplitWindow(ctx context.Context, session, window string, vertical bool) (string, error) {
	f.nextPane++
	id := fmt.Sprintf("%%%d", f.nextPane)
	f.AddPane(session, window, Pane{ID: id, StartTime: time.Unix(int64(f.nextPane), 0)})
	return id, nil
}

func (f *Fake) KillPane(ctx context.Context, session, paneID string) error {
	for window, panes := range f.panes[session] {
		for i, p := range panes {
			if p.ID == paneID {
				f.panes[session][window] = append(panes[:i], panes[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (f *Fake) SelectLayout(ctx context.Context, session, window, layout string) error { return nil }

func (f *Fake) SendKeys(ctx context.Context, session, window, pane, text string) error {
	f.Sent = append(f.Sent, SentKeys{Session: session, Window: window, Pane: pane, Text: text})
	return nil
}

func (f *Fake) CapturePane(ctx context.Context, session, window, pane string) (string, error) {
	return "", nil
}
