// Package session implements the terminal-multiplexer session/window/pane
// lifecycle that hosts phase executions: one session per repository, one
// window per issue, one pane per phase invocation, with an LRU pane cap.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/avery-oss/loom/internal/lock"
	"github.com/avery-oss/loom/internal/logging"
	"github.com/avery-oss/loom/internal/mux"
)

// DefaultMaxPanes is the default pane-count cap per window.
const DefaultMaxPanes = 3

// windowRe enforces the exact "issue-<n>" window-name shape; no looser
// matching is accepted.
var windowRe = regexp.MustCompile(`^issue-(\d+)$`)

// Manager names and finds the per-repository session, manages per-issue
// windows and per-phase panes, and enforces the pane-count cap.
type Manager struct {
	client mux.Client
	locker *lock.Locker
	log    *slog.Logger
}

// New builds a Manager over a mux.Client (real or fake) and a Locker for
// the (session, window) pane-creation critical section.
func New(client mux.Client, locker *lock.Locker) *Manager {
	return &Manager{client: client, locker: locker, log: logging.WithComponent("session")}
}

// SessionName returns the session name for a repo: "workflow-<slug>" where
// slug replaces '/', '.', '_' with '-'. Legacy sessions append "-<pid>".
func SessionName(repo string) string {
	slug := strings.NewReplacer("/", "-", ".", "-", "_", "-").Replace(repo)
	return "workflow-" + slug
}

// LegacySessionName returns the "-<pid>" variant used by older daemons, for
// fallback lookup from a sibling CLI invocation.
func LegacySessionName(repo string, pid int) string {
	return fmt.Sprintf("%s-%d", SessionName(repo), pid)
}

// FindOrCreateSession returns the session name for repo, creating it if
// absent. Tries the modern name first; callers needing the legacy fallback
// use FindSessionForAttach.
func (m *Manager) FindOrCreateSession(ctx context.Context, repo string) (name string, created bool, err error) {
	name = SessionName(repo)
	if m.client.HasSession(ctx, name) {
		return name, false, nil
	}
	if err := m.client.CreateSession(ctx, name); err != nil {
		return "", false, fmt.Errorf("session: create %s: %w", name, err)
	}
	return name, true, nil
}

// FindSessionForAttach looks up the modern session name first, then the
// legacy "-<pid>" variant for a running daemon match. Used only by the
// out-of-band "open" CLI path, never from the daemon's own tick.
func (m *Manager) FindSessionForAttach(ctx context.Context, repo string, pid int) (string, bool) {
	name := SessionName(repo)
	if m.client.HasSession(ctx, name) {
		return name, true
	}
	legacy := LegacySessionName(repo, pid)
	if m.client.HasSession(ctx, legacy) {
		return legacy, true
	}
	return "", false
}

// FindOrCreateIssueWindow returns the window name for an issue ("issue-<n>"),
// creating it in session if absent. Window lookup is exact-name match only.
func (m *Manager) FindOrCreateIssueWindow(ctx context.Context, session string, issueNumber int) (window string, created bool, err error) {
	window = fmt.Sprintf("issue-%d", issueNumber)
	windows, err := m.client.ListWindows(ctx, session)
	if err != nil {
		return "", false, fmt.Errorf("session: list windows: %w", err)
	}
	for _, w := range windows {
		if w.Name == window {
			return window, false, nil
		}
	}
	if err := m.client.CreateWindow(ctx, session, window); err != nil {
		return "", false, fmt.Errorf("session: create window %s: %w", window, err)
	}
	return window, true, nil
}

// CreatePhasePane creates a pane for a phase invocation in the given
// window, evicting the oldest pane first if the window is already at
// maxPanes. The whole sequence is guarded by a file lock keyed on
// (session, window) so concurrent ticks cannot race pane creation against
// eviction.
func (m *Manager) CreatePhasePane(ctx context.Context, session, window string, vertical bool, maxPanes int) (paneID string, err error) {
	if maxPanes <= 0 {
		maxPanes = DefaultMaxPanes
	}

	h, err := m.locker.Acquire(ctx, lock.SessionWindowKey(session, window), 5*time.Second)
	if err != nil {
		return "", fmt.Errorf("session: acquire pane lock: %w", err)
	}
	defer func() { _ = h.Release() }()

	panes, err := m.client.ListPanes(ctx, session, window)
	if err != nil {
		return "", fmt.Errorf("session: list panes: %w", err)
	}
	sort.Slice(panes, func(i, j int) bool { return panes[i].StartTime.Before(panes[j].StartTime) })

	for len(panes) >= maxPanes {
		oldest := panes[0]
		if err := m.client.KillPane(ctx, session, oldest.ID); err != nil {
			m.log.Warn("failed to evict oldest pane", slog.String("pane", oldest.ID), slog.Any("error", err))
		}
		panes = panes[1:]
	}

	paneID, err = m.client.SplitWindow(ctx, session, window, vertical)
	if err != nil {
		return "", fmt.Errorf("session: split window: %w", err)
	}
	if err := m.client.SelectLayout(ctx, session, window, "even-horizontal"); err != nil {
		m.log.Warn("select-layout failed", slog.Any("error", err))
	}
	return paneID, nil
}

// IssueWindow pairs an issue number with its window title.
type IssueWindow struct {
	IssueNumber int
	Title       string
}

// ListIssueWindows returns every "issue-<n>" window in session.
func (m *Manager) ListIssueWindows(ctx context.Context, session string) ([]IssueWindow, error) {
	windows, err := m.client.ListWindows(ctx, session)
	if err != nil {
		return nil, err
	}
	var result []IssueWindow
	for _, w := range windows {
		m := windowRe.FindStringSubmatch(w.Name)
		if m == nil {
			continue
		}
		n, convErr := strconv.Atoi(m[1])
		if convErr != nil {
			continue
		}
		result = append(result, IssueWindow{IssueNumber: n, Title: w.Name})
	}
	return result, nil
}

// FindIssueWindow returns the window id for issue n in session, if any.
func (m *Manager) FindIssueWindow(ctx context.Context, session string, issueNumber int) (string, bool) {
	want := fmt.Sprintf("issue-%d", issueNumber)
	windows, err := m.client.ListWindows(ctx, session)
	if err != nil {
		return "", false
	}
	for _, w := range windows {
		if w.Name == want {
			return w.ID, true
		}
	}
	return "", false
}
