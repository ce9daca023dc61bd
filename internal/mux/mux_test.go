package mux

import (
	"context"
	"testing"
)

func TestFakeSessionAndWindowLifecycle(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	if f.HasSession(ctx, "workflow-acme-widgets") {
		t.Fatal("session should not exist yet")
	}
	if err := f.CreateSession(ctx, "workflow-acme-widgets"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !f.HasSession(ctx, "workflow-acme-widgets") {
		t.Fatal("expected session to exist")
	}

	if err := f.CreateWindow(ctx, "workflow-acme-widgets", "issue-12"); err != nil {
		t.Fatalf("CreateWindow: %v", err)
	}
	windows, err := f.ListWindows(ctx, "workflow-acme-widgets")
	if err != nil {
		t.Fatalf("ListWindows: %v", err)
	}
	if len(windows) != 1 || windows[0].Name != "issue-12" {
		t.Fatalf("unexpected windows: %+v", windows)
	}
}

func TestFakeSplitWindowAssignsIncreasingStartTimes(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	_ = f.CreateSession(ctx, "s")
	_ = f.CreateWindow(ctx, "s", "issue-1")

	p1, _ := f.SplitWindow(ctx, "s", "issue-1", false)
	p2, _ := f.SplitWindow(ctx, "s", "issue-1", false)

	panes, _ := f.ListPanes(ctx, "s", "issue-1")
	if len(panes) != 2 || panes[0].ID != p1 || panes[1].ID != p2 {
		t.Fatalf("expected panes in start-time order, got %+v", panes)
	}
}

func TestFakeSendKeysRecordsCall(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	if err := f.SendKeys(ctx, "s", "issue-1", "%1", "run-plan 12"); err != nil {
		t.Fatalf("SendKeys: %v", err)
	}
	if len(f.Sent) != 1 || f.Sent[0].Text != "run-plan 12" {
		t.Fatalf("unexpected sent keys: %+v", f.Sent)
	}
}

func TestFakeNotInstalledSignalsFallback(t *testing.T) {
	f := NewFake()
	f.SetInstalled(false)
	if f.Installed() {
		t.Fatal("expected Installed() to report false")
	}
}
