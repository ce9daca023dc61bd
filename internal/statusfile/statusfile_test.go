package statusfile

import (
	"path/filepath"
	"testing"
	"time"
)

func TestWriteAndReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	want := &Status{PID: 123, Repo: "acme/widgets", StartedAt: time.Unix(1000, 0).UTC(), TickCount: 5}

	if err := Write(path, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.PID != want.PID || got.Repo != want.Repo || got.TickCount != want.TickCount {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestWriteOverwritesPreviousAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	_ = Write(path, &Status{TickCount: 1})
	_ = Write(path, &Status{TickCount: 2})

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.TickCount != 2 {
		t.Fatalf("expected latest write to win, got tick_count=%d", got.TickCount)
	}
}

func TestPIDRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	if err := WritePID(path, 4242); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	pid, ok := ReadPID(path)
	if !ok || pid != 4242 {
		t.Fatalf("ReadPID = %d, %v, want 4242, true", pid, ok)
	}
}

func TestReadPID_MissingFile(t *testing.T) {
	_, ok := ReadPID(filepath.Join(t.TempDir(), "missing.pid"))
	if ok {
		t.Fatal("expected ok=false for missing PID file")
	}
}
