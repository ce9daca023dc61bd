// Package statusfile persists the daemon's status record as JSON, written
// as whole-file replacements (temp file + rename) so a concurrent reader
// never observes a partial write.
package statusfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status is the daemon's point-in-time state, read by `status` and the
// dashboard.
type Status struct {
	PID           int       `json:"pid"`
	Repo          string    `json:"repo"`
	StartedAt     time.Time `json:"started_at"`
	LastTickAt    time.Time `json:"last_tick_at"`
	TickCount     int64     `json:"tick_count"`
	CurrentIssue  int       `json:"current_issue,omitempty"`
	CurrentPhase  string    `json:"current_phase,omitempty"`
	LastAutoMerge *AutoMergeSummary `json:"last_auto_merge,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// AutoMergeSummary is the last tick's automerge outcome, for display.
type AutoMergeSummary struct {
	Merged int `json:"merged"`
	Failed int `json:"failed"`
}

// Write atomically replaces the status file at path.
func Write(path string, s *Status) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("statusfile: marshal: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("statusfile: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("statusfile: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("statusfile: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("statusfile: rename: %w", err)
	}
	return nil
}

// Read loads the status record at path.
func Read(path string) (*Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("statusfile: parse: %w", err)
	}
	return &s, nil
}

// WritePID atomically writes the daemon's PID file.
func WritePID(path string, pid int) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".pid-*.tmp")
	if err != nil {
		return fmt.Errorf("statusfile: create temp pid: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := fmt.Fprintf(tmp, "%d", pid); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// ReadPID reads a PID file written by WritePID. Returns 0, false if absent.
func ReadPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, false
	}
	return pid, true
}
