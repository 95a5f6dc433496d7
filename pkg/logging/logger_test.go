package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad log line %q: %v", scanner.Text(), err)
		}
		events = append(events, e)
	}
	return events
}

func TestLoggerWritesSessionFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "session-1")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info(CategoryPlanning, "plan built", map[string]any{"steps": 3})
	logger.Warn(CategorySafety, "risk escalated", nil)
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	events := readEvents(t, filepath.Join(dir, "sessions", "session-1.jsonl"))
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Category != CategoryPlanning || events[0].Message != "plan built" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Level != LevelWarn {
		t.Errorf("second level = %s", events[1].Level)
	}
}

func TestErrorsMirroredToSharedFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "session-2")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info(CategoryWorkflow, "step started", nil)
	logger.Error(CategoryWorkflow, "step failed", map[string]any{"tool": "camera_capture"})
	logger.Close()

	errors := readEvents(t, filepath.Join(dir, "errors.jsonl"))
	if len(errors) != 1 {
		t.Fatalf("error events = %d, want 1", len(errors))
	}
	if errors[0].Message != "step failed" {
		t.Errorf("error event = %+v", errors[0])
	}
}

func TestMinLevelFilters(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "session-3")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Debug(CategoryIntent, "dropped by default level", nil)
	logger.SetMinLevel(LevelDebug)
	logger.Debug(CategoryIntent, "now visible", nil)
	logger.Close()

	events := readEvents(t, filepath.Join(dir, "sessions", "session-3.jsonl"))
	if len(events) != 1 || events[0].Message != "now visible" {
		t.Errorf("events = %+v", events)
	}
}

func TestWithPlanStampsEvents(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "session-4")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.WithPlan("plan-abc").Info(CategoryWorkflow, "executing", nil)
	logger.Close()

	events := readEvents(t, filepath.Join(dir, "sessions", "session-4.jsonl"))
	if len(events) != 1 || events[0].PlanID != "plan-abc" {
		t.Errorf("events = %+v", events)
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNopLogger()
	logger.Error(CategoryBus, "should not panic", nil)
	if err := logger.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}
