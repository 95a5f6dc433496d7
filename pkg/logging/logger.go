// Package logging writes structured JSONL events per turn subsystem.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category represents the subsystem generating the log
type Category string

const (
	CategoryIntent     Category = "intent"
	CategoryPlanning   Category = "planning"
	CategoryValidation Category = "validation"
	CategorySafety     Category = "safety"
	CategoryWorkflow   Category = "workflow"
	CategorySynthesis  Category = "synthesis"
	CategoryAudit      Category = "audit"
	CategoryBus        Category = "bus"
)

// Event represents a structured log event
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	PlanID    string         `json:"plan_id,omitempty"`
	StepID    string         `json:"step_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Logger writes structured events to a session file, with errors mirrored
// into a shared errors file.
type Logger struct {
	planID      string
	sessionFile *os.File
	errorFile   *os.File
	mu          sync.Mutex
	minLevel    Level
}

// NewLogger creates a logger writing under baseDir. sessionID names the
// per-session file.
func NewLogger(baseDir, sessionID string) (*Logger, error) {
	sessionsDir := filepath.Join(baseDir, "sessions")
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	sessionFile, err := os.OpenFile(
		filepath.Join(sessionsDir, sessionID+".jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0o644,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}

	errorFile, err := os.OpenFile(
		filepath.Join(baseDir, "errors.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0o644,
	)
	if err != nil {
		sessionFile.Close()
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}

	return &Logger{
		sessionFile: sessionFile,
		errorFile:   errorFile,
		minLevel:    LevelInfo,
	}, nil
}

// NewNopLogger returns a logger that discards everything. Handy in tests
// and when file logging is disabled.
func NewNopLogger() *Logger {
	return &Logger{minLevel: LevelError + "x"}
}

// SetMinLevel sets the minimum log level
func (l *Logger) SetMinLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// WithPlan returns a logger stamping every event with the plan ID.
func (l *Logger) WithPlan(planID string) *Logger {
	return &Logger{
		planID:      planID,
		sessionFile: l.sessionFile,
		errorFile:   l.errorFile,
		minLevel:    l.minLevel,
	}
}

func (l *Logger) Debug(category Category, message string, details map[string]any) {
	l.log(LevelDebug, category, message, details)
}

func (l *Logger) Info(category Category, message string, details map[string]any) {
	l.log(LevelInfo, category, message, details)
}

func (l *Logger) Warn(category Category, message string, details map[string]any) {
	l.log(LevelWarn, category, message, details)
}

func (l *Logger) Error(category Category, message string, details map[string]any) {
	l.log(LevelError, category, message, details)
}

func (l *Logger) log(level Level, category Category, message string, details map[string]any) {
	if !l.shouldLog(level) {
		return
	}

	event := Event{
		Timestamp: time.Now(),
		Level:     level,
		Category:  category,
		PlanID:    l.planID,
		Message:   message,
		Details:   details,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sessionFile != nil {
		_, _ = l.sessionFile.Write(data)
	}
	if level == LevelError && l.errorFile != nil {
		_, _ = l.errorFile.Write(data)
	}
}

func (l *Logger) shouldLog(level Level) bool {
	order := map[Level]int{LevelDebug: 0, LevelInfo: 1, LevelWarn: 2, LevelError: 3}
	min, ok := order[l.minLevel]
	if !ok {
		return false
	}
	return order[level] >= min
}

// Close flushes and closes the log files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	if l.sessionFile != nil {
		if err := l.sessionFile.Close(); err != nil {
			firstErr = err
		}
		l.sessionFile = nil
	}
	if l.errorFile != nil {
		if err := l.errorFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		l.errorFile = nil
	}
	return firstErr
}
