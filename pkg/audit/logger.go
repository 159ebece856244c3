// Package audit records the certificate lifecycle events of a run as
// JSONL files, one file per day.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ActivityType represents the type of activity
type ActivityType string

const (
	ActivityRunStarted      ActivityType = "run.started"
	ActivityRunCompleted    ActivityType = "run.completed"
	ActivityRunAborted      ActivityType = "run.aborted"
	ActivityCertIssued      ActivityType = "cert.issued"
	ActivityCertInstalled   ActivityType = "cert.installed"
	ActivityDomainSkipped   ActivityType = "domain.skipped"
	ActivityConfigRewritten ActivityType = "config.rewritten"
	ActivityServerReloaded  ActivityType = "server.reloaded"
	ActivityReloadFailed    ActivityType = "server.reload_failed"
)

// Activity represents a logged activity
type Activity struct {
	ID        string                 `json:"id"`
	Type      ActivityType           `json:"type"`
	Domain    string                 `json:"domain,omitempty"`
	File      string                 `json:"file,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Duration  time.Duration          `json:"duration,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Logger defines the interface for activity logging
type Logger interface {
	Log(activity *Activity) error
	Close() error
}

// FileLogger logs activities to JSON files
type FileLogger struct {
	basePath string
	mu       sync.Mutex
	enabled  bool
}

// NewFileLogger creates a new file-based activity logger. An empty
// basePath defaults to ~/.certpilot/logs/activity.
func NewFileLogger(basePath string) (*FileLogger, error) {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		basePath = filepath.Join(home, ".certpilot", "logs", "activity")
	}

	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &FileLogger{
		basePath: basePath,
		enabled:  true,
	}, nil
}

// Log writes an activity to the daily log file
func (l *FileLogger) Log(activity *Activity) error {
	if !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if activity.Timestamp.IsZero() {
		activity.Timestamp = time.Now()
	}
	if activity.ID == "" {
		activity.ID = GenerateID()
	}

	fileName := filepath.Join(
		l.basePath,
		activity.Timestamp.Format("2006-01-02")+".jsonl",
	)

	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(activity); err != nil {
		return fmt.Errorf("failed to encode activity: %w", err)
	}
	return nil
}

// Close closes the logger
func (l *FileLogger) Close() error {
	l.enabled = false
	return nil
}

// NoOpLogger is a logger that does nothing
type NoOpLogger struct{}

// NewNoOpLogger creates a no-op logger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Log does nothing
func (n *NoOpLogger) Log(*Activity) error {
	return nil
}

// Close does nothing
func (n *NoOpLogger) Close() error {
	return nil
}

// GenerateID generates a simple unique ID for activities
func GenerateID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
