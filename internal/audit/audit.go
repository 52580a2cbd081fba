// Package audit provides audit logging for adgmanager.
// It records state-changing operations against AdGuard Home servers and
// changes to stored instances as JSON lines, one file per day.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType represents the type of audit event
type EventType string

const (
	// Protection changes
	EventProtectionToggled   EventType = "PROTECTION_TOGGLED"
	EventProtectionDisabled  EventType = "PROTECTION_TEMPORARILY_DISABLED"
	EventProtectionReenabled EventType = "PROTECTION_AUTO_REENABLED"
	EventDisableCancelled    EventType = "TEMPORARY_DISABLE_CANCELLED"

	// Instance bookkeeping
	EventCredentialsSaved EventType = "CREDENTIALS_SAVED"
	EventInstanceDeleted  EventType = "INSTANCE_DELETED"
	EventInstanceSwitched EventType = "INSTANCE_SWITCHED"
	EventMigration        EventType = "STORAGE_MIGRATION"

	// Control API
	EventAuthFailure EventType = "AUTH_FAILURE"
	EventTokenIssued EventType = "TOKEN_ISSUED"

	// Configuration changes
	EventConfigChange EventType = "CONFIG_CHANGE"

	// Service lifecycle
	EventServiceStart EventType = "SERVICE_START"
	EventServiceStop  EventType = "SERVICE_STOP"
)

// Event represents an audit log entry
type Event struct {
	Timestamp   time.Time              `json:"timestamp"`
	Type        EventType              `json:"type"`
	Severity    string                 `json:"severity"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	User        string                 `json:"user,omitempty"`
	ProcessID   int                    `json:"process_id"`
	ProcessName string                 `json:"process_name"`
}

// Logger handles audit logging
type Logger struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
	logPath string
}

var (
	mu            sync.RWMutex
	defaultLogger *Logger
)

// Initialize opens today's audit file under dir. Calling it again replaces
// the current file.
func Initialize(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	logFile := fmt.Sprintf("audit-%s.log", time.Now().Format("2006-01-02"))
	logPath := filepath.Join(dir, logFile)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}

	mu.Lock()
	old := defaultLogger
	defaultLogger = &Logger{
		file:    file,
		encoder: json.NewEncoder(file),
		logPath: logPath,
	}
	mu.Unlock()

	if old != nil {
		old.file.Close()
	}

	Log(EventServiceStart, "info", "Audit logging initialized", nil)
	return nil
}

// Log records an audit event
func Log(eventType EventType, severity string, message string, details map[string]interface{}) {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()

	if l == nil {
		// Fallback to regular logging if audit not initialized
		logrus.WithFields(logrus.Fields{
			"audit_type": eventType,
			"details":    details,
		}).Info(message)
		return
	}

	event := Event{
		Timestamp:   time.Now(),
		Type:        eventType,
		Severity:    severity,
		Message:     message,
		Details:     details,
		ProcessID:   os.Getpid(),
		ProcessName: filepath.Base(os.Args[0]),
	}

	if user := os.Getenv("USER"); user != "" {
		event.User = user
	}

	l.mu.Lock()
	if err := l.encoder.Encode(event); err != nil {
		logrus.WithError(err).Error("Failed to write audit log")
	}
	l.mu.Unlock()

	// Also log to standard logger for real-time monitoring
	logrus.WithFields(logrus.Fields{
		"audit_type": eventType,
		"severity":   severity,
		"details":    details,
	}).Info(message)
}

// LogProtectionChange records a protection toggle against an instance
func LogProtectionChange(instanceID string, enabled bool, success bool) {
	severity := "info"
	if !success {
		severity = "warning"
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	Log(EventProtectionToggled, severity, fmt.Sprintf("Protection %s", state), map[string]interface{}{
		"instance": instanceID,
		"enabled":  enabled,
		"success":  success,
	})
}

// LogTemporaryDisable records a timed disable window
func LogTemporaryDisable(instanceID string, minutes int, endTime time.Time) {
	Log(EventProtectionDisabled, "warning", fmt.Sprintf("Protection disabled for %d minutes", minutes), map[string]interface{}{
		"instance": instanceID,
		"minutes":  minutes,
		"end_time": endTime.Format(time.RFC3339),
	})
}

// LogInstanceChange records instance bookkeeping. Passwords never reach details.
func LogInstanceChange(eventType EventType, instanceID, name string) {
	Log(eventType, "info", fmt.Sprintf("Instance %s", name), map[string]interface{}{
		"instance": instanceID,
		"name":     name,
	})
}

// LogConfigChange logs configuration modifications
func LogConfigChange(change string, oldValue, newValue interface{}) {
	Log(EventConfigChange, "info", change, map[string]interface{}{
		"old_value": oldValue,
		"new_value": newValue,
	})
}

// Close closes the audit logger
func Close() error {
	mu.Lock()
	l := defaultLogger
	mu.Unlock()
	if l == nil {
		return nil
	}

	Log(EventServiceStop, "info", "Audit logging stopped", nil)

	mu.Lock()
	defaultLogger = nil
	mu.Unlock()
	return l.file.Close()
}

// GetLogPath returns the current audit log path
func GetLogPath() string {
	mu.RLock()
	defer mu.RUnlock()
	if defaultLogger != nil {
		return defaultLogger.logPath
	}
	return ""
}
