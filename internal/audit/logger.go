// Package audit implements the append-only NDJSON audit trail of command
// outcomes: open-append-write-fsync per entry, each record keyed by a
// fresh uuid.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one record of a completed (or failed) command.
type Entry struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Command       string    `json:"command"`
	Status        string    `json:"status"` // SUCCESS, RETRIABLE_ERROR, TERMINAL_ERROR
	ErrorCode     string    `json:"errorCode,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`
	ReaderName    string    `json:"readerName,omitempty"`
}

// Logger handles append-only audit logging of command outcomes to a single
// NDJSON file.
type Logger struct {
	filePath string
	mu       sync.Mutex
}

// NewLogger creates a logger writing to filePath, creating its parent
// directory if needed.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &Logger{filePath: filePath}, nil
}

// Log appends one entry, stamping it with a fresh ID and the current time.
func (l *Logger) Log(command, status, errorCode, failureReason, readerName string) error {
	return l.append(Entry{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Command:       command,
		Status:        status,
		ErrorCode:     errorCode,
		FailureReason: failureReason,
		ReaderName:    readerName,
	})
}

func (l *Logger) append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return file.Sync()
}

// ReadAll reads every entry currently in the log, tolerating (and skipping)
// malformed trailing lines from a crash mid-write.
func (l *Logger) ReadAll() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	var entries []Entry
	start := 0
	for i := 0; i < len(data); i++ {
		if data[i] != '\n' {
			continue
		}
		if i > start {
			var entry Entry
			if err := json.Unmarshal(data[start:i], &entry); err == nil {
				entries = append(entries, entry)
			}
		}
		start = i + 1
	}
	if start < len(data) {
		var entry Entry
		if err := json.Unmarshal(data[start:], &entry); err == nil {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}
