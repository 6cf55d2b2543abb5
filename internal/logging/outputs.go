package logging

import (
	"fmt"
	"time"
)

// Output represents a log output destination
type Output interface {
	Write(entry *LogEntry) error
	Close() error
}

// Truncater is implemented by outputs that keep a bounded, clearable history
type Truncater interface {
	Clear()
	Truncate()
}

// LogEntry represents one structured log record as stored in a JSON log file.
// Entries are plain values: two entries are the same entry when all fields match.
type LogEntry struct {
	Date     time.Time `json:"date"`
	Level    string    `json:"level"`
	Category string    `json:"category"`
	Message  string    `json:"message"`
}

// NewLogEntry creates an entry with its date normalized to UTC and stripped of
// the monotonic clock reading, so a decoded copy compares equal with ==.
func NewLogEntry(date time.Time, level, category, message string) LogEntry {
	return LogEntry{
		Date:     date.UTC().Round(0),
		Level:    level,
		Category: category,
		Message:  message,
	}
}

// ComposedMessage renders the entry as "[date] [level] [category] message"
func (e LogEntry) ComposedMessage() string {
	return fmt.Sprintf("[%s] [%s] [%s] %s", e.Date.Format(time.RFC3339Nano), e.Level, e.Category, e.Message)
}
