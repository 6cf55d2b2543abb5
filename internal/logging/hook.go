package logging

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// JSONLogHook is a logrus hook that turns log calls into LogEntry records
// for an Output. The hook's label becomes the entry category and its metadata
// is rendered in front of the message.
type JSONLogHook struct {
	label  string
	output Output

	mu       sync.RWMutex
	level    logrus.Level
	metadata logrus.Fields
	pretty   string
}

// HookOption configures a JSONLogHook
type HookOption func(*JSONLogHook)

// WithLevel sets the minimum severity forwarded by the hook
func WithLevel(level logrus.Level) HookOption {
	return func(h *JSONLogHook) {
		h.level = level
	}
}

// WithMetadata sets the metadata attached to every entry
func WithMetadata(fields logrus.Fields) HookOption {
	return func(h *JSONLogHook) {
		h.metadata = copyFields(fields)
	}
}

// NewJSONLogHook creates a hook writing entries labeled with label to output
func NewJSONLogHook(label string, output Output, opts ...HookOption) *JSONLogHook {
	h := &JSONLogHook{
		label:    label,
		output:   output,
		level:    logrus.InfoLevel,
		metadata: logrus.Fields{},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.pretty = prettify(h.metadata)
	return h
}

// NewLogger returns a logger whose entries only go to output through a
// JSONLogHook. The logger's own formatted output is discarded.
func NewLogger(label string, output Output, level logrus.Level) *logrus.Logger {
	return NewLoggerWithHook(NewJSONLogHook(label, output, WithLevel(level)))
}

// NewLoggerWithHook returns a discarding logger at the hook's level with hook installed
func NewLoggerWithHook(hook *JSONLogHook) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(hook.Level())
	logger.AddHook(hook)
	return logger
}

// Label returns the category written on every entry
func (h *JSONLogHook) Label() string {
	return h.label
}

// Output returns the destination of the hook
func (h *JSONLogHook) Output() Output {
	return h.output
}

// Level returns the minimum severity forwarded by the hook
func (h *JSONLogHook) Level() logrus.Level {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.level
}

// SetLevel changes the minimum severity forwarded by the hook. Loggers only
// re-read Levels when the hook is added, so a hook registered directly on a
// logger keeps its original level set; DispatchHook checks Enabled per entry.
func (h *JSONLogHook) SetLevel(level logrus.Level) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.level = level
}

// Enabled reports whether entries at level are forwarded
func (h *JSONLogHook) Enabled(level logrus.Level) bool {
	return level <= h.Level()
}

// Metadata returns a copy of the hook metadata
func (h *JSONLogHook) Metadata() logrus.Fields {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return copyFields(h.metadata)
}

// SetMetadata replaces the hook metadata
func (h *JSONLogHook) SetMetadata(fields logrus.Fields) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metadata = copyFields(fields)
	h.pretty = prettify(h.metadata)
}

// MetadataValue returns one metadata value
func (h *JSONLogHook) MetadataValue(key string) (interface{}, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.metadata[key]
	return v, ok
}

// SetMetadataValue sets one metadata value. A nil value removes the key.
func (h *JSONLogHook) SetMetadataValue(key string, value interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if value == nil {
		delete(h.metadata, key)
	} else {
		h.metadata[key] = value
	}
	h.pretty = prettify(h.metadata)
}

// Levels returns the log levels this hook should fire for
func (h *JSONLogHook) Levels() []logrus.Level {
	level := h.Level()
	levels := make([]logrus.Level, 0, len(logrus.AllLevels))
	for _, l := range logrus.AllLevels {
		if l <= level {
			levels = append(levels, l)
		}
	}
	return levels
}

// Fire is called when a log event occurs
func (h *JSONLogHook) Fire(entry *logrus.Entry) error {
	logEntry := h.entryFor(entry)
	return h.output.Write(&logEntry)
}

// entryFor builds the LogEntry for a logrus entry. Call fields override hook
// metadata with the same key.
func (h *JSONLogHook) entryFor(entry *logrus.Entry) LogEntry {
	h.mu.RLock()
	pretty := h.pretty
	if len(entry.Data) > 0 {
		merged := make(logrus.Fields, len(h.metadata)+len(entry.Data))
		for k, v := range h.metadata {
			merged[k] = v
		}
		for k, v := range entry.Data {
			merged[k] = v
		}
		pretty = prettify(merged)
	}
	h.mu.RUnlock()

	message := entry.Message
	if pretty != "" {
		message = pretty + " " + message
	}

	return NewLogEntry(entry.Time, entry.Level.String(), h.label, message)
}

// Clear empties the output when it supports it
func (h *JSONLogHook) Clear() {
	if t, ok := h.output.(Truncater); ok {
		t.Clear()
	}
}

// Truncate bounds the output when it supports it
func (h *JSONLogHook) Truncate() {
	if t, ok := h.output.(Truncater); ok {
		t.Truncate()
	}
}

// prettify renders fields as space separated key=value pairs sorted by key
func prettify(fields logrus.Fields) string {
	if len(fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(pairs, " ")
}

func copyFields(fields logrus.Fields) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
