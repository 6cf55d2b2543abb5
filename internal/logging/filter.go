package logging

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// FilterEntries keeps entries matching level and category (empty matches all)
// and returns at most the newest limit of them (0 means no limit). level is
// any name logrus accepts, so "warn" selects entries stored as "warning".
func FilterEntries(entries []LogEntry, level, category string, limit int) ([]LogEntry, error) {
	want := ""
	if level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid level filter: %w", err)
		}
		want = parsed.String()
	}

	filtered := make([]LogEntry, 0, len(entries))
	for _, e := range entries {
		if want != "" && normalizeLevel(e.Level) != want {
			continue
		}
		if category != "" && e.Category != category {
			continue
		}
		filtered = append(filtered, e)
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered, nil
}

// normalizeLevel maps a stored level to its logrus name. Levels written by
// other tools are compared lowercased.
func normalizeLevel(level string) string {
	if parsed, err := logrus.ParseLevel(level); err == nil {
		return parsed.String()
	}
	return strings.ToLower(level)
}
