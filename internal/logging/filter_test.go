package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterEntries(t *testing.T) {
	entries := []LogEntry{
		{Level: "info", Category: "A", Message: "1"},
		{Level: "error", Category: "B", Message: "2"},
		{Level: "info", Category: "B", Message: "3"},
		{Level: "warning", Category: "A", Message: "4"},
		{Level: "WARN", Category: "C", Message: "5"},
	}

	messages := func(t *testing.T, level, category string, limit int) []string {
		t.Helper()
		filtered, err := FilterEntries(entries, level, category, limit)
		require.NoError(t, err)
		out := make([]string, 0, len(filtered))
		for _, e := range filtered {
			out = append(out, e.Message)
		}
		return out
	}

	tests := []struct {
		name     string
		level    string
		category string
		limit    int
		want     []string
	}{
		{name: "no filter", want: []string{"1", "2", "3", "4", "5"}},
		{name: "level", level: "info", want: []string{"1", "3"}},
		{name: "level alias", level: "warn", want: []string{"4", "5"}},
		{name: "level upper case", level: "WARNING", want: []string{"4", "5"}},
		{name: "category", category: "B", want: []string{"2", "3"}},
		{name: "level and category", level: "info", category: "B", want: []string{"3"}},
		{name: "limit keeps newest", limit: 2, want: []string{"4", "5"}},
		{name: "no match", level: "debug", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, messages(t, tt.level, tt.category, tt.limit))
		})
	}
}

func TestFilterEntriesInvalidLevel(t *testing.T) {
	_, err := FilterEntries([]LogEntry{{Level: "info"}}, "loud", "", 0)
	assert.Error(t, err)
}
