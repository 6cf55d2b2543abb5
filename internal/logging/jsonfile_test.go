package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedOp struct {
	op  string
	err error
}

type mockRecorder struct {
	mu      sync.Mutex
	ops     []recordedOp
	dropped int
	syncs   int
}

func (r *mockRecorder) RecordOperation(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{op: op, err: err})
}

func (r *mockRecorder) RecordDropped(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped += count
}

func (r *mockRecorder) ObserveSync(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncs++
}

func (r *mockRecorder) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.ops {
		if o.op == op {
			n++
		}
	}
	return n
}

func openTestOutput(t *testing.T, path string, opts ...JSONFileOption) *JSONFileOutput {
	t.Helper()
	output, err := OpenJSONFile(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { output.Close() })
	return output
}

func testEntry(i int) LogEntry {
	base := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	return NewLogEntry(base.Add(time.Duration(i)*time.Millisecond), "info", "Test", fmt.Sprintf("m%d", i))
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestOpenJSONFileCreatesEmptyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")

	output := openTestOutput(t, path)

	assert.Equal(t, []byte("[]"), readFile(t, path))
	assert.Equal(t, path, output.Path())
	assert.Equal(t, DefaultMaxEntries, output.MaxEntries())
	assert.Equal(t, FlushAlways, output.FlushPolicy())

	entries, err := ReadEntries(path)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpenJSONFileCouldNotCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "log.json")

	output, err := OpenJSONFile(path)

	assert.Nil(t, output)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCouldNotCreateFile))
}

func TestOpenJSONFileRepairsShortOrCorruptFiles(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		want     string
	}{
		{name: "zero length", contents: "", want: "[]"},
		{name: "one byte", contents: "[", want: "[]"},
		{name: "no opening bracket", contents: `{"date":"x"}]`, want: "[]"},
		{name: "cut off mid entry", contents: `[{"date":"2026-10-15T12:00:00Z","lev`, want: "[]"},
		{name: "whitespace only array", contents: "[  \n ]", want: "[]"},
		{name: "trailing newline", contents: "[]\n", want: "[]"},
		{name: "leading newline", contents: "\n[]", want: "[]"},
		{name: "byte order mark", contents: "\xEF\xBB\xBF[]", want: "[]"},
		{name: "large whitespace only array", contents: "[" + strings.Repeat(" ", 5000) + "]", want: "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "log.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.contents), 0644))

			openTestOutput(t, path)

			assert.Equal(t, tt.want, string(readFile(t, path)))
		})
	}
}

func TestOpenJSONFileKeepsExistingEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	existing := []LogEntry{testEntry(1), testEntry(2)}
	data, err := json.Marshal(existing)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(data, '\n'), 0644))

	output := openTestOutput(t, path)
	output.Append(testEntry(3))
	output.Flush()

	entries, err := ReadEntries(path)
	require.NoError(t, err)
	assert.Equal(t, []LogEntry{testEntry(1), testEntry(2), testEntry(3)}, entries)
}

func TestOpenJSONFileKeepsEntriesInsideWhitespace(t *testing.T) {
	data, err := json.Marshal([]LogEntry{testEntry(1)})
	require.NoError(t, err)
	pretty, err := json.MarshalIndent([]LogEntry{testEntry(1)}, "", "  ")
	require.NoError(t, err)

	tests := []struct {
		name     string
		contents []byte
	}{
		{name: "leading newline", contents: append([]byte("\n"), data...)},
		{name: "leading spaces and trailing newline", contents: append(append([]byte("  "), data...), '\n')},
		{name: "byte order mark", contents: append([]byte("\xEF\xBB\xBF"), data...)},
		{name: "indented", contents: append(append([]byte("\n"), pretty...), '\n')},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "log.json")
			require.NoError(t, os.WriteFile(path, tt.contents, 0644))

			output := openTestOutput(t, path)
			output.Append(testEntry(2))
			require.NoError(t, output.Close())

			entries, err := ReadEntries(path)
			require.NoError(t, err)
			assert.Equal(t, []LogEntry{testEntry(1), testEntry(2)}, entries)
		})
	}
}

func TestAppendAfterLargeWhitespaceArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	require.NoError(t, os.WriteFile(path, []byte("["+strings.Repeat(" \n", 4000)+"]"), 0644))

	output := openTestOutput(t, path)
	output.Append(testEntry(1))
	require.NoError(t, output.Close())

	entries, err := ReadEntries(path)
	require.NoError(t, err)
	assert.Equal(t, []LogEntry{testEntry(1)}, entries)
}

func TestOpenJSONFileTruncatesOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	var existing []LogEntry
	for i := 1; i <= 10; i++ {
		existing = append(existing, testEntry(i))
	}
	data, err := json.Marshal(existing)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	recorder := &mockRecorder{}
	openTestOutput(t, path, WithMaxEntries(4), WithRecorder(recorder))

	entries, err := ReadEntries(path)
	require.NoError(t, err)
	assert.Equal(t, existing[6:], entries)
	assert.Equal(t, 6, recorder.dropped)
}

func TestAppendPreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	output := openTestOutput(t, path, WithMaxEntries(50))

	var want []LogEntry
	for i := 1; i <= 50; i++ {
		entry := testEntry(i)
		want = append(want, entry)
		output.Append(entry)
	}
	output.Flush()

	entries, err := ReadEntries(path)
	require.NoError(t, err)
	assert.Equal(t, want, entries)
}

func TestAppendSingleEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	output := openTestOutput(t, path)

	date := time.Date(2026, 10, 15, 9, 30, 0, 123456789, time.UTC)
	entry := NewLogEntry(date, "error", "Test", "hello")
	output.Append(entry)
	output.Flush()

	entries, err := ReadEntries(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.True(t, got == entry, "decoded entry should equal the appended one")
	assert.Equal(t, "error", got.Level)
	assert.Equal(t, "Test", got.Category)
	assert.Equal(t, "hello", got.Message)
	assert.Equal(t, "[2026-10-15T09:30:00.123456789Z] [error] [Test] hello", got.ComposedMessage())
}

func TestWriteImplementsOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	output := openTestOutput(t, path)

	entry := testEntry(1)
	require.NoError(t, output.Write(&entry))
	require.NoError(t, output.Write(nil))
	output.Flush()

	entries, err := ReadEntries(path)
	require.NoError(t, err)
	assert.Equal(t, []LogEntry{entry}, entries)
}

func TestTruncateKeepsNewestEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	output := openTestOutput(t, path, WithMaxEntries(5))

	for i := 1; i <= 7; i++ {
		output.Append(testEntry(i))
	}
	output.Truncate()
	output.Flush()

	entries, err := ReadEntries(path)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	messages := make([]string, 0, len(entries))
	for _, e := range entries {
		messages = append(messages, e.Message)
	}
	assert.Equal(t, []string{"m3", "m4", "m5", "m6", "m7"}, messages)
}

func TestTruncateThenAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	output := openTestOutput(t, path, WithMaxEntries(2))

	for i := 1; i <= 4; i++ {
		output.Append(testEntry(i))
	}
	output.Truncate()
	output.Append(testEntry(5))
	output.Flush()

	entries, err := ReadEntries(path)
	require.NoError(t, err)
	assert.Equal(t, []LogEntry{testEntry(3), testEntry(4), testEntry(5)}, entries)
}

func TestTruncateWithinBoundsIsNoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	output := openTestOutput(t, path, WithMaxEntries(5))

	for i := 1; i <= 5; i++ {
		output.Append(testEntry(i))
	}
	output.Flush()
	before := readFile(t, path)

	output.Truncate()
	output.Flush()

	assert.Equal(t, before, readFile(t, path))
}

func TestTruncateLeavesUndecodableFileAlone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	contents := `[{"date":"not a date","level":"info","category":"x","message":"y"}]`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	output := openTestOutput(t, path, WithMaxEntries(1))
	output.Truncate()
	output.Flush()

	assert.Equal(t, contents, string(readFile(t, path)))
}

func TestClearMatchesFreshFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.json")
	output := openTestOutput(t, path)

	output.Append(testEntry(1))
	output.Append(testEntry(2))
	output.Clear()
	output.Flush()

	entries, err := ReadEntries(path)
	require.NoError(t, err)
	assert.Empty(t, entries)

	freshPath := filepath.Join(dir, "fresh.json")
	openTestOutput(t, freshPath)
	assert.Equal(t, readFile(t, freshPath), readFile(t, path))

	output.Append(testEntry(3))
	output.Flush()
	entries, err = ReadEntries(path)
	require.NoError(t, err)
	assert.Equal(t, []LogEntry{testEntry(3)}, entries)
}

func TestConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	output := openTestOutput(t, path, WithFlushPolicy(FlushManual))

	const writers = 20
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				output.Append(NewLogEntry(time.Now(), "info", fmt.Sprintf("writer-%d", w), fmt.Sprintf("%d-%d", w, i)))
			}
		}(w)
	}
	wg.Wait()
	output.Flush()

	entries, err := ReadEntries(path)
	require.NoError(t, err)
	require.Len(t, entries, writers*perWriter)

	seen := make(map[string]bool, len(entries))
	lastPerWriter := make(map[string]int)
	for _, e := range entries {
		assert.False(t, seen[e.Message], "duplicate entry %s", e.Message)
		seen[e.Message] = true

		var w, i int
		_, err := fmt.Sscanf(e.Message, "%d-%d", &w, &i)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("writer-%d", w), e.Category)

		// Appends from one goroutine keep their relative order
		if last, ok := lastPerWriter[e.Category]; ok {
			assert.Greater(t, i, last)
		}
		lastPerWriter[e.Category] = i
	}
}

func TestConcurrentMixedOperationsKeepFileValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	output := openTestOutput(t, path, WithMaxEntries(10), WithFlushPolicy(FlushManual))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 30; i++ {
				switch {
				case i%10 == 9:
					output.Truncate()
				case w == 0 && i == 15:
					output.Clear()
				default:
					output.Append(testEntry(w*100 + i))
				}
			}
		}(w)
	}
	wg.Wait()

	entries, err := output.Entries()
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.True(t, json.Valid(readFile(t, path)))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	output := openTestOutput(t, path)

	for i := 1; i <= 3; i++ {
		output.Append(testEntry(i))
	}
	output.Append(NewLogEntry(time.Now(), "warning", "Unicode", "héllo \"quoted\" ✓"))
	output.Flush()

	decoded, err := ReadEntries(path)
	require.NoError(t, err)

	encoded, err := json.Marshal(decoded)
	require.NoError(t, err)

	var again []LogEntry
	require.NoError(t, json.Unmarshal(encoded, &again))
	assert.Equal(t, decoded, again)
}

func TestEntriesWaitsForQueuedWork(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	output := openTestOutput(t, path)

	output.Append(testEntry(1))
	output.Append(testEntry(2))

	entries, err := output.Entries()
	require.NoError(t, err)
	assert.Equal(t, []LogEntry{testEntry(1), testEntry(2)}, entries)
}

func TestCloseIsIdempotentAndStopsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	output, err := OpenJSONFile(path)
	require.NoError(t, err)

	output.Append(testEntry(1))
	require.NoError(t, output.Close())
	require.NoError(t, output.Close())

	output.Append(testEntry(2))
	output.Clear()
	output.Truncate()
	output.Flush()

	entries, err := output.Entries()
	require.NoError(t, err)
	assert.Equal(t, []LogEntry{testEntry(1)}, entries)
}

func TestReopenAppendsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")

	first, err := OpenJSONFile(path)
	require.NoError(t, err)
	first.Append(testEntry(1))
	require.NoError(t, first.Close())
	size1 := len(readFile(t, path))

	second, err := OpenJSONFile(path)
	require.NoError(t, err)
	second.Append(testEntry(2))
	require.NoError(t, second.Close())
	size2 := len(readFile(t, path))

	assert.Greater(t, size2, size1)
	entries, err := ReadEntries(path)
	require.NoError(t, err)
	assert.Equal(t, []LogEntry{testEntry(1), testEntry(2)}, entries)
}

func TestFlushPolicySyncs(t *testing.T) {
	t.Run("always syncs after every mutation", func(t *testing.T) {
		recorder := &mockRecorder{}
		output := openTestOutput(t, filepath.Join(t.TempDir(), "log.json"), WithRecorder(recorder))
		before := recorder.syncs

		output.Append(testEntry(1))
		output.Append(testEntry(2))
		output.Clear()
		output.Flush()

		recorder.mu.Lock()
		defer recorder.mu.Unlock()
		// three mutations plus the explicit flush
		assert.Equal(t, before+4, recorder.syncs)
	})

	t.Run("manual syncs only on flush", func(t *testing.T) {
		recorder := &mockRecorder{}
		output := openTestOutput(t, filepath.Join(t.TempDir(), "log.json"),
			WithRecorder(recorder), WithFlushPolicy(FlushManual))
		before := recorder.syncs

		output.Append(testEntry(1))
		output.Append(testEntry(2))
		output.Flush()

		recorder.mu.Lock()
		defer recorder.mu.Unlock()
		assert.Equal(t, before+1, recorder.syncs)
	})
}

func TestRecorderSeesOperations(t *testing.T) {
	recorder := &mockRecorder{}
	output := openTestOutput(t, filepath.Join(t.TempDir(), "log.json"),
		WithRecorder(recorder), WithMaxEntries(1))

	output.Append(testEntry(1))
	output.Append(testEntry(2))
	output.Truncate()
	output.Clear()
	output.Flush()

	assert.Equal(t, 2, recorder.count(OpAppend))
	// one pass on open, one explicit
	assert.Equal(t, 2, recorder.count(OpTruncate))
	assert.Equal(t, 1, recorder.count(OpClear))
	assert.Equal(t, 1, recorder.count(OpFlush))

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	assert.Equal(t, 1, recorder.dropped)
	for _, op := range recorder.ops {
		assert.NoError(t, op.err, op.op)
	}
}

func TestOptionsIgnoreInvalidValues(t *testing.T) {
	output := openTestOutput(t, filepath.Join(t.TempDir(), "log.json"),
		WithMaxEntries(0), WithFlushPolicy("sometimes"), WithRecorder(nil))

	assert.Equal(t, DefaultMaxEntries, output.MaxEntries())
	assert.Equal(t, FlushAlways, output.FlushPolicy())
}

func TestParseFlushPolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    FlushPolicy
		wantErr bool
	}{
		{input: "always", want: FlushAlways},
		{input: "", want: FlushAlways},
		{input: " Manual ", want: FlushManual},
		{input: "never", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFlushPolicy(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadEntriesErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadEntries(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))
	_, err = ReadEntries(bad)
	assert.Error(t, err)
}
