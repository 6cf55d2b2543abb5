package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"
)

// FlushPolicy controls when a JSON log file is synced to stable storage
type FlushPolicy string

const (
	// FlushAlways syncs the file after every mutating operation
	FlushAlways FlushPolicy = "always"
	// FlushManual leaves flushing to the OS until Flush or Close is called
	FlushManual FlushPolicy = "manual"
)

// DefaultMaxEntries is the number of entries a JSON log file retains by default
const DefaultMaxEntries = 2000

// Operation names reported to a Recorder
const (
	OpAppend   = "append"
	OpClear    = "clear"
	OpTruncate = "truncate"
	OpFlush    = "flush"
	OpClose    = "close"
)

// emptyArray is the encoding of a log file holding no entries. Every "is the
// array empty" and "is the file too short" decision is derived from its length.
var emptyArray = mustMarshal([]LogEntry{})

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// ParseFlushPolicy converts a configuration string to a FlushPolicy
func ParseFlushPolicy(s string) (FlushPolicy, error) {
	switch FlushPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case FlushAlways, "":
		return FlushAlways, nil
	case FlushManual:
		return FlushManual, nil
	default:
		return "", fmt.Errorf("invalid flush policy: %s (must be 'always' or 'manual')", s)
	}
}

// Recorder receives operation outcomes from a JSONFileOutput. The output never
// logs its own failures, so this is the only place they become visible.
type Recorder interface {
	RecordOperation(op string, err error)
	RecordDropped(count int)
	ObserveSync(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordOperation(string, error) {}
func (nopRecorder) RecordDropped(int)             {}
func (nopRecorder) ObserveSync(time.Duration)     {}

// JSONFileOption configures a JSONFileOutput
type JSONFileOption func(*JSONFileOutput)

// WithMaxEntries sets how many entries Truncate retains. Values below 1 are ignored.
func WithMaxEntries(n int) JSONFileOption {
	return func(o *JSONFileOutput) {
		if n > 0 {
			o.maxEntries = n
		}
	}
}

// WithFlushPolicy sets the flush policy
func WithFlushPolicy(p FlushPolicy) JSONFileOption {
	return func(o *JSONFileOutput) {
		if p == FlushAlways || p == FlushManual {
			o.flushPolicy = p
		}
	}
}

// WithRecorder reports operation outcomes to r
func WithRecorder(r Recorder) JSONFileOption {
	return func(o *JSONFileOutput) {
		if r != nil {
			o.recorder = r
		}
	}
}

// task is one unit of work for the goroutine that owns the file
type task struct {
	run  func()
	done chan struct{}
	last bool
}

// JSONFileOutput keeps a single file whose contents are always a JSON array of
// LogEntry values. Appends are spliced in front of the closing bracket instead
// of rewriting the array.
//
// The file handle is owned by one goroutine. Every mutation is queued to it,
// so mutations run one at a time in the order they were submitted no matter
// which goroutine called. Append, Clear and Truncate return as soon as the work
// is queued; Flush and Close wait for everything queued before them.
type JSONFileOutput struct {
	path        string
	maxEntries  int
	flushPolicy FlushPolicy
	recorder    Recorder

	// file is only touched by the run goroutine once OpenJSONFile returns
	file *os.File

	mu      sync.Mutex
	pending []task
	closed  bool

	wake    chan struct{}
	stopped chan struct{}
}

var _ Output = (*JSONFileOutput)(nil)
var _ Truncater = (*JSONFileOutput)(nil)

// OpenJSONFile opens the JSON log file at path, creating it with an empty
// array if it does not exist. A file too short or malformed to be a JSON array
// is reset to an empty array. Entries beyond the configured maximum are
// dropped before OpenJSONFile returns.
func OpenJSONFile(path string, opts ...JSONFileOption) (*JSONFileOutput, error) {
	o := &JSONFileOutput{
		path:        path,
		maxEntries:  DefaultMaxEntries,
		flushPolicy: FlushAlways,
		recorder:    nopRecorder{},
		wake:        make(chan struct{}, 1),
		stopped:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := createEmptyFile(path); err != nil {
			return nil, err
		}
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	o.file = file

	if err := o.repair(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to prepare log file: %w", err)
	}

	o.mutate(OpTruncate, o.truncateFile)()

	go o.run()
	return o, nil
}

// createEmptyFile creates path holding an empty array. Losing a creation race
// to another opener is not an error.
func createEmptyFile(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrCouldNotCreateFile, path, err)
	}

	_, werr := f.Write(emptyArray)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return fmt.Errorf("%w %s: %w", ErrCouldNotCreateFile, path, err)
	}
	return nil
}

// Path returns the location of the log file
func (o *JSONFileOutput) Path() string {
	return o.path
}

// MaxEntries returns the number of entries Truncate retains
func (o *JSONFileOutput) MaxEntries() int {
	return o.maxEntries
}

// FlushPolicy returns the configured flush policy
func (o *JSONFileOutput) FlushPolicy() FlushPolicy {
	return o.flushPolicy
}

// Write appends entry to the file. It implements Output and never fails.
func (o *JSONFileOutput) Write(entry *LogEntry) error {
	if entry != nil {
		o.Append(*entry)
	}
	return nil
}

// Append queues entry to be added at the end of the array. An entry that
// cannot be encoded is dropped.
func (o *JSONFileOutput) Append(entry LogEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		o.recorder.RecordOperation(OpAppend, err)
		return
	}

	o.enqueue(o.mutate(OpAppend, func() error {
		return o.appendEncoded(data)
	}), false)
}

// Clear queues a reset of the file to an empty array
func (o *JSONFileOutput) Clear() {
	o.enqueue(o.mutate(OpClear, o.reset), false)
}

// Truncate queues a pass that drops the oldest entries until at most
// MaxEntries remain. Undecodable files are left untouched.
func (o *JSONFileOutput) Truncate() {
	o.enqueue(o.mutate(OpTruncate, o.truncateFile), false)
}

// Flush syncs the file to stable storage after all previously queued work
// has run. It returns once the sync is done.
func (o *JSONFileOutput) Flush() {
	o.enqueue(func() {
		if o.file != nil {
			o.recorder.RecordOperation(OpFlush, o.sync())
		}
	}, true)
}

// Entries decodes the current file contents after all previously queued work
// has run. On a closed output it reads the file directly.
func (o *JSONFileOutput) Entries() ([]LogEntry, error) {
	var entries []LogEntry
	var err error
	queued := o.enqueue(func() {
		entries, err = ReadEntries(o.path)
	}, true)
	if !queued {
		return ReadEntries(o.path)
	}
	return entries, err
}

// Close syncs and closes the file after all previously queued work has run.
// Later calls, and any operation after Close, do nothing.
func (o *JSONFileOutput) Close() error {
	var err error

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		<-o.stopped
		return nil
	}
	o.closed = true
	done := make(chan struct{})
	o.pending = append(o.pending, task{
		run: func() {
			err = o.closeFile()
			o.recorder.RecordOperation(OpClose, err)
		},
		done: done,
		last: true,
	})
	o.mu.Unlock()

	o.signal()
	<-done
	<-o.stopped
	return err
}

// enqueue adds fn to the mailbox and optionally waits for it to run. It
// reports false when the output is already closed.
func (o *JSONFileOutput) enqueue(fn func(), wait bool) bool {
	t := task{run: fn}
	if wait {
		t.done = make(chan struct{})
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.pending = append(o.pending, t)
	o.mu.Unlock()

	o.signal()
	if wait {
		<-t.done
	}
	return true
}

func (o *JSONFileOutput) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// run owns the file handle and executes queued tasks in submission order
func (o *JSONFileOutput) run() {
	defer close(o.stopped)

	for range o.wake {
		o.mu.Lock()
		batch := o.pending
		o.pending = nil
		o.mu.Unlock()

		for _, t := range batch {
			t.run()
			if t.done != nil {
				close(t.done)
			}
			if t.last {
				return
			}
		}
	}
}

// mutate wraps a file mutation with the flush policy and outcome reporting.
// With FlushAlways the file is synced even when the mutation failed.
func (o *JSONFileOutput) mutate(op string, fn func() error) func() {
	return func() {
		if o.file == nil {
			return
		}
		err := fn()
		if o.flushPolicy == FlushAlways {
			_ = o.sync()
		}
		o.recorder.RecordOperation(op, err)
	}
}

// appendEncoded splices one encoded entry in front of the closing bracket
func (o *JSONFileOutput) appendEncoded(data []byte) error {
	offset, err := o.file.Seek(-1, io.SeekEnd)
	if err != nil {
		return err
	}

	buf := make([]byte, 0, len(data)+2)
	if offset > int64(len(emptyArray)-1) {
		buf = append(buf, ',')
	}
	buf = append(buf, data...)
	buf = append(buf, ']')

	if _, err := o.file.Write(buf); err != nil {
		// Put the closing bracket back so the array stays well-formed
		_ = o.file.Truncate(offset)
		_, _ = o.file.WriteAt([]byte{']'}, offset)
		_, _ = o.file.Seek(-1, io.SeekEnd)
		return err
	}

	_, err = o.file.Seek(-1, io.SeekEnd)
	return err
}

// reset rewrites the file as an empty array
func (o *JSONFileOutput) reset() error {
	if err := o.file.Truncate(0); err != nil {
		return err
	}
	if _, err := o.file.WriteAt(emptyArray, 0); err != nil {
		return err
	}
	_, err := o.file.Seek(-1, io.SeekEnd)
	return err
}

// truncateFile keeps only the newest maxEntries entries
func (o *JSONFileOutput) truncateFile() error {
	info, err := o.file.Stat()
	if err != nil {
		return err
	}

	data := make([]byte, info.Size())
	if _, err := o.file.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	var entries []LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}

	excess := len(entries) - o.maxEntries
	if excess <= 0 {
		return nil
	}

	encoded, err := json.Marshal(entries[excess:])
	if err != nil {
		return nil
	}

	if err := o.file.Truncate(0); err != nil {
		return err
	}
	if _, err := o.file.WriteAt(encoded, 0); err != nil {
		return err
	}
	o.recorder.RecordDropped(excess)

	_, err = o.file.Seek(-1, io.SeekEnd)
	return err
}

// utf8BOM is stripped from the start of an existing file
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// repair rewrites the file in the canonical framing appends rely on: '[' as
// the first byte, ']' as the last, and exactly emptyArray when there are no
// elements. Surrounding whitespace and a byte order mark are dropped; content
// that is not framed as an array is replaced with an empty one.
func (o *JSONFileOutput) repair() error {
	info, err := o.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < int64(len(emptyArray)) {
		return o.reset()
	}

	data := make([]byte, info.Size())
	if _, err := o.file.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	framed := bytes.TrimSpace(bytes.TrimPrefix(data, utf8BOM))
	if len(framed) < len(emptyArray) || framed[0] != '[' || framed[len(framed)-1] != ']' {
		return o.reset()
	}
	if len(bytes.TrimSpace(framed[1:len(framed)-1])) == 0 {
		return o.reset()
	}

	if len(framed) != len(data) {
		if err := o.file.Truncate(0); err != nil {
			return err
		}
		if _, err := o.file.WriteAt(framed, 0); err != nil {
			return err
		}
	}

	_, err = o.file.Seek(-1, io.SeekEnd)
	return err
}

func (o *JSONFileOutput) sync() error {
	start := time.Now()
	err := o.file.Sync()
	o.recorder.ObserveSync(time.Since(start))
	return err
}

func (o *JSONFileOutput) closeFile() error {
	if o.file == nil {
		return nil
	}
	serr := o.sync()
	cerr := o.file.Close()
	o.file = nil
	if serr != nil {
		return fmt.Errorf("failed to sync log file: %w", serr)
	}
	if cerr != nil {
		return fmt.Errorf("failed to close log file: %w", cerr)
	}
	return nil
}

// ReadEntries decodes the JSON log file at path
func ReadEntries(path string) ([]LogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	entries := make([]LogEntry, 0)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode log file: %w", err)
	}
	return entries, nil
}
