package logging

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager owns the JSON log files of a process, one JSONFileOutput per path,
// and routes a logrus logger's entries to them
type Manager struct {
	targetStore  *TargetStore
	outputs      map[string]*managedOutput // output name → open output
	dispatchHook *DispatchHook            // single hook registered with logrus
	recorder     Recorder
	mu           sync.RWMutex
	logger       *logrus.Logger
}

// managedOutput pairs an open file with the hook feeding it. target is set
// when the output was opened from the target store.
type managedOutput struct {
	output *JSONFileOutput
	hook   *JSONLogHook
	target *TargetConfig
}

// OutputInfo describes an open output
type OutputInfo struct {
	Name        string      `json:"name"`
	Label       string      `json:"label"`
	Path        string      `json:"path"`
	MaxEntries  int         `json:"max_entries"`
	FlushPolicy FlushPolicy `json:"flush_policy"`
	Level       string      `json:"level"`
	TargetID    string      `json:"target_id,omitempty"`
}

// NewManager creates a new logging manager
func NewManager(logger *logrus.Logger) *Manager {
	m := &Manager{
		outputs:  make(map[string]*managedOutput),
		recorder: nopRecorder{},
		logger:   logger,
	}

	// A single dispatch hook routes to all open outputs through an atomic
	// snapshot, so Fire() never takes the manager mutex.
	m.dispatchHook = NewDispatchHook()
	logger.AddHook(m.dispatchHook)

	return m
}

// Logger returns the logger whose entries the manager dispatches
func (m *Manager) Logger() *logrus.Logger {
	return m.logger
}

// SetRecorder sets the recorder handed to outputs opened afterwards
func (m *Manager) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	m.mu.Lock()
	m.recorder = r
	m.mu.Unlock()
}

// AddOutput opens the JSON log file at path and starts dispatching entries at
// or above level to it, labeled with label
func (m *Manager) AddOutput(name, label, path string, level logrus.Level, opts ...JSONFileOption) (*JSONLogHook, error) {
	m.mu.Lock()
	hook, err := m.openLocked(name, label, path, level, nil, opts...)
	if err == nil {
		m.publishSnapshot()
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"output": name,
		"label":  label,
		"path":   path,
		"level":  level.String(),
	}).Debug("Logging output opened")

	return hook, nil
}

// openLocked opens and registers an output. MUST be called under the write lock.
func (m *Manager) openLocked(name, label, path string, level logrus.Level, target *TargetConfig, opts ...JSONFileOption) (*JSONLogHook, error) {
	if _, exists := m.outputs[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrOutputExists, name)
	}
	for other, mo := range m.outputs {
		if samePath(mo.output.Path(), path) {
			return nil, fmt.Errorf("%w: %s is already written by output %s", ErrOutputExists, path, other)
		}
	}

	opts = append([]JSONFileOption{WithRecorder(m.recorder)}, opts...)
	output, err := OpenJSONFile(path, opts...)
	if err != nil {
		return nil, err
	}

	hook := NewJSONLogHook(label, output, WithLevel(level))
	m.outputs[name] = &managedOutput{output: output, hook: hook, target: target}
	return hook, nil
}

// Output returns the open output registered under name
func (m *Manager) Output(name string) (*JSONFileOutput, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mo, ok := m.outputs[name]
	if !ok {
		return nil, false
	}
	return mo.output, true
}

// Hook returns the hook feeding the output registered under name
func (m *Manager) Hook(name string) (*JSONLogHook, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mo, ok := m.outputs[name]
	if !ok {
		return nil, false
	}
	return mo.hook, true
}

// Outputs describes every open output, sorted by name
func (m *Manager) Outputs() []OutputInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]OutputInfo, 0, len(m.outputs))
	for name, mo := range m.outputs {
		info := OutputInfo{
			Name:        name,
			Label:       mo.hook.Label(),
			Path:        mo.output.Path(),
			MaxEntries:  mo.output.MaxEntries(),
			FlushPolicy: mo.output.FlushPolicy(),
			Level:       mo.hook.Level().String(),
		}
		if mo.target != nil {
			info.TargetID = mo.target.ID
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// RemoveOutput stops dispatching to an output and closes its file
func (m *Manager) RemoveOutput(name string) error {
	m.mu.Lock()
	mo, exists := m.outputs[name]
	if exists {
		delete(m.outputs, name)
		m.publishSnapshot()
	}
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrOutputNotFound, name)
	}

	if err := mo.output.Close(); err != nil {
		m.logger.WithError(err).WithField("output", name).Warn("Failed to close logging output")
	}
	m.logger.WithField("output", name).Info("Output closed")
	return nil
}

// SetTargetStore sets the target store and reconfigures outputs from it
func (m *Manager) SetTargetStore(store *TargetStore) {
	m.mu.Lock()
	m.targetStore = store
	m.mu.Unlock()

	m.Reconfigure()
}

// InitTargetStore creates a target store from a database connection
func (m *Manager) InitTargetStore(db *sql.DB) error {
	store, err := NewTargetStore(db, m.logger)
	if err != nil {
		return err
	}

	m.SetTargetStore(store)
	return nil
}

// GetTargetStore returns the target store
func (m *Manager) GetTargetStore() *TargetStore {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.targetStore
}

// Reconfigure reconciles target-backed outputs with the enabled targets in
// the target store. Logging happens after the write lock is released.
func (m *Manager) Reconfigure() {
	m.mu.Lock()

	if m.targetStore == nil {
		m.mu.Unlock()
		m.logger.Debug("Target store not set, skipping logging reconfiguration")
		return
	}

	targets, err := m.targetStore.ListEnabled()
	if err != nil {
		m.mu.Unlock()
		m.logger.WithError(err).Error("Failed to list enabled logging targets")
		return
	}

	removed, opened, failures := m.reconcileLocked(targets)
	m.publishSnapshot()
	active := len(m.outputs)
	m.mu.Unlock()

	for _, mo := range removed {
		m.logger.WithFields(logrus.Fields{
			"target_id":   mo.target.ID,
			"target_name": mo.target.Name,
		}).Info("Logging target removed")
	}
	for _, f := range failures {
		m.logger.WithError(f.err).WithFields(logrus.Fields{
			"target_id":   f.target.ID,
			"target_name": f.target.Name,
			"path":        f.target.Path,
		}).Error("Logging target reconfiguration failed")
	}
	for _, cfg := range opened {
		m.logger.WithFields(logrus.Fields{
			"target_id":   cfg.ID,
			"target_name": cfg.Name,
			"path":        cfg.Path,
		}).Info("Logging target configured")
	}

	m.logger.WithField("active_outputs", active).Info("Logging configuration updated")
}

type targetFailure struct {
	target *TargetConfig
	err    error
}

// reconcileLocked closes outputs whose target is gone or changed and opens
// outputs for new or changed targets. Changed targets may reuse the path of
// the output they replace, so closing happens first. MUST be called under the
// write lock.
func (m *Manager) reconcileLocked(targets []TargetConfig) (removed []*managedOutput, opened []*TargetConfig, failures []targetFailure) {
	desired := make(map[string]*TargetConfig, len(targets))
	for i := range targets {
		desired[targets[i].Name] = &targets[i]
	}

	for name, mo := range m.outputs {
		if mo.target == nil {
			continue
		}
		cfg, wanted := desired[name]
		if wanted && !targetConfigChanged(mo.target, cfg) {
			continue
		}
		delete(m.outputs, name)
		if err := mo.output.Close(); err != nil {
			failures = append(failures, targetFailure{target: mo.target, err: err})
		}
		removed = append(removed, mo)
	}

	for name, cfg := range desired {
		if mo, exists := m.outputs[name]; exists {
			if mo.target == nil {
				failures = append(failures, targetFailure{target: cfg, err: fmt.Errorf("%w: %s", ErrOutputExists, name)})
			}
			continue
		}

		level, err := logrus.ParseLevel(cfg.FilterLevel)
		if err != nil {
			level = logrus.InfoLevel
		}

		_, err = m.openLocked(name, cfg.Label, cfg.Path, level, cfg,
			WithMaxEntries(cfg.MaxEntries),
			WithFlushPolicy(cfg.FlushPolicy),
		)
		if err != nil {
			failures = append(failures, targetFailure{target: cfg, err: err})
			continue
		}
		opened = append(opened, cfg)
	}

	return removed, opened, failures
}

// ClearAll empties every open output
func (m *Manager) ClearAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mo := range m.outputs {
		mo.output.Clear()
	}
}

// TruncateAll bounds every open output to its maximum entry count
func (m *Manager) TruncateAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mo := range m.outputs {
		mo.output.Truncate()
	}
}

// FlushAll syncs every open output and waits for the syncs to finish
func (m *Manager) FlushAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mo := range m.outputs {
		mo.output.Flush()
	}
}

// Close closes all outputs
func (m *Manager) Close() {
	m.mu.Lock()
	outputs := m.outputs
	m.outputs = make(map[string]*managedOutput)
	// Publish empty snapshot so DispatchHook stops dispatching
	m.publishSnapshot()
	m.mu.Unlock()

	for name, mo := range outputs {
		if err := mo.output.Close(); err != nil {
			m.logger.WithError(err).WithField("output", name).Warn("Failed to close logging output")
			continue
		}
		m.logger.WithField("output", name).Info("Output closed on shutdown")
	}
}

// GetActiveOutputs returns the count of active outputs (for monitoring)
func (m *Manager) GetActiveOutputs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.outputs)
}

// publishSnapshot builds and atomically publishes the hooks snapshot
// to the DispatchHook. MUST be called under the write lock.
func (m *Manager) publishSnapshot() {
	names := make([]string, 0, len(m.outputs))
	for name := range m.outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	snapshot := make([]*JSONLogHook, 0, len(names))
	for _, name := range names {
		snapshot = append(snapshot, m.outputs[name].hook)
	}
	m.dispatchHook.UpdateSnapshot(snapshot)
}

// targetConfigChanged checks if a target changed in a way that requires reopening its file
func targetConfigChanged(old, new *TargetConfig) bool {
	if old.ID != new.ID {
		return true
	}
	if old.Label != new.Label {
		return true
	}
	if !samePath(old.Path, new.Path) {
		return true
	}
	if old.MaxEntries != new.MaxEntries {
		return true
	}
	if old.FlushPolicy != new.FlushPolicy {
		return true
	}
	if old.FilterLevel != new.FilterLevel {
		return true
	}
	return false
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
