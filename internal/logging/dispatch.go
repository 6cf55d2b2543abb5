package logging

import (
	"errors"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// DispatchHook is a single logrus hook that forwards entries to every
// JSONLogHook the Manager currently has open. logrus has no RemoveHook, so
// outputs come and go by swapping the snapshot instead of the registered hooks.
//
// The snapshot is stored atomically, so Fire() never acquires a mutex and
// cannot deadlock with a Manager that logs while holding its own lock.
type DispatchHook struct {
	snapshot atomic.Pointer[[]*JSONLogHook]
}

// NewDispatchHook creates a dispatch hook
func NewDispatchHook() *DispatchHook {
	h := &DispatchHook{}
	empty := make([]*JSONLogHook, 0)
	h.snapshot.Store(&empty)
	return h
}

// UpdateSnapshot replaces the current hooks snapshot (called by Manager under write lock)
func (h *DispatchHook) UpdateSnapshot(hooks []*JSONLogHook) {
	h.snapshot.Store(&hooks)
}

// Hooks returns the hooks of the current snapshot
func (h *DispatchHook) Hooks() []*JSONLogHook {
	snapshot := h.snapshot.Load()
	if snapshot == nil {
		return nil
	}
	return *snapshot
}

// Levels returns all log levels; per-output filtering happens in Fire
func (h *DispatchHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire forwards entry to every hook whose level admits it. This method is lock-free.
func (h *DispatchHook) Fire(entry *logrus.Entry) error {
	var errs []error
	for _, hook := range h.Hooks() {
		if !hook.Enabled(entry.Level) {
			continue
		}
		if err := hook.Fire(entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
