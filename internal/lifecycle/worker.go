package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TruncateSource is the set of JSON log files a retention pass bounds.
// TruncateAll only queues the work; FlushAll returns once it has run.
type TruncateSource interface {
	TruncateAll()
	FlushAll()
	GetActiveOutputs() int
}

// TaskRecorder receives the outcome of every retention pass
type TaskRecorder interface {
	RecordBackgroundTask(taskType string, duration time.Duration, success bool)
}

const retentionTask = "retention"

// Worker periodically truncates every open JSON log file to its maximum
// entry count. Truncation is otherwise only done on open or on request.
type Worker struct {
	source   TruncateSource
	recorder TaskRecorder
	ticker   *time.Ticker
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new retention worker
func NewWorker(source TruncateSource) *Worker {
	return &Worker{
		source:   source,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetRecorder reports retention passes to r. Call before Start.
func (w *Worker) SetRecorder(r TaskRecorder) {
	w.recorder = r
}

// Start begins the retention worker. A pass runs immediately, then once per
// interval. A non-positive interval leaves the worker stopped.
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		logrus.Debug("Retention worker disabled")
		close(w.done)
		return
	}

	w.ticker = time.NewTicker(interval)

	logrus.WithField("interval", interval).Info("Retention worker started")

	go func() {
		defer close(w.done)

		// Run immediately on start
		w.runPass()

		for {
			select {
			case <-w.ticker.C:
				w.runPass()
			case <-w.stopChan:
				w.ticker.Stop()
				logrus.Info("Retention worker stopped")
				return
			case <-ctx.Done():
				w.ticker.Stop()
				logrus.Info("Retention worker stopped due to context cancellation")
				return
			}
		}
	}()
}

// Stop stops the retention worker and waits for a running pass to finish
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	<-w.done
}

// runPass truncates every open file and waits for the truncations to finish.
// Per-file failures are reported by the files themselves as store operations.
func (w *Worker) runPass() {
	start := time.Now()
	w.source.TruncateAll()
	w.source.FlushAll()

	logrus.WithFields(logrus.Fields{
		"outputs":  w.source.GetActiveOutputs(),
		"duration": time.Since(start),
	}).Debug("Retention pass completed")

	if w.recorder != nil {
		w.recorder.RecordBackgroundTask(retentionTask, time.Since(start), true)
	}
}
