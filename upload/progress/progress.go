// Package progress aggregates completed chunk counts into a percentage and
// reports it to a listener.
package progress

import (
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Listener receives percentage updates as chunks complete.
type Listener interface {
	HandleProgress(percent int)
}

// Tracker counts completed chunks and emits floor(completed/total*100) to its
// listener after each completion. The reported percentage is monotonic and
// reaches 100 exactly when every chunk has completed.
type Tracker struct {
	total     int
	completed int
	listener  Listener
	mu        sync.Mutex
}

// NewTracker creates a tracker for total chunks. The listener can be nil.
func NewTracker(total int, listener Listener) *Tracker {
	return &Tracker{
		total:    total,
		listener: listener,
	}
}

// OnChunkComplete records one successful chunk upload. It must be called once
// per chunk success and never for failures. Safe for concurrent use.
func (t *Tracker) OnChunkComplete() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.total == 0 || t.completed == t.total {
		return
	}
	t.completed++

	if t.listener != nil {
		t.listener.HandleProgress(t.percent())
	}
}

// Completed returns the number of chunks recorded so far.
func (t *Tracker) Completed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// Percent returns the current progress percentage. A tracker with zero total
// chunks reports 100.
func (t *Tracker) Percent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percent()
}

func (t *Tracker) percent() int {
	if t.total == 0 {
		return 100
	}
	return t.completed * 100 / t.total
}

// LogListener writes progress updates to the step log.
type LogListener struct {
	logger log.Logger
}

// NewLogListener ...
func NewLogListener(logger log.Logger) *LogListener {
	return &LogListener{logger: logger}
}

// HandleProgress ...
func (l *LogListener) HandleProgress(percent int) {
	l.logger.Printf("Upload progress: %d%%", percent)
}
