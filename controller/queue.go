// Package controller implements the controlling side of the render
// protocol: job submission, correlation of asynchronous worker messages
// by job id, file resolution with extension fallback, and concurrent
// fan-out over a queue of jobs.
package controller

import (
	"sync"
	"time"
)

// Status is a queue item's lifecycle state.
type Status string

// Queue item statuses. A job transitions to at most one of Completed or
// Failed, exactly once.
const (
	StatusPending   Status = "pending"
	StatusRendering Status = "rendering"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// QueueItem represents one user-submitted render job on the controller.
// The worker never holds a reference to it — only the correlation id
// and the byte buffers it is handed.
//
// Live fields are mutated by the dispatcher as messages arrive; read
// them through Snapshot.
type QueueItem struct {
	// Name is the display name of the job.
	Name string
	// EntryName is the entry chart's file name.
	EntryName string
	// EntryText is the full chart text sent in RENDER.
	EntryText string
	// Files is the job's full set of locally available files.
	Files map[string][]byte

	mu        sync.Mutex
	id        string
	status    Status
	progress  int
	stage     string
	result    []byte
	errText   string
	missing   []string
	submitted time.Time
	settled   time.Time
}

// NewQueueItem creates a pending queue item.
func NewQueueItem(name, entryName, entryText string, files map[string][]byte) *QueueItem {
	return &QueueItem{
		Name:      name,
		EntryName: entryName,
		EntryText: entryText,
		Files:     files,
		status:    StatusPending,
	}
}

// ID returns the correlation id assigned at submission, or "" before.
func (q *QueueItem) ID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.id
}

// Result returns the final output buffer once the job completed.
func (q *QueueItem) Result() []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.result
}

// Snapshot is a point-in-time copy of an item's live fields.
type Snapshot struct {
	Name        string
	ID          string
	Status      Status
	Progress    int
	Stage       string
	Missing     []string
	OutputBytes int
	Error       string
	Duration    time.Duration
}

// Snapshot returns a copy of the item's live fields.
func (q *QueueItem) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	var d time.Duration
	if !q.submitted.IsZero() {
		end := q.settled
		if end.IsZero() {
			end = time.Now()
		}
		d = end.Sub(q.submitted)
	}
	return Snapshot{
		Name:        q.Name,
		ID:          q.id,
		Status:      q.status,
		Progress:    q.progress,
		Stage:       q.stage,
		Missing:     append([]string(nil), q.missing...),
		OutputBytes: len(q.result),
		Error:       q.errText,
		Duration:    d,
	}
}

func (q *QueueItem) submit(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.id = id
	q.status = StatusRendering
	q.submitted = time.Now()
}

func (q *QueueItem) setProgress(pct int, stage string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.progress = pct
	q.stage = stage
}

func (q *QueueItem) complete(buffer []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.result = buffer
	q.status = StatusCompleted
	q.progress = 100
	q.stage = "Done"
	q.settled = time.Now()
}

func (q *QueueItem) fail(errText string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.status = StatusFailed
	q.errText = errText
	q.stage = "Failed"
	q.settled = time.Now()
}

// recordMissing remembers logical names that resolved to nothing, for
// user-facing reporting. Non-fatal.
func (q *QueueItem) recordMissing(names []string) {
	if len(names) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	seen := make(map[string]struct{}, len(q.missing))
	for _, n := range q.missing {
		seen[n] = struct{}{}
	}
	for _, n := range names {
		if _, dup := seen[n]; !dup {
			q.missing = append(q.missing, n)
			seen[n] = struct{}{}
		}
	}
}
