// Package adapter defines the event-bus adapter boundary.
//
// Adapters publish job completion notifications to downstream systems.
// The CLI owns adapter lifecycle; users provide configuration only.
package adapter

import "context"

// JobCompletedEvent is the payload published when a render job settles.
type JobCompletedEvent struct {
	EventType   string   `json:"event_type"` // always "job_completed"
	JobID       string   `json:"job_id"`
	Name        string   `json:"name"`
	Status      string   `json:"status"` // completed or failed
	OutputPath  string   `json:"output_path,omitempty"`
	OutputBytes int      `json:"output_bytes"`
	Missing     []string `json:"missing_files,omitempty"`
	Error       string   `json:"error,omitempty"`
	Timestamp   string   `json:"timestamp"` // ISO 8601
	DurationMs  int64    `json:"duration_ms"`
}

// Adapter publishes job completion events to a downstream system.
type Adapter interface {
	// Publish sends a job completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *JobCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
