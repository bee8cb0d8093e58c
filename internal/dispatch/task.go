package dispatch

import (
	"time"

	"perfmonitor/channel"
	"perfmonitor/profile"
)

// Status tracks one delivery task through its lifecycle.
// Params: categorized task state.
// Returns: machine-readable status value.
type Status string

const (
	// StatusPending marks tasks queued but not yet picked up by a worker.
	StatusPending Status = "pending"
	// StatusRunning marks tasks currently fanning out to channels.
	StatusRunning Status = "running"
	// StatusCompleted marks tasks delivered by at least one channel.
	StatusCompleted Status = "completed"
	// StatusFailed marks tasks rejected by every channel.
	StatusFailed Status = "failed"
	// StatusTimedOut marks tasks where every channel hit its send deadline.
	StatusTimedOut Status = "timed_out"
)

// Target binds one delivery channel to its configured report format.
// Params: channel implementation and format selection.
// Returns: fan-out destination descriptor.
type Target struct {
	Channel channel.Channel
	Format  profile.Format
}

// Task is one outbound alert in the delivery queue.
// Params: queued profile and delivery bookkeeping.
// Returns: queue unit consumed by delivery workers.
type Task struct {
	ID        string          `json:"id"`
	Profile   profile.Profile `json:"profile"`
	CreatedAt time.Time       `json:"created_at"`
	Status    Status          `json:"status"`
	Errors    []string        `json:"errors,omitempty"`
}

// Stats is a point-in-time snapshot of dispatcher counters.
// Params: monotonic counters since dispatcher start.
// Returns: queue observability numbers.
type Stats struct {
	Enqueued  uint64
	Dropped   uint64
	Completed uint64
	Failed    uint64
	TimedOut  uint64
}
