// Package jobs implements the in-memory background job queue: priority FIFO
// ordering, a single cooperative dispatch worker, and retry with configurable
// back-off. Terminal jobs move to a bounded history for inspection.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Priority orders dispatch across queue bands. Higher values dispatch first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the lowercase priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority converts a priority name. Empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

// MarshalJSON encodes the priority as its name.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts a priority name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParsePriority(name)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// State is a job's lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateScheduled State = "scheduled"
	StateRunning   State = "running"
	StateRetrying  State = "retrying"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state ends a job's life. Terminal jobs live
// in the history, not the queue.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Handler executes one job attempt. A nil return completes the job; an error
// counts the attempt as failed.
type Handler func(ctx context.Context, job *Job) error

// Job is one unit of deferred work.
type Job struct {
	// ID uniquely identifies the job.
	ID string `json:"id"`

	// Name selects the registered handler.
	Name string `json:"name"`

	// Payload is handed to the handler untouched.
	Payload map[string]interface{} `json:"payload,omitempty"`

	// Priority places the job in its dispatch band.
	Priority Priority `json:"priority"`

	// State is the current lifecycle state.
	State State `json:"state"`

	// Attempts counts started attempts, including the running one.
	Attempts int `json:"attempts"`

	// MaxRetries bounds total attempts. The job dead-letters when this
	// many attempts have failed.
	MaxRetries int `json:"maxRetries"`

	// LastError records the most recent attempt failure. A successful
	// attempt clears it.
	LastError string `json:"lastError,omitempty"`

	// EnqueuedAt is when the job entered the queue.
	EnqueuedAt time.Time `json:"enqueuedAt"`

	// RunAt is the earliest dispatch time for scheduled jobs.
	RunAt time.Time `json:"runAt,omitzero"`

	// LastAttemptAt is when the latest attempt started.
	LastAttemptAt time.Time `json:"lastAttemptAt,omitzero"`

	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time `json:"completedAt,omitzero"`

	// seq breaks FIFO ties within a priority band.
	seq uint64
}

// clone returns a copy safe to hand outside the queue. The payload map is
// copied shallowly; handlers must not retain it across attempts.
func (j *Job) clone() *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = make(map[string]interface{}, len(j.Payload))
		for k, v := range j.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}

// EnqueueOptions tune one enqueued job.
type EnqueueOptions struct {
	// Priority places the job in its dispatch band. Default normal.
	Priority Priority

	// MaxRetries bounds total attempts. Zero or less uses the queue
	// default.
	MaxRetries int

	// Delay defers the first dispatch; the job starts out scheduled.
	Delay time.Duration
}

// BackoffStrategy names how the retry delay grows across attempts.
type BackoffStrategy string

const (
	// BackoffLinear waits base*attempts between retries.
	BackoffLinear BackoffStrategy = "linear"

	// BackoffExponential doubles the base delay per attempt.
	BackoffExponential BackoffStrategy = "exponential"
)

// Config tunes the queue and its worker.
type Config struct {
	// TickInterval is the worker's dispatch cadence. Default 500ms.
	TickInterval time.Duration `json:"tickInterval" yaml:"tickInterval"`

	// RetryDelay is the back-off base between attempts. Default 5s.
	RetryDelay time.Duration `json:"retryDelay" yaml:"retryDelay"`

	// Backoff selects the delay growth strategy. Default linear.
	Backoff BackoffStrategy `json:"backoff" yaml:"backoff"`

	// DefaultMaxRetries applies when an enqueue does not set its own.
	// Default 3.
	DefaultMaxRetries int `json:"defaultMaxRetries" yaml:"defaultMaxRetries"`

	// MaxHistory bounds the terminal-job history. Default 1000.
	MaxHistory int `json:"maxHistory" yaml:"maxHistory"`
}

const (
	defaultTickInterval = 500 * time.Millisecond
	defaultRetryDelay   = 5 * time.Second
	defaultMaxRetries   = 3
	defaultMaxHistory   = 1000
)

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.Backoff == "" {
		c.Backoff = BackoffLinear
	}
	if c.DefaultMaxRetries <= 0 {
		c.DefaultMaxRetries = defaultMaxRetries
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = defaultMaxHistory
	}
	return c
}
