// Package notify implements the notification queue: requests are rendered,
// routed to a per-channel handler, and delivered either synchronously or
// through the same FIFO/retry worker pattern the job queue uses.
package notify

import (
	"context"
	"time"
)

// Channel names the shipped handlers answer to. Channels are an open set;
// custom handlers may register under any name.
const (
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelPush    = "push"
	ChannelWebhook = "webhook"
)

// Status is the lifecycle state of a queued notification.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSending  Status = "sending"
	StatusRetrying Status = "retrying"
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
)

// Terminal reports whether a notification in this status is finished.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Request is what callers hand to Send. Subject and Body may carry inline
// {{ var }} markers resolved against Data; Template instead names a
// registered template rendered with the full sprig function set.
type Request struct {
	Channel    string                 `json:"channel"`
	Recipients []string               `json:"recipients"`
	Subject    string                 `json:"subject,omitempty"`
	Body       string                 `json:"body,omitempty"`
	Template   string                 `json:"template,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Notification is a queued entry. Subject and Body are already rendered by
// the time the entry exists; handlers deliver them as-is.
type Notification struct {
	ID            string                 `json:"id"`
	Channel       string                 `json:"channel"`
	Recipients    []string               `json:"recipients"`
	Subject       string                 `json:"subject,omitempty"`
	Body          string                 `json:"body,omitempty"`
	Data          map[string]interface{} `json:"data,omitempty"`
	Status        Status                 `json:"status"`
	Attempts      int                    `json:"attempts"`
	MaxRetries    int                    `json:"maxRetries"`
	LastError     string                 `json:"lastError,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	LastAttemptAt time.Time              `json:"lastAttemptAt,omitzero"`
	SentAt        time.Time              `json:"sentAt,omitzero"`

	seq uint64
}

func (n *Notification) clone() *Notification {
	c := *n
	if n.Recipients != nil {
		c.Recipients = append([]string(nil), n.Recipients...)
	}
	if n.Data != nil {
		c.Data = make(map[string]interface{}, len(n.Data))
		for k, v := range n.Data {
			c.Data[k] = v
		}
	}
	return &c
}

// Handler delivers one rendered notification on one channel.
type Handler func(ctx context.Context, n *Notification) error

// Config controls queue behaviour. Channel transport settings (SMTP hosts,
// webhook URLs) belong to whoever builds the handlers, not here.
type Config struct {
	// QueueEnabled selects queued delivery; when false Send dispatches
	// synchronously on the caller's goroutine.
	QueueEnabled bool
	// TickInterval is the worker cadence when the queue is enabled.
	TickInterval time.Duration
	// RetryDelay is the base wait between attempts (linear back-off).
	RetryDelay time.Duration
	// MaxRetries bounds total attempts per notification.
	MaxRetries int
	// MaxHistory bounds the terminal-notification buffer.
	MaxHistory int
	// BreakerChannels lists channels guarded by a circuit breaker. A nil
	// slice means the default of just the webhook channel; an empty,
	// non-nil slice disables breakers entirely.
	BreakerChannels []string
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
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = defaultMaxHistory
	}
	if c.BreakerChannels == nil {
		c.BreakerChannels = []string{ChannelWebhook}
	}
	return c
}
