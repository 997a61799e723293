package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"objectos/internal/apierr"
	"objectos/internal/hooks"
	"objectos/internal/template"
	"objectos/pkg/logging"
)

// EmitFunc publishes a notification lifecycle event. Emission happens outside
// the notifier lock, so handlers may safely call back in.
type EmitFunc func(ctx context.Context, topic string, payload map[string]interface{}) error

// Notifier renders notifications and routes them to per-channel handlers.
// With the queue enabled a single worker delivers one entry per tick, FIFO,
// with linear retry back-off; disabled, Send delivers on the caller's
// goroutine.
type Notifier struct {
	mu        sync.Mutex
	cfg       Config
	channels  map[string]Handler
	breakers  map[string]*gobreaker.CircuitBreaker
	templates *TemplateStore
	tmpl      *template.Engine
	active    map[string]*Notification
	history   []*Notification
	emit      EmitFunc
	now       func() time.Time
	seq       uint64

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool

	totalQueued int64
	totalSent   int64
	totalFailed int64
}

// New creates a notifier. emit may be nil to disable event publication.
func New(cfg Config, emit EmitFunc) *Notifier {
	return &Notifier{
		cfg:       cfg.withDefaults(),
		channels:  make(map[string]Handler),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		templates: NewTemplateStore(),
		tmpl:      template.New(),
		active:    make(map[string]*Notification),
		emit:      emit,
		now:       time.Now,
	}
}

// Templates exposes the named-template registry.
func (n *Notifier) Templates() *TemplateStore {
	return n.templates
}

// RegisterChannel binds a handler to a channel name. Channels listed in
// Config.BreakerChannels get a circuit breaker in front of the handler.
func (n *Notifier) RegisterChannel(name string, handler Handler) error {
	if name == "" {
		return fmt.Errorf("notification channel name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for channel %q must not be nil", name)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.channels[name]; exists {
		return apierr.NewConflictError("notification channel", name)
	}
	n.channels[name] = handler
	if n.breakerWantedLocked(name) {
		n.breakers[name] = newBreaker(name)
	}
	return nil
}

// Channels returns the registered channel names, sorted.
func (n *Notifier) Channels() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	names := make([]string, 0, len(n.channels))
	for name := range n.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send renders the request and either queues it or, with the queue disabled,
// delivers it synchronously and returns the delivery error.
func (n *Notifier) Send(ctx context.Context, req Request) (string, error) {
	if err := n.validate(req); err != nil {
		return "", err
	}

	subject, body, err := n.render(req)
	if err != nil {
		return "", err
	}

	entry := &Notification{
		ID:         "ntf_" + uuid.NewString(),
		Channel:    req.Channel,
		Recipients: append([]string(nil), req.Recipients...),
		Subject:    subject,
		Body:       body,
		Data:       req.Data,
		Status:     StatusPending,
		MaxRetries: n.cfg.MaxRetries,
		CreatedAt:  n.now(),
	}

	if !n.cfg.QueueEnabled {
		return entry.ID, n.sendSync(ctx, entry)
	}

	n.mu.Lock()
	entry.seq = n.seq
	n.seq++
	n.active[entry.ID] = entry
	n.totalQueued++
	n.mu.Unlock()

	n.publish(ctx, hooks.TopicNotificationQueued, map[string]interface{}{
		"notificationId": entry.ID,
		"channel":        entry.Channel,
	})
	return entry.ID, nil
}

// Get returns a copy of one notification, queued or delivered.
func (n *Notifier) Get(id string) (*Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if entry, ok := n.active[id]; ok {
		return entry.clone(), nil
	}
	for _, entry := range n.history {
		if entry.ID == id {
			return entry.clone(), nil
		}
	}
	return nil, apierr.NewNotFoundError("notification", id)
}

// QueueStatus reports queue depth by status plus lifetime counters.
func (n *Notifier) QueueStatus() map[string]interface{} {
	n.mu.Lock()
	defer n.mu.Unlock()

	byStatus := map[string]int{}
	for _, entry := range n.active {
		byStatus[string(entry.Status)]++
	}
	for _, entry := range n.history {
		byStatus[string(entry.Status)]++
	}

	return map[string]interface{}{
		"enabled":       n.cfg.QueueEnabled,
		"queueSize":     len(n.active),
		"byStatus":      byStatus,
		"totalQueued":   n.totalQueued,
		"totalSent":     n.totalSent,
		"totalFailed":   n.totalFailed,
		"channels":      len(n.channels),
		"workerRunning": n.running,
	}
}

// Start launches the delivery worker. Without the queue enabled this is a
// no-op; Send already delivers inline.
func (n *Notifier) Start() {
	if !n.cfg.QueueEnabled {
		return
	}

	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return
	}
	n.running = true
	n.stopCh = make(chan struct{})
	n.doneCh = make(chan struct{})
	n.mu.Unlock()

	go n.run()
	logging.Info("Notify", "Delivery worker started, tick interval %s", n.cfg.TickInterval)
}

// Stop halts the worker and waits for an in-flight delivery to finish.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	close(n.stopCh)
	done := n.doneCh
	n.mu.Unlock()

	<-done
	logging.Info("Notify", "Delivery worker stopped")
}

func (n *Notifier) run() {
	defer close(n.doneCh)

	ticker := time.NewTicker(n.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.Tick(context.Background())
		}
	}
}

// Tick runs one delivery cycle: the oldest dispatchable entry is attempted.
// At most one notification transitions to sending per tick.
func (n *Notifier) Tick(ctx context.Context) {
	now := n.now()

	n.mu.Lock()
	entry := n.nextDispatchableLocked(now)
	if entry == nil {
		n.mu.Unlock()
		return
	}
	entry.Status = StatusSending
	entry.Attempts++
	entry.LastAttemptAt = now
	handler := n.channels[entry.Channel]
	n.mu.Unlock()

	var err error
	if handler == nil {
		err = fmt.Errorf("no handler registered for channel %q", entry.Channel)
	} else {
		err = n.deliver(ctx, handler, entry.clone())
	}

	if err == nil {
		n.completeSend(ctx, entry)
	} else {
		n.failAttempt(ctx, entry, err)
	}
}

func (n *Notifier) validate(req Request) error {
	verr := &apierr.ValidationErrors{}
	if req.Channel == "" {
		verr.Add("channel", "channel is required")
	}
	if len(req.Recipients) == 0 {
		verr.Add("recipients", "at least one recipient is required")
	}
	if req.Template == "" && req.Subject == "" && req.Body == "" {
		verr.Add("body", "one of template, subject or body is required")
	}
	if err := verr.OrNil(); err != nil {
		return err
	}

	n.mu.Lock()
	_, ok := n.channels[req.Channel]
	n.mu.Unlock()
	if !ok {
		return apierr.NewNotFoundError("notification channel", req.Channel)
	}
	return nil
}

// render resolves subject and body. A named template goes through
// text/template with sprig; inline subject/body go through the {{ var }}
// engine in lenient mode, so a marker without a matching data entry stays
// literal instead of blocking delivery.
func (n *Notifier) render(req Request) (string, string, error) {
	if req.Template != "" {
		return n.templates.Render(req.Template, req.Data)
	}

	subject, err := n.tmpl.ReplaceLenient(req.Subject, req.Data)
	if err != nil {
		return "", "", fmt.Errorf("rendering subject: %w", err)
	}
	body, err := n.tmpl.ReplaceLenient(req.Body, req.Data)
	if err != nil {
		return "", "", fmt.Errorf("rendering body: %w", err)
	}
	return renderedString(subject), renderedString(body), nil
}

// sendSync delivers on the caller's goroutine. The terminal entry still lands
// in history so QueueStatus reflects synchronous traffic.
func (n *Notifier) sendSync(ctx context.Context, entry *Notification) error {
	n.mu.Lock()
	handler := n.channels[entry.Channel]
	entry.Status = StatusSending
	entry.Attempts = 1
	entry.LastAttemptAt = n.now()
	n.mu.Unlock()

	err := n.deliver(ctx, handler, entry.clone())

	n.mu.Lock()
	if err == nil {
		entry.Status = StatusSent
		entry.SentAt = n.now()
		n.totalSent++
	} else {
		entry.Status = StatusFailed
		entry.LastError = err.Error()
		n.totalFailed++
	}
	n.pushHistoryLocked(entry)
	n.mu.Unlock()

	if err == nil {
		n.publish(ctx, hooks.TopicNotificationSent, map[string]interface{}{
			"notificationId": entry.ID,
			"channel":        entry.Channel,
			"attempts":       1,
		})
		return nil
	}
	n.publish(ctx, hooks.TopicNotificationFailed, map[string]interface{}{
		"notificationId": entry.ID,
		"channel":        entry.Channel,
		"attempt":        1,
		"error":          err.Error(),
		"willRetry":      false,
	})
	return err
}

func (n *Notifier) completeSend(ctx context.Context, entry *Notification) {
	n.mu.Lock()
	entry.Status = StatusSent
	entry.LastError = ""
	entry.SentAt = n.now()
	delete(n.active, entry.ID)
	n.pushHistoryLocked(entry)
	n.totalSent++
	attempts := entry.Attempts
	n.mu.Unlock()

	n.publish(ctx, hooks.TopicNotificationSent, map[string]interface{}{
		"notificationId": entry.ID,
		"channel":        entry.Channel,
		"attempts":       attempts,
	})
}

func (n *Notifier) failAttempt(ctx context.Context, entry *Notification, sendErr error) {
	n.mu.Lock()
	entry.LastError = sendErr.Error()
	willRetry := entry.Attempts < entry.MaxRetries
	if willRetry {
		entry.Status = StatusRetrying
	} else {
		entry.Status = StatusFailed
		delete(n.active, entry.ID)
		n.pushHistoryLocked(entry)
		n.totalFailed++
	}
	attempts := entry.Attempts
	n.mu.Unlock()

	n.publish(ctx, hooks.TopicNotificationFailed, map[string]interface{}{
		"notificationId": entry.ID,
		"channel":        entry.Channel,
		"attempt":        attempts,
		"error":          sendErr.Error(),
		"willRetry":      willRetry,
	})

	if !willRetry {
		logging.Warn("Notify", "Notification %s (%s) dead-lettered after %d attempts: %v",
			entry.ID, entry.Channel, attempts, sendErr)
	}
}

// deliver runs the handler, routed through the channel's circuit breaker
// when one is configured.
func (n *Notifier) deliver(ctx context.Context, handler Handler, entry *Notification) error {
	n.mu.Lock()
	cb := n.breakers[entry.Channel]
	n.mu.Unlock()

	if cb == nil {
		return n.runHandler(ctx, handler, entry)
	}
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, n.runHandler(ctx, handler, entry)
	})
	return err
}

// runHandler isolates handler panics into delivery errors.
func (n *Notifier) runHandler(ctx context.Context, handler Handler, entry *Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notification handler panic: %v", r)
		}
	}()
	return handler(ctx, entry)
}

// nextDispatchableLocked picks the oldest entry that is pending or retrying
// with its back-off elapsed.
func (n *Notifier) nextDispatchableLocked(now time.Time) *Notification {
	var best *Notification
	for _, entry := range n.active {
		switch entry.Status {
		case StatusPending:
			// dispatchable
		case StatusRetrying:
			if now.Before(entry.LastAttemptAt.Add(n.retryDelay(entry.Attempts))) {
				continue
			}
		default:
			continue
		}

		if best == nil || entry.seq < best.seq {
			best = entry
		}
	}
	return best
}

func (n *Notifier) retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(attempts) * n.cfg.RetryDelay
}

func (n *Notifier) breakerWantedLocked(name string) bool {
	for _, c := range n.cfg.BreakerChannels {
		if c == name {
			return true
		}
	}
	return false
}

func (n *Notifier) pushHistoryLocked(entry *Notification) {
	n.history = append(n.history, entry)
	if len(n.history) > n.cfg.MaxHistory {
		overflow := len(n.history) - n.cfg.MaxHistory
		n.history = append([]*Notification(nil), n.history[overflow:]...)
	}
}

func (n *Notifier) publish(ctx context.Context, topic string, payload map[string]interface{}) {
	if n.emit == nil {
		return
	}
	if err := n.emit(ctx, topic, payload); err != nil {
		logging.Warn("Notify", "Emitting %s failed: %v", topic, err)
	}
}

const (
	breakerFailureThreshold = 5
	breakerOpenFor          = 30 * time.Second
)

func newBreaker(channel string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "notify/" + channel,
		Timeout: breakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("Notify", "Circuit breaker %s: %s -> %s", name, from, to)
		},
	})
}

func renderedString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
