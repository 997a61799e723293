package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"objectos/internal/apierr"
	"objectos/internal/hooks"
	"objectos/pkg/logging"
)

// EmitFunc publishes a job lifecycle event. Emission happens outside the
// queue lock, so handlers may safely call back into the queue.
type EmitFunc func(ctx context.Context, topic string, payload map[string]interface{}) error

// Queue is the in-memory priority job queue. One cooperative worker
// dispatches at most one job per tick; within a priority band jobs run in
// enqueue order.
type Queue struct {
	mu       sync.Mutex
	cfg      Config
	handlers map[string]Handler
	active   map[string]*Job
	history  []*Job
	emit     EmitFunc
	now      func() time.Time
	seq      uint64

	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool

	totalEnqueued  int64
	totalCompleted int64
	totalFailed    int64
	totalRetried   int64
	totalCancelled int64
}

// New creates a queue. emit may be nil to disable event publication.
func New(cfg Config, emit EmitFunc) *Queue {
	return &Queue{
		cfg:      cfg.withDefaults(),
		handlers: make(map[string]Handler),
		active:   make(map[string]*Job),
		emit:     emit,
		now:      time.Now,
	}
}

// RegisterHandler binds a handler to a job name. Registering a name twice is
// a conflict.
func (q *Queue) RegisterHandler(name string, handler Handler) error {
	if name == "" {
		return fmt.Errorf("job handler name must not be empty")
	}
	if handler == nil {
		return fmt.Errorf("job handler for %q must not be nil", name)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.handlers[name]; exists {
		return apierr.NewConflictError("job handler", name)
	}
	q.handlers[name] = handler
	return nil
}

// Handlers returns the registered handler names, sorted.
func (q *Queue) Handlers() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	names := make([]string, 0, len(q.handlers))
	for name := range q.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handler returns the handler bound to name. The workflow engine uses this
// to run steps inline instead of dispatching one queue job per step.
func (q *Queue) Handler(name string) (Handler, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	handler, ok := q.handlers[name]
	return handler, ok
}

// Enqueue adds a job for dispatch. With a delay the job starts out
// scheduled, otherwise pending.
func (q *Queue) Enqueue(ctx context.Context, name string, payload map[string]interface{}, opts EnqueueOptions) (string, error) {
	if name == "" {
		return "", fmt.Errorf("job name must not be empty")
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = q.cfg.DefaultMaxRetries
	}

	now := q.now()
	job := &Job{
		ID:         "job_" + uuid.NewString(),
		Name:       name,
		Payload:    payload,
		Priority:   opts.Priority,
		State:      StatePending,
		MaxRetries: maxRetries,
		EnqueuedAt: now,
	}

	topic := hooks.TopicJobEnqueued
	if opts.Delay > 0 {
		job.State = StateScheduled
		job.RunAt = now.Add(opts.Delay)
		topic = hooks.TopicJobScheduled
	}

	q.mu.Lock()
	if _, ok := q.handlers[name]; !ok {
		q.mu.Unlock()
		return "", apierr.NewNotFoundError("job handler", name)
	}
	job.seq = q.seq
	q.seq++
	q.active[job.ID] = job
	q.totalEnqueued++
	q.mu.Unlock()

	q.publish(ctx, topic, map[string]interface{}{
		"jobId":    job.ID,
		"name":     job.Name,
		"priority": job.Priority.String(),
	})
	return job.ID, nil
}

// Schedule adds a job that becomes dispatchable once now >= runAt.
func (q *Queue) Schedule(ctx context.Context, name string, payload map[string]interface{}, runAt time.Time) (string, error) {
	if name == "" {
		return "", fmt.Errorf("job name must not be empty")
	}

	job := &Job{
		ID:         "job_" + uuid.NewString(),
		Name:       name,
		Payload:    payload,
		Priority:   PriorityNormal,
		State:      StateScheduled,
		MaxRetries: q.cfg.DefaultMaxRetries,
		EnqueuedAt: q.now(),
		RunAt:      runAt,
	}

	q.mu.Lock()
	if _, ok := q.handlers[name]; !ok {
		q.mu.Unlock()
		return "", apierr.NewNotFoundError("job handler", name)
	}
	job.seq = q.seq
	q.seq++
	q.active[job.ID] = job
	q.totalEnqueued++
	q.mu.Unlock()

	q.publish(ctx, hooks.TopicJobScheduled, map[string]interface{}{
		"jobId":    job.ID,
		"name":     job.Name,
		"priority": job.Priority.String(),
		"runAt":    runAt,
	})
	return job.ID, nil
}

// Cancel stops a job that has not started. Only pending and scheduled jobs
// can be cancelled; anything else is a conflict.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	q.mu.Lock()
	job, ok := q.active[id]
	if !ok {
		if done, _ := q.findHistoryLocked(id); done != nil {
			state := done.State
			q.mu.Unlock()
			return &apierr.ConflictError{
				ResourceType: "job",
				ResourceName: id,
				Message:      fmt.Sprintf("cannot cancel job %s in state %s", id, state),
			}
		}
		q.mu.Unlock()
		return apierr.NewJobNotFoundError(id)
	}
	if job.State != StatePending && job.State != StateScheduled {
		state := job.State
		q.mu.Unlock()
		return &apierr.ConflictError{
			ResourceType: "job",
			ResourceName: id,
			Message:      fmt.Sprintf("cannot cancel job %s in state %s", id, state),
		}
	}

	job.State = StateCancelled
	job.CompletedAt = q.now()
	delete(q.active, id)
	q.pushHistoryLocked(job)
	q.totalCancelled++
	q.mu.Unlock()

	q.publish(ctx, hooks.TopicJobCancelled, map[string]interface{}{
		"jobId": job.ID,
		"name":  job.Name,
	})
	return nil
}

// Retry re-queues a dead-lettered job: attempts reset, error cleared, state
// back to pending. Only failed jobs can be retried.
func (q *Queue) Retry(ctx context.Context, id string) error {
	q.mu.Lock()
	job, idx := q.findHistoryLocked(id)
	if job == nil {
		if _, isActive := q.active[id]; isActive {
			state := q.active[id].State
			q.mu.Unlock()
			return &apierr.ConflictError{
				ResourceType: "job",
				ResourceName: id,
				Message:      fmt.Sprintf("cannot retry job %s in state %s", id, state),
			}
		}
		q.mu.Unlock()
		return apierr.NewJobNotFoundError(id)
	}
	if job.State != StateFailed {
		state := job.State
		q.mu.Unlock()
		return &apierr.ConflictError{
			ResourceType: "job",
			ResourceName: id,
			Message:      fmt.Sprintf("cannot retry job %s in state %s", id, state),
		}
	}

	q.history = append(q.history[:idx], q.history[idx+1:]...)
	job.State = StatePending
	job.Attempts = 0
	job.LastError = ""
	job.LastAttemptAt = time.Time{}
	job.CompletedAt = time.Time{}
	job.seq = q.seq
	q.seq++
	q.active[job.ID] = job
	q.totalRetried++
	q.mu.Unlock()

	q.publish(ctx, hooks.TopicJobRetried, map[string]interface{}{
		"jobId":  job.ID,
		"name":   job.Name,
		"manual": true,
	})
	return nil
}

// Get returns a copy of one job, active or historical.
func (q *Queue) Get(id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job, ok := q.active[id]; ok {
		return job.clone(), nil
	}
	if job, _ := q.findHistoryLocked(id); job != nil {
		return job.clone(), nil
	}
	return nil, apierr.NewJobNotFoundError(id)
}

// List returns copies of jobs, newest first. An empty state lists all jobs,
// active and historical.
func (q *Queue) List(state State) []*Job {
	q.mu.Lock()
	var result []*Job
	for _, job := range q.active {
		if state == "" || job.State == state {
			result = append(result, job.clone())
		}
	}
	for _, job := range q.history {
		if state == "" || job.State == state {
			result = append(result, job.clone())
		}
	}
	q.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].EnqueuedAt.Equal(result[j].EnqueuedAt) {
			return result[i].seq > result[j].seq
		}
		return result[i].EnqueuedAt.After(result[j].EnqueuedAt)
	})
	return result
}

// Stats reports queue depth by state plus lifetime counters.
func (q *Queue) Stats() map[string]interface{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	byState := map[string]int{}
	for _, job := range q.active {
		byState[string(job.State)]++
	}
	for _, job := range q.history {
		byState[string(job.State)]++
	}

	return map[string]interface{}{
		"queueSize":      len(q.active),
		"byState":        byState,
		"totalEnqueued":  q.totalEnqueued,
		"totalCompleted": q.totalCompleted,
		"totalFailed":    q.totalFailed,
		"totalRetried":   q.totalRetried,
		"totalCancelled": q.totalCancelled,
		"handlers":       len(q.handlers),
		"workerRunning":  q.running,
	}
}

// Start launches the dispatch worker. Starting twice is a no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	q.mu.Unlock()

	go q.run()
	logging.Info("JobQueue", "Worker started, tick interval %s", q.cfg.TickInterval)
}

// Stop halts the worker and waits for an in-flight attempt to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopCh)
	done := q.doneCh
	q.mu.Unlock()

	<-done
	logging.Info("JobQueue", "Worker stopped")
}

func (q *Queue) run() {
	defer close(q.doneCh)

	ticker := time.NewTicker(q.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.Tick(context.Background())
		}
	}
}

// Tick runs one cooperative dispatch cycle: promote due scheduled jobs, pick
// the single next dispatchable job, and run it to completion. At most one
// job transitions to running per tick.
func (q *Queue) Tick(ctx context.Context) {
	now := q.now()

	q.mu.Lock()
	q.promoteDueLocked(now)
	job := q.nextDispatchableLocked(now)
	if job == nil {
		q.mu.Unlock()
		return
	}

	job.State = StateRunning
	job.Attempts++
	job.LastAttemptAt = now
	handler := q.handlers[job.Name]
	attempt := job.Attempts
	q.mu.Unlock()

	q.publish(ctx, hooks.TopicJobStarted, map[string]interface{}{
		"jobId":   job.ID,
		"name":    job.Name,
		"attempt": attempt,
	})

	var err error
	if handler == nil {
		err = fmt.Errorf("no handler registered for job %q", job.Name)
	} else {
		err = q.runHandler(ctx, handler, job.clone())
	}

	if err == nil {
		q.completeJob(ctx, job)
	} else {
		q.failAttempt(ctx, job, err)
	}
}

// runHandler isolates handler panics into attempt errors.
func (q *Queue) runHandler(ctx context.Context, handler Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (q *Queue) completeJob(ctx context.Context, job *Job) {
	q.mu.Lock()
	job.State = StateCompleted
	job.LastError = ""
	job.CompletedAt = q.now()
	delete(q.active, job.ID)
	q.pushHistoryLocked(job)
	q.totalCompleted++
	attempts := job.Attempts
	q.mu.Unlock()

	q.publish(ctx, hooks.TopicJobCompleted, map[string]interface{}{
		"jobId":    job.ID,
		"name":     job.Name,
		"attempts": attempts,
	})
}

func (q *Queue) failAttempt(ctx context.Context, job *Job, attemptErr error) {
	q.mu.Lock()
	job.LastError = attemptErr.Error()
	willRetry := job.Attempts < job.MaxRetries
	if willRetry {
		job.State = StateRetrying
	} else {
		job.State = StateFailed
		job.CompletedAt = q.now()
		delete(q.active, job.ID)
		q.pushHistoryLocked(job)
		q.totalFailed++
	}
	attempts := job.Attempts
	q.mu.Unlock()

	q.publish(ctx, hooks.TopicJobFailed, map[string]interface{}{
		"jobId":     job.ID,
		"name":      job.Name,
		"attempt":   attempts,
		"error":     attemptErr.Error(),
		"willRetry": willRetry,
	})

	if willRetry {
		q.publish(ctx, hooks.TopicJobRetried, map[string]interface{}{
			"jobId":       job.ID,
			"name":        job.Name,
			"attempt":     attempts,
			"nextDelayMs": q.retryDelay(attempts).Milliseconds(),
		})
	} else {
		logging.Warn("JobQueue", "Job %s (%s) dead-lettered after %d attempts: %v",
			job.ID, job.Name, attempts, attemptErr)
	}
}

// promoteDueLocked moves scheduled jobs whose time has come to pending.
func (q *Queue) promoteDueLocked(now time.Time) {
	for _, job := range q.active {
		if job.State == StateScheduled && !now.Before(job.RunAt) {
			job.State = StatePending
		}
	}
}

// nextDispatchableLocked picks the highest-priority dispatchable job, FIFO
// within a band: any pending job, or a retrying job whose back-off elapsed.
func (q *Queue) nextDispatchableLocked(now time.Time) *Job {
	var best *Job
	for _, job := range q.active {
		switch job.State {
		case StatePending:
			// dispatchable
		case StateRetrying:
			if now.Before(job.LastAttemptAt.Add(q.retryDelay(job.Attempts))) {
				continue
			}
		default:
			continue
		}

		if best == nil || job.Priority > best.Priority ||
			(job.Priority == best.Priority && job.seq < best.seq) {
			best = job
		}
	}
	return best
}

// retryDelay computes the wait before the attempt after `attempts` failures.
func (q *Queue) retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	switch q.cfg.Backoff {
	case BackoffExponential:
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = q.cfg.RetryDelay
		b.RandomizationFactor = 0
		b.Multiplier = 2
		b.MaxInterval = 16 * q.cfg.RetryDelay

		var delay time.Duration
		for i := 0; i < attempts; i++ {
			delay = b.NextBackOff()
		}
		return delay
	default:
		return time.Duration(attempts) * q.cfg.RetryDelay
	}
}

func (q *Queue) pushHistoryLocked(job *Job) {
	q.history = append(q.history, job)
	if len(q.history) > q.cfg.MaxHistory {
		overflow := len(q.history) - q.cfg.MaxHistory
		q.history = append([]*Job(nil), q.history[overflow:]...)
	}
}

func (q *Queue) findHistoryLocked(id string) (*Job, int) {
	for i, job := range q.history {
		if job.ID == id {
			return job, i
		}
	}
	return nil, -1
}

func (q *Queue) publish(ctx context.Context, topic string, payload map[string]interface{}) {
	if q.emit == nil {
		return
	}
	if err := q.emit(ctx, topic, payload); err != nil {
		logging.Warn("JobQueue", "Emitting %s failed: %v", topic, err)
	}
}
