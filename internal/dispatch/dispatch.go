// Package dispatch runs the asynchronous delivery pipeline: a bounded
// task queue, a worker pool, and per-task fan-out to all configured
// channels. Overload drops the oldest queued task so fresh alerts win.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"perfmonitor/profile"

	"github.com/google/uuid"
)

const (
	defaultQueueCapacity  = 1000
	defaultWorkerCount    = 4
	defaultChannelTimeout = 30 * time.Second
)

// Options tunes dispatcher queue and worker behavior.
// Params: capacity, worker, and timeout overrides plus hooks.
// Returns: dispatcher construction options.
type Options struct {
	QueueCapacity  int
	WorkerCount    int
	ChannelTimeout time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
	// OnDone observes every finished task. Used by tests and callers
	// that want delivery outcomes without polling counters.
	OnDone func(Task)
}

// Dispatcher owns the delivery queue and its worker pool.
// Params: fan-out targets and queue options.
// Returns: asynchronous alert delivery pipeline.
type Dispatcher struct {
	targets []Target
	tasks   chan Task
	wg      sync.WaitGroup
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
	onDone  func(Task)

	mu     sync.Mutex
	closed bool

	enqueued  atomic.Uint64
	dropped   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	timedOut  atomic.Uint64
}

// deliveryResult is one channel's outcome within a task fan-out.
type deliveryResult struct {
	channelType string
	err         error
}

// New creates the dispatcher and starts its worker pool.
// Params: fan-out targets and options; zero option fields use defaults.
// Returns: running dispatcher.
func New(targets []Target, opts Options) *Dispatcher {
	capacity := opts.QueueCapacity
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	workerCount := opts.WorkerCount
	if workerCount <= 0 {
		workerCount = defaultWorkerCount
	}
	timeout := opts.ChannelTimeout
	if timeout <= 0 {
		timeout = defaultChannelTimeout
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}

	d := &Dispatcher{
		targets: targets,
		tasks:   make(chan Task, capacity),
		logger:  opts.Logger,
		timeout: timeout,
		now:     nowFn,
		onDone:  opts.OnDone,
	}
	for i := 0; i < workerCount; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Enqueue queues one profile for delivery without ever blocking the
// caller. When the queue is full the oldest queued task is dropped to
// make room.
// Params: captured profile.
// Returns: false when the dispatcher is already shut down.
func (d *Dispatcher) Enqueue(p profile.Profile) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}

	task := Task{
		ID:        uuid.NewString(),
		Profile:   p,
		CreatedAt: d.now().UTC(),
		Status:    StatusPending,
	}
	for {
		select {
		case d.tasks <- task:
			d.enqueued.Add(1)
			return true
		default:
		}
		select {
		case evicted := <-d.tasks:
			d.dropped.Add(1)
			if d.logger != nil {
				d.logger.Warn("notification queue full, dropping oldest task",
					"dropped_task", evicted.ID,
					"dropped_operation", evicted.Profile.OperationKey)
			}
		default:
		}
	}
}

// Pending returns the number of tasks waiting in the queue.
// Params: none.
// Returns: current queue depth.
func (d *Dispatcher) Pending() int {
	return len(d.tasks)
}

// Stats returns a snapshot of the dispatcher counters.
// Params: none.
// Returns: counter snapshot.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued:  d.enqueued.Load(),
		Dropped:   d.dropped.Load(),
		Completed: d.completed.Load(),
		Failed:    d.failed.Load(),
		TimedOut:  d.timedOut.Load(),
	}
}

// Shutdown stops intake and waits for queued tasks to drain.
// Params: context bounding the drain.
// Returns: nil on full drain, context error when tasks were abandoned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if d.logger != nil {
			d.logger.Warn("dispatcher shutdown abandoned pending tasks", "pending", len(d.tasks))
		}
		return fmt.Errorf("notification dispatcher shutdown: %w", ctx.Err())
	}
}

// worker drains the task queue until it is closed and empty.
func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for task := range d.tasks {
		d.process(task)
	}
}

// process fans one task out to every target and records the outcome.
// Params: queued task.
// Returns: none; outcome lands in counters, logs, and the OnDone hook.
func (d *Dispatcher) process(task Task) {
	task.Status = StatusRunning
	results := d.fanOut(task)

	for _, result := range results {
		if result.err != nil {
			task.Errors = append(task.Errors, result.channelType+": "+result.err.Error())
		}
	}
	task.Status = summarize(results)

	switch task.Status {
	case StatusCompleted:
		d.completed.Add(1)
		if d.logger != nil {
			if len(task.Errors) > 0 {
				d.logger.Warn("alert delivered with channel failures",
					"task", task.ID,
					"operation", task.Profile.OperationKey,
					"errors", task.Errors)
			} else {
				d.logger.Info("alert delivered",
					"task", task.ID,
					"operation", task.Profile.OperationKey,
					"channels", len(d.targets))
			}
		}
	case StatusTimedOut:
		d.timedOut.Add(1)
		if d.logger != nil {
			d.logger.Error("alert delivery timed out on every channel",
				"task", task.ID,
				"operation", task.Profile.OperationKey,
				"timeout", d.timeout.String())
		}
	default:
		d.failed.Add(1)
		if d.logger != nil {
			d.logger.Error("alert delivery failed on every channel",
				"task", task.ID,
				"operation", task.Profile.OperationKey,
				"errors", task.Errors)
		}
	}

	if d.onDone != nil {
		d.onDone(task)
	}
}

// fanOut sends one task to every target concurrently. Each channel gets
// its own goroutine and deadline so one slow or panicking channel cannot
// stall the others.
// Params: running task.
// Returns: per-target outcomes in target order.
func (d *Dispatcher) fanOut(task Task) []deliveryResult {
	results := make([]deliveryResult, len(d.targets))
	var wg sync.WaitGroup
	for i, target := range d.targets {
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			results[i].channelType = target.Channel.Type()
			defer func() {
				if r := recover(); r != nil {
					results[i].err = fmt.Errorf("channel panic: %v", r)
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			results[i].err = target.Channel.Send(ctx, task.Profile, target.Format)
		}(i, target)
	}
	wg.Wait()
	return results
}

// summarize folds per-channel outcomes into one task status. Any single
// success completes the task; all-deadline failures count as timed out.
// Params: fan-out results.
// Returns: final task status.
func summarize(results []deliveryResult) Status {
	if len(results) == 0 {
		return StatusCompleted
	}
	succeeded, deadlined := 0, 0
	for _, result := range results {
		switch {
		case result.err == nil:
			succeeded++
		case errors.Is(result.err, context.DeadlineExceeded):
			deadlined++
		}
	}
	switch {
	case succeeded > 0:
		return StatusCompleted
	case deadlined == len(results):
		return StatusTimedOut
	default:
		return StatusFailed
	}
}
