// Package queue runs background tasks on a fixed pool of workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned when no buffer slot is free.
	ErrQueueFull = errors.New("task queue is full")
	// ErrStopped is returned after Stop has been called.
	ErrStopped = errors.New("task runner is stopped")
)

// Task is one unit of background work. The context is canceled when the
// runner is stopped and its drain deadline passes.
type Task func(ctx context.Context)

type item struct {
	name     string
	task     Task
	enqueued time.Time
}

// Runner executes tasks from a bounded queue.
type Runner struct {
	tasks   chan item
	workers int
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// New starts a Runner with workers goroutines and a queue of depth tasks.
func New(workers, depth int, logger *slog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		tasks:   make(chan item, depth),
		workers: workers,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.work(i)
	}
	return r
}

// Enqueue schedules task without blocking.
func (r *Runner) Enqueue(name string, task Task) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped {
		return ErrStopped
	}
	select {
	case r.tasks <- item{name: name, task: task, enqueued: time.Now()}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued tasks not yet picked up.
func (r *Runner) Pending() int {
	return len(r.tasks)
}

// Stop refuses new tasks and waits for queued and running tasks to finish.
// When ctx ends first, running tasks are canceled and Stop returns ctx.Err().
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.tasks)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}

func (r *Runner) work(id int) {
	defer r.wg.Done()
	for it := range r.tasks {
		r.run(id, it)
	}
}

func (r *Runner) run(worker int, it item) {
	logger := r.logger.With("task", it.name, "worker", worker)
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("task panicked",
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
			)
		}
	}()

	if r.ctx.Err() != nil {
		logger.Warn("task dropped, runner canceled")
		return
	}
	logger.Debug("task started", "queued_ms", time.Since(it.enqueued).Milliseconds())
	it.task(r.ctx)
}
