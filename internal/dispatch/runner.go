package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danielolaszy/hookbot/internal/logging"
)

// Runner runs detached tasks with at most a fixed number in flight and a
// bounded number waiting. Task errors and panics are logged and dropped.
type Runner struct {
	ctx context.Context
	// running holds one token per executing task, admitted one per
	// executing or waiting task.
	running  chan struct{}
	admitted chan struct{}
	wg       sync.WaitGroup
}

// NewRunner returns a runner allowing maxConcurrent simultaneous tasks and
// up to maxQueued more waiting for a slot. Tasks receive ctx, detached from
// any request.
func NewRunner(ctx context.Context, maxConcurrent, maxQueued int) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if maxQueued < 0 {
		maxQueued = 0
	}
	return &Runner{
		ctx:      ctx,
		running:  make(chan struct{}, maxConcurrent),
		admitted: make(chan struct{}, maxConcurrent+maxQueued),
	}
}

// Go schedules fn and reports whether it was accepted. It never blocks the
// caller: when the queue is full the task is logged and dropped.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) bool {
	select {
	case r.admitted <- struct{}{}:
	default:
		logging.Warn("dropping task, queue is full", "task", name, "pending", len(r.admitted))
		return false
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { <-r.admitted }()
		r.running <- struct{}{}
		defer func() { <-r.running }()
		r.run(name, fn)
	}()
	return true
}

func (r *Runner) run(name string, fn func(ctx context.Context) error) {
	log := logging.With("task", name, "task_id", uuid.NewString())
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			log.Error("task panicked", "panic", fmt.Sprint(p))
		}
	}()

	log.Debug("task started")
	if err := fn(r.ctx); err != nil {
		log.Error("task failed", "error", err, "duration", time.Since(start))
		return
	}
	log.Info("task finished", "duration", time.Since(start))
}

// Wait blocks until every scheduled task has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}
