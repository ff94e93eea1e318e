package sched

import (
	"context"

	"github.com/anvilbuild/anvil/internal/proc"
)

// Scheduler owns the poller and hands out contexts that route process waits
// through it. Work issued without a scheduler-bound context falls back to
// blocking the calling goroutine directly on the native primitive; both
// paths produce the same Result shape.
type Scheduler struct {
	poller *Poller
}

// New constructs a scheduler with an empty poller.
func New() *Scheduler {
	return &Scheduler{poller: newPoller()}
}

// Poller exposes the scheduler's event multiplexer.
func (s *Scheduler) Poller() *Poller { return s.poller }

// Bind returns a context under which Subprocess.Wait parks the calling task
// in the poller instead of blocking its OS thread.
func (s *Scheduler) Bind(ctx context.Context) context.Context {
	return proc.WithWaiter(ctx, s.poller)
}
