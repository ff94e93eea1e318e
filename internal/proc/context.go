package proc

import (
	"context"
	"time"
)

// Waiter parks the calling unit of work until a process exits, without
// blocking the OS thread it shares with other units. The scheduler
// implements it; direct callers never see it.
type Waiter interface {
	WaitProcess(p *Subprocess, timeout time.Duration) (Result, error)
}

type waiterKey struct{}

// WithWaiter binds a waiter to the context. Subprocess.Wait calls made with
// the returned context delegate to w instead of blocking directly.
func WithWaiter(ctx context.Context, w Waiter) context.Context {
	return context.WithValue(ctx, waiterKey{}, w)
}

func waiterFrom(ctx context.Context) Waiter {
	w, _ := ctx.Value(waiterKey{}).(Waiter)
	return w
}
