// Package engine executes the jobs of a manifest as cooperative tasks:
// every job acquires its optional file lock, spawns its subprocess, and
// waits for it in poller-backed slices so hundreds of jobs can share a few
// OS threads.
package engine

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anvilbuild/anvil/internal/config"
	"github.com/anvilbuild/anvil/internal/lockfile"
	"github.com/anvilbuild/anvil/internal/metrics"
	"github.com/anvilbuild/anvil/internal/proc"
	"github.com/anvilbuild/anvil/internal/sched"
)

// EventSink consumes per-job event streams. The log mux implements it; the
// runner closes each source channel when its job finishes.
type EventSink interface {
	Add(source <-chan Event)
}

// waitSlice is the poller wait granularity. A job task parks in the poller
// for at most one slice before yielding control back to its driver.
const waitSlice = 200 * time.Millisecond

// Runner drives the jobs of a manifest to completion under a scheduler.
type Runner struct {
	sched     *sched.Scheduler
	driveOpts []sched.DriveOption
}

// Option configures a Runner.
type Option func(*Runner)

// WithDriveOptions forwards options to every job's task driver.
func WithDriveOptions(opts ...sched.DriveOption) Option {
	return func(r *Runner) { r.driveOpts = opts }
}

// New constructs a runner on top of the provided scheduler.
func New(s *sched.Scheduler, opts ...Option) *Runner {
	r := &Runner{sched: s}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execution is a running manifest. Events must be consumed from the sink
// while the run is in flight; Wait returns once every job has finished.
type Execution struct {
	wait func() error
}

// Wait blocks until all jobs are done and returns the first job failure.
func (e *Execution) Wait() error { return e.wait() }

// Start launches every job of the manifest concurrently, delivering each
// job's events through the sink. Job names are started in sorted order so
// runs are reproducible in logs. A nil sink discards events.
func (r *Runner) Start(ctx context.Context, m *config.Manifest, sink EventSink) *Execution {
	taskCtx := r.sched.Bind(ctx)

	names := make([]string, 0, len(m.Jobs))
	for name := range m.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	g, taskCtx := errgroup.WithContext(taskCtx)
	for _, name := range names {
		spec := m.Jobs[name]
		var events chan Event
		if sink != nil {
			events = make(chan Event, 16)
			sink.Add(events)
		}
		g.Go(func() error {
			if events != nil {
				defer close(events)
			}
			task := sched.NewTask(r.jobTask(taskCtx, name, spec, events))
			return r.sched.Drive(task, r.driveOpts...)
		})
	}

	return &Execution{wait: g.Wait}
}

// jobTask builds the cooperative body of one job. The body yields between
// wait slices so its driver keeps observing liveness while the subprocess
// runs. Run-context cancellation and timeouts are checked between slices;
// both abort the job and terminate its subprocess.
func (r *Runner) jobTask(ctx context.Context, name string, spec *config.JobSpec, events chan<- Event) func(*sched.Task) error {
	return func(t *sched.Task) error {
		start := time.Now()

		if spec.Lock != "" {
			lock, err := lockfile.Open(spec.Lock)
			if err != nil {
				sendEvent(events, name, EventTypeFailed, "error", "open lock", err, 0)
				return fmt.Errorf("job %s: %w", name, err)
			}
			defer func() {
				if lock.IsLocked() {
					_ = lock.Unlock()
				}
				_ = lock.Close()
			}()

			var lockOpts []lockfile.Option
			if spec.Shared {
				lockOpts = append(lockOpts, lockfile.Shared())
			}
			if err := lock.Lock(lockOpts...); err != nil {
				sendEvent(events, name, EventTypeFailed, "error", "acquire lock", err, 0)
				return fmt.Errorf("job %s: %w", name, err)
			}
		}

		sendEvent(events, name, EventTypeStarting, "info", "spawning", nil, 0)
		p, err := spawnJob(name, spec)
		if err != nil {
			sendEvent(events, name, EventTypeFailed, "error", "spawn", err, 0)
			return fmt.Errorf("job %s: %w", name, err)
		}
		defer func() { _ = p.Close() }()
		sendEvent(events, name, EventTypeStarted, "info", p.String(), nil, 0)

		var deadline time.Time
		if spec.Timeout.IsSet() {
			deadline = start.Add(spec.Timeout.Duration)
		}

		for {
			res, err := p.Wait(ctx, waitSlice)
			if err != nil {
				sendEvent(events, name, EventTypeFailed, "error", "wait", err, 0)
				return fmt.Errorf("job %s: %w", name, err)
			}
			if res.Done {
				metrics.ObserveJobDuration(name, time.Since(start))
				if res.Code != 0 {
					sendEvent(events, name, EventTypeExited, "error", fmt.Sprintf("exit status %d", res.Code), nil, res.Code)
					return fmt.Errorf("job %s: exit status %d", name, res.Code)
				}
				sendEvent(events, name, EventTypeExited, "info", "exit status 0", nil, 0)
				return nil
			}
			if err := ctx.Err(); err != nil {
				sendEvent(events, name, EventTypeFailed, "error", "canceled", err, 0)
				// The run context is already dead; the stop escalation needs
				// a live one to complete.
				_ = p.Stop(context.Background())
				return fmt.Errorf("job %s: %w", name, err)
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				err := fmt.Errorf("timed out after %s", spec.Timeout.Duration)
				sendEvent(events, name, EventTypeFailed, "error", "timeout", err, 0)
				if stopErr := p.Stop(context.Background()); stopErr != nil {
					sendEvent(events, name, EventTypeFailed, "error", "stop", stopErr, 0)
				}
				return fmt.Errorf("job %s: %w", name, err)
			}
			// Hand control back to the driver between wait slices.
			t.Yield()
		}
	}
}

func spawnJob(name string, spec *config.JobSpec) (*proc.Subprocess, error) {
	opts := []proc.Option{proc.WithDir(spec.ResolvedWorkdir)}
	if spec.Stdout != "" {
		opts = append(opts, proc.WithStdout(proc.RedirectPath(spec.Stdout)))
	}
	if spec.Stderr != "" {
		opts = append(opts, proc.WithStderr(proc.RedirectPath(spec.Stderr)))
	}
	if len(spec.Env) > 0 {
		env := os.Environ()
		for k, v := range spec.Env {
			env = append(env, k+"="+v)
		}
		opts = append(opts, proc.WithEnv(env))
	}

	if spec.Command != "" {
		return proc.Open(spec.Command, opts...)
	}
	return proc.OpenArgv(spec.Argv[0], spec.Argv[1:], opts...)
}
