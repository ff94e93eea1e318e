// Package sched runs build work as cooperative tasks: suspendable units
// that share OS threads and park in a poller while their subprocesses run.
package sched

import (
	"errors"
	"fmt"
)

// State is the lifecycle state of a task.
type State int

const (
	// StateReady means the task has not been resumed yet.
	StateReady State = iota
	// StateSuspended means the task has yielded and awaits the next resume.
	StateSuspended
	// StateDead means the task body has returned or panicked.
	StateDead
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateSuspended:
		return "suspended"
	case StateDead:
		return "dead"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type pollSignal struct{}

// Poll is the sentinel the driver passes on every resume after the first.
// Task bodies observe it as the Yield return value.
var Poll any = pollSignal{}

// ErrDead is returned when a dead task is resumed.
var ErrDead = errors.New("task is dead")

// Task is a suspendable unit of work backed by a goroutine that is gated on
// resume/yield channels. A task has a single driver; Resume must not be
// called concurrently.
type Task struct {
	fn func(*Task) error

	state   State
	started bool

	in    chan any
	yield chan struct{}
	done  chan struct{}

	// err is the body's outcome; readable after done is closed.
	err error
}

// NewTask wraps fn as a resumable task. The body runs on its own goroutine
// but only between a Resume and the next Yield (or return), so control
// transfers stay cooperative.
func NewTask(fn func(*Task) error) *Task {
	return &Task{
		fn:    fn,
		in:    make(chan any),
		yield: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// State returns the task's lifecycle state as of the last Resume.
func (t *Task) State() State { return t.state }

// Err returns the body's error once the task is dead.
func (t *Task) Err() error { return t.err }

// Resume transfers control to the task until it yields, dies, or parks in a
// blocking collaborator such as the poller. The first Resume starts the
// body; it blocks until the first yield or completion so a body that fails
// immediately reports that failure to this call. Later resumes deliver v to
// the pending Yield, or are a liveness no-op when the task is parked
// elsewhere.
func (t *Task) Resume(v any) error {
	if t.state == StateDead {
		return ErrDead
	}

	if !t.started {
		t.started = true
		go t.run()
		return t.settle()
	}

	select {
	case t.in <- v:
		return t.settle()
	case <-t.yield:
		// The body reached its suspension point while no resume was
		// pending. Complete the handoff, then run to the next one.
		t.in <- v
		return t.settle()
	case <-t.done:
		t.state = StateDead
		return t.err
	default:
		// Parked in the poller or still computing; nothing to deliver.
		return nil
	}
}

// settle waits for the body to reach its next suspension point or to die.
func (t *Task) settle() error {
	select {
	case <-t.yield:
		t.state = StateSuspended
		return nil
	case <-t.done:
		t.state = StateDead
		return t.err
	}
}

// Yield suspends the task until the next Resume and returns the value that
// resume delivered. It must only be called from the task body.
func (t *Task) Yield() any {
	t.yield <- struct{}{}
	return <-t.in
}

func (t *Task) run() {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("task panic: %v", r)
		}
	}()
	t.err = t.fn(t)
}
