package sched

import (
	"errors"
	"sync"
	"time"

	"github.com/anvilbuild/anvil/internal/metrics"
	"github.com/anvilbuild/anvil/internal/proc"
)

// ErrWaitCanceled is reported to a parked task whose pending process wait
// was canceled by Subprocess.Close.
var ErrWaitCanceled = errors.New("pending wait canceled")

// Poller multiplexes process-exit events for tasks parked in WaitProcess.
// It implements proc.Waiter; Scheduler.Bind installs it on the context so
// Subprocess.Wait under a task delegates here.
type Poller struct {
	mu      sync.Mutex
	watches map[*proc.Subprocess]*watch
}

func newPoller() *Poller {
	return &Poller{watches: make(map[*proc.Subprocess]*watch)}
}

// watch is one pending registration. Its Cancel side is handed to the
// subprocess so Close can retract the poller's interest before releasing
// the native handle.
type watch struct {
	poller *Poller
	proc   *proc.Subprocess

	cancel     chan struct{}
	cancelOnce sync.Once
}

// Cancel retracts the watch. After it returns the poller holds no reference
// to the subprocess and the parked task is resumed with ErrWaitCanceled.
func (w *watch) Cancel() error {
	w.poller.remove(w.proc, w)
	w.cancelOnce.Do(func() { close(w.cancel) })
	return nil
}

func (pl *Poller) add(p *proc.Subprocess, w *watch) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if _, ok := pl.watches[p]; ok {
		return errors.New("wait already pending")
	}
	pl.watches[p] = w
	return nil
}

func (pl *Poller) remove(p *proc.Subprocess, w *watch) {
	pl.mu.Lock()
	if pl.watches[p] == w {
		delete(pl.watches, p)
	}
	pl.mu.Unlock()
}

// WaitProcess registers interest in p's exit and parks the calling task
// until the process exits, the timeout elapses, or the registration is
// canceled. A negative timeout waits indefinitely. A timeout is a neutral
// zero Result, not an error.
func (pl *Poller) WaitProcess(p *proc.Subprocess, timeout time.Duration) (proc.Result, error) {
	w := &watch{poller: pl, proc: p, cancel: make(chan struct{})}
	if err := pl.add(p, w); err != nil {
		return proc.Result{}, &proc.WaitError{Name: p.Name(), Err: err}
	}
	p.Register(w)
	defer func() {
		pl.remove(p, w)
		p.Deregister(w)
	}()

	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-p.Exited():
		res, err := p.ExitResult()
		if err != nil {
			metrics.RecordWait("error")
		} else {
			metrics.RecordWait("exited")
		}
		return res, err
	case <-expired:
		metrics.RecordWait("timeout")
		return proc.Result{}, nil
	case <-w.cancel:
		metrics.RecordWait("canceled")
		return proc.Result{}, &proc.WaitError{Name: p.Name(), Err: ErrWaitCanceled}
	}
}
