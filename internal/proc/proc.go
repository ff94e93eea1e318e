package proc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/anvilbuild/anvil/internal/metrics"
)

// Result is the outcome of a single Wait call. A zero Result with a nil
// error means the process had not exited within the timeout and the caller
// may retry.
type Result struct {
	// Done reports whether the process has exited.
	Done bool
	// Code is the process exit status. Only meaningful when Done is true.
	Code int
}

// Registration is held by a subprocess while a scheduler poller has interest
// in its exit event. Close cancels it before releasing the native handle so
// the poller never observes a released process.
type Registration interface {
	Cancel() error
}

// Subprocess wraps a spawned OS process. A subprocess is owned by a single
// logical caller; concurrent calls to the same instance must be serialized
// by the caller.
type Subprocess struct {
	name string

	// cmd is the native handle. nil once Close has released it.
	cmd    *exec.Cmd
	exited chan struct{}
	// waitErr is the cmd.Wait outcome; readable after exited is closed.
	waitErr error

	// owned holds redirect files opened on the caller's behalf.
	owned []*os.File

	// regMu guards reg: Close may run on a different goroutine than the
	// task parked in the poller, and is the sanctioned way to cancel that
	// task's pending wait.
	regMu sync.Mutex
	reg   Registration
}

// Option configures a spawn.
type Option func(*spawnConfig)

type spawnConfig struct {
	stdout Redirect
	stderr Redirect
	env    []string
	dir    string
}

// WithStdout redirects the child's standard output.
func WithStdout(r Redirect) Option { return func(c *spawnConfig) { c.stdout = r } }

// WithStderr redirects the child's standard error.
func WithStderr(r Redirect) Option { return func(c *spawnConfig) { c.stderr = r } }

// WithEnv sets the child's complete environment.
func WithEnv(env []string) Option { return func(c *spawnConfig) { c.env = env } }

// WithDir sets the child's working directory.
func WithDir(dir string) Option { return func(c *spawnConfig) { c.dir = dir } }

// Open spawns the command given as a single shell-parseable string. The
// subprocess display name is derived from the first token's base filename.
func Open(command string, opts ...Option) (*Subprocess, error) {
	argv, err := shellquote.Split(command)
	if err != nil || len(argv) == 0 {
		if err == nil {
			err = errors.New("empty command")
		}
		return nil, &SpawnError{Shell: command, Err: err}
	}
	return spawn(argv[0], argv[1:], opts)
}

// OpenArgv spawns shell with an explicit argument vector. The display name
// is shell's base filename.
func OpenArgv(shell string, argv []string, opts ...Option) (*Subprocess, error) {
	if shell == "" {
		return nil, &SpawnError{Shell: shell, Argv: argv, Err: errors.New("empty program name")}
	}
	return spawn(shell, argv, opts)
}

func spawn(path string, argv []string, opts []Option) (*Subprocess, error) {
	var cfg spawnConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Subprocess{
		name:   filepath.Base(path),
		exited: make(chan struct{}),
	}

	cmd := exec.Command(path, argv...)
	configureCmdSysProcAttr(cmd)
	if cfg.dir != "" {
		cmd.Dir = cfg.dir
	}
	if cfg.env != nil {
		cmd.Env = cfg.env
	}

	stdout, ownedOut, err := cfg.stdout.resolve()
	if err != nil {
		return nil, &SpawnError{Shell: path, Argv: argv, Err: err}
	}
	if ownedOut {
		p.owned = append(p.owned, stdout)
	}
	stderr, ownedErr, err := cfg.stderr.resolve()
	if err != nil {
		p.releaseOwned()
		return nil, &SpawnError{Shell: path, Argv: argv, Err: err}
	}
	if ownedErr {
		p.owned = append(p.owned, stderr)
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}

	if err := cmd.Start(); err != nil {
		p.releaseOwned()
		metrics.RecordSpawn(p.name, false)
		return nil, &SpawnError{Shell: path, Argv: argv, Err: err}
	}
	p.cmd = cmd
	metrics.RecordSpawn(p.name, true)

	// Reap the exit status in the background so the process never lingers
	// as a zombie, even if the caller closes before it terminates.
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()

	runtime.SetFinalizer(p, finalizeSubprocess)
	return p, nil
}

// Name returns the subprocess display identifier.
func (p *Subprocess) Name() string { return p.name }

// String returns the display form used to prefix diagnostics.
func (p *Subprocess) String() string { return fmt.Sprintf("<subprocess: %s>", p.name) }

// Wait blocks until the process exits, the timeout elapses, or an error is
// reported. A negative timeout waits indefinitely. When ctx carries a
// scheduler-bound waiter (see WithWaiter) the wait is delegated to it and
// only the calling task suspends; otherwise the calling goroutine blocks on
// the native handle directly. Both paths return the same Result shape.
//
// Repeated waits on an already-exited process return the cached exit status.
func (p *Subprocess) Wait(ctx context.Context, timeout time.Duration) (Result, error) {
	if p.cmd == nil {
		return Result{}, ErrClosed
	}
	if w := waiterFrom(ctx); w != nil {
		return w.WaitProcess(p, timeout)
	}
	return p.waitDirect(ctx, timeout)
}

func (p *Subprocess) waitDirect(ctx context.Context, timeout time.Duration) (Result, error) {
	if timeout < 0 {
		select {
		case <-p.exited:
			return p.ExitResult()
		case <-ctx.Done():
			return Result{}, &WaitError{Name: p.name, Err: ctx.Err()}
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.exited:
		return p.ExitResult()
	case <-timer.C:
		return Result{}, nil
	case <-ctx.Done():
		return Result{}, &WaitError{Name: p.name, Err: ctx.Err()}
	}
}

// Exited is closed once the process has exited and its status is available
// via ExitResult. It is consumed by the scheduler poller.
func (p *Subprocess) Exited() <-chan struct{} { return p.exited }

// ExitResult interprets the reaped wait outcome. It must only be called
// after Exited has been closed.
func (p *Subprocess) ExitResult() (Result, error) {
	if p.waitErr == nil {
		return Result{Done: true}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(p.waitErr, &exitErr) {
		return Result{Done: true, Code: exitErr.ExitCode()}, nil
	}
	return Result{}, &WaitError{Name: p.name, Err: p.waitErr}
}

// Register attaches a poller registration so Close can cancel it. Only one
// registration may be live at a time.
func (p *Subprocess) Register(r Registration) {
	p.regMu.Lock()
	p.reg = r
	p.regMu.Unlock()
}

// Deregister detaches a resolved registration.
func (p *Subprocess) Deregister(r Registration) {
	p.regMu.Lock()
	if p.reg == r {
		p.reg = nil
	}
	p.regMu.Unlock()
}

// Close cancels any pending poller registration, then releases the native
// handle and any redirect files opened by Open. It does not kill a still
// running process; the background reaper collects its eventual exit. A
// second Close fails with ErrClosed and has no side effects.
func (p *Subprocess) Close() error {
	if p.cmd == nil {
		return ErrClosed
	}
	p.regMu.Lock()
	reg := p.reg
	p.regMu.Unlock()
	if reg != nil {
		if err := reg.Cancel(); err != nil {
			return &CancelError{Name: p.name, Err: err}
		}
		p.Deregister(reg)
	}
	p.releaseOwned()
	p.cmd = nil
	runtime.SetFinalizer(p, nil)
	return nil
}

func (p *Subprocess) releaseOwned() {
	for _, f := range p.owned {
		_ = f.Close()
	}
	p.owned = nil
}

// finalizeSubprocess is the safety net for subprocesses that become
// unreachable without Close. It cannot report to a caller, so release
// failures are logged and discarded. A subprocess with a live poller
// registration is reachable through the poller's watch table and therefore
// never finalized.
func finalizeSubprocess(p *Subprocess) {
	if p.cmd == nil {
		return
	}
	slog.Warn("subprocess leaked without Close, releasing handle", "subprocess", p.name)
	p.releaseOwned()
	p.cmd = nil
}
