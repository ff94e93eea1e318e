//go:build !windows

package proc

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"
)

// Stop terminates a running subprocess. The process group receives SIGTERM
// first; if it has not exited within the grace period it is killed. Stop
// returns once the reaper has collected the exit, so a following Wait sees
// the final status. Stopping a subprocess that already exited is a no-op.
func (p *Subprocess) Stop(ctx context.Context) error {
	if p.cmd == nil {
		return ErrClosed
	}
	if p.cmd.Process == nil {
		return nil
	}

	// Attempt a graceful shutdown first.
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal process group %s: %w", p.name, err)
	}

	select {
	case <-p.exited:
		return nil
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill process group %s: %w", p.name, err)
	}
	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
