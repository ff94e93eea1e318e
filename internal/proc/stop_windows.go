//go:build windows

package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Stop terminates a running subprocess. The process receives an interrupt
// first; if it has not exited within the grace period it is killed. Without
// job control only the top-level process is reached on Windows; any
// grandchildren must be cleaned up by the caller. Stop returns once the
// reaper has collected the exit, so a following Wait sees the final status.
func (p *Subprocess) Stop(ctx context.Context) error {
	if p.cmd == nil {
		return ErrClosed
	}
	if p.cmd.Process == nil {
		return nil
	}

	// Attempt a graceful shutdown first.
	_ = p.cmd.Process.Signal(os.Interrupt)

	select {
	case <-p.exited:
		return nil
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process %s: %w", p.name, err)
	}
	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
