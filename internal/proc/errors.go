package proc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned by operations on a subprocess whose native handle has
// already been released.
var ErrClosed = errors.New("subprocess closed")

// SpawnError reports a failed attempt to start a subprocess. It carries the
// full command line so build logs identify the step that failed.
type SpawnError struct {
	Shell string
	Argv  []string
	Err   error
}

func (e *SpawnError) Error() string {
	cmdline := e.Shell
	if len(e.Argv) > 0 {
		cmdline = e.Shell + " " + strings.Join(e.Argv, " ")
	}
	return fmt.Sprintf("spawn %s: %v", cmdline, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// WaitError reports a wait that failed for a reason other than a timeout.
// The message is prefixed with the subprocess display form.
type WaitError struct {
	Name string
	Err  error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("<subprocess: %s>: %v", e.Name, e.Err)
}

func (e *WaitError) Unwrap() error { return e.Err }

// CancelError reports that a pending poller registration could not be
// canceled during Close. The subprocess stays open so the caller can retry.
type CancelError struct {
	Name string
	Err  error
}

func (e *CancelError) Error() string {
	return fmt.Sprintf("<subprocess: %s>: cancel pending wait: %v", e.Name, e.Err)
}

func (e *CancelError) Unwrap() error { return e.Err }
