// Package proc spawns and supervises the OS subprocesses that execute build
// steps.
//
// Every spawn starts a background reaper goroutine that collects the child's
// exit status, so a subprocess that is closed while still running is never
// left as a zombie. Close releases the wrapper's resources but does not kill
// the child: termination goes through Stop, which signals the process group
// and escalates to a hard kill, and the reaper collects whatever exit
// eventually occurs. Waits issued under a scheduler
// context (see WithWaiter) park only the calling task in the poller; waits
// issued outside one block the calling goroutine directly. Both paths report
// the same Result shape.
package proc
