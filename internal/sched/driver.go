package sched

import (
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/anvilbuild/anvil/internal/metrics"
)

// pollInterval is the pause between liveness resumes while driving a task.
const pollInterval = 300 * time.Millisecond

// defaultCycle is the indicator rotation shown while a driven task runs.
var defaultCycle = []rune{'\\', '|', '/', '-'}

// DriveOption configures Drive.
type DriveOption func(*driveConfig)

type driveConfig struct {
	out      io.Writer
	cycle    []rune
	interval time.Duration
}

// WithIndicator sets the destination and symbol cycle for the progress
// indicator. The indicator is only drawn when out is an interactive
// terminal; it never affects the drive outcome.
func WithIndicator(out io.Writer, cycle []rune) DriveOption {
	return func(c *driveConfig) {
		c.out = out
		if len(cycle) > 0 {
			c.cycle = cycle
		}
	}
}

// WithPollInterval overrides the liveness resume interval. Tests use it to
// keep drives fast.
func WithPollInterval(d time.Duration) DriveOption {
	return func(c *driveConfig) {
		if d > 0 {
			c.interval = d
		}
	}
}

// Drive runs t to completion. The task is resumed once immediately; a
// failure there is returned without entering the poll loop. While the task
// stays alive, Drive sleeps for the poll interval, rotates the indicator,
// and resumes again with the Poll sentinel, propagating the first resume
// failure.
func (s *Scheduler) Drive(t *Task, opts ...DriveOption) error {
	cfg := driveConfig{out: os.Stderr, cycle: defaultCycle, interval: pollInterval}
	for _, opt := range opts {
		opt(&cfg)
	}

	metrics.RecordTaskResume()
	if err := t.Resume(nil); err != nil {
		return err
	}

	ind := newIndicator(cfg.out, cfg.cycle)
	defer ind.erase()

	for t.State() != StateDead {
		time.Sleep(cfg.interval)
		ind.rotate()
		metrics.RecordTaskResume()
		if err := t.Resume(Poll); err != nil {
			return err
		}
	}
	return nil
}

// indicator overwrites a single cursor position with a rotating symbol. It
// stays silent when the destination is not an interactive terminal.
type indicator struct {
	out   io.Writer
	cycle []rune
	n     int
	tty   bool
}

func newIndicator(out io.Writer, cycle []rune) *indicator {
	ind := &indicator{out: out, cycle: cycle}
	if f, ok := out.(*os.File); ok {
		ind.tty = term.IsTerminal(int(f.Fd()))
	}
	return ind
}

func (i *indicator) rotate() {
	if !i.tty {
		return
	}
	fmt.Fprintf(i.out, "%c\b", i.cycle[i.n%len(i.cycle)])
	i.n++
}

func (i *indicator) erase() {
	if !i.tty || i.n == 0 {
		return
	}
	fmt.Fprint(i.out, " \b")
}
