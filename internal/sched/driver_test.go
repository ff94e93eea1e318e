package sched

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestDriveRunsTaskToCompletion(t *testing.T) {
	resumes := 0
	task := NewTask(func(t *Task) error {
		for i := 0; i < 3; i++ {
			if v := t.Yield(); v == Poll {
				resumes++
			}
		}
		return nil
	})

	s := New()
	if err := s.Drive(task, WithPollInterval(time.Millisecond)); err != nil {
		t.Fatalf("drive: %v", err)
	}
	if task.State() != StateDead {
		t.Fatalf("state %v, want dead", task.State())
	}
	if resumes != 3 {
		t.Fatalf("expected 3 poll resumes, got %d", resumes)
	}
}

func TestDriveInitialFailureSkipsPollLoop(t *testing.T) {
	boom := errors.New("boom")
	task := NewTask(func(*Task) error { return boom })

	s := New()
	start := time.Now()
	err := s.Drive(task, WithPollInterval(time.Second))
	if !errors.Is(err, boom) {
		t.Fatalf("drive: got %v, want %v", err, boom)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("initial failure entered the poll loop (took %s)", elapsed)
	}
}

func TestDrivePropagatesLaterResumeFailure(t *testing.T) {
	boom := errors.New("late boom")
	task := NewTask(func(t *Task) error {
		t.Yield()
		return boom
	})

	s := New()
	if err := s.Drive(task, WithPollInterval(time.Millisecond)); !errors.Is(err, boom) {
		t.Fatalf("drive: got %v, want %v", err, boom)
	}
}

func TestIndicatorSilentWhenNotInteractive(t *testing.T) {
	var out bytes.Buffer
	task := NewTask(func(t *Task) error {
		t.Yield()
		return nil
	})

	s := New()
	if err := s.Drive(task, WithPollInterval(time.Millisecond), WithIndicator(&out, nil)); err != nil {
		t.Fatalf("drive: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("indicator wrote %q to a non-terminal destination", out.String())
	}
}

func TestIndicatorRotatesAndErases(t *testing.T) {
	var out bytes.Buffer
	ind := &indicator{out: &out, cycle: defaultCycle, tty: true}

	ind.rotate()
	ind.rotate()
	ind.erase()

	if got := out.String(); got != "\\\b|\b \b" {
		t.Fatalf("unexpected indicator output %q", got)
	}
}
