package config

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Manifest mirrors the jobs.yaml document structure.
type Manifest struct {
	Version string              `yaml:"version"`
	Workdir string              `yaml:"workdir"`
	Jobs    map[string]*JobSpec `yaml:"jobs"`
}

// JobSpec describes a single build step.
type JobSpec struct {
	// Command is a single shell-parseable command line. Mutually exclusive
	// with Argv.
	Command string `yaml:"command"`
	// Argv is an explicit program plus argument vector.
	Argv []string `yaml:"argv"`

	Env         map[string]string `yaml:"env"`
	EnvFromFile string            `yaml:"envFromFile"`
	Workdir     string            `yaml:"workdir"`

	// Stdout and Stderr name files the job's output streams are redirected
	// to. Empty values inherit the runner's streams.
	Stdout string `yaml:"stdout"`
	Stderr string `yaml:"stderr"`

	// Lock names a lock file held for the duration of the job. Shared picks
	// a read lock instead of the default exclusive one.
	Lock   string `yaml:"lock"`
	Shared bool   `yaml:"shared"`

	// Timeout bounds the job's total runtime. Zero means unbounded.
	Timeout Duration `yaml:"timeout"`

	// ResolvedWorkdir is the effective working directory after the loader
	// applied manifest defaults. Not part of the document.
	ResolvedWorkdir string `yaml:"-"`
}

// Validate checks the invariants the runner depends on.
func (j *JobSpec) Validate(name string) error {
	if j == nil {
		return fmt.Errorf("job %s: empty definition", name)
	}
	if j.Command == "" && len(j.Argv) == 0 {
		return fmt.Errorf("job %s: one of command or argv is required", name)
	}
	if j.Command != "" && len(j.Argv) > 0 {
		return fmt.Errorf("job %s: command and argv are mutually exclusive", name)
	}
	if j.Shared && j.Lock == "" {
		return fmt.Errorf("job %s: shared requires lock", name)
	}
	return nil
}
