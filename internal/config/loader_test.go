package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeManifest(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "jobs.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadResolvesPathsAndEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "build.env")
	if err := os.WriteFile(envFile, []byte("# comment\nCC=gcc\nCFLAGS=-O2\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	path := writeManifest(t, dir, `
version: "1"
jobs:
  compile:
    command: cc -c main.c
    envFromFile: build.env
    env:
      CFLAGS: "-O0"
    stdout: logs/compile.out
    lock: build.lock
    timeout: 30s
`)

	m, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	job := m.Jobs["compile"]
	if job == nil {
		t.Fatal("compile job missing")
	}
	if job.ResolvedWorkdir != dir {
		t.Fatalf("resolved workdir %q, want %q", job.ResolvedWorkdir, dir)
	}
	if got := job.Stdout; got != filepath.Join(dir, "logs", "compile.out") {
		t.Fatalf("stdout path %q not resolved", got)
	}
	if got := job.Lock; got != filepath.Join(dir, "build.lock") {
		t.Fatalf("lock path %q not resolved", got)
	}
	if job.Env["CC"] != "gcc" {
		t.Fatalf("env from file missing: %v", job.Env)
	}
	if job.Env["CFLAGS"] != "-O0" {
		t.Fatalf("inline env should win over file env: %v", job.Env)
	}
	if !job.Timeout.IsSet() || job.Timeout.Duration != 30*time.Second {
		t.Fatalf("timeout not parsed: %+v", job.Timeout)
	}
}

func TestLoadRejectsInvalidJobs(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		wantErr  string
	}{
		{
			name:     "noJobs",
			manifest: "version: \"1\"\n",
			wantErr:  "no jobs",
		},
		{
			name: "commandAndArgv",
			manifest: `
jobs:
  bad:
    command: echo hi
    argv: [echo, hi]
`,
			wantErr: "mutually exclusive",
		},
		{
			name: "neitherCommandNorArgv",
			manifest: `
jobs:
  bad:
    stdout: out.log
`,
			wantErr: "one of command or argv",
		},
		{
			name: "sharedWithoutLock",
			manifest: `
jobs:
  bad:
    command: echo hi
    shared: true
`,
			wantErr: "shared requires lock",
		},
		{
			name: "unknownField",
			manifest: `
jobs:
  bad:
    command: echo hi
    restartPolicy: always
`,
			wantErr: "field restartPolicy not found",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeManifest(t, t.TempDir(), tc.manifest)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected load failure")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("")); err != nil {
		t.Fatalf("empty duration: %v", err)
	}
	if !d.IsSet() {
		t.Fatal("explicit empty duration should report IsSet")
	}
	if err := d.UnmarshalText([]byte("not-a-duration")); err == nil {
		t.Fatal("expected parse error")
	}
}
