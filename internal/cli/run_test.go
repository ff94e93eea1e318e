package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	stdruntime "runtime"
	"strings"
	"testing"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if stdruntime.GOOS == "windows" {
		t.Skip("cli tests skipped on windows")
	}
}

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestRunCommandStreamsJobEvents(t *testing.T) {
	skipOnWindows(t)

	path := writeManifest(t, `
jobs:
  hello:
    command: /bin/sh -c 'echo hi'
`)

	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"run", "-f", path})

	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v\nstderr: %s", err, errOut.String())
	}

	var sawExit bool
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			t.Fatalf("non-JSON output line %q: %v", line, err)
		}
		if record["job"] == "hello" && record["type"] == "exited" {
			sawExit = true
		}
	}
	if !sawExit {
		t.Fatalf("no exited event for job hello in output:\n%s", out.String())
	}
}

func TestRunCommandRejectsUnknownJob(t *testing.T) {
	skipOnWindows(t)

	path := writeManifest(t, `
jobs:
  hello:
    command: /bin/sh -c 'echo hi'
`)

	root := NewRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"run", "-f", path, "missing"})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "unknown job") {
		t.Fatalf("execute: got %v, want unknown job error", err)
	}
}

func TestRunCommandPropagatesJobFailure(t *testing.T) {
	skipOnWindows(t)

	path := writeManifest(t, `
jobs:
  flaky:
    command: /bin/sh -c 'exit 2'
`)

	root := NewRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"run", "-f", path})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "exit status 2") {
		t.Fatalf("execute: got %v, want exit status 2 failure", err)
	}
}
