package lockfile

import (
	"errors"
	"path/filepath"
	stdruntime "runtime"
	"testing"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if stdruntime.GOOS == "windows" {
		t.Skip("file lock tests skipped on windows")
	}
}

func openTestLock(t *testing.T) *FileLock {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "build.lock"))
	if err != nil {
		t.Fatalf("open lock: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	l, err := Open("")
	if l != nil || err == nil {
		t.Fatalf("expected open failure, got l=%v err=%v", l, err)
	}
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected OpenError, got %T: %v", err, err)
	}
}

func TestReentrantLockUnlockBalance(t *testing.T) {
	skipOnWindows(t)
	l := openTestLock(t)

	if err := l.Lock(); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := l.Lock(); err != nil {
		t.Fatalf("reentrant lock: %v", err)
	}

	if err := l.Unlock(); err != nil {
		t.Fatalf("first unlock: %v", err)
	}
	if !l.IsLocked() {
		t.Fatal("lock released after inner unlock, depth accounting broken")
	}

	if err := l.Unlock(); err != nil {
		t.Fatalf("second unlock: %v", err)
	}
	if l.IsLocked() {
		t.Fatal("lock still held after balanced unlocks")
	}

	err := l.Unlock()
	var unlockErr *UnlockError
	if !errors.As(err, &unlockErr) {
		t.Fatalf("unbalanced unlock: expected UnlockError, got %v", err)
	}
}

func TestTryLockWhileHeldIgnoresModeMismatch(t *testing.T) {
	skipOnWindows(t)
	l := openTestLock(t)

	if err := l.Lock(); err != nil {
		t.Fatalf("exclusive lock: %v", err)
	}
	// Re-entry piggybacks on the held lock even when the requested mode
	// differs; the held mode does not change.
	if err := l.TryLock(Shared()); err != nil {
		t.Fatalf("shared trylock while held exclusively: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}

func TestTryLockDoesNotBlockOnContention(t *testing.T) {
	skipOnWindows(t)

	path := filepath.Join(t.TempDir(), "contended.lock")
	holder, err := Open(path)
	if err != nil {
		t.Fatalf("open holder: %v", err)
	}
	defer holder.Close()
	if err := holder.Lock(); err != nil {
		t.Fatalf("holder lock: %v", err)
	}

	contender, err := Open(path)
	if err != nil {
		t.Fatalf("open contender: %v", err)
	}
	defer contender.Close()

	err = contender.TryLock()
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected LockError on contended trylock, got %v", err)
	}

	if err := holder.Unlock(); err != nil {
		t.Fatalf("holder unlock: %v", err)
	}
	if err := contender.TryLock(); err != nil {
		t.Fatalf("trylock after release: %v", err)
	}
	if err := contender.Unlock(); err != nil {
		t.Fatalf("contender unlock: %v", err)
	}
}

func TestSharedLocksCoexist(t *testing.T) {
	skipOnWindows(t)

	path := filepath.Join(t.TempDir(), "shared.lock")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer a.Close()
	b, err := Open(path)
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer b.Close()

	if err := a.Lock(Shared()); err != nil {
		t.Fatalf("shared lock a: %v", err)
	}
	if err := b.TryLock(Shared()); err != nil {
		t.Fatalf("shared trylock b: %v", err)
	}
}

func TestCloseDiscardsDepthAndIsIdempotentInEffect(t *testing.T) {
	skipOnWindows(t)
	l := openTestLock(t)

	if err := l.Lock(); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := l.Lock(); err != nil {
		t.Fatalf("reentrant lock: %v", err)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if l.IsLocked() {
		t.Fatal("depth survived close")
	}
	if err := l.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second close: got %v, want ErrClosed", err)
	}
	if err := l.Lock(); !errors.Is(err, ErrClosed) {
		t.Fatalf("lock after close: got %v, want ErrClosed", err)
	}
	if err := l.Unlock(); !errors.Is(err, ErrClosed) {
		t.Fatalf("unlock after close: got %v, want ErrClosed", err)
	}
}

func TestStringFallsBackToNameForLongPaths(t *testing.T) {
	short := &FileLock{name: "a.lock", path: "/tmp/a.lock"}
	if got := short.String(); got != "/tmp/a.lock" {
		t.Fatalf("short path display: got %q", got)
	}

	long := &FileLock{name: "b.lock", path: "/some/deeply/nested/dir/b.lock"}
	if got := long.String(); got != "b.lock" {
		t.Fatalf("long path display: got %q", got)
	}
}
