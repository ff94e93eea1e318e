// Package lockfile provides recursive file-based mutual exclusion for build
// steps. The OS advisory lock gives cross-process exclusion; the reentrancy
// depth is purely in-process bookkeeping for nested acquisitions by the same
// owner.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/gofrs/flock"

	"github.com/anvilbuild/anvil/internal/metrics"
)

// ErrClosed is returned by operations on a lock whose native handle has
// already been released.
var ErrClosed = errors.New("file lock closed")

// OpenError reports that the lock file could not be opened or created.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string { return fmt.Sprintf("open lock %s: %v", e.Path, e.Err) }
func (e *OpenError) Unwrap() error { return e.Err }

// LockError reports a failed native lock acquisition.
type LockError struct {
	Lock string
	Err  error
}

func (e *LockError) Error() string { return fmt.Sprintf("lock %s: %v", e.Lock, e.Err) }
func (e *LockError) Unwrap() error { return e.Err }

// UnlockError reports a failed or unbalanced unlock.
type UnlockError struct {
	Lock string
	Err  error
}

func (e *UnlockError) Error() string { return fmt.Sprintf("unlock %s: %v", e.Lock, e.Err) }
func (e *UnlockError) Unwrap() error { return e.Err }

// displayPathLimit is the longest path rendered verbatim by String; longer
// paths fall back to the bare filename.
const displayPathLimit = 16

// FileLock is a recursive advisory lock bound to a file path. Instances are
// owned by a single logical caller; concurrent calls to the same instance
// must be serialized by the caller.
type FileLock struct {
	name string
	path string

	// fl is the native handle. nil once Close has released it.
	fl *flock.Flock

	// depth counts nested acquisitions not yet matched by Unlock. The held
	// mode never changes while depth > 0, even if a nested request asks for
	// the other mode.
	depth int
}

// Option configures a lock acquisition.
type Option func(*lockConfig)

type lockConfig struct {
	shared bool
}

// Shared requests a shared (read) lock instead of the default exclusive
// (write) lock.
func Shared() Option { return func(c *lockConfig) { c.shared = true } }

// Open creates a lock bound to path, creating the lock file if necessary.
func Open(path string) (*FileLock, error) {
	if path == "" {
		return nil, &OpenError{Path: path, Err: errors.New("empty path")}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	// Create the file eagerly so a native open failure surfaces here rather
	// than on the first acquisition.
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, &OpenError{Path: abs, Err: err}
	}
	_ = f.Close()

	l := &FileLock{
		name: filepath.Base(abs),
		path: abs,
		fl:   flock.New(abs),
	}
	runtime.SetFinalizer(l, finalizeLock)
	return l, nil
}

// Name returns the lock file's base filename.
func (l *FileLock) Name() string { return l.name }

// Path returns the absolute lock file path.
func (l *FileLock) Path() string { return l.path }

// String returns the display form used in diagnostics: the path when short
// enough, otherwise the bare filename.
func (l *FileLock) String() string {
	if len(l.path) <= displayPathLimit {
		return l.path
	}
	return l.name
}

// IsLocked reports whether this owner currently holds the lock at any depth.
func (l *FileLock) IsLocked() bool { return l.depth > 0 }

// Lock acquires the lock, blocking until the OS grants it. A lock already
// held by this owner is re-entered without touching the native primitive;
// the held mode is kept even if opts request the other mode.
func (l *FileLock) Lock(opts ...Option) error {
	return l.acquire(false, opts)
}

// TryLock acquires the lock without blocking, failing if it is held
// elsewhere. Re-entry on a lock already held by this owner always succeeds.
func (l *FileLock) TryLock(opts ...Option) error {
	return l.acquire(true, opts)
}

func (l *FileLock) acquire(try bool, opts []Option) error {
	if l.fl == nil {
		return ErrClosed
	}
	var cfg lockConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if l.depth > 0 {
		l.depth++
		metrics.RecordLockAcquisition(cfg.shared, true)
		return nil
	}

	var err error
	if try {
		var ok bool
		if cfg.shared {
			ok, err = l.fl.TryRLock()
		} else {
			ok, err = l.fl.TryLock()
		}
		if err == nil && !ok {
			err = errors.New("lock held elsewhere")
		}
	} else {
		if cfg.shared {
			err = l.fl.RLock()
		} else {
			err = l.fl.Lock()
		}
	}
	if err != nil {
		return &LockError{Lock: l.String(), Err: err}
	}
	l.depth = 1
	metrics.RecordLockAcquisition(cfg.shared, false)
	return nil
}

// Unlock releases one level of reentrancy. The native primitive is only
// invoked when the outermost level is released; on native failure the depth
// is left untouched so the caller can retry.
func (l *FileLock) Unlock() error {
	if l.fl == nil {
		return ErrClosed
	}
	switch {
	case l.depth > 1:
		l.depth--
		return nil
	case l.depth == 1:
		if err := l.fl.Unlock(); err != nil {
			return &UnlockError{Lock: l.String(), Err: err}
		}
		l.depth = 0
		return nil
	default:
		return &UnlockError{Lock: l.String(), Err: errors.New("not locked")}
	}
}

// Close releases the native handle. Any reentrant accounting is discarded
// unconditionally. A second Close fails with ErrClosed and has no side
// effects.
func (l *FileLock) Close() error {
	if l.fl == nil {
		return ErrClosed
	}
	if err := l.fl.Close(); err != nil {
		return &UnlockError{Lock: l.String(), Err: err}
	}
	l.fl = nil
	l.depth = 0
	runtime.SetFinalizer(l, nil)
	return nil
}

// finalizeLock is the safety net for locks that become unreachable without
// Close. Release failures are logged and discarded since finalizers cannot
// report to a caller.
func finalizeLock(l *FileLock) {
	if l.fl == nil {
		return
	}
	slog.Warn("file lock leaked without Close, releasing handle", "lock", l.String())
	_ = l.fl.Close()
	l.fl = nil
	l.depth = 0
}
