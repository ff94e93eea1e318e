package proc

import (
	"fmt"
	"os"
)

type redirectKind int

const (
	redirectNone redirectKind = iota
	redirectPath
	redirectPipe
	redirectFile
)

// Redirect names the destination for a subprocess output stream. It is a
// closed variant: a filesystem path, the write end of a pipe, or an already
// open file. The zero value leaves the stream attached to the parent's.
type Redirect struct {
	kind redirectKind
	path string
	file *os.File
}

// RedirectPath redirects the stream to the named file, creating or
// truncating it. The opened handle is owned by the subprocess and released
// on Close.
func RedirectPath(path string) Redirect {
	return Redirect{kind: redirectPath, path: path}
}

// RedirectPipe redirects the stream to the write end of a pipe. The handle
// stays owned by the caller.
func RedirectPipe(w *os.File) Redirect {
	return Redirect{kind: redirectPipe, file: w}
}

// RedirectFile redirects the stream to an open file owned by the caller.
func RedirectFile(f *os.File) Redirect {
	return Redirect{kind: redirectFile, file: f}
}

// resolve turns a redirect into the concrete handle the spawn primitive
// expects. Files opened here are returned as owned so the subprocess can
// release them exactly once.
func (r Redirect) resolve() (handle *os.File, owned bool, err error) {
	switch r.kind {
	case redirectNone:
		return nil, false, nil
	case redirectPath:
		f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, false, fmt.Errorf("open redirect target %s: %w", r.path, err)
		}
		return f, true, nil
	case redirectPipe, redirectFile:
		if r.file == nil {
			return nil, false, fmt.Errorf("redirect target is nil")
		}
		return r.file, false, nil
	default:
		return nil, false, fmt.Errorf("unknown redirect kind %d", r.kind)
	}
}
