// Package workspace manages the temporary directory a unit downloads into.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gosimple/slug"
)

// Prefix starts the name of every workspace directory.
const Prefix = ".hlsfetch-"

// ErrInUse is returned when a workspace directory is already owned by a live
// run in this process.
var ErrInUse = errors.New("workspace already in use")

var (
	mu   sync.Mutex
	held = make(map[string]string) // absolute dir -> owner
)

// Workspace is a directory exclusively owned by one run.
type Workspace struct {
	dir   string
	owner string

	mu       sync.Mutex
	released bool
}

// DirName returns the directory name used for a unit called name.
func DirName(name string) string {
	s := slug.Make(name)
	if s == "" {
		s = "unit"
	}
	return Prefix + s
}

// Acquire claims the workspace for name under root and creates it empty,
// destroying anything left behind by an earlier run. owner identifies the
// claiming run in errors.
func Acquire(root, name, owner string) (*Workspace, error) {
	dir, err := filepath.Abs(filepath.Join(root, DirName(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
	}

	mu.Lock()
	if other, ok := held[dir]; ok {
		mu.Unlock()
		return nil, fmt.Errorf("%w: %s is owned by run %s", ErrInUse, dir, other)
	}
	held[dir] = owner
	mu.Unlock()

	ws := &Workspace{dir: dir, owner: owner}
	if err := ws.Reset(); err != nil {
		ws.unregister()
		return nil, err
	}

	return ws, nil
}

// Dir returns the absolute workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Owner returns the identifier passed to Acquire.
func (w *Workspace) Owner() string {
	return w.owner
}

// Path joins name onto the workspace directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Reset empties the workspace, recreating the directory.
func (w *Workspace) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.released {
		return fmt.Errorf("workspace %s already released", w.dir)
	}

	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("failed to clear workspace: %w", err)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	return nil
}

// Release removes the workspace directory and gives up ownership. Ownership
// is given up even when removal fails; the error is for the caller to record.
// Calling Release more than once is a no-op.
func (w *Workspace) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.released {
		return nil
	}
	w.released = true
	defer w.unregister()

	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("failed to remove workspace: %w", err)
	}

	return nil
}

func (w *Workspace) unregister() {
	mu.Lock()
	defer mu.Unlock()
	if held[w.dir] == w.owner {
		delete(held, w.dir)
	}
}
