// Package index manages per-mailbox index metadata resources. Every open
// mailbox maps to one Resource, shared between handles through a
// reference-counted Registry and locked across processes with advisory
// filesystem locks, so the in-process cache never weakens the
// cross-process guarantees.
package index

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	lockFileName  = ".lock"
	stateFileName = "mailstore.index"
	fileMode      = 0o660
)

// LockLevel is the lock held on an index resource.
type LockLevel int

const (
	LockNone LockLevel = iota
	LockShared
	LockExclusive
)

// Resource is the index metadata of a single mailbox. A Resource is
// shared by every handle open on the same mailbox within one process;
// mutual exclusion between processes comes from flock on a lock file
// inside the index directory.
type Resource struct {
	dataPath  string
	indexPath string // empty means the index lives in memory only

	mu       sync.Mutex
	refs     int
	level    LockLevel
	lockFile *os.File
	notify   func()
	stale    bool
	dirty    bool

	lastSize     int64
	lastModified time.Time
}

func newResource(dataPath, indexPath string) *Resource {
	r := &Resource{
		dataPath:  dataPath,
		indexPath: indexPath,
		refs:      1,
	}
	r.loadState()
	return r
}

// DataPath returns the mailbox data location the resource indexes.
func (r *Resource) DataPath() string { return r.dataPath }

// IndexPath returns the index directory, empty for in-memory indexing.
func (r *Resource) IndexPath() string { return r.indexPath }

// Ref adds a reference to the resource.
func (r *Resource) Ref() {
	r.mu.Lock()
	r.refs++
	r.mu.Unlock()
}

// Unref drops a reference and returns the remaining count.
func (r *Resource) Unref() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refs > 0 {
		r.refs--
	}
	return r.refs
}

// Refs returns the current reference count.
func (r *Resource) Refs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs
}

// SetLockNotify installs a callback invoked when a lock acquisition has
// to wait for another process. A nil callback removes it.
func (r *Resource) SetLockNotify(fn func()) {
	r.mu.Lock()
	r.notify = fn
	r.mu.Unlock()
}

// MarkStale records that the mailbox changed behind the index, forcing
// the next SyncAndLock to rescan regardless of its arguments.
func (r *Resource) MarkStale() {
	r.mu.Lock()
	r.stale = true
	r.mu.Unlock()
}

// Stale reports whether an external change was flagged since the last
// sync.
func (r *Resource) Stale() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stale
}

// Lock changes the resource lock to the requested level. LockNone
// releases any held lock and always succeeds, even when no lock is held.
func (r *Resource) Lock(level LockLevel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lock(level)
}

func (r *Resource) lock(level LockLevel) error {
	if level == LockNone {
		if r.lockFile != nil {
			_ = unix.Flock(int(r.lockFile.Fd()), unix.LOCK_UN)
			_ = r.lockFile.Close()
			r.lockFile = nil
		}
		r.level = LockNone
		return nil
	}

	if r.indexPath == "" {
		// in-memory index, nothing shared between processes
		r.level = level
		return nil
	}

	if r.lockFile == nil {
		// the index directory may not exist yet, or may have been
		// removed by a concurrent mailbox delete
		if err := os.MkdirAll(r.indexPath, 0o770); err != nil {
			return fmt.Errorf("create index dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(r.indexPath, lockFileName),
			os.O_RDWR|os.O_CREATE, fileMode)
		if err != nil {
			return fmt.Errorf("open index lock: %w", err)
		}
		r.lockFile = f
	}

	how := unix.LOCK_SH
	if level == LockExclusive {
		how = unix.LOCK_EX
	}

	if err := unix.Flock(int(r.lockFile.Fd()), how|unix.LOCK_NB); err != nil {
		if !errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("flock %s: %w", r.indexPath, err)
		}
		if r.notify != nil {
			r.notify()
		}
		if err := unix.Flock(int(r.lockFile.Fd()), how); err != nil {
			return fmt.Errorf("flock %s: %w", r.indexPath, err)
		}
	}

	r.level = level
	return nil
}

// Level returns the lock level currently held.
func (r *Resource) Level() LockLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// SyncAndLock acquires the requested lock and rescans the mailbox for
// external changes before granting it. fullResync forces the rescan
// even when the mailbox looks unchanged; callers that only append can
// pass false and skip the extra work. On failure the previous lock
// level is restored.
func (r *Resource) SyncAndLock(exclusive, fullResync bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.level
	level := LockShared
	if exclusive {
		level = LockExclusive
	}
	if err := r.lock(level); err != nil {
		return err
	}

	st, err := os.Stat(r.dataPath)
	if err != nil {
		_ = r.lock(prev)
		return fmt.Errorf("sync %s: %w", r.dataPath, err)
	}

	if fullResync || r.stale || st.Size() != r.lastSize ||
		!st.ModTime().Equal(r.lastModified) {
		r.lastSize = st.Size()
		r.lastModified = st.ModTime()
		r.stale = false
		r.dirty = true
	}
	return nil
}

// MarkDirty records pending index changes that Rewrite must flush.
func (r *Resource) MarkDirty() {
	r.mu.Lock()
	r.dirty = true
	r.mu.Unlock()
}

// Rewrite flushes pending index state to disk. It is a no-op when
// nothing changed or the index is in-memory only. The flush happens
// under the exclusive index lock so concurrent rewriters serialize;
// the previous lock level is restored afterwards.
func (r *Resource) Rewrite() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.dirty {
		return nil
	}
	if r.indexPath == "" {
		r.dirty = false
		return nil
	}

	prev := r.level
	if prev != LockExclusive {
		if err := r.lock(LockExclusive); err != nil {
			return err
		}
		defer func() { _ = r.lock(prev) }()
	}

	content := fmt.Sprintf("size=%d\nmtime=%d\n", r.lastSize, r.lastModified.UnixNano())
	tmp := filepath.Join(r.indexPath, stateFileName+".tmp")
	if err := os.WriteFile(tmp, []byte(content), fileMode); err != nil {
		return fmt.Errorf("rewrite index state: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(r.indexPath, stateFileName)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rewrite index state: %w", err)
	}
	r.dirty = false
	return nil
}

// loadState restores the persisted summary, if any. Missing or damaged
// state only means the next sync rescans from scratch.
func (r *Resource) loadState() {
	if r.indexPath == "" {
		return
	}
	data, err := os.ReadFile(filepath.Join(r.indexPath, stateFileName))
	if err != nil {
		return
	}

	var size, mtime int64
	if _, err := fmt.Sscanf(string(data), "size=%d\nmtime=%d\n", &size, &mtime); err != nil {
		return
	}
	r.lastSize = size
	r.lastModified = time.Unix(0, mtime)
}

// Close releases the resource's lock file.
func (r *Resource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lock(LockNone)
}

// Changed reports whether the mailbox data differs from the last synced
// state, without taking any lock.
func (r *Resource) Changed() bool {
	r.mu.Lock()
	size, mtime, stale := r.lastSize, r.lastModified, r.stale
	dataPath := r.dataPath
	r.mu.Unlock()

	if stale {
		return true
	}
	st, err := os.Stat(dataPath)
	if err != nil {
		return !errors.Is(err, fs.ErrNotExist)
	}
	return st.Size() != size || !st.ModTime().Equal(mtime)
}
