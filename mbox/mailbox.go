package mbox

import (
	"log/slog"
	"sync"
	"time"

	"github.com/infodancer/mailstore"
	mserrors "github.com/infodancer/mailstore/errors"
	"github.com/infodancer/mailstore/index"
)

// Mailbox is an open handle on one mbox mailbox. Handles on the same
// mailbox share a single index resource; the handle's own lock state
// only tracks what this handle holds.
type Mailbox struct {
	storage  *Storage
	name     string
	dataPath string
	indexDir string
	idx      *index.Resource
	flags    mailstore.OpenFlag
	readonly bool

	mu       sync.Mutex
	intent   mailstore.LockIntent
	autoSync mailstore.SyncKind
	watch    *index.Watch
}

var _ mailstore.Mailbox = (*Mailbox)(nil)

// Name returns the logical mailbox name.
func (m *Mailbox) Name() string { return m.name }

// DataPath returns the mbox file location.
func (m *Mailbox) DataPath() string { return m.dataPath }

// IndexPath returns the index directory, empty for in-memory indexing.
func (m *Mailbox) IndexPath() string { return m.indexDir }

// ReadOnly reports whether the mailbox was opened read-only.
func (m *Mailbox) ReadOnly() bool { return m.readonly }

// LockState returns the lock the handle currently holds.
func (m *Mailbox) LockState() mailstore.LockState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lockStateFor(m.intent)
}

func lockStateFor(intent mailstore.LockIntent) mailstore.LockState {
	switch {
	case intent&(mailstore.LockFlags|mailstore.LockExpunge|mailstore.LockSave) != 0:
		return mailstore.Exclusive
	case intent&mailstore.LockRead != 0:
		return mailstore.Shared
	}
	return mailstore.Unlocked
}

// Lock acquires the index locks implied by intent. Reading needs a
// shared lock; flag mutation and expunging need an exclusive one.
// Expunge and save additionally synchronize the index against external
// changes while taking the exclusive lock, with a full resync only when
// expunging — appending doesn't care what else changed. The handle must
// be unlocked; failures leave its recorded state untouched.
func (m *Mailbox) Lock(intent mailstore.LockIntent) error {
	if intent == 0 {
		return m.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.intent != 0 {
		return mserrors.ErrAlreadyLocked
	}

	if intent&(mailstore.LockFlags|mailstore.LockExpunge) != 0 {
		if err := m.idx.Lock(index.LockExclusive); err != nil {
			return err
		}
	} else if intent&mailstore.LockRead != 0 {
		if err := m.idx.Lock(index.LockShared); err != nil {
			return err
		}
	}

	if intent&(mailstore.LockExpunge|mailstore.LockSave) != 0 {
		fullResync := intent&mailstore.LockExpunge != 0
		if err := m.idx.SyncAndLock(true, fullResync); err != nil {
			_ = m.idx.Lock(index.LockNone)
			return err
		}
	}

	m.intent = intent
	return nil
}

// Unlock releases whatever the handle holds. It is always legal and
// idempotent.
func (m *Mailbox) Unlock() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.intent = 0
	return m.idx.Lock(index.LockNone)
}

// AutoSync sets the background change-check policy. Anything but
// SyncNone watches the mbox file and marks the shared index stale when
// it changes externally, so the next sync rescans. The registration is
// per handle; other handles watching the same mailbox are unaffected.
func (m *Mailbox) AutoSync(kind mailstore.SyncKind, minInterval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.autoSync = kind
	m.storage.watcher.Remove(m.watch)
	m.watch = nil

	if kind != mailstore.SyncNone {
		idx := m.idx
		m.watch = m.storage.watcher.Add(m.dataPath, minInterval, func(path string) {
			idx.MarkStale()
			slog.Debug("mailbox changed externally", slog.String("path", path))
		})
	}
}

// Close flushes pending index state unless the handle is read-only,
// then releases the handle. Unregistration always happens, even when
// the flush fails.
func (m *Mailbox) Close() error {
	var failed error

	m.idx.SetLockNotify(func() {
		slog.Debug("waiting for mailbox lock", slog.String("path", m.dataPath))
	})
	if !m.readonly {
		if err := m.idx.Rewrite(); err != nil {
			failed = m.storage.setCritical("rewrite index", m.indexDir, err)
		}
	}
	m.idx.SetLockNotify(nil)

	m.mu.Lock()
	m.storage.watcher.Remove(m.watch)
	m.watch = nil
	m.mu.Unlock()
	_ = m.Unlock()
	m.idx.Unref()

	return failed
}
