package maildir

import (
	"sync"
	"time"

	"github.com/infodancer/mailstore"
	mserrors "github.com/infodancer/mailstore/errors"
)

// Mailbox is an open handle on one maildir folder. Maildir needs no
// locking for its message operations, so lock transitions only track
// state and enforce the one-lock-per-handle discipline.
type Mailbox struct {
	store    *Store
	name     string
	path     string
	readonly bool

	mu       sync.Mutex
	state    mailstore.LockState
	syncKind mailstore.SyncKind
}

var _ mailstore.Mailbox = (*Mailbox)(nil)

// Name returns the logical mailbox name.
func (m *Mailbox) Name() string { return m.name }

// DataPath returns the maildir directory.
func (m *Mailbox) DataPath() string { return m.path }

// IndexPath returns "": maildir keeps no separate index tree.
func (m *Mailbox) IndexPath() string { return "" }

// ReadOnly reports whether the mailbox was opened read-only.
func (m *Mailbox) ReadOnly() bool { return m.readonly }

// LockState returns the lock the handle currently holds.
func (m *Mailbox) LockState() mailstore.LockState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Lock records the lock implied by intent. The handle must be unlocked.
func (m *Mailbox) Lock(intent mailstore.LockIntent) error {
	if intent == 0 {
		return m.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != mailstore.Unlocked {
		return mserrors.ErrAlreadyLocked
	}
	if intent&(mailstore.LockFlags|mailstore.LockExpunge|mailstore.LockSave) != 0 {
		m.state = mailstore.Exclusive
	} else {
		m.state = mailstore.Shared
	}
	return nil
}

// Unlock releases the handle's lock. Always legal and idempotent.
func (m *Mailbox) Unlock() error {
	m.mu.Lock()
	m.state = mailstore.Unlocked
	m.mu.Unlock()
	return nil
}

// AutoSync records the change-check policy. Maildir readers rescan
// cheaply on demand, so no background watcher is needed.
func (m *Mailbox) AutoSync(kind mailstore.SyncKind, minInterval time.Duration) {
	m.mu.Lock()
	m.syncKind = kind
	m.mu.Unlock()
}

// Close releases the handle.
func (m *Mailbox) Close() error {
	return m.Unlock()
}
