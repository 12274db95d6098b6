// Package mailstore provides pluggable mailbox storage drivers for mail
// servers. A Store resolves logical, hierarchical mailbox names to on-disk
// locations and performs mailbox creation, deletion, rename and open; a
// Mailbox is an open handle on a single mailbox. Drivers register
// themselves with the package registry and are selected by name or by
// autodetection at runtime.
package mailstore

import (
	"context"
	"time"
)

// Config contains settings for opening a store.
type Config struct {
	// Driver is the store driver name (e.g., "mbox", "maildir").
	// Empty means autodetect from Location.
	Driver string

	// Location describes where the store keeps its files. The exact
	// grammar is driver-specific; file-based drivers accept a root
	// directory, optionally extended with driver options such as
	// "INBOX=" and "INDEX=" for the mbox driver.
	Location string

	// User is the identity owning the store, used to locate shared
	// resources such as the system mail spool.
	User string

	// FullFilesystemAccess permits absolute and home-relative mailbox
	// names, bypassing the usual name restrictions. Only enable this
	// for trusted callers.
	FullFilesystemAccess bool

	// Options contains implementation-specific settings.
	Options map[string]string
}

// NameStatus classifies a mailbox name without side effects.
type NameStatus int

const (
	// NameInvalid means the name is syntactically unusable.
	NameInvalid NameStatus = iota

	// NameExists means a mailbox with this name exists.
	NameExists

	// NameValid means the name is usable but no mailbox exists yet.
	NameValid

	// NameNoInferiors means the parent mailbox cannot contain children,
	// so no mailbox can ever be created at this name.
	NameNoInferiors
)

func (s NameStatus) String() string {
	switch s {
	case NameExists:
		return "exists"
	case NameValid:
		return "valid"
	case NameNoInferiors:
		return "noinferiors"
	default:
		return "invalid"
	}
}

// OpenFlag modifies how a mailbox is opened.
type OpenFlag int

const (
	// OpenReadOnly opens the mailbox without write access; pending flag
	// changes are not written back on close.
	OpenReadOnly OpenFlag = 1 << iota

	// OpenFast skips non-essential synchronization work during open.
	OpenFast
)

// LockIntent describes what the caller wants to do while holding a
// mailbox lock. Intents combine as a bit set.
type LockIntent int

const (
	// LockRead covers message and flag reads.
	LockRead LockIntent = 1 << iota

	// LockFlags covers flag mutation.
	LockFlags

	// LockExpunge covers permanent message removal.
	LockExpunge

	// LockSave covers appending new messages.
	LockSave
)

// LockState is the lock a mailbox handle currently holds.
type LockState int

const (
	Unlocked LockState = iota
	Shared
	Exclusive
)

// SyncKind selects the automatic synchronization policy for an open
// mailbox handle.
type SyncKind int

const (
	// SyncNone disables background change checks.
	SyncNone SyncKind = iota

	// SyncNoExpunges reports new messages and flag changes only.
	SyncNoExpunges

	// SyncAll reports all external changes including expunges.
	SyncAll
)

// MailboxInfo describes one entry in a mailbox listing.
type MailboxInfo struct {
	// Name is the logical mailbox name.
	Name string

	// Directory reports a pure hierarchy node that cannot be selected.
	Directory bool
}

// Store is the capability interface implemented by every storage driver.
// All operations validate the mailbox name, perform the filesystem work
// and classify any failure into the sentinel errors of the errors
// subpackage. No operation panics across this boundary.
type Store interface {
	// Open opens an existing mailbox and returns a handle for it.
	// "INBOX" is matched case-insensitively and is created on first
	// open if missing.
	Open(ctx context.Context, name string, flags OpenFlag) (Mailbox, error)

	// Create creates a new mailbox. With directory set, only the
	// hierarchy node is created and no selectable mailbox appears.
	Create(ctx context.Context, name string, directory bool) error

	// Delete removes a mailbox or an empty hierarchy node. INBOX can
	// never be deleted.
	Delete(ctx context.Context, name string) error

	// Rename moves a mailbox to a new name, carrying its index
	// metadata along on a best-effort basis.
	Rename(ctx context.Context, oldName, newName string) error

	// NameStatus classifies a name without side effects.
	NameStatus(ctx context.Context, name string) (NameStatus, error)

	// List returns the mailboxes matching an IMAP-style pattern, where
	// '*' matches anything and '%' matches anything except the
	// hierarchy separator.
	List(ctx context.Context, pattern string) ([]MailboxInfo, error)

	// IsValidName reports whether a name is syntactically acceptable
	// for lookup. Usable independently for pattern-listing features.
	IsValidName(name string) bool

	// HierarchySep returns the hierarchy separator character.
	HierarchySep() rune

	// LastError returns the stored error state of the most recent
	// failed operation: a message and whether it is critical. Critical
	// errors have already been logged with full diagnostics and should
	// be relayed to remote clients only in generic form.
	LastError() (string, bool)

	// Close releases the store and all cached resources.
	Close() error
}

// Mailbox is an open handle on a single mailbox. A handle holds at most
// one lock state at a time; lock transitions go through Lock and Unlock
// only.
type Mailbox interface {
	// Name returns the logical mailbox name.
	Name() string

	// DataPath returns the filesystem location of the message data.
	DataPath() string

	// IndexPath returns the filesystem location of the index metadata,
	// or the empty string when indexing is in-memory only.
	IndexPath() string

	// Lock acquires the lock implied by intent. The handle must be
	// unlocked; a second acquisition without an intervening Unlock
	// fails with ErrAlreadyLocked. On failure the handle's lock state
	// is unchanged.
	Lock(intent LockIntent) error

	// Unlock releases any held lock. Unlocking an unlocked handle is
	// legal and does nothing.
	Unlock() error

	// LockState returns the lock the handle currently holds.
	LockState() LockState

	// AutoSync sets the background change-check policy for the handle.
	// minInterval limits how often new-mail notifications fire.
	AutoSync(kind SyncKind, minInterval time.Duration)

	// ReadOnly reports whether the mailbox was opened read-only.
	ReadOnly() bool

	// Close flushes pending state unless the handle is read-only and
	// releases the handle. The handle is released even if the flush
	// fails.
	Close() error
}
