// Package errors provides centralized error definitions for mailstore.
package errors

import "errors"

// Mailbox name errors.
var (
	// ErrInvalidName indicates a mailbox name that fails validation.
	ErrInvalidName = errors.New("invalid mailbox name")

	// ErrPathTraversal indicates a mailbox name that would escape the
	// storage root.
	ErrPathTraversal = errors.New("path traversal attempt")
)

// Mailbox lifecycle errors.
var (
	// ErrMailboxNotFound indicates the requested mailbox does not exist.
	ErrMailboxNotFound = errors.New("mailbox not found")

	// ErrMailboxExists indicates a mailbox already exists at the requested name.
	ErrMailboxExists = errors.New("mailbox already exists")

	// ErrTargetExists indicates a rename destination is already taken.
	ErrTargetExists = errors.New("target mailbox already exists")

	// ErrMailboxNotEmpty indicates a hierarchy folder still has children.
	ErrMailboxNotEmpty = errors.New("mailbox is not empty")

	// ErrNotSelectable indicates the name refers to a hierarchy folder,
	// not a selectable mailbox.
	ErrNotSelectable = errors.New("mailbox is not selectable")

	// ErrNoInferiors indicates the parent mailbox does not allow child
	// mailboxes beneath it.
	ErrNoInferiors = errors.New("mailbox doesn't allow inferior mailboxes")

	// ErrInboxProtected indicates an attempt to delete INBOX.
	ErrInboxProtected = errors.New("INBOX can't be deleted")
)

// Filesystem condition errors, produced by the storage error classifier.
var (
	// ErrPermission indicates a permission failure on the storage files.
	ErrPermission = errors.New("permission denied")

	// ErrNoSpace indicates the filesystem is out of space or quota.
	ErrNoSpace = errors.New("not enough disk space")

	// ErrStructureBroken indicates the on-disk directory structure does
	// not match what the storage layout requires.
	ErrStructureBroken = errors.New("directory structure is broken")
)

// Locking errors.
var (
	// ErrAlreadyLocked indicates a lock request on a mailbox handle that
	// already holds a lock without an intervening unlock.
	ErrAlreadyLocked = errors.New("mailbox handle is already locked")
)

// Store errors.
var (
	// ErrStoreNotRegistered indicates the requested store driver is not registered.
	ErrStoreNotRegistered = errors.New("store driver not registered")

	// ErrStoreConfigInvalid indicates the store configuration is invalid.
	ErrStoreConfigInvalid = errors.New("invalid store configuration")

	// ErrNoStorageRoot indicates no storage root could be found or created.
	ErrNoStorageRoot = errors.New("can't find storage root directory")
)

// Delivery errors.
var (
	// ErrNoRecipients indicates no valid recipients were provided.
	ErrNoRecipients = errors.New("no recipients")

	// ErrKeyNotFound indicates a recipient has no public key available.
	ErrKeyNotFound = errors.New("key not found")
)
