package mbox

import (
	"errors"
	"io/fs"
	"syscall"

	"golang.org/x/sys/unix"

	mserrors "github.com/infodancer/mailstore/errors"
)

// errnoClass is the storage category of a raw filesystem error.
type errnoClass int

const (
	classUnknown errnoClass = iota
	classNotFound
	classPermission
	classNoSpace
	classStructure
)

// classifyError maps the errno behind a failed filesystem call onto a
// storage error category. Every lifecycle operation goes through this
// table so user-facing messages stay consistent across platforms.
func classifyError(err error) errnoClass {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		if errors.Is(err, fs.ErrNotExist) {
			return classNotFound
		}
		if errors.Is(err, fs.ErrPermission) {
			return classPermission
		}
		return classUnknown
	}

	switch errno {
	case unix.ENOENT, unix.ESTALE:
		return classNotFound
	case unix.EACCES, unix.EPERM, unix.EROFS:
		return classPermission
	case unix.ENOSPC, unix.EDQUOT:
		return classNoSpace
	case unix.ENOTDIR, unix.ELOOP:
		return classStructure
	}
	return classUnknown
}

// isNotFound reports whether err means the path does not exist.
func isNotFound(err error) bool {
	return classifyError(err) == classNotFound
}

// isNotEmpty reports whether err means a directory still has entries.
// POSIX permits either errno for rmdir on a non-empty directory.
func isNotEmpty(err error) bool {
	return errors.Is(err, unix.ENOTEMPTY) || errors.Is(err, unix.EEXIST)
}

// errnoOf extracts the raw errno from a wrapped filesystem error,
// zero when none is present.
func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	errors.As(err, &errno)
	return errno
}

// handleErrors translates a classified error into its user-facing
// sentinel and stores it. It returns nil for errors that need critical
// handling instead; explicit not-found checks happen before this, so a
// not-found errno reaching the generic path means the directory
// structure underneath the mailbox tree is damaged.
func (s *Storage) handleErrors(err error) error {
	switch classifyError(err) {
	case classPermission:
		return s.setError(mserrors.ErrPermission)
	case classNoSpace:
		return s.setError(mserrors.ErrNoSpace)
	case classStructure, classNotFound:
		return s.setError(mserrors.ErrStructureBroken)
	}
	return nil
}
