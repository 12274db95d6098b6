package mbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/infodancer/mailstore"
	mserrors "github.com/infodancer/mailstore/errors"
)

// verifyInbox makes sure the inbox file and its index directories
// exist. The exclusive create keeps a concurrent creator from
// clobbering an inbox that appeared between the check and the create.
func (s *Storage) verifyInbox() error {
	f, err := os.OpenFile(s.inboxPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, mailboxMode)
	if err == nil {
		_ = f.Close()
	}
	return s.createIndexDirs("INBOX")
}

// createIndexDirs creates the mirrored index directory chain for a
// mailbox, including parents.
func (s *Storage) createIndexDirs(name string) error {
	dir := s.indexDir(name)
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, createMode); err != nil {
		return s.setCritical("mkdir", dir, err)
	}
	return nil
}

// Open opens an existing mailbox. INBOX is matched case-insensitively
// and created on demand; any other name must resolve to an existing
// regular file. A directory is a hierarchy node, not a selectable
// mailbox.
func (s *Storage) Open(ctx context.Context, name string, flags mailstore.OpenFlag) (mailstore.Mailbox, error) {
	s.clearError()

	if strings.EqualFold(name, "INBOX") {
		if err := s.verifyInbox(); err != nil {
			return nil, err
		}
		return s.openMailbox("INBOX", flags), nil
	}

	if !s.isValidExistingName(name) {
		return nil, s.setError(mserrors.ErrInvalidName)
	}

	path := s.dataPath(name)
	st, err := os.Stat(path)
	if err == nil {
		if st.IsDir() {
			return nil, s.setError(fmt.Errorf("%w: %s", mserrors.ErrNotSelectable, name))
		}
		// exists, make sure the index directories are there too
		if flags&mailstore.OpenFast == 0 {
			if err := s.createIndexDirs(name); err != nil {
				return nil, err
			}
		}
		return s.openMailbox(name, flags), nil
	}

	if isNotFound(err) {
		return nil, s.setError(fmt.Errorf("%w: %s", mserrors.ErrMailboxNotFound, name))
	}
	if herr := s.handleErrors(err); herr != nil {
		return nil, herr
	}
	return nil, s.setCritical("stat", path, err)
}

// openMailbox attaches a handle to the shared index resource for the
// mailbox, allocating and caching one when nobody has it open yet.
func (s *Storage) openMailbox(name string, flags mailstore.OpenFlag) *Mailbox {
	path := s.dataPath(name)
	dir := s.indexDir(name)

	res := s.indexes.Lookup(path, dir)
	if res == nil {
		res = s.indexes.Allocate(path, dir)
		s.indexes.Register(res)
	}

	return &Mailbox{
		storage:  s,
		name:     name,
		dataPath: path,
		indexDir: dir,
		idx:      res,
		flags:    flags,
		readonly: flags&mailstore.OpenReadOnly != 0,
	}
}

// Create creates a new mailbox file, or only its hierarchy directory
// when directory is set. The preliminary existence check is racy by
// nature; the exclusive create below is the real atomicity guard, so a
// lost race still reports ErrMailboxExists instead of a critical error.
func (s *Storage) Create(ctx context.Context, name string, directory bool) error {
	s.clearError()

	if strings.EqualFold(name, "INBOX") {
		name = "INBOX"
	}
	if !s.isValidCreateName(name) {
		return s.setError(mserrors.ErrInvalidName)
	}

	path := s.dataPath(name)
	if _, err := os.Stat(path); err == nil {
		return s.setError(mserrors.ErrMailboxExists)
	} else if eno := errnoOf(err); eno == unix.ENOTDIR {
		// a parent component is a mailbox file, nothing can nest below it
		return s.setError(fmt.Errorf("%w: %s", mserrors.ErrNoInferiors, name))
	} else if !isNotFound(err) && eno != unix.ELOOP && eno != unix.EACCES {
		return s.setCritical("stat", path, err)
	}

	parent := path
	if !directory {
		parent = filepath.Dir(path)
	}
	if err := os.MkdirAll(parent, createMode); err != nil {
		if herr := s.handleErrors(err); herr != nil {
			return herr
		}
		return s.setCritical("mkdir", parent, err)
	}
	if directory {
		// only the hierarchy node was wanted
		return nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, mailboxMode)
	if err == nil {
		_ = f.Close()
		return nil
	}
	if os.IsExist(err) {
		// another process won the race between stat and create
		return s.setError(mserrors.ErrMailboxExists)
	}
	if herr := s.handleErrors(err); herr != nil {
		return herr
	}
	return s.setCritical("create", path, err)
}

// Delete removes a mailbox file, or an empty hierarchy directory. The
// index subtree is removed first so a hierarchy rmdir can succeed once
// the directory is truly empty; after a file unlink the index removal
// is best-effort and never turns the completed deletion into a failure.
func (s *Storage) Delete(ctx context.Context, name string) error {
	s.clearError()

	if strings.EqualFold(name, "INBOX") {
		return s.setError(mserrors.ErrInboxProtected)
	}
	if !s.isValidExistingName(name) {
		return s.setError(mserrors.ErrInvalidName)
	}

	// lstat so a symlink can't redirect the deletion elsewhere
	path := s.dataPath(name)
	st, err := os.Lstat(path)
	if err != nil {
		if isNotFound(err) {
			return s.setError(fmt.Errorf("%w: %s", mserrors.ErrMailboxNotFound, name))
		}
		if herr := s.handleErrors(err); herr != nil {
			return herr
		}
		return s.setCritical("lstat", path, err)
	}

	if st.IsDir() {
		return s.deleteDirectory(name, path)
	}

	if err := os.Remove(path); err != nil {
		if isNotFound(err) {
			return s.setError(fmt.Errorf("%w: %s", mserrors.ErrMailboxNotFound, name))
		}
		if herr := s.handleErrors(err); herr != nil {
			return herr
		}
		return s.setCritical("unlink", path, err)
	}

	if dir := s.indexDir(name); dir != "" {
		// drop cached index resources first so nothing still maps the
		// files about to disappear
		s.indexes.DestroyUnrefed()

		if err := os.RemoveAll(dir); err != nil {
			// the mailbox itself is gone, so this is still a success
			_ = s.setCritical("remove index", dir, err)
		}
	}
	return nil
}

// deleteDirectory removes an empty hierarchy node. Its .imap child is
// removed first, best-effort, so index metadata alone never keeps an
// otherwise empty folder undeletable.
func (s *Storage) deleteDirectory(name, path string) error {
	if s.indexRoot != "" {
		idxDir := filepath.Join(s.indexRoot, name, indexDirName)
		if err := unix.Rmdir(idxDir); err != nil &&
			!isNotFound(err) && !isNotEmpty(err) && errnoOf(err) != unix.ENOTDIR {
			if herr := s.handleErrors(err); herr != nil {
				return herr
			}
			return s.setCritical("rmdir", idxDir, err)
		}
	}

	if err := unix.Rmdir(path); err != nil {
		if isNotFound(err) {
			return s.setError(fmt.Errorf("%w: %s", mserrors.ErrMailboxNotFound, name))
		}
		if isNotEmpty(err) {
			return s.setError(fmt.Errorf("%w: %s", mserrors.ErrMailboxNotEmpty, name))
		}
		if herr := s.handleErrors(err); herr != nil {
			return herr
		}
		return s.setCritical("rmdir", path, err)
	}
	return nil
}

// Rename moves a mailbox to a new name. The data rename is the primary
// operation; moving the index directory afterwards is best-effort, and
// index drift is accepted over rolling back an already successful
// rename. A renamed INBOX needs no special handling: it is simply
// recreated the next time it is opened.
func (s *Storage) Rename(ctx context.Context, oldName, newName string) error {
	s.clearError()

	if !s.isValidExistingName(oldName) || !s.isValidCreateName(newName) {
		return s.setError(mserrors.ErrInvalidName)
	}
	if strings.EqualFold(oldName, "INBOX") {
		oldName = "INBOX"
	}

	oldPath := s.dataPath(oldName)
	newPath := s.dataPath(newName)

	if err := os.MkdirAll(filepath.Dir(newPath), createMode); err != nil {
		if herr := s.handleErrors(err); herr != nil {
			return herr
		}
		return s.setCritical("mkdir", filepath.Dir(newPath), err)
	}

	// racy check, but the worst case is two renames to the same name
	// and one of them losing
	if _, err := os.Lstat(newPath); err == nil {
		return s.setError(mserrors.ErrTargetExists)
	} else if !isNotFound(err) && errnoOf(err) != unix.EACCES {
		return s.setCritical("lstat", newPath, err)
	}

	if err := os.Rename(oldPath, newPath); err != nil {
		if isNotFound(err) {
			return s.setError(fmt.Errorf("%w: %s", mserrors.ErrMailboxNotFound, oldName))
		}
		if herr := s.handleErrors(err); herr != nil {
			return herr
		}
		return s.setCritical("rename", oldPath, err)
	}

	oldIdx := s.indexDir(oldName)
	newIdx := s.indexDir(newName)
	if oldIdx != "" {
		if err := os.Rename(oldIdx, newIdx); err != nil && !isNotFound(err) {
			_ = s.setCritical("rename index", oldIdx, err)
		}
	}
	return nil
}

// NameStatus classifies a mailbox name without side effects.
func (s *Storage) NameStatus(ctx context.Context, name string) (mailstore.NameStatus, error) {
	s.clearError()

	if strings.EqualFold(name, "INBOX") {
		name = "INBOX"
	}
	if !s.isValidExistingName(name) {
		return mailstore.NameInvalid, nil
	}

	path := s.dataPath(name)
	_, err := os.Stat(path)
	if err == nil {
		return mailstore.NameExists, nil
	}
	if !s.isValidCreateName(name) {
		return mailstore.NameInvalid, nil
	}

	switch {
	case isNotFound(err) || errnoOf(err) == unix.EACCES:
		return mailstore.NameValid, nil
	case errnoOf(err) == unix.ENOTDIR:
		return mailstore.NameNoInferiors, nil
	}
	return mailstore.NameInvalid, s.setCritical("stat", path, err)
}
