// Package maildir provides a mailstore driver keeping each mailbox as a
// Maildir, with folders laid out Maildir++ style: the INBOX is the base
// directory itself and the folder "work/invoices" lives in
// ".work.invoices" beside it. Low-level maildir operations use
// emersion/go-maildir.
//
// The driver registers itself under the name "maildir". Import it with
// a blank identifier to enable it:
//
//	import _ "github.com/infodancer/mailstore/maildir"
package maildir

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/emersion/go-maildir"

	"github.com/infodancer/mailstore"
	mserrors "github.com/infodancer/mailstore/errors"
)

const hierarchySep = '/'

// Store implements mailstore.Store on a Maildir++ layout.
type Store struct {
	base string

	mu       sync.Mutex
	lastErr  string
	critical bool
}

var _ mailstore.Store = (*Store)(nil)
var _ mailstore.DeliveryAgent = (*Store)(nil)

// New creates a maildir store rooted at the configured location.
func New(cfg mailstore.Config) (*Store, error) {
	if cfg.Location == "" {
		return nil, mserrors.ErrStoreConfigInvalid
	}
	base, err := filepath.Abs(cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", mserrors.ErrStoreConfigInvalid, cfg.Location)
	}
	return &Store{base: base}, nil
}

// Autodetect reports whether location holds a maildir: a directory with
// the cur/new/tmp triple.
func Autodetect(location string) bool {
	for _, sub := range []string{"cur", "new", "tmp"} {
		st, err := os.Stat(filepath.Join(location, sub))
		if err != nil || !st.IsDir() {
			return false
		}
	}
	return true
}

// IsValidName reports whether a name is acceptable for lookup.
func (s *Store) IsValidName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.HasPrefix(name, "~") {
		return false
	}
	for _, seg := range strings.Split(name, string(hierarchySep)) {
		if seg == "" || seg == "." || seg == ".." || strings.HasPrefix(seg, ".") {
			return false
		}
	}
	return true
}

func (s *Store) isValidCreateName(name string) bool {
	return !strings.ContainsAny(name, "*%") && s.IsValidName(name)
}

// folderPath maps a logical name onto the Maildir++ directory for it.
func (s *Store) folderPath(name string) (string, error) {
	if strings.EqualFold(name, "INBOX") {
		return s.base, nil
	}
	if !s.IsValidName(name) {
		return "", mserrors.ErrInvalidName
	}

	encoded := "." + strings.ReplaceAll(name, string(hierarchySep), ".")
	candidate := filepath.Clean(filepath.Join(s.base, encoded))
	if candidate != s.base &&
		!strings.HasPrefix(candidate, s.base+string(filepath.Separator)) {
		return "", mserrors.ErrPathTraversal
	}
	return candidate, nil
}

// folderName reverses folderPath for a directory entry, "" when the
// entry is not a folder maildir.
func folderName(entry string) string {
	if !strings.HasPrefix(entry, ".") || entry == "." || entry == ".." {
		return ""
	}
	return strings.ReplaceAll(entry[1:], ".", string(hierarchySep))
}

func exists(path string) bool {
	st, err := os.Stat(filepath.Join(path, "cur"))
	return err == nil && st.IsDir()
}

// HierarchySep returns the logical hierarchy separator. The on-disk
// separator is always '.', as Maildir++ requires.
func (s *Store) HierarchySep() rune { return hierarchySep }

// LastError returns the stored error state of the most recent failure.
func (s *Store) LastError() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr, s.critical
}

// Close releases the store.
func (s *Store) Close() error { return nil }

func (s *Store) clearError() {
	s.mu.Lock()
	s.lastErr = ""
	s.critical = false
	s.mu.Unlock()
}

func (s *Store) setError(err error) error {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.critical = false
	s.mu.Unlock()
	return err
}

func (s *Store) setCritical(op, path string, err error) error {
	slog.Error("maildir storage operation failed",
		slog.String("op", op), slog.String("path", path), slog.Any("error", err))

	s.mu.Lock()
	s.lastErr = fmt.Sprintf("%s(%s) failed: %v", op, path, err)
	s.critical = true
	s.mu.Unlock()
	return fmt.Errorf("%s %s: %w", op, path, err)
}

// Open opens an existing mailbox. INBOX is initialized on first open.
func (s *Store) Open(ctx context.Context, name string, flags mailstore.OpenFlag) (mailstore.Mailbox, error) {
	s.clearError()

	path, err := s.folderPath(name)
	if err != nil {
		return nil, s.setError(err)
	}

	if strings.EqualFold(name, "INBOX") {
		name = "INBOX"
		if !exists(path) {
			if err := os.MkdirAll(path, 0o700); err != nil {
				return nil, s.setCritical("mkdir", path, err)
			}
			if err := maildir.Dir(path).Init(); err != nil {
				return nil, s.setCritical("init", path, err)
			}
		}
	} else if !exists(path) {
		return nil, s.setError(fmt.Errorf("%w: %s", mserrors.ErrMailboxNotFound, name))
	}

	return &Mailbox{store: s, name: name, path: path, readonly: flags&mailstore.OpenReadOnly != 0}, nil
}

// Create creates a new mailbox. Hierarchy is implicit in Maildir++, so
// a directory-only create has nothing to do and succeeds.
func (s *Store) Create(ctx context.Context, name string, directory bool) error {
	s.clearError()

	if strings.EqualFold(name, "INBOX") {
		name = "INBOX"
	}
	if !s.isValidCreateName(name) && name != "INBOX" {
		return s.setError(mserrors.ErrInvalidName)
	}
	if directory {
		return nil
	}

	path, err := s.folderPath(name)
	if err != nil {
		return s.setError(err)
	}
	if exists(path) {
		return s.setError(mserrors.ErrMailboxExists)
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return s.setCritical("mkdir", path, err)
	}
	if err := maildir.Dir(path).Init(); err != nil {
		return s.setCritical("init", path, err)
	}
	return nil
}

// Delete removes a mailbox. Child folders live in sibling directories
// and are untouched; INBOX can never be deleted.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.clearError()

	if strings.EqualFold(name, "INBOX") {
		return s.setError(mserrors.ErrInboxProtected)
	}
	path, err := s.folderPath(name)
	if err != nil {
		return s.setError(err)
	}
	if !exists(path) {
		return s.setError(fmt.Errorf("%w: %s", mserrors.ErrMailboxNotFound, name))
	}
	if err := os.RemoveAll(path); err != nil {
		return s.setCritical("remove", path, err)
	}
	return nil
}

// Rename moves a mailbox to a new name, carrying its child folders
// along on a best-effort basis.
func (s *Store) Rename(ctx context.Context, oldName, newName string) error {
	s.clearError()

	if strings.EqualFold(oldName, "INBOX") {
		return s.setError(mserrors.ErrInvalidName)
	}
	oldPath, err := s.folderPath(oldName)
	if err != nil {
		return s.setError(err)
	}
	newPath, err := s.folderPath(newName)
	if err != nil || !s.isValidCreateName(newName) {
		return s.setError(mserrors.ErrInvalidName)
	}

	if !exists(oldPath) {
		return s.setError(fmt.Errorf("%w: %s", mserrors.ErrMailboxNotFound, oldName))
	}
	if _, err := os.Lstat(newPath); err == nil {
		return s.setError(mserrors.ErrTargetExists)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return s.setCritical("rename", oldPath, err)
	}

	// children are separate sibling directories sharing the name prefix
	oldPrefix := filepath.Base(oldPath) + "."
	newPrefix := filepath.Base(newPath) + "."
	entries, err := os.ReadDir(s.base)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), oldPrefix) {
			continue
		}
		child := newPrefix + strings.TrimPrefix(e.Name(), oldPrefix)
		if err := os.Rename(filepath.Join(s.base, e.Name()), filepath.Join(s.base, child)); err != nil {
			slog.Warn("child folder rename failed",
				slog.String("folder", e.Name()), slog.Any("error", err))
		}
	}
	return nil
}

// NameStatus classifies a name without side effects.
func (s *Store) NameStatus(ctx context.Context, name string) (mailstore.NameStatus, error) {
	s.clearError()

	if strings.EqualFold(name, "INBOX") {
		return mailstore.NameExists, nil
	}
	path, err := s.folderPath(name)
	if err != nil {
		return mailstore.NameInvalid, nil
	}
	if exists(path) {
		return mailstore.NameExists, nil
	}
	if !s.isValidCreateName(name) {
		return mailstore.NameInvalid, nil
	}
	return mailstore.NameValid, nil
}

// List returns the mailboxes matching an IMAP-style pattern. INBOX is
// always present.
func (s *Store) List(ctx context.Context, pattern string) ([]mailstore.MailboxInfo, error) {
	s.clearError()

	var out []mailstore.MailboxInfo
	if matchPattern(pattern, "INBOX") {
		out = append(out, mailstore.MailboxInfo{Name: "INBOX"})
	}

	entries, err := os.ReadDir(s.base)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, s.setCritical("list", s.base, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := folderName(e.Name())
		if name == "" || !exists(filepath.Join(s.base, e.Name())) {
			continue
		}
		if matchPattern(pattern, name) {
			out = append(out, mailstore.MailboxInfo{Name: name})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Deliver writes a message into each recipient's INBOX, or into the
// folder named by a subaddress extension when it exists.
func (s *Store) Deliver(ctx context.Context, envelope mailstore.Envelope, message io.Reader) error {
	if len(envelope.Recipients) == 0 {
		return mserrors.ErrNoRecipients
	}

	data, err := io.ReadAll(message)
	if err != nil {
		return fmt.Errorf("read message: %w", err)
	}

	var lastErr error
	delivered := 0
	for _, recipient := range envelope.Recipients {
		folder := "INBOX"
		if ext := mailstore.ParseRecipient(recipient).Extension; ext != "" {
			if path, err := s.folderPath(ext); err == nil && exists(path) {
				folder = ext
			}
		}

		box, err := s.Open(ctx, folder, 0)
		if err != nil {
			lastErr = err
			continue
		}

		delivery, err := maildir.NewDelivery(box.DataPath())
		if err != nil {
			_ = box.Close()
			lastErr = err
			continue
		}
		if _, err := io.Copy(delivery, bytes.NewReader(data)); err != nil {
			_ = delivery.Abort()
			_ = box.Close()
			lastErr = err
			continue
		}
		if err := delivery.Close(); err != nil {
			_ = box.Close()
			lastErr = err
			continue
		}
		_ = box.Close()
		delivered++
	}

	if delivered == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

func matchPattern(pattern, name string) bool {
	return mailstore.MatchPattern(pattern, name, hierarchySep)
}
