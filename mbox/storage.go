// Package mbox implements a mailstore driver keeping each mailbox in a
// single flat file under a storage root, with index metadata in a
// mirrored shadow tree of .imap directories. Hierarchy nodes are plain
// directories; the hierarchy separator is fixed to '/'.
//
// The driver registers itself under the name "mbox". Import it with a
// blank identifier to enable it:
//
//	import _ "github.com/infodancer/mailstore/mbox"
package mbox

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/infodancer/mailstore"
	mserrors "github.com/infodancer/mailstore/errors"
	"github.com/infodancer/mailstore/index"
)

const (
	hierarchySep = '/'

	// createMode is the permission for created directories; the umask
	// is expected to limit it further.
	createMode  = 0o770
	mailboxMode = 0o660

	// inMemoryIndex is the INDEX= sentinel disabling persistent indexing.
	inMemoryIndex = "MEMORY"

	watcherPoll = time.Second
)

// Storage is an mbox-format mailbox store rooted at a single directory.
// All paths are absolute and home-expanded once construction succeeds.
type Storage struct {
	root      string
	inboxPath string
	indexRoot string // empty means in-memory indexing
	user      string

	fullFSAccess bool

	indexes *index.Registry
	watcher *index.Watcher

	mu       sync.Mutex
	lastErr  string
	critical bool
}

var _ mailstore.Store = (*Storage)(nil)
var _ mailstore.DeliveryAgent = (*Storage)(nil)

// New creates a storage instance. The location string has the grammar
//
//	<root>[:INBOX=<path>][:INDEX=<dir>|MEMORY]
//
// A bare path names the root if it is a directory and the inbox file
// otherwise. An empty location autodetects the layout, falling back to
// $HOME/mail or $HOME/Mail, creating $HOME/mail when neither exists.
func New(cfg mailstore.Config) (*Storage, error) {
	var root, inbox, indexRoot string

	location := cfg.Location
	autodetect := location == ""
	if autodetect {
		root = detectRootDir()
	} else if i := strings.IndexByte(location, ':'); i < 0 {
		st, err := os.Stat(expandHome(location))
		if err != nil {
			slog.Error("invalid mbox location",
				slog.String("location", location), slog.Any("error", err))
			return nil, fmt.Errorf("%w: %s", mserrors.ErrStoreConfigInvalid, location)
		}
		if st.IsDir() {
			root = location
		} else {
			root = detectRootDir()
			inbox = location
		}
	} else {
		root = location[:i]
		for _, seg := range strings.Split(location[i+1:], ":") {
			if v, ok := strings.CutPrefix(seg, "INBOX="); ok {
				inbox = v
			} else if v, ok := strings.CutPrefix(seg, "INDEX="); ok {
				indexRoot = v
			}
		}
	}

	if root == "" {
		created, err := createRootDir()
		if err != nil {
			return nil, err
		}
		root = created
	}
	if inbox == "" {
		inbox = defaultInboxPath(root, cfg.User, !autodetect)
	}
	switch indexRoot {
	case "":
		indexRoot = root
	case inMemoryIndex:
		indexRoot = ""
	}

	s := &Storage{
		user:         cfg.User,
		fullFSAccess: cfg.FullFilesystemAccess,
		indexes:      index.NewRegistry(),
		watcher:      index.NewWatcher(watcherPoll),
	}

	var err error
	if s.root, err = absPath(root); err != nil {
		return nil, err
	}
	if s.inboxPath, err = absPath(inbox); err != nil {
		return nil, err
	}
	if indexRoot != "" {
		if s.indexRoot, err = absPath(indexRoot); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func absPath(path string) (string, error) {
	abs, err := filepath.Abs(expandHome(path))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return abs, nil
}

// Autodetect reports whether location looks like an mbox layout: either
// an INBOX file directly, or a directory containing an .imap index
// directory or an inbox/mbox file.
func Autodetect(location string) bool {
	data := location
	if i := strings.IndexByte(location, ':'); i >= 0 {
		data = location[:i]
	}
	data = expandHome(data)

	if data != "" {
		if st, err := os.Stat(data); err == nil && !st.IsDir() &&
			unix.Access(data, unix.R_OK|unix.W_OK) == nil {
			return true
		}
	}

	if path := data + "/" + indexDirName; isAccessibleDir(path) {
		return true
	}
	if isAccessibleFile(data + "/inbox") {
		return true
	}
	return isAccessibleFile(data + "/mbox")
}

func isAccessibleDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir() &&
		unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK) == nil
}

func isAccessibleFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir() &&
		unix.Access(path, unix.R_OK|unix.W_OK) == nil
}

// detectRootDir finds the storage root without configuration: the
// process root if it already looks like an mbox layout (after chroot),
// otherwise $HOME/mail or $HOME/Mail.
func detectRootDir() string {
	if Autodetect("") {
		return "/"
	}

	if home := os.Getenv("HOME"); home != "" {
		for _, sub := range []string{"mail", "Mail"} {
			path := filepath.Join(home, sub)
			if unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK) == nil {
				return path
			}
		}
	}
	return ""
}

// createRootDir creates $HOME/mail as a last resort. Without $HOME
// there is nowhere to keep mail, so this fails hard.
func createRootDir() (string, error) {
	home := os.Getenv("HOME")
	if home == "" {
		slog.Error("mbox: need a root mail folder, but no configuration or HOME to find one")
		return "", mserrors.ErrNoStorageRoot
	}

	path := filepath.Join(home, "mail")
	if err := os.MkdirAll(path, createMode); err != nil {
		slog.Error("mbox: can't create root mail folder",
			slog.String("path", path), slog.Any("error", err))
		return "", fmt.Errorf("%w: %s", mserrors.ErrNoStorageRoot, path)
	}
	return path, nil
}

// defaultInboxPath prefers the shared mail spool for the user unless
// onlyRoot forces everything under the storage root.
func defaultInboxPath(root, user string, onlyRoot bool) string {
	if !onlyRoot {
		if user == "" {
			user = os.Getenv("USER")
		}
		if user != "" {
			for _, spool := range []string{"/var/mail/", "/var/spool/mail/"} {
				path := spool + user
				if unix.Access(path, unix.R_OK|unix.W_OK) == nil {
					return path
				}
			}
		}
	}
	return filepath.Join(root, "inbox")
}

// Root returns the storage root directory.
func (s *Storage) Root() string { return s.root }

// InboxPath returns the INBOX data file location.
func (s *Storage) InboxPath() string { return s.inboxPath }

// IndexRoot returns the index tree root, empty for in-memory indexing.
func (s *Storage) IndexRoot() string { return s.indexRoot }

// HierarchySep returns the mailbox hierarchy separator. It cannot be
// changed for this driver.
func (s *Storage) HierarchySep() rune { return hierarchySep }

// LastError returns the stored message of the most recent failure and
// whether it was critical.
func (s *Storage) LastError() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr, s.critical
}

// Close releases the watcher and every cached index resource.
func (s *Storage) Close() error {
	s.watcher.Close()
	return s.indexes.Close()
}

func (s *Storage) clearError() {
	s.mu.Lock()
	s.lastErr = ""
	s.critical = false
	s.mu.Unlock()
}

// setError stores a user-facing error and returns it.
func (s *Storage) setError(err error) error {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.critical = false
	s.mu.Unlock()
	return err
}

// setCritical stores and logs an internal error. The returned error
// carries the failing call for wrapping; the stored state tells callers
// not to relay the details to remote clients.
func (s *Storage) setCritical(op, path string, err error) error {
	slog.Error("mbox storage operation failed",
		slog.String("op", op),
		slog.String("path", path),
		slog.Any("error", err))

	s.mu.Lock()
	s.lastErr = fmt.Sprintf("%s(%s) failed: %v", op, path, err)
	s.critical = true
	s.mu.Unlock()
	return fmt.Errorf("%s %s: %w", op, path, err)
}
