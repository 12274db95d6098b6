package mbox

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/infodancer/mailstore"
)

// List walks the storage root and returns the mailboxes matching an
// IMAP-style pattern. Directories are reported as hierarchy nodes.
// Dotfiles, including the .imap index tree, never appear in listings.
// INBOX is listed whenever it exists and matches, regardless of where
// the inbox file actually lives.
func (s *Storage) List(ctx context.Context, pattern string) ([]mailstore.MailboxInfo, error) {
	s.clearError()

	var out []mailstore.MailboxInfo
	if matchPattern(pattern, "INBOX") {
		if _, err := os.Stat(s.inboxPath); err == nil {
			out = append(out, mailstore.MailboxInfo{Name: "INBOX"})
		}
	}

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		if path == s.root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == s.inboxPath {
			// already reported as INBOX
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !matchPattern(pattern, name) {
			return nil
		}
		out = append(out, mailstore.MailboxInfo{Name: name, Directory: d.IsDir()})
		return nil
	})
	if err != nil {
		if herr := s.handleErrors(err); herr != nil {
			return nil, herr
		}
		return nil, s.setCritical("list", s.root, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func matchPattern(pattern, name string) bool {
	return mailstore.MatchPattern(pattern, name, hierarchySep)
}
