package mbox

import (
	"os"
	"path/filepath"
	"strings"
)

// indexDirName is the marker directory holding index metadata next to
// the mailbox files it describes.
const indexDirName = ".imap"

// expandHome expands a leading "~" to the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// dataPath resolves a logical mailbox name to the file or directory
// holding its messages. The name must already be validated; no
// traversal checks happen here.
func (s *Storage) dataPath(name string) string {
	if strings.EqualFold(name, "INBOX") {
		return s.inboxPath
	}
	if s.fullFSAccess && (name[0] == '/' || name[0] == '~') {
		return expandHome(name)
	}
	return filepath.Join(s.root, name)
}

// indexDir resolves a logical mailbox name to its index directory in
// the mirrored shadow tree, or "" when persistent indexing is disabled.
// The leaf component always sits inside a .imap directory that is a
// sibling of the data file's parent, preserving hierarchy depth:
//
//	"foo"     -> <indexRoot>/.imap/foo
//	"foo/bar" -> <indexRoot>/foo/.imap/bar
//
// This mirrored layout is what lets delete and rename manipulate
// exactly the index subtree matching a data subtree without scanning
// the data tree.
func (s *Storage) indexDir(name string) string {
	if s.indexRoot == "" {
		return ""
	}

	if s.fullFSAccess && (name[0] == '/' || name[0] == '~') {
		expanded := expandHome(name)
		dir, leaf := filepath.Split(expanded)
		return filepath.Join(dir, indexDirName, leaf)
	}

	if i := strings.LastIndexByte(name, hierarchySep); i >= 0 {
		return filepath.Join(s.indexRoot, name[:i], indexDirName, name[i+1:])
	}
	return filepath.Join(s.indexRoot, indexDirName, name)
}
