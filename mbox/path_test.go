package mbox

import (
	"path/filepath"
	"testing"

	"github.com/infodancer/mailstore"
)

func TestDataPath(t *testing.T) {
	s := newTestStorage(t)

	if got := s.dataPath("work/invoices"); got != filepath.Join(s.Root(), "work/invoices") {
		t.Errorf("dataPath(work/invoices) = %q", got)
	}

	// INBOX resolves to the inbox file regardless of case
	for _, name := range []string{"INBOX", "inbox", "InBox"} {
		if got := s.dataPath(name); got != s.InboxPath() {
			t.Errorf("dataPath(%q) = %q, want %q", name, got, s.InboxPath())
		}
	}
}

func TestIndexDirMirrorsHierarchy(t *testing.T) {
	s := newTestStorage(t)

	tests := []struct {
		name string
		want string
	}{
		{"box", filepath.Join(s.IndexRoot(), ".imap", "box")},
		{"a/b", filepath.Join(s.IndexRoot(), "a", ".imap", "b")},
		{"a/b/c", filepath.Join(s.IndexRoot(), "a/b", ".imap", "c")},
	}
	for _, tt := range tests {
		if got := s.indexDir(tt.name); got != tt.want {
			t.Errorf("indexDir(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestIndexDirDisabled(t *testing.T) {
	root := t.TempDir()
	s, err := New(mailstore.Config{Location: root + ":INDEX=MEMORY", User: "mailstore-test"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	if s.IndexRoot() != "" {
		t.Fatalf("IndexRoot = %q, want empty", s.IndexRoot())
	}
	if got := s.indexDir("a/b"); got != "" {
		t.Errorf("indexDir(a/b) = %q, want empty", got)
	}
}

func TestFullFilesystemAccessPaths(t *testing.T) {
	s, err := New(mailstore.Config{
		Location:             t.TempDir(),
		User:                 "mailstore-test",
		FullFilesystemAccess: true,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	if got := s.dataPath("/srv/mail/other/box"); got != "/srv/mail/other/box" {
		t.Errorf("dataPath(absolute) = %q", got)
	}
	// the .imap sibling rule follows the absolute path, not the root
	if got := s.indexDir("/srv/mail/other/box"); got != "/srv/mail/other/.imap/box" {
		t.Errorf("indexDir(absolute) = %q", got)
	}
}
