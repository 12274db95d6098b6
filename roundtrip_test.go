package mailstore_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/infodancer/mailstore"
	_ "github.com/infodancer/mailstore/maildir"
	_ "github.com/infodancer/mailstore/mbox"
)

func TestDriversRegistered(t *testing.T) {
	names := mailstore.RegisteredDrivers()
	byName := make(map[string]bool, len(names))
	for _, n := range names {
		byName[n] = true
	}
	for _, want := range []string{"mbox", "maildir"} {
		if !byName[want] {
			t.Errorf("driver %q not registered (have %v)", want, names)
		}
	}
}

func TestAutodetectPicksDriver(t *testing.T) {
	mboxRoot := t.TempDir()
	if err := os.Mkdir(filepath.Join(mboxRoot, ".imap"), 0o770); err != nil {
		t.Fatal(err)
	}
	if name, ok := mailstore.Autodetect(mboxRoot); !ok || name != "mbox" {
		t.Errorf("Autodetect(mbox layout) = %q, %v", name, ok)
	}

	maildirRoot := t.TempDir()
	for _, sub := range []string{"cur", "new", "tmp"} {
		if err := os.Mkdir(filepath.Join(maildirRoot, sub), 0o700); err != nil {
			t.Fatal(err)
		}
	}
	if name, ok := mailstore.Autodetect(maildirRoot); !ok || name != "maildir" {
		t.Errorf("Autodetect(maildir layout) = %q, %v", name, ok)
	}

	if name, ok := mailstore.Autodetect(t.TempDir()); ok {
		t.Errorf("Autodetect(empty dir) claimed driver %q", name)
	}
}

// TestMailboxRoundtrip drives a full mailbox life through the public
// interface: create, open, lock, deliver, rename, delete.
func TestMailboxRoundtrip(t *testing.T) {
	root := t.TempDir()
	s, err := mailstore.Open(mailstore.Config{
		Driver:   "mbox",
		Location: root,
		User:     "mailstore-test",
	})
	if err != nil {
		t.Fatalf("Open store failed: %v", err)
	}
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	if err := s.Create(ctx, "work/invoices", false); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "work", "invoices")); err != nil {
		t.Fatalf("mailbox file missing: %v", err)
	}

	m, err := s.Open(ctx, "work/invoices", 0)
	if err != nil {
		t.Fatalf("Open mailbox failed: %v", err)
	}
	if m.LockState() != mailstore.Unlocked {
		t.Errorf("fresh handle LockState = %v, want Unlocked", m.LockState())
	}
	if m.IndexPath() == "" {
		t.Error("IndexPath empty for a persistent-index store")
	}
	if _, err := os.Stat(filepath.Join(root, "work", ".imap", "invoices")); err != nil {
		t.Errorf("index directory missing: %v", err)
	}

	if err := m.Lock(mailstore.LockSave); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	f, err := os.OpenFile(m.DataPath(), os.O_WRONLY|os.O_APPEND, 0o660)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("From sender@example.com Sat Aug 29 12:00:00 2026\nSubject: x\n\nbody\n\n"); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()
	if err := m.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := s.Rename(ctx, "work/invoices", "work/bills"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "work", "bills"))
	if err != nil || !strings.Contains(string(data), "Subject: x") {
		t.Fatalf("renamed mailbox lost its contents: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "work", ".imap", "bills")); err != nil {
		t.Errorf("index directory did not follow the rename: %v", err)
	}

	infos, err := s.List(ctx, "work/%")
	if err != nil || len(infos) != 1 || infos[0].Name != "work/bills" {
		t.Fatalf("List = %+v, %v; want [work/bills]", infos, err)
	}

	if err := s.Delete(ctx, "work/bills"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	status, err := s.NameStatus(ctx, "work/bills")
	if err != nil || status != mailstore.NameValid {
		t.Fatalf("NameStatus after delete = %v, %v; want NameValid", status, err)
	}
}
