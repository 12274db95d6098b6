package mbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/infodancer/mailstore"
	mserrors "github.com/infodancer/mailstore/errors"
)

const testMessage = "Subject: test\r\n\r\nHello, world!\r\n"

func TestDeliverToInbox(t *testing.T) {
	s := newTestStorage(t)

	env := mailstore.Envelope{
		From:         "sender@example.com",
		Recipients:   []string{"rcpt@example.com"},
		ReceivedTime: time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC),
	}
	if err := s.Deliver(context.Background(), env, strings.NewReader(testMessage)); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	data, err := os.ReadFile(s.InboxPath())
	if err != nil {
		t.Fatalf("reading inbox: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("From sender@example.com ")) {
		t.Errorf("missing separator line: %q", data[:min(len(data), 40)])
	}
	if !bytes.Contains(data, []byte("Hello, world!")) {
		t.Error("message body missing")
	}
	if !bytes.HasSuffix(data, []byte("\n\n")) {
		t.Error("message not terminated with a blank line")
	}
}

func TestDeliverAppends(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	env := mailstore.Envelope{From: "a@example.com", Recipients: []string{"rcpt@example.com"}}
	if err := s.Deliver(ctx, env, strings.NewReader("First\n")); err != nil {
		t.Fatalf("first Deliver failed: %v", err)
	}
	if err := s.Deliver(ctx, env, strings.NewReader("Second\n")); err != nil {
		t.Fatalf("second Deliver failed: %v", err)
	}

	data, err := os.ReadFile(s.InboxPath())
	if err != nil {
		t.Fatalf("reading inbox: %v", err)
	}
	if bytes.Count(data, []byte("From a@example.com ")) != 2 {
		t.Errorf("expected two separator lines, got:\n%s", data)
	}
	first := bytes.Index(data, []byte("First"))
	second := bytes.Index(data, []byte("Second"))
	if first < 0 || second < 0 || second < first {
		t.Errorf("messages out of order:\n%s", data)
	}
}

func TestDeliverSubaddressRouting(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if err := s.Create(ctx, "lists", false); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	env := mailstore.Envelope{
		From:       "sender@example.com",
		Recipients: []string{"rcpt+lists@example.com"},
	}
	if err := s.Deliver(ctx, env, strings.NewReader(testMessage)); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	data, err := os.ReadFile(s.dataPath("lists"))
	if err != nil {
		t.Fatalf("reading folder: %v", err)
	}
	if !bytes.Contains(data, []byte("Hello, world!")) {
		t.Error("message not routed to the subaddressed folder")
	}
	if data, err := os.ReadFile(s.InboxPath()); err == nil && len(data) > 0 {
		t.Error("message also landed in INBOX")
	}
}

func TestDeliverUnknownSubaddressFallsBackToInbox(t *testing.T) {
	s := newTestStorage(t)

	env := mailstore.Envelope{
		From:       "sender@example.com",
		Recipients: []string{"rcpt+nosuchfolder@example.com"},
	}
	if err := s.Deliver(context.Background(), env, strings.NewReader(testMessage)); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	data, err := os.ReadFile(s.InboxPath())
	if err != nil || !bytes.Contains(data, []byte("Hello, world!")) {
		t.Errorf("message not delivered to INBOX: %v", err)
	}
}

func TestDeliverNoRecipients(t *testing.T) {
	s := newTestStorage(t)

	err := s.Deliver(context.Background(), mailstore.Envelope{}, strings.NewReader(testMessage))
	if !errors.Is(err, mserrors.ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
}

func TestDeliverMultipleRecipients(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if err := s.Create(ctx, "work", false); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	env := mailstore.Envelope{
		From:       "sender@example.com",
		Recipients: []string{"a@example.com", "b+work@example.com"},
	}
	if err := s.Deliver(ctx, env, strings.NewReader(testMessage)); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	inbox, err := os.ReadFile(s.InboxPath())
	if err != nil || !bytes.Contains(inbox, []byte("Hello, world!")) {
		t.Errorf("plain recipient missed INBOX: %v", err)
	}
	folder, err := os.ReadFile(s.dataPath("work"))
	if err != nil || !bytes.Contains(folder, []byte("Hello, world!")) {
		t.Errorf("subaddressed recipient missed folder: %v", err)
	}
}

func TestDeliverDefaultsForEmptyEnvelope(t *testing.T) {
	s := newTestStorage(t)

	env := mailstore.Envelope{Recipients: []string{"rcpt@example.com"}}
	if err := s.Deliver(context.Background(), env, strings.NewReader("hi\n")); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	data, err := os.ReadFile(s.InboxPath())
	if err != nil {
		t.Fatalf("reading inbox: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("From MAILER-DAEMON ")) {
		t.Errorf("missing MAILER-DAEMON fallback: %q", data)
	}
}

func writeSieveScript(t *testing.T, s *Storage, script string) {
	t.Helper()
	if err := os.WriteFile(s.sieveScriptPath(), []byte(script), 0o660); err != nil {
		t.Fatal(err)
	}
}

func TestDeliverSieveFileinto(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if err := s.Create(ctx, "work", false); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	writeSieveScript(t, s, "require \"fileinto\";\nfileinto \"work\";\n")

	env := mailstore.Envelope{
		From:       "sender@example.com",
		Recipients: []string{"rcpt@example.com"},
	}
	if err := s.Deliver(ctx, env, strings.NewReader(testMessage)); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	folder, err := os.ReadFile(s.dataPath("work"))
	if err != nil || !bytes.Contains(folder, []byte("Hello, world!")) {
		t.Errorf("message not filed into work: %v", err)
	}
	if inbox, err := os.ReadFile(s.InboxPath()); err == nil && len(inbox) > 0 {
		t.Errorf("message also landed in INBOX:\n%s", inbox)
	}
}

func TestDeliverSieveFileintoMissingFolder(t *testing.T) {
	s := newTestStorage(t)

	writeSieveScript(t, s, "require \"fileinto\";\nfileinto \"nosuchfolder\";\n")

	env := mailstore.Envelope{Recipients: []string{"rcpt@example.com"}}
	if err := s.Deliver(context.Background(), env, strings.NewReader(testMessage)); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	inbox, err := os.ReadFile(s.InboxPath())
	if err != nil || !bytes.Contains(inbox, []byte("Hello, world!")) {
		t.Errorf("message not kept in INBOX: %v", err)
	}
}

func TestDeliverSieveDiscard(t *testing.T) {
	s := newTestStorage(t)

	writeSieveScript(t, s, "discard;\n")

	env := mailstore.Envelope{Recipients: []string{"rcpt@example.com"}}
	if err := s.Deliver(context.Background(), env, strings.NewReader(testMessage)); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	if data, err := os.ReadFile(s.InboxPath()); err == nil && len(data) > 0 {
		t.Errorf("discarded message landed in INBOX:\n%s", data)
	}
}

func TestDeliverSieveConditionalRouting(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if err := s.Create(ctx, "Junk", false); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	writeSieveScript(t, s,
		"require \"fileinto\";\nif header :contains \"subject\" \"spam\" {\n  fileinto \"Junk\";\n}\n")

	env := mailstore.Envelope{Recipients: []string{"rcpt@example.com"}}
	spam := "Subject: buy spam now\r\n\r\nspam body\r\n"
	if err := s.Deliver(ctx, env, strings.NewReader(spam)); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if err := s.Deliver(ctx, env, strings.NewReader(testMessage)); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	junk, err := os.ReadFile(s.dataPath("Junk"))
	if err != nil || !bytes.Contains(junk, []byte("spam body")) {
		t.Errorf("matching message not filed into Junk: %v", err)
	}
	inbox, err := os.ReadFile(s.InboxPath())
	if err != nil || !bytes.Contains(inbox, []byte("Hello, world!")) {
		t.Errorf("non-matching message not kept in INBOX: %v", err)
	}
	if bytes.Contains(inbox, []byte("spam body")) {
		t.Error("matching message also landed in INBOX")
	}
}

func TestDeliverWithBrokenSieveScript(t *testing.T) {
	s := newTestStorage(t)

	if err := os.WriteFile(s.sieveScriptPath(), []byte("if {{{"), 0o660); err != nil {
		t.Fatal(err)
	}

	env := mailstore.Envelope{Recipients: []string{"rcpt@example.com"}}
	if err := s.Deliver(context.Background(), env, strings.NewReader(testMessage)); err != nil {
		t.Fatalf("Deliver failed despite broken script: %v", err)
	}
}
