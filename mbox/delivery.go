package mbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/emersion/go-message/textproto"

	"github.com/infodancer/mailstore"
	mserrors "github.com/infodancer/mailstore/errors"
)

// Deliver appends a message to each recipient's mailbox. The per-root
// Sieve script runs first: fileinto routes into an existing folder and
// discard drops the message silently. Without a script decision, a
// subaddress extension (user+folder) routes into that folder when it
// already exists; everything else lands in INBOX. Delivery succeeds
// when at least one recipient was handled.
func (s *Storage) Deliver(ctx context.Context, envelope mailstore.Envelope, message io.Reader) error {
	if len(envelope.Recipients) == 0 {
		return mserrors.ErrNoRecipients
	}

	data, err := io.ReadAll(message)
	if err != nil {
		return fmt.Errorf("read message: %w", err)
	}

	script, err := s.loadSieveScript()
	if err != nil {
		// fail safe: a broken script must not hold up mail
		slog.Warn("sieve script ignored",
			slog.String("path", s.sieveScriptPath()), slog.Any("error", err))
		script = nil
	}
	var header textproto.Header
	if script != nil {
		header = parseMessageHeader(data)
	}

	var lastErr error
	delivered := 0
	for _, recipient := range envelope.Recipients {
		folder := s.deliveryFolder(ctx, mailstore.ParseRecipient(recipient))

		if script != nil {
			decision := evalSieve(script, header, len(data), envelope.From, recipient)
			if decision.discard {
				slog.Debug("message discarded by sieve",
					slog.String("recipient", recipient))
				delivered++
				continue
			}
			if decision.folder != "" {
				if status, err := s.NameStatus(ctx, decision.folder); err == nil && status == mailstore.NameExists {
					folder = decision.folder
				} else {
					slog.Warn("sieve fileinto target unavailable, keeping",
						slog.String("folder", decision.folder),
						slog.String("recipient", recipient))
				}
			}
		}

		if err := s.deliverTo(ctx, folder, envelope, data); err != nil {
			lastErr = err
			continue
		}
		delivered++
	}

	if delivered == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// deliveryFolder picks the default target mailbox for a recipient.
func (s *Storage) deliveryFolder(ctx context.Context, r mailstore.Recipient) string {
	if r.Extension != "" {
		if status, err := s.NameStatus(ctx, r.Extension); err == nil && status == mailstore.NameExists {
			return r.Extension
		}
	}
	return "INBOX"
}

// deliverTo appends one message to one mailbox under an exclusive
// append lock.
func (s *Storage) deliverTo(ctx context.Context, name string, envelope mailstore.Envelope, data []byte) error {
	m, err := s.Open(ctx, name, 0)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	if err := m.Lock(mailstore.LockSave); err != nil {
		return err
	}
	defer func() { _ = m.Unlock() }()

	f, err := os.OpenFile(m.DataPath(), os.O_WRONLY|os.O_APPEND, mailboxMode)
	if err != nil {
		if herr := s.handleErrors(err); herr != nil {
			return herr
		}
		return s.setCritical("open", m.DataPath(), err)
	}

	_, werr := f.Write(appendable(envelope, data))
	if cerr := f.Close(); cerr != nil && werr == nil {
		werr = cerr
	}
	if werr != nil {
		if herr := s.handleErrors(werr); herr != nil {
			return herr
		}
		return s.setCritical("append", m.DataPath(), werr)
	}
	return nil
}

// appendable frames a message for the mbox file: a "From " separator
// line first, and a blank line after the body so the next separator is
// recognizable.
func appendable(envelope mailstore.Envelope, data []byte) []byte {
	from := envelope.From
	if from == "" {
		from = "MAILER-DAEMON"
	}
	received := envelope.ReceivedTime
	if received.IsZero() {
		received = time.Now()
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From %s %s\n", from, received.UTC().Format(time.ANSIC))
	buf.Write(data)
	if !bytes.HasSuffix(data, []byte("\n")) {
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}
