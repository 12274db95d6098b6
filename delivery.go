package mailstore

import (
	"context"
	"io"
	"net"
	"strings"
	"time"
)

// DeliveryAgent handles message delivery to storage.
// smtpd calls Deliver() after a message passes filtering.
type DeliveryAgent interface {
	// Deliver stores a message for the specified recipients.
	// envelope contains sender and recipient information.
	// message is the raw RFC 5322 message content.
	Deliver(ctx context.Context, envelope Envelope, message io.Reader) error
}

// Envelope contains the message envelope information from the SMTP transaction.
type Envelope struct {
	// From is the MAIL FROM address (reverse-path).
	From string

	// Recipients contains the RCPT TO addresses (forward-paths).
	Recipients []string

	// ReceivedTime is when the message was received by the server.
	ReceivedTime time.Time

	// ClientIP is the IP address of the connecting client.
	ClientIP net.IP

	// ClientHostname is the hostname provided in EHLO/HELO.
	ClientHostname string
}

// Recipient is a delivery address split into its base address and
// subaddress extension.
type Recipient struct {
	// Address is the address with any subaddress extension removed.
	Address string

	// Extension is the subaddress extension, empty if none was given.
	// For "user+folder@example.com" the extension is "folder".
	Extension string
}

// ParseRecipient splits a recipient address into the base address and
// the subaddress extension, so user+folder@example.com can deliver into
// the folder mailbox of user@example.com.
func ParseRecipient(email string) Recipient {
	local, domain := email, ""
	if i := strings.LastIndex(email, "@"); i >= 0 {
		local, domain = email[:i], email[i:]
	}

	var extension string
	if j := strings.Index(local, "+"); j >= 0 {
		extension = local[j+1:]
		local = local[:j]
	}

	return Recipient{Address: local + domain, Extension: extension}
}
