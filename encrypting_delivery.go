package mailstore

import (
	"bytes"
	"context"
	"crypto/rand"
	goerrors "errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/box"

	"github.com/infodancer/mailstore/errors"
)

const (
	// EncryptionAlgorithm is the algorithm identifier for encrypted messages.
	EncryptionAlgorithm = "x25519-xsalsa20-poly1305"

	// PublicKeySize is the size of an X25519 public key.
	PublicKeySize = 32

	// encryptionHeader marks a stored message as encrypted and names
	// the algorithm used.
	encryptionHeader = "X-Mailstore-Encrypted"
)

// KeyProvider retrieves public keys for message encryption.
// Used by the encrypting delivery agent to look up recipient keys.
type KeyProvider interface {
	// GetPublicKey returns the public key for encrypting messages to a
	// recipient. Returns errors.ErrKeyNotFound if the recipient has no
	// key, in which case delivery proceeds in plaintext.
	GetPublicKey(ctx context.Context, recipient string) ([]byte, error)
}

// EncryptingDeliveryAgent wraps a DeliveryAgent to encrypt messages
// before they reach storage. Each recipient with a published key
// receives an individually sealed copy; recipients without keys receive
// the message in plaintext.
type EncryptingDeliveryAgent struct {
	underlying DeliveryAgent
	keys       KeyProvider
}

// NewEncryptingDeliveryAgent creates a new encrypting delivery agent
// wrapping underlying and looking up recipient keys through keys.
func NewEncryptingDeliveryAgent(underlying DeliveryAgent, keys KeyProvider) *EncryptingDeliveryAgent {
	return &EncryptingDeliveryAgent{
		underlying: underlying,
		keys:       keys,
	}
}

// Deliver seals the message per recipient and hands each copy to the
// underlying agent with a single-recipient envelope. Delivery succeeds
// if at least one recipient was delivered to.
func (e *EncryptingDeliveryAgent) Deliver(ctx context.Context, envelope Envelope, message io.Reader) error {
	if len(envelope.Recipients) == 0 {
		return errors.ErrNoRecipients
	}

	data, err := io.ReadAll(message)
	if err != nil {
		return fmt.Errorf("read message: %w", err)
	}

	var lastErr error
	delivered := 0

	for _, recipient := range envelope.Recipients {
		content := data

		publicKey, err := e.keys.GetPublicKey(ctx, ParseRecipient(recipient).Address)
		switch {
		case err == nil:
			sealed, err := SealMessage(publicKey, data)
			if err != nil {
				lastErr = err
				continue
			}
			content = sealed
		case goerrors.Is(err, errors.ErrKeyNotFound):
			// no key published, deliver plaintext
		default:
			lastErr = err
			continue
		}

		single := envelope
		single.Recipients = []string{recipient}
		if err := e.underlying.Deliver(ctx, single, bytes.NewReader(content)); err != nil {
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

// SealMessage encrypts a message to a recipient public key using an
// anonymous NaCl box and wraps it in a minimal header block naming the
// algorithm.
func SealMessage(publicKey, message []byte) ([]byte, error) {
	if len(publicKey) != PublicKeySize {
		return nil, fmt.Errorf("%w: bad public key length %d", errors.ErrStoreConfigInvalid, len(publicKey))
	}

	var pk [PublicKeySize]byte
	copy(pk[:], publicKey)

	sealed, err := box.SealAnonymous(nil, message, &pk, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("seal message: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s: %s\r\n\r\n", encryptionHeader, EncryptionAlgorithm)
	buf.WriteString(encodeArmor(sealed))
	return buf.Bytes(), nil
}

// OpenMessage decrypts a message produced by SealMessage given the
// recipient key pair.
func OpenMessage(publicKey, privateKey, sealed []byte) ([]byte, error) {
	if len(publicKey) != PublicKeySize || len(privateKey) != PublicKeySize {
		return nil, fmt.Errorf("%w: bad key length", errors.ErrStoreConfigInvalid)
	}

	body, ok := strings.CutPrefix(string(sealed),
		fmt.Sprintf("%s: %s\r\n\r\n", encryptionHeader, EncryptionAlgorithm))
	if !ok {
		return nil, fmt.Errorf("message is not encrypted with %s", EncryptionAlgorithm)
	}

	raw, err := decodeArmor(body)
	if err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	var pk, sk [PublicKeySize]byte
	copy(pk[:], publicKey)
	copy(sk[:], privateKey)

	plain, ok := box.OpenAnonymous(nil, raw, &pk, &sk)
	if !ok {
		return nil, goerrors.New("message decryption failed")
	}
	return plain, nil
}
