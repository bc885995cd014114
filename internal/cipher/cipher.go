// Package cipher encrypts message bodies before they reach the persistence
// layer and decrypts them on the way back out. Plaintext is never persisted.
//
// Each chat gets its own key, derived via HKDF from the process master secret
// and the chat id, so one leaked per-chat key exposes a single conversation.
// AES-256-GCM authenticates the ciphertext: tampered payloads fail decryption
// instead of being accepted silently.
//
// Decrypt intentionally fails soft: malformed or tampered ciphertext (or
// ciphertext written under a rotated master secret) yields "" rather than an
// error, so historical data can never crash rendering. Callers that need to
// distinguish "empty message" from "undecryptable" should not exist; the
// product treats both as blank.
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// keySize is the AES-256 key length in bytes.
const keySize = 32

// ErrEmptySecret is returned by New when the master secret is empty.
var ErrEmptySecret = errors.New("cipher: master secret must not be empty")

// Cipher derives per-chat keys from a master secret and performs
// authenticated symmetric encryption of message bodies. It is safe for
// concurrent use.
type Cipher struct {
	master []byte
}

// New constructs a Cipher from the process master secret.
func New(masterSecret string) (*Cipher, error) {
	if masterSecret == "" {
		return nil, ErrEmptySecret
	}
	return &Cipher{master: []byte(masterSecret)}, nil
}

// chatKey derives the AES key for one chat. The chat id is the HKDF info
// parameter, so every chat gets an independent key and a leaked per-chat key
// cannot decrypt other chats' traffic.
func (c *Cipher) chatKey(chatID string) ([]byte, error) {
	r := hkdf.New(sha256.New, c.master, nil, []byte("chat-message:"+chatID))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt seals plaintext for the given chat and returns a base64-encoded
// nonce||ciphertext blob suitable for storage in a text column.
func (c *Cipher) Encrypt(chatID, plaintext string) (string, error) {
	key, err := c.chatKey(chatID)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := gocipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. On any failure (bad base64,
// truncated blob, wrong key, failed authentication) it returns "".
func (c *Cipher) Decrypt(chatID, ciphertext string) string {
	if ciphertext == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return ""
	}
	key, err := c.chatKey(chatID)
	if err != nil {
		return ""
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return ""
	}
	gcm, err := gocipher.NewGCM(block)
	if err != nil {
		return ""
	}
	if len(raw) < gcm.NonceSize() {
		return ""
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return ""
	}
	return string(plain)
}
