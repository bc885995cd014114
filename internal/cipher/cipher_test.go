package cipher

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestNew_EmptySecret(t *testing.T) {
	if _, err := New(""); err != ErrEmptySecret {
		t.Fatalf("expected ErrEmptySecret, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	c, err := New("test-master-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cases := []string{
		"",
		"hello",
		"with spaces and punctuation!?",
		"unicode: مرحبا שלום ☃",
		strings.Repeat("long ", 500),
	}
	for _, plain := range cases {
		ct, err := c.Encrypt("u1_u2", plain)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plain, err)
		}
		if ct == plain && plain != "" {
			t.Fatalf("ciphertext equals plaintext for %q", plain)
		}
		if got := c.Decrypt("u1_u2", ct); got != plain {
			t.Fatalf("Decrypt = %q; want %q", got, plain)
		}
	}
}

func TestEncrypt_NonDeterministicNonce(t *testing.T) {
	c, _ := New("s")
	a, _ := c.Encrypt("u1_u2", "same")
	b, _ := c.Encrypt("u1_u2", "same")
	if a == b {
		t.Fatalf("two encryptions produced identical blobs")
	}
}

func TestDecrypt_FailsSoft(t *testing.T) {
	c, _ := New("s")

	if got := c.Decrypt("u1_u2", "not base64 at all!!!"); got != "" {
		t.Fatalf("garbage decrypt = %q; want empty", got)
	}
	if got := c.Decrypt("u1_u2", base64.StdEncoding.EncodeToString([]byte("short"))); got != "" {
		t.Fatalf("truncated decrypt = %q; want empty", got)
	}
	if got := c.Decrypt("u1_u2", ""); got != "" {
		t.Fatalf("empty decrypt = %q; want empty", got)
	}
}

func TestDecrypt_RejectsTampering(t *testing.T) {
	c, _ := New("s")
	ct, err := c.Encrypt("u1_u2", "authentic")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(ct)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)
	if got := c.Decrypt("u1_u2", tampered); got != "" {
		t.Fatalf("tampered decrypt = %q; want empty", got)
	}
}

func TestPerChatKeys(t *testing.T) {
	c, _ := New("s")
	ct, _ := c.Encrypt("u1_u2", "secret")
	// A different chat's key must not open the blob.
	if got := c.Decrypt("u1_u3", ct); got != "" {
		t.Fatalf("cross-chat decrypt = %q; want empty", got)
	}
}

func TestDifferentMasterSecrets(t *testing.T) {
	c1, _ := New("secret-one")
	c2, _ := New("secret-two")
	ct, _ := c1.Encrypt("u1_u2", "hello")
	if got := c2.Decrypt("u1_u2", ct); got != "" {
		t.Fatalf("rotated-secret decrypt = %q; want empty", got)
	}
}
