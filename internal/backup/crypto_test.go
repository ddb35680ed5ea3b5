package backup

import (
	"bytes"
	"errors"
	"testing"
)

func TestDeriveKeyDeterminism(t *testing.T) {
	salt := []byte("1234567890abcdef")

	key1 := DeriveKey("mypassphrase", salt)
	key2 := DeriveKey("mypassphrase", salt)

	if !bytes.Equal(key1, key2) {
		t.Error("same passphrase+salt should produce same key")
	}
	if len(key1) != keySize {
		t.Errorf("key length = %d, want %d", len(key1), keySize)
	}
	if bytes.Equal(key1, DeriveKey("other", salt)) {
		t.Error("different passphrases should produce different keys")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	original := []byte("ledger snapshot bytes")

	sealed, err := Seal(original, "correct horse")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, original) {
		t.Error("sealed output contains plaintext")
	}

	opened, err := Open(sealed, "correct horse")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(opened, original) {
		t.Errorf("opened = %q, want %q", opened, original)
	}
}

func TestSealUsesFreshSalt(t *testing.T) {
	a, err := Seal([]byte("same"), "pass")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	b, err := Seal([]byte("same"), "pass")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Equal(a[:saltSize], b[:saltSize]) {
		t.Error("two seals share a salt")
	}
}

func TestOpenRejects(t *testing.T) {
	sealed, err := Seal([]byte("payload"), "right")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	tampered := append([]byte(nil), sealed...)
	tampered[2] ^= 0xff

	tests := []struct {
		name       string
		data       []byte
		passphrase string
	}{
		{"wrong passphrase", sealed, "wrong"},
		{"tampered salt", tampered, "right"},
		{"truncated", sealed[:10], "right"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(tt.data, tt.passphrase); !errors.Is(err, ErrDecrypt) {
				t.Errorf("err = %v, want ErrDecrypt", err)
			}
		})
	}
}

func TestSealRequiresPassphrase(t *testing.T) {
	if _, err := Seal([]byte("x"), ""); err == nil {
		t.Error("expected error for empty passphrase")
	}
}
