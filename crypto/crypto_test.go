package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func newKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewAESSealer(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid key", newKey(t), false},
		{"empty key", "", true},
		{"not base64", "%%%not-base64%%%", true},
		{"short key", base64.StdEncoding.EncodeToString([]byte("too-short")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAESSealer(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewAESSealer() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	s, err := NewAESSealer(newKey(t))
	if err != nil {
		t.Fatalf("NewAESSealer: %v", err)
	}
	for _, plain := range []string{"BQD4-access-token", "AQB-refresh/with+chars=", "юникод"} {
		sealed, err := s.Seal(plain)
		if err != nil {
			t.Fatalf("Seal(%q): %v", plain, err)
		}
		if !IsSealed(sealed) || strings.Contains(sealed, plain) {
			t.Errorf("sealed value leaks plaintext or lacks prefix: %q", sealed)
		}
		got, err := s.Open(sealed)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if got != plain {
			t.Errorf("Open() = %q, want %q", got, plain)
		}
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	s, _ := NewAESSealer(newKey(t))
	a, _ := s.Seal("same")
	b, _ := s.Seal("same")
	if a == b {
		t.Error("two seals of the same plaintext should differ")
	}
}

func TestSealEmpty(t *testing.T) {
	s, _ := NewAESSealer(newKey(t))
	got, err := s.Seal("")
	if err != nil || got != "" {
		t.Errorf("Seal(\"\") = %q, %v", got, err)
	}
	got, err = s.Open("")
	if err != nil || got != "" {
		t.Errorf("Open(\"\") = %q, %v", got, err)
	}
}

func TestOpenRejectsTamperingAndWrongKey(t *testing.T) {
	s, _ := NewAESSealer(newKey(t))
	other, _ := NewAESSealer(newKey(t))
	sealed, _ := s.Seal("secret")

	if _, err := other.Open(sealed); err == nil {
		t.Error("expected error opening with a different key")
	}

	raw, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	raw[len(raw)-1] ^= 0xff
	tampered := sealedPrefix + base64.StdEncoding.EncodeToString(raw)
	if _, err := s.Open(tampered); err == nil {
		t.Error("expected error opening tampered ciphertext")
	}

	if _, err := s.Open(sealedPrefix + base64.StdEncoding.EncodeToString([]byte("x"))); err == nil {
		t.Error("expected error for truncated ciphertext")
	}

	if _, err := s.Open("plain-token"); !errors.Is(err, ErrNotSealed) {
		t.Errorf("Open(plain) error = %v, want ErrNotSealed", err)
	}
}

func TestPlaintextSealer(t *testing.T) {
	var p Plaintext
	got, _ := p.Seal("tok")
	if got != "tok" {
		t.Errorf("Seal = %q", got)
	}
	if _, err := p.Open(sealedPrefix + "abc"); err == nil {
		t.Error("Plaintext.Open should refuse sealed input")
	}
}
