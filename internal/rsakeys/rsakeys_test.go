package rsakeys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stock-analytica/internal/apperr"
)

func TestRoundTrip(t *testing.T) {
	keys, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	for _, password := range []string{"password123", "ü-unicode-ß", "12345678"} {
		ct, err := keys.Encrypt(password)
		if err != nil {
			t.Fatalf("Encrypt() failed: %v", err)
		}
		got, err := keys.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt() failed: %v", err)
		}
		if got != password {
			t.Errorf("Decrypt(Encrypt(%q)) = %q", password, got)
		}
	}
}

func TestClientEncryptionWithPublicPEM(t *testing.T) {
	keys, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	block, _ := pem.Decode([]byte(keys.PublicKeyPEM()))
	if block == nil || block.Type != "PUBLIC KEY" {
		t.Fatalf("PublicKeyPEM() is not an SPKI PEM block: %q", keys.PublicKeyPEM())
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		t.Fatalf("ParsePKIXPublicKey() failed: %v", err)
	}
	pub := parsed.(*rsa.PublicKey)
	if pub.N.BitLen() != Bits {
		t.Errorf("key size = %d, want %d", pub.N.BitLen(), Bits)
	}

	raw, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte("secret-pass"))
	if err != nil {
		t.Fatalf("EncryptPKCS1v15() failed: %v", err)
	}
	got, err := keys.Decrypt(base64.StdEncoding.EncodeToString(raw))
	if err != nil || got != "secret-pass" {
		t.Errorf("Decrypt() = %q, %v", got, err)
	}
}

func TestLoadReusesPersistedPair(t *testing.T) {
	dir := t.TempDir()
	first, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	for _, name := range []string{PrivateKeyFile, PublicKeyFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}

	second, err := Load(dir)
	if err != nil {
		t.Fatalf("second Load() failed: %v", err)
	}
	if first.PublicKeyPEM() != second.PublicKeyPEM() {
		t.Errorf("second Load() generated a new pair")
	}

	ct, _ := first.Encrypt("persisted")
	if got, err := second.Decrypt(ct); err != nil || got != "persisted" {
		t.Errorf("reloaded pair cannot decrypt: %q, %v", got, err)
	}
}

func TestLoadRegeneratesWhenPublicMissing(t *testing.T) {
	dir := t.TempDir()
	first, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, PublicKeyFile)); err != nil {
		t.Fatal(err)
	}
	second, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if first.PublicKeyPEM() == second.PublicKeyPEM() {
		t.Errorf("expected a fresh pair when public.pem is missing")
	}
}

func TestLoadRejectsCorruptKey(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, PrivateKeyFile), []byte("not a pem"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, PublicKeyFile), []byte("not a pem"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Errorf("Load() accepted a corrupt private key")
	}
}

func TestDecryptFailures(t *testing.T) {
	keys, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	other, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	foreign, _ := other.Encrypt("password123")

	testCases := []struct {
		name       string
		ciphertext string
	}{
		{"not base64", "%%%"},
		{"empty", ""},
		{"garbage bytes", base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 256)))},
		{"other key", foreign},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := keys.Decrypt(tc.ciphertext)
			if !errors.Is(err, apperr.ErrDecryption) {
				t.Fatalf("Decrypt() error = %v, want a decryption error", err)
			}
			if msg := apperr.MessageOf(err); msg != DecryptFailedMessage {
				t.Errorf("client message = %q, want %q", msg, DecryptFailedMessage)
			}
		})
	}
}
