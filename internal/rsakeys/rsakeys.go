// Package rsakeys holds the key pair clients use to encrypt passwords before
// sending them. The pair is generated on first start, written to disk and
// reused afterwards; the private key never leaves the process.
package rsakeys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"stock-analytica/internal/apperr"
	"stock-analytica/internal/logger"
)

const (
	Bits           = 2048
	PrivateKeyFile = "private.pem"
	PublicKeyFile  = "public.pem"
)

// DecryptFailedMessage is the only thing a client learns about a bad ciphertext.
const DecryptFailedMessage = "invalid encrypted password, please retry"

var log = logger.New("rsakeys")

type KeyPair struct {
	private   *rsa.PrivateKey
	publicPEM string
}

// Load reads the pair from dir, generating and saving a new one when either
// file is missing.
func Load(dir string) (*KeyPair, error) {
	privPath := filepath.Join(dir, PrivateKeyFile)
	pubPath := filepath.Join(dir, PublicKeyFile)

	privPEM, privErr := os.ReadFile(privPath)
	_, pubErr := os.Stat(pubPath)
	if errors.Is(privErr, fs.ErrNotExist) || errors.Is(pubErr, fs.ErrNotExist) {
		log.Info("Generating new RSA key pair in %s", dir)
		return generate(dir, privPath, pubPath)
	}
	if privErr != nil {
		return nil, fmt.Errorf("failed to read private key: %w", privErr)
	}

	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", privPath)
	}
	key, err := parsePrivateKey(block)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", privPath, err)
	}

	// The public half is always derived from the private key so the two
	// files cannot drift apart.
	pub, err := encodePublic(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{private: key, publicPEM: pub}, nil
}

func parsePrivateKey(block *pem.Block) (*rsa.PrivateKey, error) {
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is %T, not RSA", parsed)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
	}
}

func generate(dir, privPath, pubPath string) (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, Bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	pub, err := encodePublic(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create keys directory: %w", err)
	}
	priv := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(privPath, priv, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, []byte(pub), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write public key: %w", err)
	}
	log.Info("RSA key pair written to %s", dir)
	return &KeyPair{private: key, publicPEM: pub}, nil
}

func encodePublic(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// PublicKeyPEM returns the SPKI public key in PEM form.
func (k *KeyPair) PublicKeyPEM() string {
	return k.publicPEM
}

// Decrypt decodes base64 ciphertext and decrypts it with PKCS#1 v1.5. Every
// failure is reported as the same Decryption error.
func (k *KeyPair) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", apperr.Wrap(apperr.Decryption, DecryptFailedMessage, err)
	}
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, k.private, raw)
	if err != nil {
		return "", apperr.Wrap(apperr.Decryption, DecryptFailedMessage, err)
	}
	return string(plain), nil
}

// Encrypt does what a client does with the public key. Used by tooling and
// tests.
func (k *KeyPair) Encrypt(plaintext string) (string, error) {
	raw, err := rsa.EncryptPKCS1v15(rand.Reader, &k.private.PublicKey, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
