package store

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// fieldCipher seals and opens encrypted-field payloads with the key
// material held in the store's keyfile.
type fieldCipher struct {
	aead cipher.AEAD
}

func newFieldCipher(key []byte) (*fieldCipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize field cipher: %w", err)
	}
	return &fieldCipher{aead: aead}, nil
}

// Seal encrypts plain and prepends the nonce so the payload is
// self-contained.
func (fc *fieldCipher) Seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return fc.aead.Seal(nonce, nonce, plain, nil), nil
}

// Open decrypts a payload produced by Seal. It fails if the payload was
// sealed under different key material.
func (fc *fieldCipher) Open(blob []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("sealed payload too short")
	}
	nonce, ct := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	plain, err := fc.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("sealed payload does not open under current key material: %w", err)
	}
	return plain, nil
}

// loadOrCreateKey reads key material from the keyfile, generating fresh
// material on first use.
func loadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return rotateKey(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyfile: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("keyfile %s is corrupt: %w", path, err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("keyfile %s holds %d bytes, want %d", path, len(key), chacha20poly1305.KeySize)
	}
	return key, nil
}

// rotateKey writes fresh key material to path, replacing whatever was
// there. Sealed payloads written under the old material become
// permanently unreadable.
func rotateKey(path string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key material: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create keyfile directory: %w", err)
	}

	// Write to a temp file and rename for atomicity
	encoded := base64.StdEncoding.EncodeToString(key) + "\n"
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(encoded), 0600); err != nil {
		return nil, fmt.Errorf("failed to write keyfile: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to replace keyfile: %w", err)
	}

	return key, nil
}
