// Package vault seals small secrets (the CLI's stored credential) under a passphrase.
//
// Layout: magic(4) | salt(16) | nonce(24) | XChaCha20-Poly1305 ciphertext.
// The key is Argon2id(passphrase, salt) expanded with HKDF-SHA256 for the given purpose.
package vault

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/and161185/signflow/internal/errs"
)

// Params
const (
	SaltLen = 16
	KeyLen  = 32

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

var magic = []byte("sfv1")

// ErrWrongPassphrase is returned when a sealed blob cannot be authenticated.
var ErrWrongPassphrase = fmt.Errorf("vault: wrong passphrase or corrupted data: %w", errs.ErrAuth)

// Rand returns n cryptographically secure random bytes.
func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveKey derives a purpose-bound key from passphrase and salt.
func DeriveKey(passphrase, salt []byte, purpose string) ([]byte, error) {
	kek := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KeyLen)
	r := hkdf.New(sha256.New, kek, salt, []byte(purpose))
	key := make([]byte, KeyLen)
	if _, err := r.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Sealed reports whether b looks like a sealed blob.
func Sealed(b []byte) bool { return bytes.HasPrefix(b, magic) }

// Seal encrypts plaintext under passphrase. purpose is bound into key and AAD.
func Seal(passphrase []byte, purpose string, plaintext []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("vault: empty passphrase")
	}
	salt, err := Rand(SaltLen)
	if err != nil {
		return nil, err
	}
	key, err := DeriveKey(passphrase, salt, purpose)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(magic)+SaltLen+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, aad(purpose)), nil
}

// Open decrypts a blob produced by Seal with the same passphrase and purpose.
func Open(passphrase []byte, purpose string, sealed []byte) ([]byte, error) {
	if !Sealed(sealed) {
		return nil, errors.New("vault: not a sealed blob")
	}
	rest := sealed[len(magic):]
	if len(rest) < SaltLen+chacha20poly1305.NonceSizeX {
		return nil, errors.New("vault: sealed blob too short")
	}
	salt := rest[:SaltLen]
	nonce := rest[SaltLen : SaltLen+chacha20poly1305.NonceSizeX]
	ct := rest[SaltLen+chacha20poly1305.NonceSizeX:]

	key, err := DeriveKey(passphrase, salt, purpose)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce, ct, aad(purpose))
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}

func aad(purpose string) []byte {
	return append(append([]byte(nil), magic...), purpose...)
}
