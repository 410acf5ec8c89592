// Package envelope seals record payloads into versioned authenticated
// envelopes and opens them again.
//
// All devices of a user share one 32-byte key. The relay never sees it.
// Each envelope is bound to its record slot through associated data (see
// record.AssociatedData), so a ciphertext moved to another slot fails to open.
//
// Schemes:
//
//	v1: XChaCha20-Poly1305, 24-byte random nonce, subkey = HKDF-SHA256(key, info="histsync/v1/record")
package envelope

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/roach88/histsync/internal/record"
)

// SchemeV1 is the current envelope scheme.
const SchemeV1 = "v1"

// KeySize is the length of a user key in bytes.
const KeySize = 32

var (
	// ErrAuthentication is returned for every failure to open an envelope:
	// wrong key, corrupted nonce, tampered ciphertext or mismatched slot.
	// It never carries partial plaintext.
	ErrAuthentication = errors.New("authentication failure")

	// ErrUnknownScheme is returned for an envelope whose scheme this build
	// does not implement.
	ErrUnknownScheme = errors.New("unknown envelope scheme")
)

// Key is the symmetric secret shared by all of a user's devices.
type Key [KeySize]byte

// GenerateKey returns a new random key.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return Key{}, fmt.Errorf("generate key: %w", err)
	}
	return k, nil
}

// Encrypt seals plaintext under key with the given scheme, binding it to ad.
func Encrypt(scheme string, key Key, ad, plaintext []byte) (record.Encrypted, error) {
	switch scheme {
	case SchemeV1:
		return encryptV1(key, ad, plaintext)
	default:
		return record.Encrypted{}, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
}

// Decrypt opens enc with key. ad must equal the value used at Encrypt time.
func Decrypt(enc record.Encrypted, key Key, ad []byte) ([]byte, error) {
	switch enc.Scheme {
	case SchemeV1:
		return decryptV1(enc, key, ad)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, enc.Scheme)
	}
}

// Seal encrypts a plaintext record for storage, bound to its slot.
func Seal(r record.Record[record.Decrypted], key Key) (record.Record[record.Encrypted], error) {
	enc, err := Encrypt(SchemeV1, key, record.AssociatedData(r.Key()), r.Data)
	if err != nil {
		return record.Record[record.Encrypted]{}, err
	}
	return record.WithData(r, enc), nil
}

// Open decrypts a stored record.
func Open(r record.Record[record.Encrypted], key Key) (record.Record[record.Decrypted], error) {
	plain, err := Decrypt(r.Data, key, record.AssociatedData(r.Key()))
	if err != nil {
		return record.Record[record.Decrypted]{}, err
	}
	return record.WithData(r, record.Decrypted(plain)), nil
}

func encryptV1(key Key, ad, plaintext []byte) (record.Encrypted, error) {
	aead, err := v1AEAD(key)
	if err != nil {
		return record.Encrypted{}, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return record.Encrypted{}, fmt.Errorf("generate nonce: %w", err)
	}

	return record.Encrypted{
		Scheme:     SchemeV1,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, ad),
	}, nil
}

func decryptV1(enc record.Encrypted, key Key, ad []byte) ([]byte, error) {
	if len(enc.Nonce) != chacha20poly1305.NonceSizeX || len(enc.Ciphertext) < chacha20poly1305.Overhead {
		return nil, ErrAuthentication
	}

	aead, err := v1AEAD(key)
	if err != nil {
		return nil, err
	}

	plain, err := aead.Open(nil, enc.Nonce, enc.Ciphertext, ad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plain, nil
}

func v1AEAD(key Key) (cipher.AEAD, error) {
	sub := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, key[:], nil, []byte("histsync/v1/record"))
	if _, err := io.ReadFull(kdf, sub); err != nil {
		return nil, fmt.Errorf("derive subkey: %w", err)
	}
	aead, err := chacha20poly1305.NewX(sub)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return aead, nil
}
