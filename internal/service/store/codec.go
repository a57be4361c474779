package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"golang.org/x/crypto/hkdf"
)

// compressionFloor is the payload size below which compression is
// skipped; small payloads rarely shrink enough to pay for the header.
const compressionFloor = 1024

var errNoCipher = errors.New("store: encryption requested but no secret configured")

// codec serializes payloads for the records table: optional snappy
// compression followed by optional AES-GCM encryption with a key derived
// from the device secret via HKDF-SHA256. Ciphertexts are nonce-prefixed.
type codec struct {
	aead cipher.AEAD
}

func newCodec(secret []byte) (*codec, error) {
	if len(secret) == 0 {
		return &codec{}, nil
	}

	kdf := hkdf.New(sha256.New, secret, []byte("pulsefit-offline-store"), nil)
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive store key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &codec{aead: aead}, nil
}

// encode applies compression and encryption as requested, reporting
// which transforms were actually applied.
func (c *codec) encode(plain []byte, compress, encrypt bool) (data []byte, compressed, encrypted bool, err error) {
	data = plain

	if compress && len(plain) >= compressionFloor {
		data = snappy.Encode(nil, data)
		compressed = true
	}

	if encrypt {
		if c.aead == nil {
			return nil, false, false, errNoCipher
		}
		nonce := make([]byte, c.aead.NonceSize())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, false, false, fmt.Errorf("failed to generate nonce: %w", err)
		}
		data = c.aead.Seal(nonce, nonce, data, nil)
		encrypted = true
	}

	return data, compressed, encrypted, nil
}

// decode reverses encode. Any failure here means the payload is
// unreadable and the caller should treat it as a miss.
func (c *codec) decode(data []byte, compressed, encrypted bool) ([]byte, error) {
	if encrypted {
		if c.aead == nil {
			return nil, errNoCipher
		}
		if len(data) < c.aead.NonceSize() {
			return nil, errors.New("store: ciphertext shorter than nonce")
		}
		nonce, ciphertext := data[:c.aead.NonceSize()], data[c.aead.NonceSize():]
		plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt payload: %w", err)
		}
		data = plain
	}

	if compressed {
		plain, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress payload: %w", err)
		}
		data = plain
	}

	return data, nil
}
