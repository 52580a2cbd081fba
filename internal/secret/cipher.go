// Package secret encrypts instance passwords at rest with AES-256-GCM.
//
// The key is random, generated on first use and kept base64 encoded in the
// local store. Ciphertexts are base64(nonce || sealed) with a fresh 12-byte
// nonce per call. Every failure is reported as ErrUnavailable so callers can
// treat "cannot decrypt" as "no credentials".
package secret

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"adgmanager/internal/storage"
)

// KeyName is the local storage key holding the encryption key
const KeyName = "adg_storage_key"

const (
	keySize   = 32
	nonceSize = 12
)

// ErrUnavailable is returned when a secret cannot be produced or recovered
var ErrUnavailable = errors.New("secret: unavailable")

// Cipher encrypts and decrypts strings with the persisted key
type Cipher struct {
	store storage.Store

	mu  sync.Mutex
	key []byte
}

func New(store storage.Store) *Cipher {
	return &Cipher{store: store}
}

// Encrypt seals plaintext, creating the key if none exists yet
func (c *Cipher) Encrypt(ctx context.Context, plaintext string) (string, error) {
	key, err := c.loadKey(ctx, true)
	if err != nil {
		return "", err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a payload produced by Encrypt. A missing key never creates one.
func (c *Cipher) Decrypt(ctx context.Context, payload string) (string, error) {
	key, err := c.loadKey(ctx, false)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: malformed payload", ErrUnavailable)
	}
	if len(raw) < nonceSize {
		return "", fmt.Errorf("%w: payload too short", ErrUnavailable)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrUnavailable)
	}
	return string(plaintext), nil
}

func (c *Cipher) loadKey(ctx context.Context, create bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.key != nil {
		return c.key, nil
	}

	var encoded string
	found, err := storage.GetJSON(ctx, c.store, KeyName, &encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if found {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(key) != keySize {
			return nil, fmt.Errorf("%w: stored key is corrupt", ErrUnavailable)
		}
		c.key = key
		return key, nil
	}

	if !create {
		return nil, fmt.Errorf("%w: no key", ErrUnavailable)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := storage.SetJSON(ctx, c.store, KeyName, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.key = key
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return gcm, nil
}
