// Package labels resolves the human-readable label stored encrypted for a
// tag. Ciphertexts are base64(nonce || XChaCha20-Poly1305 sealed label).
package labels

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/BearBump/TagGuard/internal/models"
)

var ErrDecrypt = errors.New("label decrypt failed")

type Store interface {
	FindLabel(ctx context.Context, epc string) (*models.EncryptedLabel, error)
}

type Cipher struct {
	aead cipher.AEAD
}

// NewCipher takes a 32-byte key as hex.
func NewCipher(keyHex string) (*Cipher, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, errors.Wrap(err, "decode label key")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "label cipher")
	}
	return &Cipher{aead: aead}, nil
}

func (c *Cipher) Encrypt(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "nonce")
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt returns an error wrapping ErrDecrypt for malformed or tampered input.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}

// Result is the outcome of a label lookup. Found is false when the tag has
// no mapping; Err is set when a mapping exists but could not be read.
type Result struct {
	Found bool
	Label string
	Err   error
}

func (r Result) Ok() bool { return r.Found && r.Err == nil }

type Resolver struct {
	store  Store
	cipher *Cipher
}

func NewResolver(store Store, c *Cipher) *Resolver {
	return &Resolver{store: store, cipher: c}
}

func (r *Resolver) Resolve(ctx context.Context, epc string) Result {
	l, err := r.store.FindLabel(ctx, epc)
	if errors.Is(err, models.ErrNotFound) {
		return Result{}
	}
	if err != nil {
		return Result{Found: true, Err: err}
	}
	if r.cipher == nil {
		return Result{Found: true, Err: fmt.Errorf("%w: no label key configured", ErrDecrypt)}
	}
	plain, err := r.cipher.Decrypt(l.Ciphertext)
	if err != nil {
		return Result{Found: true, Err: err}
	}
	return Result{Found: true, Label: plain}
}
