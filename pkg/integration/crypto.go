package integration

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sunwise/sunwise/pkg/log"
	"github.com/sunwise/sunwise/pkg/types"
)

// KeySize is the required length of the encryption key (AES-256).
const KeySize = 32

// Cipher seals integration secrets with AES-256-GCM. The nonce is prepended
// to the ciphertext.
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher returns a Cipher for a 32 byte key.
func NewCipher(key string) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid encryption key length %d (must be %d bytes)", len(key), KeySize)
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &Cipher{gcm: gcm}, nil
}

// Encrypt seals secret.
func (c *Cipher) Encrypt(ctx context.Context, secret types.IntegrationSecret) ([]byte, error) {
	jsonBytes, err := json.Marshal(secret)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to marshal secret", slog.Any("error", err))
		return nil, fmt.Errorf("failed to marshal secret: %w", err)
	}

	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to generate nonce", slog.Any("error", err))
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return c.gcm.Seal(nonce, nonce, jsonBytes, nil), nil
}

// Decrypt opens a secret produced by Encrypt. An empty input is an empty
// secret.
func (c *Cipher) Decrypt(ctx context.Context, encrypted []byte) (types.IntegrationSecret, error) {
	if len(encrypted) == 0 {
		return types.IntegrationSecret{}, nil
	}
	if len(encrypted) < c.gcm.NonceSize() {
		log.Ctx(ctx).ErrorContext(ctx, "malformed encrypted secret", slog.Int("length", len(encrypted)))
		return types.IntegrationSecret{}, errors.New("malformed encrypted secret")
	}

	nonce, ciphertext := encrypted[:c.gcm.NonceSize()], encrypted[c.gcm.NonceSize():]
	plaintext, err := c.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt secret", slog.Any("error", err))
		return types.IntegrationSecret{}, fmt.Errorf("failed to decrypt secret: %w", err)
	}

	var secret types.IntegrationSecret
	if err := json.Unmarshal(plaintext, &secret); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to unmarshal secret", slog.Any("error", err))
		return types.IntegrationSecret{}, fmt.Errorf("failed to unmarshal secret: %w", err)
	}
	return secret, nil
}
