package dlq

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// EncryptingSink wraps another Sink and encrypts the action payload
// (AES-256-GCM, key derived via HKDF-SHA256) before it reaches the
// underlying backend, so an operator inspecting a MySQL or AMQP dead
// letter queue does not see raw action payloads at rest.
type EncryptingSink struct {
	inner Sink
	key   []byte
}

// NewEncryptingSink derives a 32-byte AES key from masterKey+salt via
// HKDF-SHA256, matching the key-derivation shape used elsewhere in the
// pack for enclave-stable secrets.
func NewEncryptingSink(inner Sink, masterKey, salt []byte) (*EncryptingSink, error) {
	key := make([]byte, 32)
	reader := hkdf.New(sha256.New, masterKey, salt, []byte("acteon-dlq-encryption"))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive dlq encryption key: %w", err)
	}
	return &EncryptingSink{inner: inner, key: key}, nil
}

func (s *EncryptingSink) Push(ctx context.Context, entry Entry) error {
	ciphertext, err := s.encrypt(entry.Action.Payload)
	if err != nil {
		return fmt.Errorf("encrypt action payload: %w", err)
	}
	// The ciphertext is stored as a JSON string so the sealed action still
	// marshals as valid JSON; the caller's Action is left untouched.
	sealedPayload, err := json.Marshal(ciphertext)
	if err != nil {
		return fmt.Errorf("marshal encrypted payload: %w", err)
	}
	sealed := *entry.Action
	sealed.Payload = sealedPayload
	entry.Action = &sealed
	return s.inner.Push(ctx, entry)
}

func (s *EncryptingSink) List(ctx context.Context, limit int) ([]Entry, error) {
	entries, err := s.inner.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Action == nil {
			continue
		}
		var ciphertext []byte
		if err := json.Unmarshal(entries[i].Action.Payload, &ciphertext); err != nil {
			return nil, fmt.Errorf("decode encrypted payload: %w", err)
		}
		plain, err := s.decrypt(ciphertext)
		if err != nil {
			return nil, fmt.Errorf("decrypt action payload: %w", err)
		}
		opened := *entries[i].Action
		opened.Payload = plain
		entries[i].Action = &opened
	}
	return entries, nil
}

func (s *EncryptingSink) Depth(ctx context.Context) (int, error) { return s.inner.Depth(ctx) }
func (s *EncryptingSink) Close() error                           { return s.inner.Close() }

func (s *EncryptingSink) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *EncryptingSink) decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, rest := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, rest, nil)
}
